// Package relnet implements a hierarchical detection config tree with YAML
// merging and the RelationNet extension block.
package relnet

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	ErrUnknownKey   = errors.New("relnet: unknown config key")
	ErrTypeMismatch = errors.New("relnet: type mismatch")
	ErrFrozen       = errors.New("relnet: config is frozen")
	ErrInvalidValue = errors.New("relnet: unsupported value type")
	ErrNotNode      = errors.New("relnet: key is not a config node")
	ErrOddOptsList  = errors.New("relnet: override list must have an even number of entries")
	ErrBaseCycle    = errors.New("relnet: _BASE_ chain is cyclic")
)

// Node is an ordered config tree. Leaves hold bool, int, float64, string,
// nil or []any; inner values are *Node.
type Node struct {
	keys     []string
	vals     map[string]any
	frozen   bool
	allowNew bool
}

// NewNode returns an empty, mutable node.
func NewNode() *Node {
	return &Node{vals: make(map[string]any)}
}

// Keys returns the node's direct keys in insertion order.
func (n *Node) Keys() []string { return slices.Clone(n.keys) }

func (n *Node) Len() int { return len(n.keys) }

// Frozen reports whether writes are rejected.
func (n *Node) Frozen() bool { return n.frozen }

// Freeze makes n and every child node immutable.
func (n *Node) Freeze() { n.setFrozen(true) }

// Defrost undoes Freeze.
func (n *Node) Defrost() { n.setFrozen(false) }

func (n *Node) setFrozen(v bool) {
	n.frozen = v
	for _, k := range n.keys {
		if c, ok := n.vals[k].(*Node); ok {
			c.setFrozen(v)
		}
	}
}

// SetAllowNew controls whether merges may add keys to n and its children.
func (n *Node) SetAllowNew(v bool) {
	n.allowNew = v
	for _, k := range n.keys {
		if c, ok := n.vals[k].(*Node); ok {
			c.SetAllowNew(v)
		}
	}
}

// Get looks up a dotted key such as "MODEL.RELATIONNET.FEAT_DIM".
func (n *Node) Get(key string) (any, bool) {
	parts := strings.Split(key, ".")
	cur := n
	for i, p := range parts {
		v, ok := cur.vals[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		if cur, ok = v.(*Node); !ok {
			return nil, false
		}
	}
	return nil, false
}

// Sub returns the child node at a dotted key.
func (n *Node) Sub(key string) (*Node, error) {
	v, ok := n.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	c, ok := v.(*Node)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotNode, key)
	}
	return c, nil
}

// Set assigns a dotted key, creating intermediate nodes. Assignment always
// succeeds on an unfrozen tree, whether or not the key already exists.
func (n *Node) Set(key string, v any) error {
	if n.frozen {
		return fmt.Errorf("%w: cannot set %s", ErrFrozen, key)
	}
	val, err := normalize(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	parts := strings.Split(key, ".")
	cur := n
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur.vals[p]
		if !ok {
			child := NewNode()
			child.allowNew = cur.allowNew
			cur.put(p, child)
			cur = child
			continue
		}
		if cur, ok = next.(*Node); !ok {
			return fmt.Errorf("%w: %s", ErrNotNode, p)
		}
	}
	cur.put(parts[len(parts)-1], val)
	return nil
}

func (n *Node) put(k string, v any) {
	if _, ok := n.vals[k]; !ok {
		n.keys = append(n.keys, k)
	}
	n.vals[k] = v
}

func (n *Node) remove(k string) {
	if _, ok := n.vals[k]; !ok {
		return
	}
	delete(n.vals, k)
	n.keys = slices.DeleteFunc(n.keys, func(s string) bool { return s == k })
}

// Clone deep-copies the tree, including frozen and allow-new state.
func (n *Node) Clone() *Node {
	out := &Node{
		keys:     slices.Clone(n.keys),
		vals:     make(map[string]any, len(n.vals)),
		frozen:   n.frozen,
		allowNew: n.allowNew,
	}
	for k, v := range n.vals {
		out.vals[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Node:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// normalize maps Go values onto the leaf kinds a Node stores.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64, *Node:
		return t, nil
	case int:
		return t, nil
	case int8:
		return int(t), nil
	case int16:
		return int(t), nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint8:
		return int(t), nil
	case uint16:
		return int(t), nil
	case uint32:
		return int(t), nil
	case float32:
		return float64(t), nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			ne, err := normalize(e)
			if err != nil {
				return nil, err
			}
			if _, ok := ne.(*Node); ok {
				return nil, fmt.Errorf("%w: node inside list", ErrInvalidValue)
			}
			out[i] = ne
		}
		return out, nil
	case []int:
		return toList(t), nil
	case []float64:
		return toList(t), nil
	case []string:
		return toList(t), nil
	case []bool:
		return toList(t), nil
	case map[string]any:
		child := NewNode()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			nv, err := normalize(t[k])
			if err != nil {
				return nil, err
			}
			child.put(k, nv)
		}
		return child, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidValue, v)
	}
}

func toList[T any](s []T) []any {
	out := make([]any, len(s))
	for i, e := range s {
		out[i] = e
	}
	return out
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case []any:
		return "list"
	case *Node:
		return "node"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// coerce checks that replacement may overwrite original. Ints widen to
// floats and nulls match anything.
func coerce(replacement, original any, key string) (any, error) {
	if replacement == nil || original == nil {
		return replacement, nil
	}
	rk, ok := kindOf(replacement), kindOf(original)
	if rk == ok {
		return replacement, nil
	}
	if i, isInt := replacement.(int); isInt && ok == "float" {
		return float64(i), nil
	}
	return nil, fmt.Errorf("%w: %s is %s, got %s (%v)", ErrTypeMismatch, key, ok, rk, replacement)
}
