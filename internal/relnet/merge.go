package relnet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// BaseKey names the parent file a config inherits from.
const BaseKey = "_BASE_"

// MergeFrom merges other into n. Keys absent from n are rejected unless n
// allows new keys; existing leaves must keep their type. String values
// written over non-string leaves are read as literals, so "(1, 2)" can
// replace a list.
func (n *Node) MergeFrom(other *Node) error {
	if n.frozen {
		return ErrFrozen
	}
	return n.mergeFrom(other, "")
}

func (n *Node) mergeFrom(other *Node, prefix string) error {
	for _, k := range other.keys {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		v := cloneValue(other.vals[k])

		cur, exists := n.vals[k]
		if !exists {
			if !n.allowNew {
				return fmt.Errorf("%w: %s", ErrUnknownKey, full)
			}
			if c, ok := v.(*Node); ok {
				c.SetAllowNew(true)
			}
			n.put(k, v)
			continue
		}

		curNode, curIsNode := cur.(*Node)
		vNode, vIsNode := v.(*Node)
		switch {
		case curIsNode && vIsNode:
			if err := curNode.mergeFrom(vNode, full); err != nil {
				return err
			}
		case curIsNode || vIsNode:
			return fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, full, kindOf(cur), kindOf(v))
		default:
			if str, ok := v.(string); ok && cur != nil && kindOf(cur) != "str" {
				if lv, err := parseLiteral(str); err == nil {
					v = lv
				}
			}
			cv, err := coerce(v, cur, full)
			if err != nil {
				return err
			}
			n.vals[k] = cv
		}
	}
	return nil
}

// MergeFromFile loads path, resolving _BASE_ chains, and merges the result
// into n.
func (n *Node) MergeFromFile(path string) error {
	loaded, err := LoadYAML(path)
	if err != nil {
		return err
	}
	if err := n.MergeFrom(loaded); err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return nil
}

// LoadYAML reads a config file. A top-level _BASE_ key names a parent file,
// relative to the child unless absolute or ~-prefixed; the child's values
// override the parent's.
func LoadYAML(path string) (*Node, error) {
	return loadYAML(path, map[string]bool{})
}

func loadYAML(path string, seen map[string]bool) (*Node, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("%w: %s", ErrBaseCycle, path)
	}
	seen[abs] = true
	defer delete(seen, abs)

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("relnet: read config: %w", err)
	}
	cfg, err := ParseYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	baseVal, ok := cfg.vals[BaseKey]
	if !ok {
		return cfg, nil
	}
	cfg.remove(BaseKey)
	basePath, ok := baseVal.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s must be a string", ErrTypeMismatch, BaseKey, path)
	}
	basePath, err = resolveBase(basePath, filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	base, err := loadYAML(basePath, seen)
	if err != nil {
		return nil, err
	}
	overlay(base, cfg)
	return base, nil
}

func resolveBase(p, dir string) (string, error) {
	switch {
	case strings.HasPrefix(p, "~"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	case filepath.IsAbs(p):
		return p, nil
	default:
		return filepath.Join(dir, p), nil
	}
}

// overlay writes src over dst, recursing where both sides are nodes.
func overlay(dst, src *Node) {
	for _, k := range src.keys {
		sv := src.vals[k]
		if dn, ok := dst.vals[k].(*Node); ok {
			if sn, ok := sv.(*Node); ok {
				overlay(dn, sn)
				continue
			}
		}
		dst.put(k, sv)
	}
}

// MergeFromList applies KEY VALUE pairs such as those given to --opts.
// Values are parsed as YAML scalars or flow lists, with (a, b) accepted as
// a list; anything unparsable is taken as a string. Keys must already exist.
func (n *Node) MergeFromList(opts []string) error {
	if n.frozen {
		return ErrFrozen
	}
	if len(opts)%2 != 0 {
		return fmt.Errorf("%w: %d entries", ErrOddOptsList, len(opts))
	}
	for i := 0; i < len(opts); i += 2 {
		key, raw := opts[i], opts[i+1]
		cur, ok := n.Get(key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if _, isNode := cur.(*Node); isNode {
			return fmt.Errorf("%w: %s is a node", ErrTypeMismatch, key)
		}
		v, err := parseLiteral(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cv, err := coerce(v, cur, key)
		if err != nil {
			return err
		}
		if err := n.Set(key, cv); err != nil {
			return err
		}
	}
	return nil
}

func parseLiteral(s string) (any, error) {
	if t := strings.TrimSpace(s); strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
		inner := strings.TrimSpace(t[1 : len(t)-1])
		s = "[" + strings.TrimSuffix(inner, ",") + "]"
	}
	var y yaml.Node
	if err := yaml.Unmarshal([]byte(s), &y); err != nil || len(y.Content) == 0 {
		return s, nil
	}
	v, err := fromYAML(&y)
	if err != nil {
		return nil, err
	}
	if _, ok := v.(*Node); ok {
		return s, nil
	}
	return v, nil
}
