package relnet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a YAML document into a Node that accepts new keys.
func ParseYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("relnet: parse yaml: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		n := NewNode()
		n.allowNew = true
		return n, nil
	}
	v, err := fromYAML(&doc)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*Node)
	if !ok {
		return nil, fmt.Errorf("relnet: yaml document is %s, want a mapping", kindOf(v))
	}
	return n, nil
}

func fromYAML(y *yaml.Node) (any, error) {
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return nil, nil
		}
		return fromYAML(y.Content[0])
	case yaml.AliasNode:
		return fromYAML(y.Alias)
	case yaml.MappingNode:
		n := NewNode()
		n.allowNew = true
		for i := 0; i+1 < len(y.Content); i += 2 {
			k := y.Content[i].Value
			v, err := fromYAML(y.Content[i+1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			n.put(k, v)
		}
		return n, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(y.Content))
		for _, c := range y.Content {
			v, err := fromYAML(c)
			if err != nil {
				return nil, err
			}
			if _, ok := v.(*Node); ok {
				return nil, fmt.Errorf("%w: mapping inside list at line %d", ErrInvalidValue, c.Line)
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		var v any
		if err := y.Decode(&v); err != nil {
			return nil, err
		}
		return normalize(v)
	default:
		return nil, fmt.Errorf("%w: yaml kind %d", ErrInvalidValue, y.Kind)
	}
}

// YAML renders the tree in insertion order. Lists use flow style.
func (n *Node) YAML() (string, error) {
	out, err := yaml.Marshal(n.toYAML())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (n *Node) toYAML() *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range n.keys {
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			valueToYAML(n.vals[k]),
		)
	}
	return m
}

func valueToYAML(v any) *yaml.Node {
	switch t := v.(type) {
	case *Node:
		return t.toYAML()
	case []any:
		s := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, e := range t {
			s.Content = append(s.Content, valueToYAML(e))
		}
		return s
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(t)}
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(t)}
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(t)}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(t)}
	}
}

// formatFloat keeps a decimal point so the value reads back as a float.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	case math.IsNaN(f):
		return ".nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
