package descriptor

import (
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Entry is one key/value pair of an ordered mapping.
type Entry[V any] struct {
	Key   string
	Value V
}

// OrderedMap decodes a YAML mapping while keeping the document's key order.
// Several descriptor fields rely on that order, e.g. the first provides entry
// names the primary container.
type OrderedMap[V any] []Entry[V]

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *OrderedMap[V]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*m = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return errors.Newf("line %d: expected a mapping", node.Line)
	}
	out := make(OrderedMap[V], 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v V
		if err := node.Content[i+1].Decode(&v); err != nil {
			return errors.Wrapf(err, "key %q", node.Content[i].Value)
		}
		out = append(out, Entry[V]{Key: node.Content[i].Value, Value: v})
	}
	*m = out
	return nil
}

// Get returns the value stored under key.
func (m OrderedMap[V]) Get(key string) (V, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	var zero V
	return zero, false
}

// Keys returns the keys in document order.
func (m OrderedMap[V]) Keys() []string {
	keys := make([]string, len(m))
	for i, e := range m {
		keys[i] = e.Key
	}
	return keys
}

func (m OrderedMap[V]) clone() OrderedMap[V] {
	if m == nil {
		return nil
	}
	out := make(OrderedMap[V], len(m))
	copy(out, m)
	return out
}

// dependsOn accepts either a list of ids or a mapping keyed by id, the shape
// compose files use.
type dependsOn []string

func (d *dependsOn) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*d = list
	case yaml.MappingNode:
		var keys []string
		for i := 0; i < len(node.Content); i += 2 {
			keys = append(keys, node.Content[i].Value)
		}
		*d = keys
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*d = nil
			return nil
		}
		*d = []string{node.Value}
	default:
		return errors.Newf("line %d: depends_on must be a list or a mapping", node.Line)
	}
	return nil
}

// StringList accepts a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			*l = nil
			return nil
		}
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	default:
		return errors.Newf("line %d: expected a string or a list of strings", node.Line)
	}
}
