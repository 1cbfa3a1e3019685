package ixf

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	yaml "go.yaml.in/yaml/v3"
)

// Change is the prior and proposed display value of a single field.
type Change struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Entry is one named Change of a ChangeSet.
type Entry struct {
	Name string
	Change
}

// ChangeSet is an insertion-ordered mapping of field name to Change.
//
// The zero value is an empty, ready to use set. Copies are independent:
// Set on one copy is never visible through another.
type ChangeSet struct {
	entries []Entry
	index   map[string]int
}

// NewChangeSet builds a ChangeSet from entries, in order.
func NewChangeSet(entries ...Entry) ChangeSet {
	cs := ChangeSet{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		cs.put(e.Name, e.Change)
	}
	return cs
}

// Set adds or replaces the change for name. Replacing keeps the original
// position.
func (cs *ChangeSet) Set(name, from, to string) {
	// Another copy may share entries and index.
	cs.entries = slices.Clone(cs.entries)
	cs.index = maps.Clone(cs.index)
	if cs.index == nil {
		cs.index = map[string]int{}
	}
	cs.put(name, Change{From: from, To: to})
}

// put writes into storage owned by cs.
func (cs *ChangeSet) put(name string, c Change) {
	if i, ok := cs.index[name]; ok {
		cs.entries[i].Change = c
		return
	}
	cs.index[name] = len(cs.entries)
	cs.entries = append(cs.entries, Entry{Name: name, Change: c})
}

func (cs ChangeSet) Get(name string) (Change, bool) {
	i, ok := cs.index[name]
	if !ok {
		return Change{}, false
	}
	return cs.entries[i].Change, true
}

func (cs ChangeSet) Len() int { return len(cs.entries) }

// Entries returns a copy of the entries in insertion order.
func (cs ChangeSet) Entries() []Entry {
	return append([]Entry(nil), cs.entries...)
}

// Names returns the field names in insertion order.
func (cs ChangeSet) Names() []string {
	out := make([]string, 0, len(cs.entries))
	for _, e := range cs.entries {
		out = append(out, e.Name)
	}
	return out
}

// UnmarshalYAML decodes a mapping of name -> {from, to}, keeping document
// order. Scalars are taken verbatim, so `from: 100` yields "100".
func (cs *ChangeSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*cs = ChangeSet{}
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("ixf: changes must be a mapping, got %s", kindName(node.Kind))
	}
	out := ChangeSet{index: map[string]int{}}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		var c struct {
			From yaml.Node `yaml:"from"`
			To   yaml.Node `yaml:"to"`
		}
		if err := v.Decode(&c); err != nil {
			return fmt.Errorf("ixf: change %q: %w", k.Value, err)
		}
		out.put(k.Value, Change{From: scalar(c.From), To: scalar(c.To)})
	}
	*cs = out
	return nil
}

// MarshalJSON encodes the set as an object in insertion order.
func (cs ChangeSet) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range cs.entries {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Change)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// UnmarshalJSON decodes an object in document order. JSON is valid YAML
// flow syntax, so the YAML decoder does the ordered walk.
func (cs *ChangeSet) UnmarshalJSON(b []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return err
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		return cs.UnmarshalYAML(node.Content[0])
	}
	*cs = ChangeSet{}
	return nil
}

func scalar(n yaml.Node) string {
	if n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return ""
	}
	return n.Value
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "mapping"
	}
}
