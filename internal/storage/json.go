package storage

import "encoding/json"

// JSONDocument is the tree of null/bool/number/string/array/object backing
// the JsonDocument DataValue variant. JSON path evaluation is explicitly out
// of scope (spec.md §1); this package only owns storage and memory
// accounting of the tree, so the native encoding/json representation
// (map[string]any / []any / string / float64 / bool / nil) is used directly
// rather than a hand-rolled AST — there is no corpus library for JSON path
// evaluation either, and the standard tree shape is exactly what
// encoding/json already produces and consumes.
type JSONDocument struct {
	Root any
}

func NewJSONDocument(root any) *JSONDocument {
	return &JSONDocument{Root: root}
}

// MemoryUsage approximates the tree's footprint by re-marshaling it. This is
// not on any hot path (JSON values are touched only by JSON.* commands,
// which are out of this core's scope to parse) but must stay accurate
// enough to keep the shard's memory counter honest.
func (d *JSONDocument) MemoryUsage() int {
	b, err := json.Marshal(d.Root)
	if err != nil {
		return 0
	}
	return len(b)
}

func (d *JSONDocument) Clone() *JSONDocument {
	b, err := json.Marshal(d.Root)
	if err != nil {
		return NewJSONDocument(nil)
	}
	var cloned any
	_ = json.Unmarshal(b, &cloned)
	return NewJSONDocument(cloned)
}
