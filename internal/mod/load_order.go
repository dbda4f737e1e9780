package mod

import (
	"iter"
	"strings"
)

// LoadOrder is a read-only list of mod ids in initialization order.
// The zero value is empty.
type LoadOrder struct {
	ids []string
}

func newLoadOrder(ids []string) LoadOrder {
	return LoadOrder{ids: append([]string(nil), ids...)}
}

// Len returns the number of ids.
func (o LoadOrder) Len() int { return len(o.ids) }

// At returns the id at position i. It panics if i is out of range.
func (o LoadOrder) At(i int) string { return o.ids[i] }

// IDs returns a copy of the ids; mutating it does not affect the order.
func (o LoadOrder) IDs() []string {
	return append([]string(nil), o.ids...)
}

// All iterates positions and ids.
func (o LoadOrder) All() iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		for i, id := range o.ids {
			if !yield(i, id) {
				return
			}
		}
	}
}

// Index returns the position of id, or -1.
func (o LoadOrder) Index(id string) int {
	for i, candidate := range o.ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func (o LoadOrder) String() string {
	return "[" + strings.Join(o.ids, ", ") + "]"
}
