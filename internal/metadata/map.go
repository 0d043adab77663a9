package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// Map is the field payload of one entity metadata broadcast.
type Map map[FieldID]Entry

// Clone returns a shallow copy; entries are immutable so sharing them is safe.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	cloned := make(Map, len(m))
	for id, entry := range m {
		cloned[id] = entry
	}
	return cloned
}

// Equal reports whether both maps hold the same fields with equal entries.
func (m Map) Equal(other Map) bool {
	if len(m) != len(other) {
		return false
	}
	for id, entry := range m {
		candidate, ok := other[id]
		if !ok || !entry.Equal(candidate) {
			return false
		}
	}
	return true
}

// Indices returns the field indices in ascending order.
func (m Map) Indices() []FieldID {
	ids := make([]FieldID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m Map) String() string {
	parts := make([]string, 0, len(m))
	for _, id := range m.Indices() {
		parts = append(parts, fmt.Sprintf("%d:%s", id, m[id]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
