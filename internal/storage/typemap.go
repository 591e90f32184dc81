package storage

import (
	"fmt"

	"github.com/tuplestream/collector/internal/value"
)

// typeEntry is one row of a backend's static tag<->type-name map. size is
// the fixed on-wire size in bytes, or 0 for variable-length types.
type typeEntry struct {
	tag  value.Tag
	name string
	size int
}

// typemap is a bidirectional tag<->name lookup built once per backend from
// its typeEntry table. Unsigned integer tags are promoted to the next
// signed width in every backend's table — sign loss is accepted, per the
// glossary — so there is exactly one typeEntry per unsigned tag, naming
// the signed backend type it's stored as.
type typemap struct {
	byTag  map[value.Tag]typeEntry
	byName map[string]typeEntry
}

func newTypemap(entries []typeEntry) *typemap {
	tm := &typemap{
		byTag:  make(map[value.Tag]typeEntry, len(entries)),
		byName: make(map[string]typeEntry, len(entries)),
	}
	for _, e := range entries {
		tm.byTag[e.tag] = e
		tm.byName[e.name] = e
	}
	return tm
}

func (tm *typemap) toValue(name string) (value.Tag, error) {
	e, ok := tm.byName[name]
	if !ok {
		return 0, fmt.Errorf("storage: unknown backend type %q", name)
	}
	return e.tag, nil
}

func (tm *typemap) toType(tag value.Tag) (string, error) {
	e, ok := tm.byTag[tag]
	if !ok {
		return "", fmt.Errorf("storage: no backend type for tag %s", tag)
	}
	return e.name, nil
}

func (tm *typemap) size(tag value.Tag) int {
	if e, ok := tm.byTag[tag]; ok {
		return e.size
	}
	return 0
}
