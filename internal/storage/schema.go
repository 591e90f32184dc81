package storage

import "github.com/tuplestream/collector/internal/value"

// nmeta is the fixed count of implicit leading metadata columns every user
// table carries ahead of its own schema columns: sender_id, seq, t_client,
// t_server (spec §3's NMETA=4).
const nmeta = 4

// Column describes one field of a table's schema: a name and the tagged
// type that every row's value at this position must carry.
type Column struct {
	Name string
	Tag  value.Tag
}

// Schema is an ordered list of columns. Column order is significant: it
// fixes the positional order values are supplied to Insert in, and the
// order placeholders are generated in by PreparedVar.
type Schema struct {
	Columns []Column
}

// IndexOf returns the position of the named column, or -1 if absent.
func (s Schema) IndexOf(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// DbTable is a named schema bound to a particular Database, plus the
// adapter-owned handles (prepared statement, scratch slots) allocated for
// it by TableCreate. The concrete fields an Adapter implementation needs
// live on its own private table type; DbTable is the shape callers above
// the adapter boundary see.
type DbTable struct {
	Name   string
	Schema Schema
}
