package collector

import "time"

// ExperimentHandle is a public, curated view of an open experiment
// database: its name, URI, open time and sender ids. No App method
// returns one.
type ExperimentHandle struct {
	Name      string
	URI       string
	OpenedAt  time.Time
	SenderIDs map[string]int64
}

// TableSpec describes one user table a session layer wants materialized
// before it starts inserting rows.
type TableSpec struct {
	Name    string
	Columns []FieldSpec
}

// FieldSpec is the public form of a schema column: a name plus the
// OML-style type name it should be stored as (mapped to a value.Tag
// internally by the active storage adapter).
type FieldSpec struct {
	Name     string
	TypeName string
}
