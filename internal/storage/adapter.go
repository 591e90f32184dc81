// Package storage implements the database adapter contract (spec §4.2):
// a backend-agnostic capability set for creating experiment databases,
// materializing per-table schemas, and inserting tagged-value tuples, plus
// the sender-id and experiment-metadata sidecars every backend shares.
//
// The contract is expressed as the Adapter interface — a Go interface
// satisfies the "vtable as capability set" idea directly, no function
// pointer table required. PostgresAdapter is the primary, fully detailed
// backend; SQLiteAdapter is the second backend acknowledged but not
// elaborated by the distilled specification.
package storage

import (
	"context"

	"github.com/tuplestream/collector/internal/value"
)

// Adapter is the set of operations a storage backend must implement. One
// Adapter instance is shared by every Database the backend opens; a
// Database is the adapter-side handle for one experiment's connection and
// transaction state.
type Adapter interface {
	// Create opens or creates the named database, installs a notice/log
	// handler, and begins the first transaction window.
	Create(ctx context.Context, name string) (Database, error)

	// Release ends the current transaction, closes the connection, and
	// frees adapter-owned handles. Idempotent.
	Release(ctx context.Context, db Database) error

	// TypeToValue maps a backend type name (as found in a schema
	// definition) to a value.Tag.
	TypeToValue(typeName string) (value.Tag, error)

	// ValueToType maps a value.Tag to the backend's type name.
	ValueToType(tag value.Tag) (string, error)

	// ValueSize returns the tag's fixed on-wire size in bytes, or 0 for
	// variable-length tags (string, blob, vectors).
	ValueSize(tag value.Tag) int

	// PreparedVar returns the placeholder token for the order'th
	// (1-based) column of a prepared statement, e.g. "$3" for Postgres or
	// "?" for SQLite.
	PreparedVar(order int) string

	// TableCreate materializes table on db. If shallow, the physical
	// table is assumed to already exist (e.g. recovered from the metadata
	// sidecar) and only the per-table handles — prepared statement,
	// scratch slots — are (re)allocated.
	TableCreate(ctx context.Context, db Database, table DbTable, shallow bool) error

	// TableFree releases table's per-table handles on db. Does not drop
	// the physical table.
	TableFree(ctx context.Context, db Database, tableName string) error

	// Insert appends one row to table's prepared statement. senderID and
	// seq identify the originating session and its per-session sequence
	// number; tClient is the client-side timestamp (column t_client), a
	// float seconds value supplied by the caller. The backend computes and
	// persists the server timestamp (column t_server) itself, as the
	// seconds elapsed since db was created. The metadata columns are named
	// sender_id, seq, t_client and t_server, without an oml_ prefix. values
	// must match table's schema positionally and by tag.
	Insert(ctx context.Context, db Database, tableName string, senderID int64, seq int64, tClient float64, values []value.Value) error

	// AddSenderID returns a stable small integer identifying name,
	// creating the mapping on first call.
	AddSenderID(ctx context.Context, db Database, name string) (int64, error)

	// GetMetadata reads a key from the experiment metadata sidecar.
	// Returns ErrNotFound if key has never been set.
	GetMetadata(ctx context.Context, db Database, key string) (string, error)

	// SetMetadata writes key=value to the experiment metadata sidecar.
	SetMetadata(ctx context.Context, db Database, key, value string) error

	// URI renders db's connection identity as scheme://user@host:port/name.
	URI(db Database) string

	// TableList reconstructs the schema of every user table from the
	// metadata sidecar.
	TableList(ctx context.Context, db Database) ([]DbTable, error)
}

// Database is an open handle to one experiment's database, owned by
// exactly one Adapter. Database is an opaque marker interface; concrete
// adapters type-assert it back to their own private handle type.
type Database interface {
	// Name is the database/experiment name this handle was created for.
	Name() string
}
