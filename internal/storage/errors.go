package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrSchemaConflict is returned by TableCreate when the table's CREATE
// TABLE IF NOT EXISTS statement fails. An existing table whose columns
// differ from the requested schema is not detected: the statement leaves
// it in place and TableCreate succeeds. This error only signals the
// condition so it can be logged.
var ErrSchemaConflict = errors.New("storage: schema conflict")

// ErrUnknownTable is returned when an operation names a table that has
// never been created on this Database.
var ErrUnknownTable = errors.New("storage: unknown table")

// ErrClosed is returned by any operation against a released Database.
var ErrClosed = errors.New("storage: database released")
