package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/iancoleman/strcase"
	_ "modernc.org/sqlite"

	"github.com/tuplestream/collector/internal/value"
)

// sqliteTypes maps tags to SQLite's dynamically-typed column affinities.
// SQLite only distinguishes INTEGER/REAL/TEXT/BLOB storage classes, so
// several tags collapse onto the same affinity; the Go-side value.Tag is
// still what's authoritative for marshalling.
var sqliteTypes = newTypemap([]typeEntry{
	{tag: value.Long, name: "INTEGER", size: 8},
	{tag: value.Int32, name: "INTEGER", size: 4},
	{tag: value.UInt32, name: "INTEGER", size: 8}, // promoted: sign loss accepted
	{tag: value.Int64, name: "INTEGER", size: 8},
	{tag: value.UInt64, name: "INTEGER", size: 8}, // promoted: sign loss accepted
	{tag: value.Double, name: "REAL", size: 8},
	{tag: value.Bool, name: "INTEGER", size: 1},
	{tag: value.Guid, name: "TEXT", size: 0},
	{tag: value.String, name: "TEXT", size: 0},
	{tag: value.Blob, name: "BLOB", size: 0},
	{tag: value.VectorDouble, name: "TEXT", size: 0},
	{tag: value.VectorI32, name: "TEXT", size: 0},
	{tag: value.VectorU32, name: "TEXT", size: 0},
	{tag: value.VectorI64, name: "TEXT", size: 0},
	{tag: value.VectorU64, name: "TEXT", size: 0},
	{tag: value.VectorBool, name: "TEXT", size: 0},
})

// SQLiteAdapter is the second backend acknowledged in the overview: a
// pure-Go, cgo-free implementation of the same Adapter contract on top of
// modernc.org/sqlite, with SQLite's single-writer-transaction and `?`
// placeholder rules in place of Postgres's multi-connection, $n-placeholder
// model. Only this contract-level behavior is specified in detail; callers
// should not expect feature parity (no LISTEN/NOTIFY equivalent, etc.).
type SQLiteAdapter struct {
	baseDir string
	logger  *slog.Logger
}

// NewSQLiteAdapter builds an adapter that opens one SQLite file per
// database name under baseDir.
func NewSQLiteAdapter(baseDir string, logger *slog.Logger) *SQLiteAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteAdapter{baseDir: baseDir, logger: logger}
}

type sqliteTableHandle struct {
	schema Schema
	insert string
}

// sqliteDatabase is the SQLite-backed Database handle. SQLite allows only
// one writer at a time, so the mutex here also serializes all statement
// execution rather than just protecting Go-side bookkeeping.
type sqliteDatabase struct {
	name      string
	db        *sql.DB
	startTime time.Time // for t_server = now - startTime

	mu          sync.Mutex
	tx          *sql.Tx
	lastCommit  time.Time
	commitGrain time.Duration
	tables      map[string]*sqliteTableHandle
	senderIDs   map[string]int64
}

func (d *sqliteDatabase) Name() string { return d.name }

func (a *SQLiteAdapter) Create(ctx context.Context, name string) (Database, error) {
	path := fmt.Sprintf("%s/%s.db", a.baseDir, name)
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1) // SQLite: single writer.

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("storage: ping sqlite %s: %w", path, err)
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("storage: begin initial transaction: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _senders (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT UNIQUE NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS _experiment_metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			tx.Rollback()
			sqlDB.Close()
			return nil, fmt.Errorf("storage: create sidecar table: %w", err)
		}
	}

	return &sqliteDatabase{
		name:        name,
		db:          sqlDB,
		startTime:   time.Now(),
		tx:          tx,
		lastCommit:  time.Now(),
		commitGrain: defaultCommitGrain,
		tables:      make(map[string]*sqliteTableHandle),
		senderIDs:   make(map[string]int64),
	}, nil
}

func (a *SQLiteAdapter) Release(ctx context.Context, database Database) error {
	db, ok := database.(*sqliteDatabase)
	if !ok {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.tx != nil {
		if err := db.tx.Commit(); err != nil {
			a.logger.Warn("storage: commit on release failed", "database", db.name, "error", err)
		}
		db.tx = nil
	}
	db.tables = nil
	return db.db.Close()
}

func (a *SQLiteAdapter) TypeToValue(typeName string) (value.Tag, error) { return sqliteTypes.toValue(typeName) }
func (a *SQLiteAdapter) ValueToType(tag value.Tag) (string, error)      { return sqliteTypes.toType(tag) }
func (a *SQLiteAdapter) ValueSize(tag value.Tag) int                   { return sqliteTypes.size(tag) }

// PreparedVar returns SQLite's positional placeholder, which is the same
// "?" token regardless of column order.
func (a *SQLiteAdapter) PreparedVar(order int) string { return "?" }

func (a *SQLiteAdapter) TableCreate(ctx context.Context, database Database, table DbTable, shallow bool) error {
	db, ok := database.(*sqliteDatabase)
	if !ok {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if !shallow {
		var cols strings.Builder
		cols.WriteString("id INTEGER PRIMARY KEY AUTOINCREMENT, sender_id INTEGER NOT NULL, seq INTEGER NOT NULL, t_client REAL NOT NULL, t_server REAL NOT NULL")
		for _, c := range table.Schema.Columns {
			typeName, err := sqliteTypes.toType(c.Tag)
			if err != nil {
				return fmt.Errorf("storage: table %s column %s: %w", table.Name, c.Name, err)
			}
			cols.WriteString(fmt.Sprintf(", %s %s", sqliteIdentifier(c.Name), typeName))
		}
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, sqliteIdentifier(table.Name), cols.String())
		if _, err := db.tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSchemaConflict, table.Name, err)
		}
		encoded := encodeSchema(table.Schema)
		_, err := db.tx.ExecContext(ctx,
			`INSERT INTO _experiment_metadata (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			"schema:"+table.Name, encoded)
		if err != nil {
			return fmt.Errorf("storage: record schema for %s: %w", table.Name, err)
		}
	}

	names := []string{"sender_id", "seq", "t_client", "t_server"}
	for _, c := range table.Schema.Columns {
		names = append(names, sqliteIdentifier(c.Name))
	}
	placeholders := make([]string, len(names))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		sqliteIdentifier(table.Name), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	db.tables[table.Name] = &sqliteTableHandle{schema: table.Schema, insert: insertSQL}
	return nil
}

func (a *SQLiteAdapter) TableFree(ctx context.Context, database Database, tableName string) error {
	db, ok := database.(*sqliteDatabase)
	if !ok {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.tables, tableName)
	return nil
}

// Insert appends one row via table's prepared statement. The server
// timestamp (column t_server) is computed as the seconds elapsed since db was
// created, matching the Postgres adapter's behavior.
func (a *SQLiteAdapter) Insert(ctx context.Context, database Database, tableName string, senderID, seq int64, tClient float64, values []value.Value) error {
	db, ok := database.(*sqliteDatabase)
	if !ok {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	th, ok := db.tables[tableName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}
	if len(values) != len(th.schema.Columns) {
		return fmt.Errorf("storage: insert %s: expected %d values, got %d", tableName, len(th.schema.Columns), len(values))
	}

	if err := a.maybeRollTransaction(ctx, db); err != nil {
		return err
	}

	tServer := time.Since(db.startTime).Seconds()
	args := make([]any, 0, nmeta+len(values))
	args = append(args, senderID, seq, tClient, tServer)
	for i, v := range values {
		col := th.schema.Columns[i]
		if v.Tag() != col.Tag {
			return fmt.Errorf("%w: column %s", value.ErrTypeMismatch, col.Name)
		}
		arg, err := sqliteValueToArg(v)
		if err != nil {
			return err
		}
		args = append(args, arg)
	}

	if _, err := db.tx.ExecContext(ctx, th.insert, args...); err != nil {
		return fmt.Errorf("storage: insert into %s: %w", tableName, err)
	}
	return nil
}

func (a *SQLiteAdapter) maybeRollTransaction(ctx context.Context, db *sqliteDatabase) error {
	if time.Since(db.lastCommit) < db.commitGrain {
		return nil
	}
	if err := db.tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit transaction window: %w", err)
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin next transaction window: %w", err)
	}
	db.tx = tx
	db.lastCommit = time.Now()
	return nil
}

func (a *SQLiteAdapter) AddSenderID(ctx context.Context, database Database, name string) (int64, error) {
	db, ok := database.(*sqliteDatabase)
	if !ok {
		return 0, ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if id, ok := db.senderIDs[name]; ok {
		return id, nil
	}

	_, err := db.tx.ExecContext(ctx,
		`INSERT INTO _senders (name) VALUES (?) ON CONFLICT(name) DO UPDATE SET name = excluded.name`, name)
	if err != nil {
		return 0, fmt.Errorf("storage: add sender %s: %w", name, err)
	}
	var id int64
	if err := db.tx.QueryRowContext(ctx, `SELECT id FROM _senders WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("storage: fetch sender id for %s: %w", name, err)
	}
	db.senderIDs[name] = id
	return id, nil
}

func (a *SQLiteAdapter) GetMetadata(ctx context.Context, database Database, key string) (string, error) {
	db, ok := database.(*sqliteDatabase)
	if !ok {
		return "", ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	var v string
	err := db.tx.QueryRowContext(ctx, `SELECT value FROM _experiment_metadata WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: get metadata %s: %w", key, err)
	}
	return v, nil
}

func (a *SQLiteAdapter) SetMetadata(ctx context.Context, database Database, key, value string) error {
	db, ok := database.(*sqliteDatabase)
	if !ok {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.tx.ExecContext(ctx,
		`INSERT INTO _experiment_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("storage: set metadata %s: %w", key, err)
	}
	return nil
}

func (a *SQLiteAdapter) URI(database Database) string {
	db, ok := database.(*sqliteDatabase)
	if !ok {
		return ""
	}
	return fmt.Sprintf("sqlite:///%s/%s.db", a.baseDir, db.name)
}

func (a *SQLiteAdapter) TableList(ctx context.Context, database Database) ([]DbTable, error) {
	db, ok := database.(*sqliteDatabase)
	if !ok {
		return nil, ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.tx.QueryContext(ctx, `SELECT key, value FROM _experiment_metadata WHERE key LIKE 'schema:%'`)
	if err != nil {
		return nil, fmt.Errorf("storage: list tables: %w", err)
	}
	defer rows.Close()

	var out []DbTable
	for rows.Next() {
		var key, encoded string
		if err := rows.Scan(&key, &encoded); err != nil {
			return nil, fmt.Errorf("storage: scan table schema row: %w", err)
		}
		schema, err := decodeSchema(encoded)
		if err != nil {
			return nil, err
		}
		out = append(out, DbTable{Name: strings.TrimPrefix(key, "schema:"), Schema: schema})
	}
	return out, rows.Err()
}

func sqliteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(strcase.ToSnake(name), `"`, `""`) + `"`
}

func sqliteValueToArg(v value.Value) (any, error) {
	switch v.Tag() {
	case value.Long, value.Int32, value.Int64, value.UInt32, value.UInt64:
		return v.Long(), nil
	case value.Double:
		return v.Double(), nil
	case value.Bool:
		return v.Bool(), nil
	case value.Guid:
		return v.Guid().String(), nil
	case value.String:
		return v.String(), nil
	case value.Blob:
		return v.Blob(), nil
	default:
		if v.Tag().IsVector() {
			return v.VectorJSON()
		}
		return nil, fmt.Errorf("storage: unhandled tag %s", v.Tag())
	}
}
