package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/tuplestream/collector/internal/telemetry"
	"github.com/tuplestream/collector/internal/value"
)

var tracer = telemetry.Tracer("github.com/tuplestream/collector/internal/storage")

var pgTypes = newTypemap([]typeEntry{
	{tag: value.Long, name: "bigint", size: 8},
	{tag: value.Int32, name: "integer", size: 4},
	{tag: value.UInt32, name: "bigint", size: 8}, // promoted: sign loss accepted
	{tag: value.Int64, name: "bigint", size: 8},
	{tag: value.UInt64, name: "numeric", size: 0}, // bound as int64 by valueToArg: sign loss accepted
	{tag: value.Double, name: "double precision", size: 8},
	{tag: value.Bool, name: "boolean", size: 1},
	{tag: value.Guid, name: "uuid", size: 16},
	{tag: value.String, name: "text", size: 0},
	{tag: value.Blob, name: "bytea", size: 0},
	{tag: value.VectorDouble, name: "jsonb", size: 0},
	{tag: value.VectorI32, name: "jsonb", size: 0},
	{tag: value.VectorU32, name: "jsonb", size: 0},
	{tag: value.VectorI64, name: "jsonb", size: 0},
	{tag: value.VectorU64, name: "jsonb", size: 0},
	{tag: value.VectorBool, name: "jsonb", size: 0},
})

// PostgresAdapter is the primary, fully-detailed backend (spec's psql
// adapter), built on pgx/v5. Each Database holds a dedicated *pgx.Conn,
// and every per-database operation (inserts, senders, metadata, table
// list) runs in that connection's current transaction, matching the
// one-connection-per-experiment model the original psql adapter uses. The
// shared pgxpool.Pool supplies the connection settings those dedicated
// connections copy and runs cluster-wide bootstrap migrations (Pool).
type PostgresAdapter struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	senderGroup singleflight.Group
}

// NewPostgresAdapter builds a PostgresAdapter backed by a pool connected
// to poolDSN.
func NewPostgresAdapter(ctx context.Context, poolDSN string, logger *slog.Logger) (*PostgresAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := newPool(ctx, poolDSN)
	if err != nil {
		return nil, err
	}
	return &PostgresAdapter{pool: pool, logger: logger}, nil
}

// Close shuts down the adapter's shared pool. Individual Databases must be
// released first via Release.
func (a *PostgresAdapter) Close() { a.pool.Close() }

// Pool returns the adapter's shared connection pool, for callers that need
// to run cluster-wide bootstrap migrations ahead of any experiment Database.
func (a *PostgresAdapter) Pool() *pgxpool.Pool { return a.pool }

// pgTableHandle is the per-table adapter-owned state: the schema, the
// insert statement's SQL (pgx prepares implicitly by statement cache, so
// no explicit Prepare handle is kept), and a reusable argument slice sized
// to the schema to avoid reallocating on every Insert.
type pgTableHandle struct {
	schema  Schema
	insert  string
	scratch []any
}

// pgDatabase is the Postgres-backed Database handle: a dedicated
// connection, the current transaction, and the commit-window clock.
type pgDatabase struct {
	name      string
	conn      *pgx.Conn
	startTime time.Time // for t_server = now - startTime

	mu          sync.Mutex
	tx          pgx.Tx
	lastCommit  time.Time
	commitGrain time.Duration
	tables      map[string]*pgTableHandle
}

func (d *pgDatabase) Name() string { return d.name }

// defaultCommitGrain is the commitGrain every Database is created with; it
// controls how often the transaction window rolls over: the adapter
// commits and reopens a transaction the first time an Insert observes the
// wall clock has advanced by at least this much since the last commit
// (spec §5's "commit on wall-clock advance").
const defaultCommitGrain = time.Second

// Create opens a dedicated connection to name and begins the first
// transaction window.
func (a *PostgresAdapter) Create(ctx context.Context, name string) (Database, error) {
	conn, err := dedicatedConn(ctx, a.pool, name)
	if err != nil {
		return nil, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("storage: begin initial transaction: %w", err)
	}

	if err := ensureSidecarTables(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		_ = conn.Close(ctx)
		return nil, err
	}

	db := &pgDatabase{
		name:        name,
		conn:        conn,
		startTime:   time.Now(),
		tx:          tx,
		lastCommit:  time.Now(),
		commitGrain: defaultCommitGrain,
		tables:      make(map[string]*pgTableHandle),
	}
	return db, nil
}

func ensureSidecarTables(ctx context.Context, tx pgx.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _senders (id SERIAL PRIMARY KEY, name TEXT UNIQUE NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS _experiment_metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s); err != nil {
			return fmt.Errorf("storage: create sidecar table: %w", err)
		}
	}
	return nil
}

// Release commits any outstanding transaction, closes the connection, and
// frees per-table handles. Idempotent.
func (a *PostgresAdapter) Release(ctx context.Context, database Database) error {
	db, ok := database.(*pgDatabase)
	if !ok {
		return fmt.Errorf("storage: release: %w", ErrClosed)
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.tx != nil {
		if err := db.tx.Commit(ctx); err != nil {
			a.logger.Warn("storage: commit on release failed", "database", db.name, "error", err)
		}
		db.tx = nil
	}
	db.tables = nil
	return db.conn.Close(ctx)
}

func (a *PostgresAdapter) TypeToValue(typeName string) (value.Tag, error) { return pgTypes.toValue(typeName) }
func (a *PostgresAdapter) ValueToType(tag value.Tag) (string, error)      { return pgTypes.toType(tag) }
func (a *PostgresAdapter) ValueSize(tag value.Tag) int                   { return pgTypes.size(tag) }

// PreparedVar returns Postgres's positional placeholder syntax.
func (a *PostgresAdapter) PreparedVar(order int) string { return fmt.Sprintf("$%d", order) }

// TableCreate materializes table's physical DDL (unless shallow) and
// builds the parameterized INSERT statement plus a reusable scratch slice
// sized to the schema's fixed columns plus the NMETA=4 implicit metadata
// columns (sender_id, seq, t_client, t_server — spec §3/§4.2).
func (a *PostgresAdapter) TableCreate(ctx context.Context, database Database, table DbTable, shallow bool) error {
	db, ok := database.(*pgDatabase)
	if !ok {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if !shallow {
		var cols strings.Builder
		cols.WriteString("id SERIAL PRIMARY KEY, sender_id BIGINT NOT NULL, seq BIGINT NOT NULL, t_client DOUBLE PRECISION NOT NULL, t_server DOUBLE PRECISION NOT NULL")
		for _, c := range table.Schema.Columns {
			typeName, err := pgTypes.toType(c.Tag)
			if err != nil {
				return fmt.Errorf("storage: table %s column %s: %w", table.Name, c.Name, err)
			}
			cols.WriteString(fmt.Sprintf(", %s %s", pgIdentifier(c.Name), typeName))
		}
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, pgIdentifier(table.Name), cols.String())
		if _, err := db.tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSchemaConflict, table.Name, err)
		}
		if err := a.recordSchema(ctx, db, table); err != nil {
			return err
		}
	}

	placeholders := make([]string, 0, nmeta+len(table.Schema.Columns))
	names := make([]string, 0, nmeta+len(table.Schema.Columns))
	names = append(names, "sender_id", "seq", "t_client", "t_server")
	for i := 1; i <= nmeta; i++ {
		placeholders = append(placeholders, a.PreparedVar(i))
	}
	for i, c := range table.Schema.Columns {
		names = append(names, pgIdentifier(c.Name))
		placeholders = append(placeholders, a.PreparedVar(i+nmeta+1))
	}
	insertSQL := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		pgIdentifier(table.Name), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	db.tables[table.Name] = &pgTableHandle{
		schema:  table.Schema,
		insert:  insertSQL,
		scratch: make([]any, nmeta+len(table.Schema.Columns)),
	}
	return nil
}

// recordSchema writes table's column definitions into the metadata
// sidecar under the key "schema:<table>" so TableList can reconstruct it
// without a separate catalog.
func (a *PostgresAdapter) recordSchema(ctx context.Context, db *pgDatabase, table DbTable) error {
	encoded := encodeSchema(table.Schema)
	_, err := db.tx.Exec(ctx,
		`INSERT INTO _experiment_metadata (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		"schema:"+table.Name, encoded)
	if err != nil {
		return fmt.Errorf("storage: record schema for %s: %w", table.Name, err)
	}
	return nil
}

// TableFree drops table's per-table handles. The physical table is left
// in place.
func (a *PostgresAdapter) TableFree(ctx context.Context, database Database, tableName string) error {
	db, ok := database.(*pgDatabase)
	if !ok {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.tables, tableName)
	return nil
}

// Insert appends one row via table's prepared statement, rolling the
// transaction window over first if the wall clock has advanced by at
// least commitGrain since the last commit. The server timestamp (column
// t_server) is computed as the seconds elapsed since db's Create
// call, matching spec §4.2's "time_server = now - db.start_time".
func (a *PostgresAdapter) Insert(ctx context.Context, database Database, tableName string, senderID, seq int64, tClient float64, values []value.Value) error {
	db, ok := database.(*pgDatabase)
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
	th.scratch[0] = senderID
	th.scratch[1] = seq
	th.scratch[2] = tClient
	th.scratch[3] = tServer
	for i, v := range values {
		col := th.schema.Columns[i]
		if v.Tag() != col.Tag {
			return fmt.Errorf("%w: column %s", value.ErrTypeMismatch, col.Name)
		}
		arg, err := valueToArg(v)
		if err != nil {
			return err
		}
		th.scratch[nmeta+i] = arg
	}

	if _, err := db.tx.Exec(ctx, th.insert, th.scratch...); err != nil {
		return fmt.Errorf("storage: insert into %s: %w", tableName, err)
	}
	return nil
}

// maybeRollTransaction commits the current transaction and begins a new
// one if commitGrain has elapsed since the last commit. Retries the
// commit on serialization/deadlock errors via commitWithRetry.
func (a *PostgresAdapter) maybeRollTransaction(ctx context.Context, db *pgDatabase) error {
	if time.Since(db.lastCommit) < db.commitGrain {
		return nil
	}

	ctx, span := tracer.Start(ctx, "storage.commit_transaction_window")
	span.SetAttributes(
		attribute.String("collector.database", db.name),
		attribute.Float64("collector.commit_grain_seconds", db.commitGrain.Seconds()),
	)
	defer span.End()

	err := commitWithRetry(ctx, a.logger, db.name, 3, 50*time.Millisecond, func() error {
		return db.tx.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("storage: commit transaction window: %w", err)
	}
	tx, err := db.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin next transaction window: %w", err)
	}
	db.tx = tx
	db.lastCommit = time.Now()
	return nil
}

// AddSenderID returns a stable integer for name, creating it on first
// call. Concurrent lookups for the same (database, name) pair are
// coalesced with singleflight so a burst of first-contact sessions
// doesn't race each other into duplicate inserts.
func (a *PostgresAdapter) AddSenderID(ctx context.Context, database Database, name string) (int64, error) {
	db, ok := database.(*pgDatabase)
	if !ok {
		return 0, ErrClosed
	}

	key := db.name + "\x00" + name
	v, err, _ := a.senderGroup.Do(key, func() (any, error) {
		db.mu.Lock()
		defer db.mu.Unlock()

		var id int64
		err := db.tx.QueryRow(ctx,
			`INSERT INTO _senders (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`, name).Scan(&id)
		if err != nil {
			return int64(0), fmt.Errorf("storage: add sender %s: %w", name, err)
		}
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// GetMetadata reads key from the experiment metadata sidecar.
func (a *PostgresAdapter) GetMetadata(ctx context.Context, database Database, key string) (string, error) {
	db, ok := database.(*pgDatabase)
	if !ok {
		return "", ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	var v string
	err := db.tx.QueryRow(ctx, `SELECT value FROM _experiment_metadata WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: get metadata %s: %w", key, err)
	}
	return v, nil
}

// SetMetadata writes key=value to the experiment metadata sidecar.
func (a *PostgresAdapter) SetMetadata(ctx context.Context, database Database, key, value string) error {
	db, ok := database.(*pgDatabase)
	if !ok {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.tx.Exec(ctx,
		`INSERT INTO _experiment_metadata (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("storage: set metadata %s: %w", key, err)
	}
	return nil
}

// URI renders db's connection identity as scheme://user@host:port/name.
func (a *PostgresAdapter) URI(database Database) string {
	db, ok := database.(*pgDatabase)
	if !ok {
		return ""
	}
	cfg := db.conn.Config()
	return fmt.Sprintf("postgresql://%s@%s:%d/%s", cfg.User, cfg.Host, cfg.Port, db.name)
}

// TableList reconstructs every user table's schema from the
// "schema:<table>" keys in the metadata sidecar.
func (a *PostgresAdapter) TableList(ctx context.Context, database Database) ([]DbTable, error) {
	db, ok := database.(*pgDatabase)
	if !ok {
		return nil, ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.tx.Query(ctx, `SELECT key, value FROM _experiment_metadata WHERE key LIKE 'schema:%'`)
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

// pgIdentifier normalizes a user-supplied table/column name to snake_case
// (sessions may send camelCase field names) and quotes it as a safe
// Postgres identifier.
func pgIdentifier(name string) string {
	return pgx.Identifier{strcase.ToSnake(name)}.Sanitize()
}

// valueToArg converts a tagged Value into the driver argument pgx should
// bind for it. Vector tags serialize to JSON text for the jsonb columns
// the typemap assigns them.
func valueToArg(v value.Value) (any, error) {
	switch v.Tag() {
	case value.Long, value.Int32, value.Int64:
		return v.Long(), nil
	case value.UInt32, value.UInt64:
		return v.Long(), nil // promoted to signed storage, sign loss accepted
	case value.Double:
		return v.Double(), nil
	case value.Bool:
		return v.Bool(), nil
	case value.Guid:
		return v.Guid(), nil
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
