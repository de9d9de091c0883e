package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"screener-engine/src/helpers"
	"screener-engine/src/logger"
	"screener-engine/src/models"
)

// -----------------------------------------------------------------------------

// dialect captures the few places Postgres and SQLite disagree.
type dialect struct {
	name       string
	driver     string
	float      string
	bigint     string
	boolean    string
	numbered   bool   // $1, $2 placeholders instead of ?
	skipLocked string // appended to claim candidate selects
	forUpdate  string // appended to read-modify-write selects
}

var postgresDialect = dialect{
	name:       "postgres",
	driver:     "postgres",
	float:      "DOUBLE PRECISION",
	bigint:     "BIGINT",
	boolean:    "BOOLEAN",
	numbered:   true,
	skipLocked: " FOR UPDATE SKIP LOCKED",
	forUpdate:  " FOR UPDATE",
}

var sqliteDialect = dialect{
	name:    "sqlite",
	driver:  "sqlite",
	float:   "REAL",
	bigint:  "INTEGER",
	boolean: "INTEGER",
}

// -----------------------------------------------------------------------------

// SQLDB is the database/sql implementation of interfaces.IDatabase shared by
// the Postgres and SQLite backends.
type SQLDB struct {
	Config  *models.MConfig
	DB      *sql.DB
	Schema  string
	Logger  *logger.Logger
	dialect dialect
	dsn     string
}

// -----------------------------------------------------------------------------

// table returns the (schema-qualified on Postgres) name of a table.
func (d *SQLDB) table(name string) string {
	if d.dialect.numbered && d.Schema != "" {
		return fmt.Sprintf(`"%s"."%s"`, d.Schema, name)
	}
	return name
}

func (d *SQLDB) barTable(res models.Resolution) string {
	return d.table("bars_" + string(res))
}

// -----------------------------------------------------------------------------

// rebind rewrites ? placeholders for dialects that number them.
func (d *SQLDB) rebind(query string) string {
	if !d.dialect.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// -----------------------------------------------------------------------------

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// -----------------------------------------------------------------------------

// withTx runs fn in a transaction, rolling back on any error.
func (d *SQLDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return helpers.NewDatabaseError("commit transaction", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) Initialize(ctx context.Context) error {
	db, err := sql.Open(d.dialect.driver, d.dsn)
	if err != nil {
		return helpers.NewDatabaseError("open "+d.dialect.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return helpers.NewDatabaseError("ping "+d.dialect.name, err)
	}
	d.DB = db

	if d.dialect.name == sqliteDialect.name {
		// one writer at a time; keeps the claim/commit statements serialized
		db.SetMaxOpenConns(1)

		// PRAGMA optimizations
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			d.Logger.Warning("Failed to set WAL mode: %v", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
			d.Logger.Warning("Failed to set synchronous mode: %v", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
			d.Logger.Warning("Failed to set busy timeout: %v", err)
		}
	} else if d.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
			return helpers.NewDatabaseError("create schema "+d.Schema, err)
		}
	}

	if err := d.createTables(ctx); err != nil {
		return err
	}
	if err := d.migrateRows(ctx); err != nil {
		return err
	}

	d.Logger.Info("%s store initialized", d.dialect.name)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) createTables(ctx context.Context) error {
	f, bi, b := d.dialect.float, d.dialect.bigint, d.dialect.boolean

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			sector TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT '',
			market_cap %s,
			active %s NOT NULL,
			updated_at %s NOT NULL
		)`, d.table("instruments"), f, b, bi),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			last_update %s NOT NULL DEFAULT 0,
			claim_token TEXT,
			claimed_at %s
		)`, d.table("staleness"), bi, bi),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS staleness_state_idx ON %s (state, last_update, symbol)`, d.table("staleness")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS staleness_token_idx ON %s (claim_token)`, d.table("staleness")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			day TEXT NOT NULL,
			session TEXT NOT NULL,
			open %s NOT NULL,
			high %s NOT NULL,
			low %s NOT NULL,
			close %s NOT NULL,
			volume TEXT NOT NULL,
			dollar_volume TEXT NOT NULL,
			first_at %s NOT NULL,
			last_at %s NOT NULL,
			bar_count INTEGER NOT NULL,
			PRIMARY KEY (symbol, day, session)
		)`, d.table("session_rollups"), f, f, f, f, bi, bi),

		d.floatTableDDL("ref_daily", "computed_at "+bi+" NOT NULL", models.FieldNames(models.DailyReferenceFields)),
		d.floatTableDDL("ref_minute", "computed_at "+bi+" NOT NULL", models.FieldNames(models.MinuteReferenceFields)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL)`, d.table("schema_version")),
	}

	for _, res := range models.AllResolutions {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			ts %s NOT NULL,
			open %s NOT NULL,
			high %s NOT NULL,
			low %s NOT NULL,
			close %s NOT NULL,
			volume %s NOT NULL,
			PRIMARY KEY (symbol, ts)
		)`, d.barTable(res), bi, f, f, f, f, f))
	}

	for _, stmt := range stmts {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return helpers.NewDatabaseError("create tables", err)
		}
	}
	return d.createRowsTable(ctx)
}

// -----------------------------------------------------------------------------

func (d *SQLDB) createRowsTable(ctx context.Context) error {
	head := fmt.Sprintf(`name TEXT NOT NULL DEFAULT '',
			sector TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT '',
			snapshot_at %s NOT NULL,
			schema_version INTEGER NOT NULL`, d.dialect.bigint)

	ddl := d.floatTableDDL("screener_rows", head, models.FieldNames(models.ScreenerFields))
	if _, err := d.DB.ExecContext(ctx, ddl); err != nil {
		return helpers.NewDatabaseError("create screener_rows", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// floatTableDDL builds a symbol-keyed table of nullable float columns.
func (d *SQLDB) floatTableDDL(name, head string, columns []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t\t\tsymbol TEXT PRIMARY KEY,\n\t\t\t%s", d.table(name), head)
	for _, col := range columns {
		fmt.Fprintf(&b, ",\n\t\t\t%s %s", col, d.dialect.float)
	}
	b.WriteString("\n\t\t)")
	return b.String()
}

// -----------------------------------------------------------------------------

// migrateRows drops and recreates screener_rows when its column set changed.
// Rows are derived data: every instrument is marked dirty and recomputed.
func (d *SQLDB) migrateRows(ctx context.Context) error {
	var version int
	err := d.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT version FROM %s`, d.table("schema_version"))).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err = d.DB.ExecContext(ctx, d.rebind(fmt.Sprintf(`INSERT INTO %s (version) VALUES (?)`, d.table("schema_version"))), models.ScreenerSchemaVersion)
		if err != nil {
			return helpers.NewDatabaseError("write schema version", err)
		}
		return nil
	case err != nil:
		return helpers.NewDatabaseError("read schema version", err)
	case version == models.ScreenerSchemaVersion:
		return nil
	}

	d.Logger.Warning("screener_rows schema version %d != %d, rebuilding", version, models.ScreenerSchemaVersion)
	if _, err := d.DB.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, d.table("screener_rows"))); err != nil {
		return helpers.NewDatabaseError("drop screener_rows", err)
	}
	if err := d.createRowsTable(ctx); err != nil {
		return err
	}

	queries := []string{
		fmt.Sprintf(`UPDATE %s SET state = 'dirty', claim_token = NULL, claimed_at = NULL`, d.table("staleness")),
		fmt.Sprintf(`UPDATE %s SET version = ?`, d.table("schema_version")),
	}
	for i, q := range queries {
		var args []any
		if i == 1 {
			args = append(args, models.ScreenerSchemaVersion)
		}
		if _, err := d.DB.ExecContext(ctx, d.rebind(q), args...); err != nil {
			return helpers.NewDatabaseError("migrate screener_rows", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLDB) Ping(ctx context.Context) error {
	if d.DB == nil {
		return helpers.NewDatabaseError("database not initialized", nil)
	}
	return d.DB.PingContext(ctx)
}

// -----------------------------------------------------------------------------

func (d *SQLDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
