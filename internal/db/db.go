// Package db is the optional run event log: one row per pipeline stage,
// check run and review cycle. SQLite is the default store; Postgres is
// reached through pgx's database/sql driver.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// DB wraps the event log connection.
type DB struct {
	conn   *sql.DB
	driver string
}

// Open opens or creates the event log. For sqlite3 the parent directory of
// dsn is created if needed.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create directory for %s: %w", dsn, err)
			}
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("open database: pgx driver needs a dsn")
		}
	default:
		return nil, fmt.Errorf("open database: unsupported driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if driver == DriverSQLite {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
	}
	return &DB{conn: conn, driver: driver}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Driver returns the driver name the DB was opened with.
func (d *DB) Driver() string {
	return d.driver
}

// Conn returns the underlying connection for read-only reporting queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Rebind rewrites ? placeholders for the connection's dialect.
func (d *DB) Rebind(query string) string {
	return d.rebind(query)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(query string, args ...any) (sql.Result, error) {
	return d.conn.Exec(d.rebind(query), args...)
}

func (d *DB) query(query string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(d.rebind(query), args...)
}

// schema is written once per dialect; only the id column differs.
func schema(driver string) string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == DriverPostgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(`
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    pipeline    TEXT NOT NULL,
    status      TEXT NOT NULL,
    stage       TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

CREATE TABLE IF NOT EXISTS run_events (
    id          {{id}},
    run_id      TEXT NOT NULL,
    pipeline    TEXT NOT NULL,
    stage       TEXT NOT NULL,
    next_stage  TEXT NOT NULL,
    outcome     TEXT NOT NULL CHECK(outcome IN ('success','soft_fail','hard_fail')),
    failure     TEXT,
    detail      TEXT,
    error       TEXT,
    duration_ms BIGINT,
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, id);

CREATE TABLE IF NOT EXISTS check_runs (
    id          {{id}},
    run_id      TEXT NOT NULL,
    phase       TEXT NOT NULL,
    check_name  TEXT NOT NULL,
    passed      BOOLEAN NOT NULL,
    auto_fixed  BOOLEAN NOT NULL DEFAULT FALSE,
    exit_code   INTEGER,
    duration_ms BIGINT,
    summary     TEXT,
    findings    TEXT,
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_check_runs_run ON check_runs(run_id, phase);

CREATE TABLE IF NOT EXISTS review_cycles (
    id             {{id}},
    run_id         TEXT NOT NULL,
    change_request TEXT NOT NULL,
    attempt        INTEGER NOT NULL,
    score          DOUBLE PRECISION NOT NULL,
    threshold      DOUBLE PRECISION NOT NULL,
    comments       INTEGER NOT NULL DEFAULT 0,
    timestamp      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_cycles_run ON review_cycles(run_id, attempt);
`, "{{id}}", id)
}

var tables = []string{"review_cycles", "check_runs", "run_events", "runs", "schema_version"}

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(schema(d.driver), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := tx.Exec(d.rebind("INSERT INTO schema_version (version, applied_at) VALUES (1, ?)"), timestamp(now())); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
