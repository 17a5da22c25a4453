// Package store implements the SQLite side of the request event store:
// connection setup, the table DDL contract and additive migrations.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Table names, one per event kind.
const (
	TableStarted   = "started_requests"
	TableFailed    = "failed_requests"
	TableCompleted = "completed_requests"
)

// CreateDDL defines the three request tables. Column sets and nullability are
// part of the on-disk contract shared with older databases, so changes go
// into migrations/ instead.
const CreateDDL = `
CREATE TABLE IF NOT EXISTS started_requests (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	line        INTEGER NOT NULL,
	timestamp   DATETIME NOT NULL,
	controller  VARCHAR(255) NOT NULL,
	action      VARCHAR(255) NOT NULL,
	method      VARCHAR(6) NOT NULL,
	ip          VARCHAR(6) NOT NULL
);

CREATE TABLE IF NOT EXISTS failed_requests (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	line                INTEGER NOT NULL,
	started_request_id  INTEGER,
	status              INTEGER
);

CREATE TABLE IF NOT EXISTS completed_requests (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	line                INTEGER NOT NULL,
	started_request_id  INTEGER,
	url                 VARCHAR(255) NOT NULL,
	hashed_url          VARCHAR(255),
	status              INTEGER NOT NULL,
	duration            FLOAT,
	rendering_time      FLOAT,
	database_time       FLOAT
);
`

// OpenDB opens (or creates) a SQLite database at path with recommended pragmas:
// WAL journal mode, synchronous=NORMAL, busy_timeout=5000.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single writer, single transaction at a time.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	return db, nil
}

// InitDB executes DDL statements on the given database.
func InitDB(ctx context.Context, db *sql.DB, ddl string) error {
	_, err := db.ExecContext(ctx, ddl)
	return err
}

// EnsureSchema creates the request tables if they are missing and applies
// pending migrations. Safe to call on every open.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("ensure schema: nil db")
	}
	if err := InitDB(ctx, db, CreateDDL); err != nil {
		return fmt.Errorf("ensure schema: create tables: %w", err)
	}
	if err := Migrate(db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Column describes one row of PRAGMA table_info.
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
}

// TableColumns returns the declared columns of table in ordinal order.
// It returns ErrNotFound when the table does not exist.
func TableColumns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	ok, err := HasTable(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("table %s: %w", table, ErrNotFound)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			defaultV  sql.NullString
			primaryID int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryID); err != nil {
			return nil, fmt.Errorf("scan table_info(%s): %w", table, err)
		}
		cols = append(cols, Column{
			Name:       name,
			Type:       colType,
			NotNull:    notNull != 0,
			PrimaryKey: primaryID != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table_info(%s): %w", table, err)
	}
	return cols, nil
}

// HasTable reports whether a table with the given name exists.
func HasTable(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", table, err)
	}
	return n > 0, nil
}
