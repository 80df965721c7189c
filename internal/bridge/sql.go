package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// EventsTable holds published records, one JSON payload per row.
const EventsTable = "emergency_events"

const (
	driverSQLite = "sqlite"
	driverPgx    = "pgx"

	// undefinedTable is the Postgres SQLSTATE for a missing relation.
	undefinedTable = "42P01"
)

// SQLFetcher reads the newest row of EventsTable.
type SQLFetcher struct {
	db    *sql.DB
	query string
}

// OpenSQLFetcher opens a database/sql handle for driver ("sqlite" or "pgx").
func OpenSQLFetcher(ctx context.Context, driver, dsn string) (*SQLFetcher, error) {
	switch driver {
	case driverSQLite, driverPgx:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if driver == driverSQLite {
		db.SetMaxOpenConns(1)
	}
	return NewSQLFetcher(db), nil
}

// NewSQLFetcher wraps an existing handle.
func NewSQLFetcher(db *sql.DB) *SQLFetcher {
	return &SQLFetcher{
		db:    db,
		query: "SELECT payload FROM " + EventsTable + " ORDER BY id DESC LIMIT 1",
	}
}

func (f *SQLFetcher) Fetch(ctx context.Context) ([]byte, error) {
	var payload string
	err := f.db.QueryRowContext(ctx, f.query).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %s is empty", ErrSourceUnavailable, EventsTable)
	case isMissingTable(err):
		return nil, fmt.Errorf("%w: %s missing", ErrSourceUnavailable, EventsTable)
	case err != nil:
		return nil, fmt.Errorf("query %s: %w", EventsTable, err)
	}
	if len(payload) > maxEventBytes {
		return nil, &MalformedEventError{Reason: fmt.Sprintf("record exceeds %d bytes", maxEventBytes)}
	}
	return []byte(payload), nil
}

// Close closes the database handle.
func (f *SQLFetcher) Close() error {
	return f.db.Close()
}

// EnsureEventsTable creates EventsTable when missing. The DDL is portable
// between sqlite and Postgres.
func EnsureEventsTable(ctx context.Context, db *sql.DB, driver string) error {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == driverPgx {
		idCol = "BIGSERIAL PRIMARY KEY"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id %s, payload TEXT NOT NULL)", EventsTable, idCol)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", EventsTable, err)
	}
	return nil
}

// PublishSQL appends a record to EventsTable.
func PublishSQL(ctx context.Context, db *sql.DB, driver string, payload []byte) error {
	stmt := "INSERT INTO " + EventsTable + " (payload) VALUES (?)"
	if driver == driverPgx {
		stmt = "INSERT INTO " + EventsTable + " (payload) VALUES ($1)"
	}
	if _, err := db.ExecContext(ctx, stmt, string(payload)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == undefinedTable
	}
	return strings.Contains(err.Error(), "no such table")
}
