package observer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pricesentry/internal/alert"
)

// statementTimeout bounds each archive statement.
const statementTimeout = 5 * time.Second

// uniqueViolation is the Postgres duplicate-key SQLSTATE.
const uniqueViolation = "23505"

const alertsSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id             BIGINT PRIMARY KEY,
	symbol         TEXT NOT NULL,
	message        TEXT NOT NULL,
	severity       TEXT NOT NULL,
	price          DOUBLE PRECISION NOT NULL,
	change_percent DOUBLE PRECISION NOT NULL,
	threshold      DOUBLE PRECISION NOT NULL,
	minutes        DOUBLE PRECISION NOT NULL,
	ts             TIMESTAMPTZ NOT NULL
)`

const insertAlert = `
INSERT INTO alerts (id, symbol, message, severity, price, change_percent, threshold, minutes, ts)
VALUES (:id, :symbol, :message, :severity, :price, :change_percent, :threshold, :minutes, :ts)`

// PostgresArchive persists every published alert. Snapshots are not
// archived.
type PostgresArchive struct {
	db *sqlx.DB
}

// NewPostgresArchive wraps an open connection pool.
func NewPostgresArchive(db *sqlx.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// DialPostgres opens the pool, verifies connectivity and ensures the
// alerts table exists.
func DialPostgres(ctx context.Context, dsn string) (*PostgresArchive, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	a := NewPostgresArchive(db)
	if err := a.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// EnsureSchema creates the alerts table when missing.
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, statementTimeout)
	defer cancel()
	if _, err := a.db.ExecContext(ctx, alertsSchema); err != nil {
		return fmt.Errorf("ensure alerts schema: %w", err)
	}
	return nil
}

func (a *PostgresArchive) Name() string { return "postgres" }

// PublishSnapshot is a no-op; the archive only stores alerts.
func (a *PostgresArchive) PublishSnapshot(context.Context, Snapshot) error { return nil }

// PublishAlert inserts rec. A duplicate key means the alert was already
// archived and is skipped.
func (a *PostgresArchive) PublishAlert(ctx context.Context, rec alert.Record) error {
	ctx, cancel := context.WithTimeout(ctx, statementTimeout)
	defer cancel()

	if _, err := a.db.NamedExecContext(ctx, insertAlert, rec); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			log.Debug().Int64("id", rec.ID).Str("symbol", rec.Symbol).Msg("alert already archived")
			return nil
		}
		return fmt.Errorf("archive alert %d: %w", rec.ID, err)
	}
	return nil
}

// Close releases the connection pool.
func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
