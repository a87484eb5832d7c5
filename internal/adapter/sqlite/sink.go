package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"dexcom-ingest/internal/adapter/row"
	"dexcom-ingest/internal/domain"
)

// Client implements ports.Sink on a local SQLite file. Times are stored as
// RFC 3339 text.
type Client struct {
	db  *sql.DB
	log *slog.Logger
}

// NewClient opens the database at path and initializes the schema.
func NewClient(path string, log *slog.Logger) (*Client, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	c := &Client{db: db, log: log}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return c, nil
}

func (c *Client) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS egv_readings (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		system_time TEXT NOT NULL,
		display_time TEXT,
		value REAL,
		smoothed_value REAL,
		trend_rate REAL,
		unit TEXT NOT NULL DEFAULT '',
		rate_unit TEXT NOT NULL DEFAULT '',
		extra TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_egv_target_time ON egv_readings(target, system_time);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Bulk upserts docs in one transaction.
func (c *Client) Bulk(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	const q = `
	INSERT INTO egv_readings
		(id, target, system_time, display_time, value, smoothed_value, trend_rate, unit, rate_unit, extra)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		target=excluded.target,
		system_time=excluded.system_time,
		display_time=excluded.display_time,
		value=excluded.value,
		smoothed_value=excluded.smoothed_value,
		trend_rate=excluded.trend_rate,
		unit=excluded.unit,
		rate_unit=excluded.rate_unit,
		extra=excluded.extra
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, d := range docs {
		vals, err := row.Values(d)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, row.TextTimes(vals)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting reading %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.log.Info("sqlite sink upserted readings", slog.Int("count", len(docs)))
	return nil
}

// Count returns the number of stored readings for target.
func (c *Client) Count(ctx context.Context, target string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM egv_readings WHERE target = ?", target).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}
