package mysql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"dexcom-ingest/internal/adapter/row"
	"dexcom-ingest/internal/domain"
)

// Client implements ports.Sink by writing to the egv_readings table.
// The schema is owned by the migrate package.
type Client struct {
	db  *sql.DB
	log *slog.Logger
}

// NewClient opens a MySQL connection using the provided DSN.
// Example DSN: user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
func NewClient(ctx context.Context, dsn string, log *slog.Logger) (*Client, error) {
	if dsn == "" {
		return nil, errors.New("mysql: DSN is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	// The poll loop writes from a single goroutine.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(c); err != nil {
		db.Close()
		return nil, err
	}
	return &Client{db: db, log: log}, nil
}

// Bulk upserts docs in one transaction.
func (c *Client) Bulk(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	// Use ON DUPLICATE KEY UPDATE to perform upserts.
	const q = "" +
		"INSERT INTO egv_readings\n" +
		"  (id, target, system_time, display_time, `value`, smoothed_value, trend_rate, unit, rate_unit, extra)\n" +
		"VALUES\n" +
		"  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)\n" +
		"ON DUPLICATE KEY UPDATE\n" +
		"  target=VALUES(target),\n" +
		"  system_time=VALUES(system_time),\n" +
		"  display_time=VALUES(display_time),\n" +
		"  `value`=VALUES(`value`),\n" +
		"  smoothed_value=VALUES(smoothed_value),\n" +
		"  trend_rate=VALUES(trend_rate),\n" +
		"  unit=VALUES(unit),\n" +
		"  rate_unit=VALUES(rate_unit),\n" +
		"  extra=VALUES(extra);"

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
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.log.Info("mysql sink upserted readings", slog.Int("count", len(docs)))
	return nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.db.Close() }
