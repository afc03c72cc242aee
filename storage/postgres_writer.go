package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"sslv-scraper/utils"
)

// PostgresWriter stores each artifact as one JSONB row keyed by its name.
// It holds run outputs only, one row per run.
type PostgresWriter struct {
	db     *sql.DB
	retry  *utils.RetryConfig
	logger *utils.Logger
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string, retry *utils.RetryConfig, logger *utils.Logger) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := pingUntilReady(ctx, db, pingAttempts, pingWait); err != nil {
		db.Close()
		return nil, err
	}

	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1, Logger: logger}
	}
	pw := &PostgresWriter{db: db, retry: retry, logger: logger}
	if err := pw.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

const (
	pingAttempts = 10
	pingWait     = 2 * time.Second
)

type pinger interface {
	PingContext(ctx context.Context) error
}

// pingUntilReady pings up to attempts times, waiting between attempts but
// not after the last one.
func pingUntilReady(ctx context.Context, db pinger, attempts int, wait time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("postgres: ping failed after %d attempts: %w", attempts, err)
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scrape_artifacts (
			id           SERIAL PRIMARY KEY,
			key          TEXT        UNIQUE NOT NULL,
			body         JSONB       NOT NULL,
			record_count INTEGER     NOT NULL DEFAULT 0,
			run_id       TEXT        NOT NULL DEFAULT '',
			city_id      TEXT        NOT NULL DEFAULT '',
			data_type    TEXT        NOT NULL DEFAULT '',
			source       TEXT        NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_scrape_artifacts_created ON scrape_artifacts(created_at);
	`)
	return err
}

const upsertArtifact = `
	INSERT INTO scrape_artifacts (key, body, record_count, run_id, city_id, data_type, source, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (key) DO UPDATE SET
		body         = EXCLUDED.body,
		record_count = EXCLUDED.record_count,
		run_id       = EXCLUDED.run_id,
		created_at   = EXCLUDED.created_at
`

// Upload inserts the artifact, replacing a row with the same key.
func (pw *PostgresWriter) Upload(ctx context.Context, a Artifact) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	err := pw.retry.Do(ctx, "postgres upsert "+a.Name, func(ctx context.Context) error {
		_, err := pw.db.ExecContext(ctx, upsertArtifact,
			a.Name, string(a.Body), a.RecordCount, a.RunID, a.CityID, a.DataType, a.Source, created)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", a.Name, err)
	}
	n, err := pw.recordCount(ctx, a.Name)
	if err != nil {
		pw.logger.Warn("[sink] Stored %s but could not read it back: %v", a.Name, err)
		return nil
	}
	pw.logger.Info("[sink] Stored %s in scrape_artifacts (%d records)", a.Name, n)
	return nil
}

// recordCount returns the stored record count for key.
func (pw *PostgresWriter) recordCount(ctx context.Context, key string) (int, error) {
	var n int
	err := pw.db.QueryRowContext(ctx,
		`SELECT record_count FROM scrape_artifacts WHERE key = $1`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: record count of %s: %w", key, err)
	}
	return n, nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
