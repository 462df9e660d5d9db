package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore keeps every document in a single documents table and
// implements the conditional write as one UPDATE guarded by the version
// column. No SQL transactions and no row locks: Postgres here is just a
// durable versioned blob store, the same contract the memory store offers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// NewPool connects with bounded retry; Postgres may not be ready yet when
// the service starts in a container.
func NewPool(ctx context.Context, databaseURL string, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 10; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				return pool, nil
			} else {
				pool.Close()
				err = pingErr
			}
		}
		logger.Warn("database connect failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, err
}

// Bootstrap creates the documents table if it does not exist.
func (p *PostgresStore) Bootstrap(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			key     TEXT PRIMARY KEY,
			value   BYTEA NOT NULL,
			version BIGINT NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	p.logger.Info("documents table ready")
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	var value []byte
	var version int64
	err := p.pool.QueryRow(ctx,
		`SELECT value, version FROM documents WHERE key = $1`, key,
	).Scan(&value, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, VersionInit, ErrKeyNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return value, strconv.FormatInt(version, 10), nil
}

func (p *PostgresStore) Put(ctx context.Context, key string, value []byte, expectedVersion string) (string, error) {
	if expectedVersion == VersionInit {
		tag, err := p.pool.Exec(ctx, `
			INSERT INTO documents (key, value, version) VALUES ($1, $2, 1)
			ON CONFLICT (key) DO NOTHING
		`, key, value)
		if err != nil {
			return "", err
		}
		if tag.RowsAffected() == 0 {
			return "", ErrVersionConflict
		}
		return "1", nil
	}

	expected, err := strconv.ParseInt(expectedVersion, 10, 64)
	if err != nil {
		return "", ErrVersionConflict
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET value = $2, version = version + 1
		WHERE key = $1 AND version = $3
	`, key, value, expected)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		// Either the key vanished or another writer bumped the version.
		// Both resolve the same way: re-read and retry.
		return "", ErrVersionConflict
	}
	return strconv.FormatInt(expected+1, 10), nil
}
