// Package postgres provides a PostgreSQL-backed integrity-tag store for
// deployments that already run a database and want tags in it rather than on
// local disk.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/pkg/tagstore"
)

// Store persists tags in the crypt_tags table, one row per unit, namespaced
// by device name. Unit numbers are stored as bigint: values above 2^63 wrap
// to negative but remain unique and roundtrip through the uint64 cast.
type Store struct {
	pool    *pgxpool.Pool
	device  string
	tagSize int
}

// New connects to PostgreSQL, optionally applies embedded migrations, and
// returns the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	logger.Info("Connecting PostgreSQL tag store",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		logger.KeyDevice, cfg.Device,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, cfg.ConnectionString()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &Store{
		pool:    pool,
		device:  cfg.Device,
		tagSize: cfg.TagSize,
	}, nil
}

// TagSize returns the per-unit tag width in bytes.
func (s *Store) TagSize() int { return s.tagSize }

// LoadTags fills tags for n consecutive units starting at unit. Units with no
// row are zero-filled.
func (s *Store) LoadTags(ctx context.Context, unit uint64, n int, tags []byte) error {
	if err := tagstore.CheckArgs(s.tagSize, n, tags); err != nil {
		return err
	}

	for i := range tags {
		tags[i] = 0
	}

	rows, err := s.pool.Query(ctx,
		`SELECT unit, tag FROM crypt_tags
		 WHERE device = $1 AND unit >= $2 AND unit < $3`,
		s.device, int64(unit), int64(unit)+int64(n),
	)
	if err != nil {
		return fmt.Errorf("failed to load tags for unit %d: %w", unit, err)
	}
	defer rows.Close()

	for rows.Next() {
		var u int64
		var tag []byte
		if err := rows.Scan(&u, &tag); err != nil {
			return fmt.Errorf("failed to scan tag row: %w", err)
		}
		if len(tag) != s.tagSize {
			return fmt.Errorf("%w: stored tag is %d bytes, want %d", tagstore.ErrTagSize, len(tag), s.tagSize)
		}
		i := uint64(u) - unit
		copy(tags[i*uint64(s.tagSize):], tag)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load tags for unit %d: %w", unit, err)
	}
	return nil
}

// SaveTags upserts the tags for n consecutive units starting at unit as one
// batch.
func (s *Store) SaveTags(ctx context.Context, unit uint64, n int, tags []byte) error {
	if err := tagstore.CheckArgs(s.tagSize, n, tags); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i := 0; i < n; i++ {
		tag := make([]byte, s.tagSize)
		copy(tag, tags[i*s.tagSize:(i+1)*s.tagSize])
		batch.Queue(
			`INSERT INTO crypt_tags (device, unit, tag) VALUES ($1, $2, $3)
			 ON CONFLICT (device, unit) DO UPDATE SET tag = EXCLUDED.tag`,
			s.device, int64(unit)+int64(i), tag,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save tags for unit %d: %w", unit, err)
	}
	return nil
}

// Flush is a no-op: committed rows are already durable.
func (s *Store) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Close releases the connection pool. The device using this store must be
// closed first.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
