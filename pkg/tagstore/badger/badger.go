// Package badger provides a BadgerDB-backed integrity-tag store for devices
// whose tags must survive restarts without a database server.
package badger

import (
	"context"
	"encoding/binary"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/pkg/tagstore"
)

// Key layout: "t:<namespace>:<unit>" with the unit number big-endian encoded
// so keys for one device sort in unit order and range scans stay cheap.
// One Badger directory can hold tags for many devices; the namespace is the
// device name.
const prefixTag = "t:"

// Config controls how the store opens its database.
type Config struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path string

	// Namespace isolates this device's tags inside the database. Required.
	Namespace string

	// TagSize is the per-unit tag width in bytes. Required.
	TagSize int

	// SyncWrites makes every commit durable immediately. When false, Flush
	// performs the sync.
	SyncWrites bool

	// InMemory runs Badger without touching disk. For tests.
	InMemory bool
}

// Store persists tags in BadgerDB.
type Store struct {
	db       *badgerdb.DB
	tagSize  int
	prefix   []byte
	inMemory bool
}

// Open opens or creates the database and returns a store scoped to the
// configured namespace.
func Open(cfg Config) (*Store, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("badger tag store: namespace is required")
	}
	if cfg.TagSize <= 0 {
		return nil, fmt.Errorf("badger tag store: tag size must be positive, got %d", cfg.TagSize)
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger tag store: path is required")
	}

	opts := badgerdb.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Path, err)
	}

	logger.Info("Badger tag store open",
		logger.KeyPath, cfg.Path,
		logger.KeyDevice, cfg.Namespace,
		"tag_size", cfg.TagSize,
	)

	return &Store{
		db:       db,
		tagSize:  cfg.TagSize,
		prefix:   []byte(prefixTag + cfg.Namespace + ":"),
		inMemory: cfg.InMemory,
	}, nil
}

// TagSize returns the per-unit tag width in bytes.
func (s *Store) TagSize() int { return s.tagSize }

// keyTag builds the key for one unit's tag.
func (s *Store) keyTag(unit uint64) []byte {
	key := make([]byte, len(s.prefix)+8)
	copy(key, s.prefix)
	binary.BigEndian.PutUint64(key[len(s.prefix):], unit)
	return key
}

// LoadTags fills tags for n consecutive units starting at unit. Units with no
// stored tag are zero-filled.
func (s *Store) LoadTags(ctx context.Context, unit uint64, n int, tags []byte) error {
	if err := tagstore.CheckArgs(s.tagSize, n, tags); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.View(func(txn *badgerdb.Txn) error {
		for i := 0; i < n; i++ {
			dst := tags[i*s.tagSize : (i+1)*s.tagSize]

			item, err := txn.Get(s.keyTag(unit + uint64(i)))
			if err == badgerdb.ErrKeyNotFound {
				for j := range dst {
					dst[j] = 0
				}
				continue
			}
			if err != nil {
				return err
			}

			if err := item.Value(func(val []byte) error {
				if len(val) != s.tagSize {
					return fmt.Errorf("%w: stored tag is %d bytes, want %d", tagstore.ErrTagSize, len(val), s.tagSize)
				}
				copy(dst, val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load tags for unit %d: %w", unit, err)
	}
	return nil
}

// SaveTags persists the tags for n consecutive units starting at unit in one
// transaction.
func (s *Store) SaveTags(ctx context.Context, unit uint64, n int, tags []byte) error {
	if err := tagstore.CheckArgs(s.tagSize, n, tags); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		for i := 0; i < n; i++ {
			tag := make([]byte, s.tagSize)
			copy(tag, tags[i*s.tagSize:(i+1)*s.tagSize])
			if err := txn.Set(s.keyTag(unit+uint64(i)), tag); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save tags for unit %d: %w", unit, err)
	}
	return nil
}

// Flush syncs the database to disk.
func (s *Store) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.inMemory {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync badger: %w", err)
	}
	return nil
}

// Close releases the database. The device using this store must be closed
// first.
func (s *Store) Close() error {
	return s.db.Close()
}
