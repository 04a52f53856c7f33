// Package memory provides an in-memory integrity-tag store for tests and
// volatile devices backed by memdev.
package memory

import (
	"context"
	"sync"

	"github.com/cryptblk/cryptblk/pkg/tagstore"
)

// Store keeps tags in a map. Safe for concurrent use.
type Store struct {
	tagSize int

	mu   sync.RWMutex
	tags map[uint64][]byte
}

// New creates a store for tags of the given size.
func New(tagSize int) *Store {
	return &Store{
		tagSize: tagSize,
		tags:    make(map[uint64][]byte),
	}
}

// TagSize returns the per-unit tag width in bytes.
func (s *Store) TagSize() int { return s.tagSize }

// LoadTags fills tags with the stored tags for n consecutive units starting
// at unit. Missing units are zero-filled.
func (s *Store) LoadTags(ctx context.Context, unit uint64, n int, tags []byte) error {
	if err := tagstore.CheckArgs(s.tagSize, n, tags); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 0; i < n; i++ {
		dst := tags[i*s.tagSize : (i+1)*s.tagSize]
		if stored, ok := s.tags[unit+uint64(i)]; ok {
			copy(dst, stored)
		} else {
			for j := range dst {
				dst[j] = 0
			}
		}
	}
	return nil
}

// SaveTags persists the tags for n consecutive units starting at unit.
func (s *Store) SaveTags(ctx context.Context, unit uint64, n int, tags []byte) error {
	if err := tagstore.CheckArgs(s.tagSize, n, tags); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		tag := make([]byte, s.tagSize)
		copy(tag, tags[i*s.tagSize:(i+1)*s.tagSize])
		s.tags[unit+uint64(i)] = tag
	}
	return nil
}

// Flush is a no-op; memory is as durable as it gets.
func (s *Store) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of units with a stored tag.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tags)
}
