// Package tagstore holds the pieces shared by every integrity-tag store
// implementation: sentinel errors and argument validation for the packed tag
// layout.
//
// A tag store persists the per-unit authentication tags produced by AEAD
// cipher transforms. The consuming interface is crypt.TagStore; the
// implementations live in the subpackages memory, badger, and postgres.
// All of them speak the same packed layout: a request covering n units
// starting at unit u carries n*tagSize bytes, unit u's tag first. Units that
// were never written load as zero bytes so decryption fails verification
// instead of returning garbage.
package tagstore

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("tag store closed")

	// ErrTagSize indicates a tag buffer that does not match n*tagSize.
	ErrTagSize = errors.New("tag buffer length mismatch")
)

// CheckArgs validates a LoadTags/SaveTags call against the store's tag size.
// Every implementation runs this first so layout bugs surface identically
// regardless of backend.
func CheckArgs(tagSize, n int, tags []byte) error {
	if n <= 0 {
		return fmt.Errorf("unit count must be positive, got %d", n)
	}
	if len(tags) != n*tagSize {
		return fmt.Errorf("%w: %d bytes for %d units of %d-byte tags", ErrTagSize, len(tags), n, tagSize)
	}
	return nil
}
