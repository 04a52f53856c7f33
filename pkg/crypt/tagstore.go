package crypt

import "context"

// TagStore persists per-unit authentication tags for devices running an
// AEAD cipher. The crypt layer loads tags before decrypting a read and
// saves tags after encrypting a write, always from a context that may
// block, so implementations are free to hit disk or a database.
//
// Tags for one request are packed contiguously: n units starting at unit
// occupy n*tagSize bytes. unit is the device's logical data unit index,
// so consecutive units differ by one whatever the data unit size or IV
// numbering is. Units that were never saved load as zero bytes, which
// makes decryption of never-written data fail verification rather than
// return garbage.
type TagStore interface {
	// LoadTags fills tags with the stored tags for n consecutive units
	// starting at unit. len(tags) is n*tagSize.
	LoadTags(ctx context.Context, unit uint64, n int, tags []byte) error

	// SaveTags persists the tags for n consecutive units starting at unit.
	SaveTags(ctx context.Context, unit uint64, n int, tags []byte) error

	// Flush makes every previously saved tag durable. Called when the
	// device receives a flush request.
	Flush(ctx context.Context) error
}
