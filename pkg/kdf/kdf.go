// Package kdf derives device key material from passphrases.
//
// Derivation is two-stage: Argon2id stretches the passphrase with a per-device
// salt into a master key, then HKDF-SHA256 expands the master key into
// purpose-bound subkeys (data encryption, tag authentication). The salt and
// Argon2 parameters are stored with the device record so the same passphrase
// always reproduces the same keys.
package kdf

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the Argon2id output length in bytes.
const MasterKeySize = 32

// DefaultSaltSize is the per-device salt length in bytes.
const DefaultSaltSize = 16

// HKDF info strings. Each subkey purpose gets its own derivation path, so a
// compromise of one subkey reveals nothing about the others. Changing an info
// string invalidates every device keyed under it.
const (
	// PurposeData keys the cipher transform pool.
	PurposeData = "cryptblk.key.data.v1"

	// PurposeTags keys integrity-tag authentication.
	PurposeTags = "cryptblk.key.tags.v1"
)

// Params are the Argon2id cost parameters. They are persisted per device:
// raising the defaults later must not lock out devices created under the old
// costs.
type Params struct {
	// Time is the number of passes over memory.
	Time uint32 `json:"time" yaml:"time"`

	// MemoryKiB is the memory cost in KiB.
	MemoryKiB uint32 `json:"memory_kib" yaml:"memory_kib"`

	// Threads is the parallelism degree.
	Threads uint8 `json:"threads" yaml:"threads"`
}

// DefaultParams returns the RFC 9106 second recommended option: 3 passes over
// 64 MiB with 4 lanes. Interactive-login latency on server hardware.
func DefaultParams() Params {
	return Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// Validate rejects parameter combinations Argon2id cannot run.
func (p Params) Validate() error {
	if p.Time == 0 {
		return fmt.Errorf("kdf: time cost must be at least 1")
	}
	if p.Threads == 0 {
		return fmt.Errorf("kdf: threads must be at least 1")
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("kdf: memory must be at least 8 KiB per thread, got %d KiB for %d threads",
			p.MemoryKiB, p.Threads)
	}
	return nil
}

// NewSalt returns a fresh random salt of DefaultSaltSize bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, DefaultSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("kdf: generating salt: %w", err)
	}
	return salt, nil
}

// Master stretches a passphrase into the MasterKeySize-byte master key.
func Master(passphrase, salt []byte, p Params) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("kdf: empty passphrase")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("kdf: empty salt")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, MasterKeySize), nil
}

// Subkey expands the master key into a purpose-bound key of the requested
// size. The master key is already uniform, so HKDF runs with a nil salt per
// RFC 5869.
func Subkey(masterKey []byte, purpose string, size int) ([]byte, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("kdf: master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	if purpose == "" {
		return nil, fmt.Errorf("kdf: empty purpose")
	}
	if size <= 0 {
		return nil, fmt.Errorf("kdf: subkey size must be positive, got %d", size)
	}

	r := hkdf.New(sha256.New, masterKey, nil, []byte(purpose))
	key := make([]byte, size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("kdf: expanding %q subkey: %w", purpose, err)
	}
	return key, nil
}

// DeviceKey derives the cipher key for a device in one call: passphrase ->
// master -> data subkey of the cipher's key size.
func DeviceKey(passphrase, salt []byte, p Params, keySize int) ([]byte, error) {
	master, err := Master(passphrase, salt, p)
	if err != nil {
		return nil, err
	}
	return Subkey(master, PurposeData, keySize)
}
