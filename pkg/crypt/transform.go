package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/xts"

	"github.com/cryptblk/cryptblk/pkg/bufpool"
)

// Supported cipher transform names.
const (
	CipherAESXTS   = "aes-xts"
	CipherAESGCM   = "aes-gcm"
	CipherChaCha20 = "chacha20poly1305"
	CipherNull     = "null"
)

// Dir is the transform direction.
type Dir uint8

const (
	Encrypt Dir = iota
	Decrypt
)

// Request describes one data-unit transform handed to a Transformer.
//
// Src and Dst are exactly one data unit long; Src == Dst is allowed and means
// in-place transformation. Tag is TagSize bytes, written on encrypt and
// consumed on decrypt. AllowBacklog tells an overloaded provider to queue the
// request internally instead of failing fast; it is set only when a
// completion callback is present.
//
// OnDone, when non-nil, permits the provider to return ErrPending and finish
// the work later, invoking OnDone exactly once from ordinary goroutine
// context (callbacks may block). The provider may also invoke OnDone
// recursively from inside Transform. When OnDone is nil the provider must
// complete synchronously and must never return ErrPending.
type Request struct {
	Dir          Dir
	Unit         uint64
	IV           []byte
	Src, Dst     []byte
	Tag          []byte
	AllowBacklog bool
	OnDone       func(error)
}

// Transformer is one initialized cipher handle: the narrow interface this
// layer consumes from the cryptographic provider.
//
// Transform returns nil for synchronous success, ErrPending if the request
// was accepted for asynchronous completion, or the failure. Authentication
// failures satisfy errors.Is(err, ErrIntegrity).
type Transformer interface {
	// IVSize is the IV width in bytes the transform consumes. Zero means the
	// transform tweaks by unit number directly and needs no derived IV.
	IVSize() int

	// TagSize is the per-unit integrity tag width in bytes. Zero for
	// length-preserving transforms.
	TagSize() int

	Transform(req *Request) error
}

// ============================================================================
// Transform Pool
// ============================================================================

// Pool holds one Transformer per lane. Handles are picked by the executing
// lane so that, with lane-pinned dispatch, one handle serves one goroutine at
// a time; handles must nevertheless be safe for concurrent use because inline
// execution can land on any lane.
type Pool struct {
	handles []Transformer
	next    atomic.Uint32
}

// NewPool initializes lane handles for a built-in cipher. lanes <= 0 defaults
// to GOMAXPROCS.
func NewPool(cipherName string, key []byte, lanes int) (*Pool, error) {
	factory, err := builtinFactory(cipherName, key)
	if err != nil {
		return nil, err
	}
	return NewPoolWith(lanes, factory)
}

// NewPoolWith initializes lane handles from a caller-supplied factory. Used
// by tests to inject asynchronous or failing providers, and by callers whose
// provider lives outside this package.
func NewPoolWith(lanes int, factory func() (Transformer, error)) (*Pool, error) {
	if lanes <= 0 {
		lanes = runtime.GOMAXPROCS(0)
	}
	handles := make([]Transformer, lanes)
	for i := range handles {
		h, err := factory()
		if err != nil {
			return nil, fmt.Errorf("cipher handle %d: %w", i, err)
		}
		handles[i] = h
	}
	return &Pool{handles: handles}, nil
}

// Lanes returns the number of cipher handles.
func (p *Pool) Lanes() int { return len(p.handles) }

// IVSize returns the IV width of the pooled transform.
func (p *Pool) IVSize() int { return p.handles[0].IVSize() }

// TagSize returns the tag width of the pooled transform.
func (p *Pool) TagSize() int { return p.handles[0].TagSize() }

// Transform runs one request on the given lane's handle. Negative lanes pick
// a handle round-robin.
func (p *Pool) Transform(lane int, req *Request) error {
	if lane < 0 {
		lane = int(p.next.Add(1))
	}
	return p.handles[lane%len(p.handles)].Transform(req)
}

func builtinFactory(name string, key []byte) (func() (Transformer, error), error) {
	switch name {
	case CipherAESXTS:
		if len(key) != 32 && len(key) != 64 {
			return nil, fmt.Errorf("%s: key must be 32 or 64 bytes, got %d", name, len(key))
		}
		return func() (Transformer, error) { return newXTS(key) }, nil
	case CipherAESGCM:
		if len(key) != 16 && len(key) != 24 && len(key) != 32 {
			return nil, fmt.Errorf("%s: key must be 16, 24 or 32 bytes, got %d", name, len(key))
		}
		return func() (Transformer, error) { return newGCM(key) }, nil
	case CipherChaCha20:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("%s: key must be %d bytes, got %d", name, chacha20poly1305.KeySize, len(key))
		}
		return func() (Transformer, error) { return newChaCha(key) }, nil
	case CipherNull:
		return func() (Transformer, error) { return nullTransformer{}, nil }, nil
	default:
		return nil, fmt.Errorf("unsupported cipher %q", name)
	}
}

// ValidCipher reports whether name is a built-in cipher transform.
func ValidCipher(name string) bool {
	switch name {
	case CipherAESXTS, CipherAESGCM, CipherChaCha20, CipherNull:
		return true
	}
	return false
}

// ============================================================================
// Built-in transforms
// ============================================================================

// xtsTransformer is the classic length-preserving disk cipher. The unit
// number is the tweak, so no derived IV is consumed.
type xtsTransformer struct {
	c *xts.Cipher
}

func newXTS(key []byte) (Transformer, error) {
	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("xts init: %w", err)
	}
	return &xtsTransformer{c: c}, nil
}

func (t *xtsTransformer) IVSize() int  { return 0 }
func (t *xtsTransformer) TagSize() int { return 0 }

func (t *xtsTransformer) Transform(req *Request) error {
	if req.Dir == Encrypt {
		t.c.Encrypt(req.Dst, req.Src, req.Unit)
	} else {
		t.c.Decrypt(req.Dst, req.Src, req.Unit)
	}
	return nil
}

// aeadTransformer wraps an AEAD as a data-unit transform. The ciphertext is
// split: payload stays length-preserving in Dst, the seal tag goes to Tag.
// The big-endian unit number is bound as associated data so a unit that is
// relocated on disk fails authentication.
type aeadTransformer struct {
	aead cipher.AEAD
}

func newGCM(key []byte) (Transformer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}
	return &aeadTransformer{aead: aead}, nil
}

func newChaCha(key []byte) (Transformer, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305 init: %w", err)
	}
	return &aeadTransformer{aead: aead}, nil
}

func (t *aeadTransformer) IVSize() int  { return t.aead.NonceSize() }
func (t *aeadTransformer) TagSize() int { return t.aead.Overhead() }

func (t *aeadTransformer) Transform(req *Request) error {
	var aad [8]byte
	binary.BigEndian.PutUint64(aad[:], req.Unit)

	n := len(req.Src)
	scratch := bufpool.Get(n + t.aead.Overhead())
	defer bufpool.Put(scratch)

	if req.Dir == Encrypt {
		out := t.aead.Seal(scratch[:0], req.IV, req.Src, aad[:])
		copy(req.Dst, out[:n])
		copy(req.Tag, out[n:])
		return nil
	}

	in := append(append(scratch[:0], req.Src...), req.Tag...)
	out, err := t.aead.Open(req.Dst[:0], req.IV, in, aad[:])
	if err != nil {
		return fmt.Errorf("unit %d: %w", req.Unit, ErrIntegrity)
	}
	if &out[0] != &req.Dst[0] {
		copy(req.Dst, out)
	}
	return nil
}

// nullTransformer copies plaintext through unchanged. Useful for exercising
// dispatch and geometry without key material.
type nullTransformer struct{}

func (nullTransformer) IVSize() int  { return 0 }
func (nullTransformer) TagSize() int { return 0 }

func (nullTransformer) Transform(req *Request) error {
	if &req.Dst[0] != &req.Src[0] {
		copy(req.Dst, req.Src)
	}
	return nil
}
