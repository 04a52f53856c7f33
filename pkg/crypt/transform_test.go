package crypt

import (
	"bytes"
	"errors"
	"runtime"
	"testing"
)

func mustPool(t *testing.T, cipherName string, key []byte, lanes int) *Pool {
	t.Helper()
	p, err := NewPool(cipherName, key, lanes)
	if err != nil {
		t.Fatalf("NewPool(%s) failed: %v", cipherName, err)
	}
	return p
}

func TestXTSRoundtrip(t *testing.T) {
	p := mustPool(t, CipherAESXTS, pattern(64, 1), 1)

	plain := pattern(512, 0x10)
	enc := make([]byte, 512)
	if err := p.Transform(0, &Request{Dir: Encrypt, Unit: 7, Src: plain, Dst: enc}); err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if bytes.Equal(plain, enc) {
		t.Fatal("ciphertext equals plaintext")
	}

	dec := make([]byte, 512)
	if err := p.Transform(0, &Request{Dir: Decrypt, Unit: 7, Src: enc, Dst: dec}); err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(plain, dec) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestXTSUnitTweaksCiphertext(t *testing.T) {
	p := mustPool(t, CipherAESXTS, pattern(64, 2), 1)

	plain := pattern(512, 0x20)
	enc7 := make([]byte, 512)
	enc8 := make([]byte, 512)
	if err := p.Transform(0, &Request{Dir: Encrypt, Unit: 7, Src: plain, Dst: enc7}); err != nil {
		t.Fatal(err)
	}
	if err := p.Transform(0, &Request{Dir: Encrypt, Unit: 8, Src: plain, Dst: enc8}); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(enc7, enc8) {
		t.Fatal("same plaintext at different units produced identical ciphertext")
	}

	// Decrypting with the wrong unit must not recover the plaintext.
	wrong := make([]byte, 512)
	if err := p.Transform(0, &Request{Dir: Decrypt, Unit: 8, Src: enc7, Dst: wrong}); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(plain, wrong) {
		t.Fatal("decrypt with wrong unit recovered plaintext")
	}
}

func TestXTSInPlace(t *testing.T) {
	p := mustPool(t, CipherAESXTS, pattern(64, 3), 1)

	buf := pattern(512, 0x30)
	want := append([]byte(nil), buf...)
	if err := p.Transform(0, &Request{Dir: Encrypt, Unit: 3, Src: buf, Dst: buf}); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(want, buf) {
		t.Fatal("in-place encrypt left buffer unchanged")
	}
	if err := p.Transform(0, &Request{Dir: Decrypt, Unit: 3, Src: buf, Dst: buf}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want, buf) {
		t.Fatal("in-place roundtrip mismatch")
	}
}

func TestAEADRoundtripAndTamper(t *testing.T) {
	for _, tc := range []struct {
		name   string
		cipher string
		key    []byte
	}{
		{name: "aes-gcm", cipher: CipherAESGCM, key: pattern(32, 4)},
		{name: "chacha20poly1305", cipher: CipherChaCha20, key: pattern(32, 5)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := mustPool(t, tc.cipher, tc.key, 1)
			if p.IVSize() != 12 {
				t.Fatalf("IVSize = %d, want 12", p.IVSize())
			}
			if p.TagSize() != 16 {
				t.Fatalf("TagSize = %d, want 16", p.TagSize())
			}

			gen, err := NewIVDeriver(IVPlain64, nil, p.IVSize())
			if err != nil {
				t.Fatal(err)
			}
			iv := make([]byte, p.IVSize())
			gen.Derive(iv, 9)

			plain := pattern(512, 0x44)
			enc := make([]byte, 512)
			tag := make([]byte, p.TagSize())
			err = p.Transform(0, &Request{Dir: Encrypt, Unit: 9, IV: iv, Src: plain, Dst: enc, Tag: tag})
			if err != nil {
				t.Fatalf("encrypt failed: %v", err)
			}
			if bytes.Equal(plain, enc) {
				t.Fatal("ciphertext equals plaintext")
			}

			dec := make([]byte, 512)
			err = p.Transform(0, &Request{Dir: Decrypt, Unit: 9, IV: iv, Src: enc, Dst: dec, Tag: tag})
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}
			if !bytes.Equal(plain, dec) {
				t.Fatal("roundtrip mismatch")
			}

			// Flipping one tag bit must fail authentication.
			tag[0] ^= 1
			err = p.Transform(0, &Request{Dir: Decrypt, Unit: 9, IV: iv, Src: enc, Dst: dec, Tag: tag})
			if !errors.Is(err, ErrIntegrity) {
				t.Fatalf("tampered tag error = %v, want ErrIntegrity", err)
			}
			tag[0] ^= 1

			// So must a relocated unit: same payload, different unit number.
			err = p.Transform(0, &Request{Dir: Decrypt, Unit: 10, IV: iv, Src: enc, Dst: dec, Tag: tag})
			if !errors.Is(err, ErrIntegrity) {
				t.Fatalf("relocated unit error = %v, want ErrIntegrity", err)
			}
		})
	}
}

func TestAEADInPlace(t *testing.T) {
	p := mustPool(t, CipherAESGCM, pattern(32, 6), 1)

	gen, err := NewIVDeriver(IVPlain64, nil, p.IVSize())
	if err != nil {
		t.Fatal(err)
	}
	iv := make([]byte, p.IVSize())
	gen.Derive(iv, 21)

	buf := pattern(512, 0x55)
	want := append([]byte(nil), buf...)
	tag := make([]byte, p.TagSize())

	if err := p.Transform(0, &Request{Dir: Encrypt, Unit: 21, IV: iv, Src: buf, Dst: buf, Tag: tag}); err != nil {
		t.Fatal(err)
	}
	if err := p.Transform(0, &Request{Dir: Decrypt, Unit: 21, IV: iv, Src: buf, Dst: buf, Tag: tag}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want, buf) {
		t.Fatal("in-place roundtrip mismatch")
	}
}

func TestNullTransformerCopies(t *testing.T) {
	p := mustPool(t, CipherNull, nil, 1)

	src := pattern(512, 0x66)
	dst := make([]byte, 512)
	if err := p.Transform(0, &Request{Dir: Encrypt, Unit: 0, Src: src, Dst: dst}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(src, dst) {
		t.Fatal("null transform must copy source to destination")
	}
}

func TestNewPoolKeyValidation(t *testing.T) {
	cases := []struct {
		cipher string
		keyLen int
	}{
		{CipherAESXTS, 0},
		{CipherAESXTS, 48},
		{CipherAESGCM, 17},
		{CipherChaCha20, 16},
	}
	for _, tc := range cases {
		if _, err := NewPool(tc.cipher, pattern(tc.keyLen, 1), 1); err == nil {
			t.Errorf("NewPool(%s, %d-byte key) succeeded, want error", tc.cipher, tc.keyLen)
		}
	}

	if _, err := NewPool("vigenere", pattern(32, 1), 1); err == nil {
		t.Error("NewPool(vigenere) succeeded, want error")
	}
}

func TestPoolLaneDefaults(t *testing.T) {
	p := mustPool(t, CipherNull, nil, 0)
	if got, want := p.Lanes(), runtime.GOMAXPROCS(0); got != want {
		t.Errorf("Lanes() = %d, want GOMAXPROCS %d", got, want)
	}

	p4 := mustPool(t, CipherNull, nil, 4)
	if p4.Lanes() != 4 {
		t.Errorf("Lanes() = %d, want 4", p4.Lanes())
	}
}

func TestPoolNegativeLaneRoundRobins(t *testing.T) {
	rec := &recordingTransformer{inner: nullTransformer{}}
	p := poolOf(rec, 4)

	buf := make([]byte, 16)
	for i := 0; i < 8; i++ {
		if err := p.Transform(-1, &Request{Dir: Encrypt, Unit: uint64(i), Src: buf, Dst: buf}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(rec.seen()); got != 8 {
		t.Errorf("transform calls = %d, want 8", got)
	}
}

func TestValidCipher(t *testing.T) {
	for _, name := range []string{CipherAESXTS, CipherAESGCM, CipherChaCha20, CipherNull} {
		if !ValidCipher(name) {
			t.Errorf("ValidCipher(%s) = false, want true", name)
		}
	}
	if ValidCipher("aes-cbc") {
		t.Error("ValidCipher(aes-cbc) = true, want false")
	}
}
