package crypt

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestUnitNumber(t *testing.T) {
	cases := []struct {
		name         string
		sector       uint64
		unit         int
		sectorSize   int
		largeSectors bool
		ivOffset     uint64
		want         uint64
	}{
		{name: "512Identity", sector: 10, unit: 3, sectorSize: 512, want: 13},
		{name: "4096Scales", sector: 2, unit: 1, sectorSize: 4096, want: 24},
		{name: "4096LargeSectors", sector: 2, unit: 1, sectorSize: 4096, largeSectors: true, want: 3},
		{name: "OffsetAdds", sector: 0, unit: 0, sectorSize: 512, ivOffset: 100, want: 100},
		{name: "OffsetAfterScaling", sector: 1, unit: 0, sectorSize: 1024, ivOffset: 5, want: 7},
		{name: "LargeSectorsWithOffset", sector: 7, unit: 2, sectorSize: 4096, largeSectors: true, ivOffset: 1, want: 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := UnitNumber(tc.sector, tc.unit, tc.sectorSize, tc.largeSectors, tc.ivOffset)
			if got != tc.want {
				t.Errorf("UnitNumber() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestIVDeriversAreDeterministic(t *testing.T) {
	key := pattern(32, 1)
	for _, mode := range []string{IVPlain64, IVPlain64BE, IVESSIV, IVNull} {
		t.Run(mode, func(t *testing.T) {
			gen, err := NewIVDeriver(mode, key, 16)
			if err != nil {
				t.Fatalf("NewIVDeriver(%s) failed: %v", mode, err)
			}
			a := make([]byte, 16)
			b := make([]byte, 16)
			for _, unit := range []uint64{0, 1, 255, 1 << 40} {
				gen.Derive(a, unit)
				gen.Derive(b, unit)
				if !bytes.Equal(a, b) {
					t.Errorf("mode %s unit %d: repeated derivation differs", mode, unit)
				}
			}
		})
	}
}

func TestPlain64Encoding(t *testing.T) {
	gen, err := NewIVDeriver(IVPlain64, nil, 16)
	if err != nil {
		t.Fatal(err)
	}
	iv := make([]byte, 16)
	gen.Derive(iv, 0x0102030405060708)

	if got := binary.LittleEndian.Uint64(iv[:8]); got != 0x0102030405060708 {
		t.Errorf("low 8 bytes = %#x, want little-endian unit number", got)
	}
	for i := 8; i < 16; i++ {
		if iv[i] != 0 {
			t.Errorf("iv[%d] = %#x, want 0", i, iv[i])
		}
	}
}

func TestPlain64BEEncoding(t *testing.T) {
	gen, err := NewIVDeriver(IVPlain64BE, nil, 16)
	if err != nil {
		t.Fatal(err)
	}
	iv := make([]byte, 16)
	gen.Derive(iv, 0x0102030405060708)

	if got := binary.BigEndian.Uint64(iv[8:]); got != 0x0102030405060708 {
		t.Errorf("high 8 bytes = %#x, want big-endian unit number", got)
	}
	for i := 0; i < 8; i++ {
		if iv[i] != 0 {
			t.Errorf("iv[%d] = %#x, want 0", i, iv[i])
		}
	}
}

func TestESSIVDependsOnKey(t *testing.T) {
	gen1, err := NewIVDeriver(IVESSIV, pattern(32, 1), 16)
	if err != nil {
		t.Fatal(err)
	}
	gen2, err := NewIVDeriver(IVESSIV, pattern(32, 2), 16)
	if err != nil {
		t.Fatal(err)
	}

	iv1 := make([]byte, 16)
	iv2 := make([]byte, 16)
	gen1.Derive(iv1, 42)
	gen2.Derive(iv2, 42)
	if bytes.Equal(iv1, iv2) {
		t.Error("essiv IVs for different keys must differ")
	}

	// Not the plain encoding either.
	plain := make([]byte, 16)
	binary.LittleEndian.PutUint64(plain[:8], 42)
	if bytes.Equal(iv1, plain) {
		t.Error("essiv IV must not equal the plain encoding")
	}

	// Different units must not collide.
	iv3 := make([]byte, 16)
	gen1.Derive(iv3, 43)
	if bytes.Equal(iv1, iv3) {
		t.Error("essiv IVs for adjacent units must differ")
	}
}

func TestESSIVNarrowIV(t *testing.T) {
	gen, err := NewIVDeriver(IVESSIV, pattern(32, 3), 12)
	if err != nil {
		t.Fatal(err)
	}
	wide, err := NewIVDeriver(IVESSIV, pattern(32, 3), 16)
	if err != nil {
		t.Fatal(err)
	}

	narrow := make([]byte, 12)
	full := make([]byte, 16)
	gen.Derive(narrow, 7)
	wide.Derive(full, 7)
	if !bytes.Equal(narrow, full[:12]) {
		t.Error("narrow essiv IV must be the prefix of the full block")
	}
}

func TestNullIVIsZero(t *testing.T) {
	gen, err := NewIVDeriver(IVNull, nil, 16)
	if err != nil {
		t.Fatal(err)
	}
	iv := pattern(16, 9)
	gen.Derive(iv, 12345)
	for i, b := range iv {
		if b != 0 {
			t.Fatalf("iv[%d] = %#x, want 0", i, b)
		}
	}
}

func TestNewIVDeriverErrors(t *testing.T) {
	cases := []struct {
		name string
		mode string
		key  []byte
		size int
	}{
		{name: "UnknownMode", mode: "benbi", size: 16},
		{name: "ZeroSize", mode: IVPlain64, size: 0},
		{name: "Plain64TooNarrow", mode: IVPlain64, size: 4},
		{name: "Plain64BETooNarrow", mode: IVPlain64BE, size: 7},
		{name: "ESSIVMissingKey", mode: IVESSIV, size: 16},
		{name: "ESSIVTooWide", mode: IVESSIV, key: pattern(32, 1), size: 32},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewIVDeriver(tc.mode, tc.key, tc.size); err == nil {
				t.Errorf("NewIVDeriver(%s, size=%d) succeeded, want error", tc.mode, tc.size)
			}
		})
	}
}

func TestValidIVMode(t *testing.T) {
	for _, mode := range []string{IVPlain64, IVPlain64BE, IVESSIV, IVNull} {
		if !ValidIVMode(mode) {
			t.Errorf("ValidIVMode(%s) = false, want true", mode)
		}
	}
	for _, mode := range []string{"", "plain", "essiv", "essiv:md5", "benbi"} {
		if ValidIVMode(mode) {
			t.Errorf("ValidIVMode(%q) = true, want false", mode)
		}
	}
}
