package memdev

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cryptblk/cryptblk/pkg/blockdev"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Sectors: 0}); err == nil {
		t.Fatal("New with zero sectors succeeded, want error")
	}

	d, err := New(Config{Sectors: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if d.SectorSize() != DefaultSectorSize {
		t.Errorf("SectorSize() = %d, want default %d", d.SectorSize(), DefaultSectorSize)
	}
	if d.Sectors() != 8 {
		t.Errorf("Sectors() = %d, want 8", d.Sectors())
	}
}

func TestReadWriteRoundtrip(t *testing.T) {
	d, err := New(Config{SectorSize: 512, Sectors: 64})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	ctx := context.Background()

	want := bytes.Repeat([]byte{0xA5}, 2*512)
	if err := blockdev.WriteAt(ctx, d, want, 10); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 2*512)
	if err := blockdev.ReadAt(ctx, d, got, 10); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want, got) {
		t.Fatal("readback mismatch")
	}

	// Unwritten sectors read back zero.
	zero := make([]byte, 512)
	if err := blockdev.ReadAt(ctx, d, got[:512], 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(zero, got[:512]) {
		t.Fatal("unwritten sector not zero")
	}
}

func TestTrimZeroesSectors(t *testing.T) {
	d, err := New(Config{SectorSize: 512, Sectors: 16})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	ctx := context.Background()

	if err := blockdev.WriteAt(ctx, d, bytes.Repeat([]byte{0xFF}, 4*512), 4); err != nil {
		t.Fatal(err)
	}
	if err := blockdev.Trim(ctx, d, 5, 2); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 4*512)
	if err := blockdev.ReadAt(ctx, d, got, 4); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:512], bytes.Repeat([]byte{0xFF}, 512)) {
		t.Fatal("sector before trim range was zeroed")
	}
	if !bytes.Equal(got[512:3*512], make([]byte, 2*512)) {
		t.Fatal("trimmed sectors not zeroed")
	}
	if !bytes.Equal(got[3*512:], bytes.Repeat([]byte{0xFF}, 512)) {
		t.Fatal("sector after trim range was zeroed")
	}
}

func TestValidationErrorsSurface(t *testing.T) {
	d, err := New(Config{SectorSize: 512, Sectors: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	ctx := context.Background()

	if err := blockdev.ReadAt(ctx, d, make([]byte, 512), 8); !errors.Is(err, blockdev.ErrOutOfRange) {
		t.Errorf("out-of-range read error = %v, want ErrOutOfRange", err)
	}
	if err := blockdev.WriteAt(ctx, d, make([]byte, 100), 0); !errors.Is(err, blockdev.ErrUnaligned) {
		t.Errorf("unaligned write error = %v, want ErrUnaligned", err)
	}
}

func TestSyncModePassesTokenThrough(t *testing.T) {
	d, err := New(Config{SectorSize: 512, Sectors: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	var got blockdev.CallerContext
	req := &blockdev.Request{
		Op:   blockdev.OpRead,
		Data: make([]byte, 512),
		OnComplete: func(cc blockdev.CallerContext, err error) {
			got = cc
		},
	}
	d.Submit(req, blockdev.Blockable())
	if !got.MayBlock() {
		t.Fatal("sync mode must hand the submitter's token to the callback")
	}
}

func TestAsyncModeDeliversNonBlockable(t *testing.T) {
	d, err := New(Config{SectorSize: 512, Sectors: 8, Async: true, Workers: 2})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan blockdev.CallerContext, 1)
	req := &blockdev.Request{
		Op:   blockdev.OpWrite,
		Data: make([]byte, 512),
		OnComplete: func(cc blockdev.CallerContext, err error) {
			if err != nil {
				t.Errorf("write failed: %v", err)
			}
			done <- cc
		},
	}
	d.Submit(req, blockdev.Blockable())

	cc := <-done
	if cc.MayBlock() {
		t.Fatal("async completion must carry a non-blockable token")
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAsyncCloseDrains(t *testing.T) {
	d, err := New(Config{SectorSize: 512, Sectors: 256, Async: true, Workers: 2})
	if err != nil {
		t.Fatal(err)
	}

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		req := &blockdev.Request{
			Op:     blockdev.OpWrite,
			Sector: uint64(i),
			Data:   bytes.Repeat([]byte{byte(i)}, 512),
			OnComplete: func(cc blockdev.CallerContext, err error) {
				if err != nil {
					t.Errorf("write failed: %v", err)
				}
				wg.Done()
			},
		}
		d.Submit(req, blockdev.Blockable())
	}

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	wg.Wait() // every submitted request completed

	if err := d.Close(); err != nil {
		t.Fatal("second Close must be a no-op")
	}

	req := &blockdev.Request{
		Op:   blockdev.OpWrite,
		Data: make([]byte, 512),
		OnComplete: func(cc blockdev.CallerContext, err error) {
			if !errors.Is(err, blockdev.ErrClosed) {
				t.Errorf("post-close write error = %v, want ErrClosed", err)
			}
		},
	}
	d.Submit(req, blockdev.Blockable())
}

func TestConcurrentAccess(t *testing.T) {
	d, err := New(Config{SectorSize: 512, Sectors: 512, Async: true, Workers: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			buf := bytes.Repeat([]byte{byte(g + 1)}, 512)
			out := make([]byte, 512)
			for i := 0; i < 32; i++ {
				sector := uint64(g*64 + i)
				if err := blockdev.WriteAt(ctx, d, buf, sector); err != nil {
					t.Errorf("write: %v", err)
					return
				}
				if err := blockdev.ReadAt(ctx, d, out, sector); err != nil {
					t.Errorf("read: %v", err)
					return
				}
				if !bytes.Equal(buf, out) {
					t.Errorf("goroutine %d sector %d mismatch", g, sector)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}
