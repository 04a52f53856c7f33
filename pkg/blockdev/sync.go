package blockdev

import "context"

// Synchronous wrappers around Device.Submit for callers that have no use for
// the asynchronous completion model: API handlers, CLI paths, and tests.
// Each submits one request and blocks until its callback fires or the context
// is cancelled. The callback only posts to a buffered channel, so it is safe
// to invoke from non-blockable completion contexts.

func await(ctx context.Context, d Device, req *Request) error {
	done := make(chan error, 1)
	req.OnComplete = func(_ CallerContext, err error) {
		done <- err
	}
	d.Submit(req, Blockable())
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadAt fills p from the device starting at the given sector. len(p) must be
// a whole number of sectors.
func ReadAt(ctx context.Context, d Device, p []byte, sector uint64) error {
	return await(ctx, d, &Request{Op: OpRead, Sector: sector, Data: p})
}

// WriteAt writes p to the device starting at the given sector. len(p) must be
// a whole number of sectors.
func WriteAt(ctx context.Context, d Device, p []byte, sector uint64) error {
	return await(ctx, d, &Request{Op: OpWrite, Sector: sector, Data: p})
}

// Flush commits previously written data to stable storage.
func Flush(ctx context.Context, d Device) error {
	return await(ctx, d, &Request{Op: OpFlush})
}

// Trim discards length sectors starting at the given sector.
func Trim(ctx context.Context, d Device, sector, length uint64) error {
	return await(ctx, d, &Request{Op: OpTrim, Sector: sector, Length: length})
}
