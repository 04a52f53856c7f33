// Package s3dev provides a block device backed by S3 objects.
//
// The device groups sectors into fixed-size chunks and stores each chunk as
// one object under a configurable key prefix. Reads fetch byte ranges from
// chunk objects; a missing object reads as zeros, so the device is sparse
// until written. Writes that cover a whole chunk upload it directly, partial
// writes read-modify-write the chunk under a per-chunk lock. Trims delete
// whole chunks and zero partial ones.
//
// Every operation is network I/O, so requests always execute on worker
// goroutines and completions carry a non-blockable token. Submit itself only
// enqueues and never blocks, which makes the device safe to drive from
// completion contexts.
package s3dev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/internal/telemetry"
	"github.com/cryptblk/cryptblk/pkg/blockdev"
)

const (
	// DefaultSectorSize is used when Config.SectorSize is zero.
	DefaultSectorSize = 512

	// DefaultChunkSectors groups this many sectors per object when
	// Config.ChunkSectors is zero. 2048 sectors of 512 bytes puts 1 MiB in
	// each object, large enough to amortize request overhead and small
	// enough to keep read-modify-write cheap.
	DefaultChunkSectors = 2048

	// DefaultWorkers is the request goroutine count when Config.Workers is
	// zero.
	DefaultWorkers = 4

	// DefaultRequestTimeout bounds a single S3 call when
	// Config.RequestTimeout is zero.
	DefaultRequestTimeout = 30 * time.Second

	// lockStripes bounds the per-chunk write lock table.
	lockStripes = 64
)

// Config describes the bucket layout and device geometry.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// KeyPrefix is prepended to all chunk keys (e.g. "volumes/vault0/").
	// Should end with "/" if non-empty.
	KeyPrefix string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// ForcePathStyle forces path-style addressing (required for
	// Localstack/MinIO).
	ForcePathStyle bool

	// SectorSize in bytes. Defaults to DefaultSectorSize.
	SectorSize int

	// Sectors is the device capacity. Required.
	Sectors uint64

	// ChunkSectors is the number of sectors stored per object. Defaults to
	// DefaultChunkSectors.
	ChunkSectors uint64

	// Workers is the number of request goroutines. Defaults to
	// DefaultWorkers.
	Workers int

	// RequestTimeout bounds each S3 call. Defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.SectorSize <= 0 {
		c.SectorSize = DefaultSectorSize
	}
	if c.ChunkSectors == 0 {
		c.ChunkSectors = DefaultChunkSectors
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3dev: bucket is required")
	}
	if c.Sectors == 0 {
		return fmt.Errorf("s3dev: sectors must be positive")
	}
	return nil
}

// Device is an S3-backed block device.
type Device struct {
	client       *s3.Client
	bucket       string
	keyPrefix    string
	sectorSize   int
	sectors      uint64
	chunkSectors uint64
	timeout      time.Duration

	locks [lockStripes]sync.Mutex

	qmu    sync.Mutex
	queue  []*blockdev.Request
	wake   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a device with an existing client.
func New(client *s3.Client, cfg Config) (*Device, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	d := &Device{
		client:       client,
		bucket:       cfg.Bucket,
		keyPrefix:    cfg.KeyPrefix,
		sectorSize:   cfg.SectorSize,
		sectors:      cfg.Sectors,
		chunkSectors: cfg.ChunkSectors,
		timeout:      cfg.RequestTimeout,
		wake:         make(chan struct{}, 1),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.requestLoop()
	}

	logger.Info("opened S3-backed device",
		logger.KeyBucket, cfg.Bucket,
		logger.KeySectors, cfg.Sectors,
		logger.KeySectorSize, cfg.SectorSize,
		logger.KeyWorkers, cfg.Workers)
	return d, nil
}

// NewFromConfig creates a device by building an S3 client from config. This
// is the preferred constructor when you don't have an existing S3 client.
func NewFromConfig(ctx context.Context, cfg Config) (*Device, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg)
}

// SectorSize returns the configured sector size in bytes.
func (d *Device) SectorSize() int { return d.sectorSize }

// Sectors returns the device capacity in sectors.
func (d *Device) Sectors() uint64 { return d.sectors }

// HealthCheck verifies the bucket is accessible.
func (d *Device) HealthCheck(ctx context.Context) error {
	d.qmu.Lock()
	closed := d.closed
	d.qmu.Unlock()
	if closed {
		return blockdev.ErrClosed
	}

	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(d.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", d.bucket, err)
	}
	return nil
}

// Submit enqueues one request. The enqueue never blocks, so non-blockable
// submitters are safe.
func (d *Device) Submit(req *blockdev.Request, cc blockdev.CallerContext) {
	if err := blockdev.Validate(d, req); err != nil {
		req.Complete(cc, err)
		return
	}

	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		req.Complete(cc, blockdev.ErrClosed)
		return
	}
	d.queue = append(d.queue, req)
	// Signal while holding qmu: Close marks closed under the same lock before
	// closing wake, so the send can never race the close.
	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.qmu.Unlock()
}

// Close stops accepting requests and waits for the workers to drain the
// queue.
func (d *Device) Close() error {
	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return nil
	}
	d.closed = true
	d.qmu.Unlock()

	close(d.wake)
	d.wg.Wait()
	return nil
}

func (d *Device) requestLoop() {
	defer d.wg.Done()
	for {
		req := d.pop()
		if req != nil {
			err := d.execute(req)
			req.Complete(blockdev.NonBlockable(), err)
			continue
		}
		if _, ok := <-d.wake; !ok {
			// Drain whatever raced in before close.
			for req := d.pop(); req != nil; req = d.pop() {
				req.Complete(blockdev.NonBlockable(), d.execute(req))
			}
			return
		}
	}
}

func (d *Device) pop() *blockdev.Request {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	req := d.queue[0]
	d.queue = d.queue[1:]
	return req
}

func (d *Device) execute(req *blockdev.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	ctx, span := telemetry.StartBlockSpan(ctx, "s3", req.Op.String(), req.Sector,
		telemetry.Bucket(d.bucket),
		telemetry.Bytes(len(req.Data)))
	defer span.End()

	var err error
	switch req.Op {
	case blockdev.OpRead:
		err = d.read(ctx, req.Sector, req.Data)
	case blockdev.OpWrite:
		err = d.write(ctx, req.Sector, req.Data)
	case blockdev.OpTrim:
		err = d.trimRange(ctx, req.Sector, req.Length)
	case blockdev.OpFlush:
		// PutObject is durable once it returns, nothing is buffered here.
	default:
		err = blockdev.ErrNotSupported
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

// ============================================================================
// Chunk Geometry
// ============================================================================

// chunkKey returns the object key for a chunk index.
func (d *Device) chunkKey(chunk uint64) string {
	return fmt.Sprintf("%schunk-%010d", d.keyPrefix, chunk)
}

// chunkBytes returns the object size for a chunk index. The last chunk is
// truncated to the device capacity.
func (d *Device) chunkBytes(chunk uint64) int {
	first := chunk * d.chunkSectors
	n := d.chunkSectors
	if first+n > d.sectors {
		n = d.sectors - first
	}
	return int(n) * d.sectorSize
}

// span walks the chunks a sector range overlaps, yielding the chunk index,
// the byte offset inside it, and the byte length of the overlap.
func (d *Device) span(sector uint64, length int, fn func(chunk uint64, off, n int) error) error {
	for length > 0 {
		chunk := sector / d.chunkSectors
		off := int(sector%d.chunkSectors) * d.sectorSize
		n := d.chunkBytes(chunk) - off
		if n > length {
			n = length
		}
		if err := fn(chunk, off, n); err != nil {
			return err
		}
		sector += uint64(n) / uint64(d.sectorSize)
		length -= n
	}
	return nil
}

// ============================================================================
// I/O Paths
// ============================================================================

func (d *Device) read(ctx context.Context, sector uint64, data []byte) error {
	return d.span(sector, len(data), func(chunk uint64, off, n int) error {
		if err := d.readChunkRange(ctx, chunk, off, data[:n]); err != nil {
			return err
		}
		data = data[n:]
		return nil
	})
}

func (d *Device) write(ctx context.Context, sector uint64, data []byte) error {
	return d.span(sector, len(data), func(chunk uint64, off, n int) error {
		mu := &d.locks[chunk%lockStripes]
		mu.Lock()
		var err error
		if off == 0 && n == d.chunkBytes(chunk) {
			err = d.putChunk(ctx, chunk, data[:n])
		} else {
			err = d.patchChunk(ctx, chunk, off, data[:n])
		}
		mu.Unlock()
		if err != nil {
			return err
		}
		data = data[n:]
		return nil
	})
}

func (d *Device) trimRange(ctx context.Context, sector, sectors uint64) error {
	length := int(sectors) * d.sectorSize
	return d.span(sector, length, func(chunk uint64, off, n int) error {
		mu := &d.locks[chunk%lockStripes]
		mu.Lock()
		defer mu.Unlock()
		if off == 0 && n == d.chunkBytes(chunk) {
			return d.deleteChunk(ctx, chunk)
		}
		return d.patchChunk(ctx, chunk, off, make([]byte, n))
	})
}

// readChunkRange fills dst from a byte range of one chunk object. Missing
// objects read as zeros.
func (d *Device) readChunkRange(ctx context.Context, chunk uint64, off int, dst []byte) error {
	key := d.chunkKey(chunk)
	rangeHeader := fmt.Sprintf("bytes=%d-%d", off, off+len(dst)-1)

	resp, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isNotFound(err) {
			for i := range dst {
				dst[i] = 0
			}
			return nil
		}
		return fmt.Errorf("failed to get object range %s: %w", key, err)
	}
	defer resp.Body.Close()

	if _, err := io.ReadFull(resp.Body, dst); err != nil {
		return fmt.Errorf("failed to read object body %s: %w", key, err)
	}
	return nil
}

// getChunk fetches a whole chunk object, returning a zero-filled buffer when
// the object does not exist.
func (d *Device) getChunk(ctx context.Context, chunk uint64) ([]byte, error) {
	key := d.chunkKey(chunk)
	resp, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return make([]byte, d.chunkBytes(chunk)), nil
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	buf := make([]byte, d.chunkBytes(chunk))
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return nil, fmt.Errorf("failed to read object body %s: %w", key, err)
	}
	return buf, nil
}

func (d *Device) putChunk(ctx context.Context, chunk uint64, data []byte) error {
	key := d.chunkKey(chunk)
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// patchChunk read-modify-writes part of a chunk. Callers hold the chunk's
// stripe lock so concurrent patches cannot lose each other's bytes.
func (d *Device) patchChunk(ctx context.Context, chunk uint64, off int, data []byte) error {
	buf, err := d.getChunk(ctx, chunk)
	if err != nil {
		return err
	}
	copy(buf[off:], data)
	return d.putChunk(ctx, chunk, buf)
}

func (d *Device) deleteChunk(ctx context.Context, chunk uint64) error {
	key := d.chunkKey(chunk)
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// isNotFound reports whether an error is an S3 missing-object error.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	// Ranged GETs against some S3-compatible stores surface the status
	// rather than the typed error.
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") ||
		strings.Contains(msg, "NotFound") ||
		strings.Contains(msg, "404")
}
