package runtime

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cryptblk/cryptblk/pkg/blockdev"
	"github.com/cryptblk/cryptblk/pkg/blockdev/filedev"
	"github.com/cryptblk/cryptblk/pkg/blockdev/memdev"
	"github.com/cryptblk/cryptblk/pkg/blockdev/s3dev"
	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
	"github.com/cryptblk/cryptblk/pkg/crypt"
	"github.com/cryptblk/cryptblk/pkg/kdf"
	badgertags "github.com/cryptblk/cryptblk/pkg/tagstore/badger"
	"github.com/cryptblk/cryptblk/pkg/tagstore/memory"
	pgtags "github.com/cryptblk/cryptblk/pkg/tagstore/postgres"
)

// open builds the full device stack from a registration: feature arguments,
// backend, key material, tag store, and finally the encrypted device on top.
// Construction is the only place these can fail; a device that opens is live
// until detached.
func (m *Manager) open(ctx context.Context, model *models.Device) (*attachedDevice, error) {
	flags, feats, err := crypt.ParseFeatures(model.FeatureArgs())
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", model.Name, err)
	}

	cipherName, ivMode := splitCipherSpec(model.Cipher)
	if model.IVMode != "" {
		ivMode = model.IVMode
	}

	key, err := deviceKey(model, cipherName)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", model.Name, err)
	}

	under, err := m.openBackend(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", model.Name, err)
	}

	var tags crypt.TagStore
	if feats.TagSize > 0 {
		tags, err = m.openTagStore(ctx, model.Name, feats.TagSize)
		if err != nil {
			_ = under.Close()
			return nil, fmt.Errorf("device %q: %w", model.Name, err)
		}
	}

	dev, err := crypt.New(crypt.Config{
		Name:        model.Name,
		Cipher:      cipherName,
		Key:         key,
		IVMode:      ivMode,
		Flags:       flags,
		Features:    feats,
		StartSector: model.StartSector,
		Sectors:     model.Sectors,
		IVOffset:    model.IVOffset,
		Under:       under,
		Tags:        tags,
		Workers:     m.workers,
		Metrics:     m.metrics,
		StopTimeout: m.shutdownTimeout,
	})
	// The transforms and the IV deriver copy what they need from the key;
	// drop our copy either way.
	for i := range key {
		key[i] = 0
	}
	if err != nil {
		if c, ok := tags.(io.Closer); ok {
			_ = c.Close()
		}
		_ = under.Close()
		return nil, err
	}

	return &attachedDevice{
		model: model,
		dev:   dev,
		under: under,
		tags:  tags,
		since: time.Now(),
	}, nil
}

// splitCipherSpec splits a combined cipher spec such as "aes-xts-plain64"
// into transform name and IV mode. Specs without a known IV suffix are
// returned with an empty mode, which selects the default at construction.
func splitCipherSpec(spec string) (cipher, ivMode string) {
	for _, mode := range []string{crypt.IVPlain64BE, crypt.IVPlain64, crypt.IVESSIV, crypt.IVNull} {
		suffix := "-" + mode
		if strings.HasSuffix(spec, suffix) && len(spec) > len(suffix) {
			return strings.TrimSuffix(spec, suffix), mode
		}
	}
	return spec, ""
}

// cipherKeySize returns the key size the named transform expects. Where a
// transform accepts several sizes the strongest is used: aes-xts gets two
// full-length AES-256 keys, aes-gcm gets AES-256.
func cipherKeySize(cipher string) (int, error) {
	switch cipher {
	case crypt.CipherAESXTS:
		return 64, nil
	case crypt.CipherAESGCM:
		return 32, nil
	case crypt.CipherChaCha20:
		return 32, nil
	case crypt.CipherNull:
		return 32, nil
	}
	return 0, fmt.Errorf("unsupported cipher %q", cipher)
}

// deviceKey produces the cipher key for a registration: either derived from
// a passphrase via argon2id, or read as hex from a key file.
func deviceKey(model *models.Device, cipherName string) ([]byte, error) {
	size, err := cipherKeySize(cipherName)
	if err != nil {
		return nil, err
	}

	if model.KeyFile != "" {
		raw, err := os.ReadFile(model.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("key file: %w", err)
		}
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("key file %s: %w", model.KeyFile, err)
		}
		if len(key) != size {
			return nil, fmt.Errorf("key file %s holds %d bytes, cipher %s needs %d",
				model.KeyFile, len(key), cipherName, size)
		}
		return key, nil
	}

	passphrase := os.Getenv(model.PassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase variable %s is not set", model.PassphraseEnv)
	}
	salt, err := model.KDFSaltBytes()
	if err != nil {
		return nil, err
	}
	key, err := kdf.DeviceKey([]byte(passphrase), salt, model.KDFParams(), size)
	if err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return key, nil
}

// ============================================================================
// Backends
// ============================================================================

// openBackend creates the underlying block device from the registration's
// backend type and config blob.
func (m *Manager) openBackend(ctx context.Context, model *models.Device) (blockdev.Device, error) {
	config, err := model.GetBackendConfig()
	if err != nil {
		return nil, fmt.Errorf("backend config: %w", err)
	}

	switch model.Backend {
	case models.BackendMemory:
		return memdev.New(memdev.Config{
			SectorSize: int(configUint64(config, "sector_size")),
			Sectors:    configUint64(config, "sectors"),
			Async:      configBool(config, "async"),
			Workers:    int(configUint64(config, "workers")),
		})

	case models.BackendFile:
		path, ok := config["path"].(string)
		if !ok || path == "" {
			return nil, fmt.Errorf("file backend requires path")
		}
		return filedev.New(filedev.Config{
			Path:       path,
			SectorSize: int(configUint64(config, "sector_size")),
			Sectors:    configUint64(config, "sectors"),
			Create:     configBool(config, "create"),
			Async:      configBool(config, "async"),
			Workers:    int(configUint64(config, "workers")),
		})

	case models.BackendS3:
		return openS3Backend(ctx, config)

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", model.Backend)
	}
}

// openS3Backend builds the S3 client and chunked device. Static credentials
// in the config override the SDK default chain, which is what Localstack and
// MinIO deployments need.
func openS3Backend(ctx context.Context, config map[string]any) (blockdev.Device, error) {
	bucket, ok := config["bucket"].(string)
	if !ok || bucket == "" {
		return nil, fmt.Errorf("s3 backend requires bucket")
	}

	region := "us-east-1"
	if r, ok := config["region"].(string); ok && r != "" {
		region = r
	}

	var s3Opts []func(*awsconfig.LoadOptions) error
	s3Opts = append(s3Opts, awsconfig.WithRegion(region))

	endpoint, _ := config["endpoint"].(string)
	accessKey, _ := config["access_key_id"].(string)
	secretKey, _ := config["secret_access_key"].(string)
	if accessKey != "" && secretKey != "" {
		s3Opts = append(s3Opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, s3Opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for Localstack/MinIO
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return s3dev.New(client, s3dev.Config{
		Bucket:       bucket,
		KeyPrefix:    configString(config, "key_prefix"),
		Region:       region,
		SectorSize:   int(configUint64(config, "sector_size")),
		Sectors:      configUint64(config, "sectors"),
		ChunkSectors: configUint64(config, "chunk_sectors"),
		Workers:      int(configUint64(config, "workers")),
	})
}

// ============================================================================
// Tag stores
// ============================================================================

// openTagStore creates the integrity tag store for one device. Devices are
// isolated by namespace (badger) or name column (postgres); badger devices
// additionally get their own directory because badger locks its directory
// exclusively.
func (m *Manager) openTagStore(ctx context.Context, device string, tagSize int) (crypt.TagStore, error) {
	switch m.tagCfg.Type {
	case "", TagStoreMemory:
		return memory.New(tagSize), nil

	case TagStoreBadger:
		cfg := m.tagCfg.Badger
		cfg.Namespace = device
		cfg.TagSize = tagSize
		if !cfg.InMemory {
			if cfg.Path == "" {
				return nil, fmt.Errorf("badger tag store requires path")
			}
			cfg.Path = filepath.Join(cfg.Path, device)
		}
		return badgertags.Open(cfg)

	case TagStorePostgres:
		cfg := m.tagCfg.Postgres
		cfg.Device = device
		cfg.TagSize = tagSize
		return pgtags.New(ctx, cfg)

	default:
		return nil, fmt.Errorf("unsupported tag store type: %s", m.tagCfg.Type)
	}
}

// ============================================================================
// Config blob decoding
// ============================================================================

func configString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}

// configUint64 reads a numeric config value. JSON decoding yields float64,
// values set programmatically may be any integer type.
func configUint64(config map[string]any, key string) uint64 {
	switch v := config[key].(type) {
	case float64:
		if v > 0 {
			return uint64(v)
		}
	case int:
		if v > 0 {
			return uint64(v)
		}
	case int64:
		if v > 0 {
			return uint64(v)
		}
	case uint64:
		return v
	}
	return 0
}

func configBool(config map[string]any, key string) bool {
	b, _ := config[key].(bool)
	return b
}
