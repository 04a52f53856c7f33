package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cryptblk/cryptblk/pkg/kdf"
)

// Device backend types.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendS3     = "s3"
)

// ValidBackend reports whether the backend type is supported.
func ValidBackend(backend string) bool {
	switch backend {
	case BackendMemory, BackendFile, BackendS3:
		return true
	}
	return false
}

// Device defines one encrypted device registration.
//
// The row records everything needed to reopen the device after a restart:
// the underlying backend and its settings, the cipher and IV configuration,
// the feature arguments, and the key derivation parameters. Key material
// itself is never stored; only the argon2id salt and cost parameters are,
// and the passphrase is read from the named environment variable (or the key
// from a file) at open time.
type Device struct {
	ID   string `gorm:"primaryKey;size:36" json:"id"`
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	// Backend selects the underlying block device: memory, file, or s3.
	Backend string `gorm:"not null;size:50" json:"backend"`

	// BackendConfig is a JSON blob of backend-specific settings (path for
	// file, bucket/prefix/endpoint for s3, sectors for memory).
	BackendConfig string `gorm:"type:text" json:"-"`

	// ParsedBackend is the decoded backend configuration (not stored).
	ParsedBackend map[string]any `gorm:"-" json:"backend_config,omitempty"`

	// Cipher names the transform, e.g. "aes-xts-plain64" split into cipher
	// and IV mode at open time.
	Cipher string `gorm:"not null;size:100" json:"cipher"`
	IVMode string `gorm:"size:50" json:"iv_mode,omitempty"`

	// Features holds the optional feature arguments, space separated, in the
	// form accepted at construction (same_cpu_crypt, sector_size:4096, ...).
	Features string `gorm:"size:512" json:"features,omitempty"`

	StartSector uint64 `json:"start_sector,omitempty"`
	Sectors     uint64 `json:"sectors,omitempty"` // 0 = full underlying capacity
	IVOffset    uint64 `json:"iv_offset,omitempty"`

	// Key derivation: per-device argon2id salt (hex) and cost parameters.
	KDFSalt      string `gorm:"size:64" json:"-"`
	KDFTime      uint32 `json:"kdf_time,omitempty"`
	KDFMemoryKiB uint32 `json:"kdf_memory_kib,omitempty"`
	KDFThreads   uint8  `json:"kdf_threads,omitempty"`

	// PassphraseEnv names the environment variable holding the passphrase.
	PassphraseEnv string `gorm:"size:255" json:"passphrase_env,omitempty"`

	// KeyFile is the path of a file holding the raw cipher key in hex.
	// Exactly one of PassphraseEnv and KeyFile must be set.
	KeyFile string `gorm:"size:1024" json:"key_file,omitempty"`

	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Device.
func (Device) TableName() string {
	return "devices"
}

// Validate checks if the device registration is complete and consistent.
func (d *Device) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("device name is required")
	}
	if !ValidBackend(d.Backend) {
		return fmt.Errorf("invalid backend %q", d.Backend)
	}
	if d.Cipher == "" {
		return fmt.Errorf("cipher is required")
	}
	if (d.PassphraseEnv == "") == (d.KeyFile == "") {
		return fmt.Errorf("exactly one of passphrase_env and key_file must be set")
	}
	if d.PassphraseEnv != "" && d.KDFSalt == "" {
		return fmt.Errorf("kdf salt is required with a passphrase")
	}
	return nil
}

// FeatureArgs splits the stored feature string into the argument slice
// accepted at device construction.
func (d *Device) FeatureArgs() []string {
	return strings.Fields(d.Features)
}

// SetFeatureArgs stores the feature arguments.
func (d *Device) SetFeatureArgs(args []string) {
	d.Features = strings.Join(args, " ")
}

// KDFParams returns the argon2id cost parameters, falling back to the
// defaults for unset fields.
func (d *Device) KDFParams() kdf.Params {
	p := kdf.DefaultParams()
	if d.KDFTime != 0 {
		p.Time = d.KDFTime
	}
	if d.KDFMemoryKiB != 0 {
		p.MemoryKiB = d.KDFMemoryKiB
	}
	if d.KDFThreads != 0 {
		p.Threads = d.KDFThreads
	}
	return p
}

// SetKDFParams records the argon2id cost parameters.
func (d *Device) SetKDFParams(p kdf.Params) {
	d.KDFTime = p.Time
	d.KDFMemoryKiB = p.MemoryKiB
	d.KDFThreads = p.Threads
}

// KDFSaltBytes decodes the stored salt.
func (d *Device) KDFSaltBytes() ([]byte, error) {
	if d.KDFSalt == "" {
		return nil, fmt.Errorf("device %s has no kdf salt", d.Name)
	}
	salt, err := hex.DecodeString(d.KDFSalt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode kdf salt: %w", err)
	}
	return salt, nil
}

// SetKDFSalt stores the salt hex encoded.
func (d *Device) SetKDFSalt(salt []byte) {
	d.KDFSalt = hex.EncodeToString(salt)
}

// GetBackendConfig returns the parsed backend configuration.
func (d *Device) GetBackendConfig() (map[string]any, error) {
	if d.ParsedBackend != nil {
		return d.ParsedBackend, nil
	}
	if d.BackendConfig == "" {
		return make(map[string]any), nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(d.BackendConfig), &cfg); err != nil {
		return nil, err
	}
	d.ParsedBackend = cfg
	return cfg, nil
}

// SetBackendConfig sets the backend configuration from a map.
func (d *Device) SetBackendConfig(cfg map[string]any) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	d.BackendConfig = string(data)
	d.ParsedBackend = cfg
	return nil
}
