package config

import (
	"fmt"

	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
)

// DeviceConfig declares one encrypted device opened at startup.
//
// Declarative devices are registered in the control plane database on first
// start, so their key derivation salt survives restarts. A device already
// registered under the same name is left untouched; the stored registration
// wins.
type DeviceConfig struct {
	// Name identifies the device. Must be unique.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Backend selects the underlying block device: memory, file, or s3.
	Backend string `mapstructure:"backend" validate:"required,oneof=memory file s3" yaml:"backend"`

	// BackendConfig carries backend-specific settings: path and sectors for
	// file, sectors for memory, bucket/prefix/region/endpoint for s3.
	BackendConfig map[string]any `mapstructure:"backend_config" yaml:"backend_config,omitempty"`

	// Cipher names the transform, e.g. "aes-xts-plain64". The IV mode may be
	// folded into the cipher spec or given separately via IVMode.
	Cipher string `mapstructure:"cipher" validate:"required" yaml:"cipher"`

	// IVMode overrides the IV mode from the cipher spec.
	IVMode string `mapstructure:"iv_mode" yaml:"iv_mode,omitempty"`

	// Features holds optional feature arguments in construction form
	// (same_cpu_crypt, force_inline, sector_size:4096, ...).
	Features []string `mapstructure:"features" yaml:"features,omitempty"`

	StartSector uint64 `mapstructure:"start_sector" yaml:"start_sector,omitempty"`
	Sectors     uint64 `mapstructure:"sectors" yaml:"sectors,omitempty"`
	IVOffset    uint64 `mapstructure:"iv_offset" yaml:"iv_offset,omitempty"`

	// PassphraseEnv names the environment variable holding the passphrase.
	// Exactly one of PassphraseEnv and KeyFile must be set.
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env,omitempty"`

	// KeyFile is the path of a file holding the raw cipher key in hex.
	KeyFile string `mapstructure:"key_file" yaml:"key_file,omitempty"`
}

// ToModel converts the declarative device into a registration model. The KDF
// salt is left empty; callers registering a passphrase device generate one
// before persisting.
func (d *DeviceConfig) ToModel() (*models.Device, error) {
	if (d.PassphraseEnv == "") == (d.KeyFile == "") {
		return nil, fmt.Errorf("device %q: exactly one of passphrase_env and key_file must be set", d.Name)
	}

	model := &models.Device{
		Name:          d.Name,
		Backend:       d.Backend,
		Cipher:        d.Cipher,
		IVMode:        d.IVMode,
		StartSector:   d.StartSector,
		Sectors:       d.Sectors,
		IVOffset:      d.IVOffset,
		PassphraseEnv: d.PassphraseEnv,
		KeyFile:       d.KeyFile,
		Enabled:       true,
	}
	model.SetFeatureArgs(d.Features)
	if d.BackendConfig != nil {
		if err := model.SetBackendConfig(d.BackendConfig); err != nil {
			return nil, fmt.Errorf("device %q: invalid backend config: %w", d.Name, err)
		}
	}
	return model, nil
}
