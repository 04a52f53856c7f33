package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cryptblk/cryptblk/pkg/crypt"
)

// Validate checks the configuration for errors.
//
// Struct-tag validation (validator/v10) covers ranges and enumerations;
// cross-field rules that tags cannot express (unique device names, feature
// argument syntax, tag store completeness) are checked explicitly afterwards.
//
// The returned error names every failing field and its violated rule, so a
// bad config file produces one actionable message rather than a sequence of
// restart-and-fix cycles.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q validation (value: %v)",
					fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}

	return validateDevices(cfg)
}

// validateDevices applies the device rules struct tags cannot express.
func validateDevices(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Devices))
	for i := range cfg.Devices {
		d := &cfg.Devices[i]

		if seen[d.Name] {
			return fmt.Errorf("devices: duplicate device name %q", d.Name)
		}
		seen[d.Name] = true

		if (d.PassphraseEnv == "") == (d.KeyFile == "") {
			return fmt.Errorf("devices: %q: exactly one of passphrase_env and key_file must be set", d.Name)
		}

		// Feature arguments are validated with the same parser device
		// construction uses, so config-time and API-time rejection agree.
		_, feats, err := crypt.ParseFeatures(d.Features)
		if err != nil {
			return fmt.Errorf("devices: %q: %w", d.Name, err)
		}

		if feats.TagSize > 0 && cfg.TagStore.Type == "postgres" {
			if cfg.TagStore.Postgres.Host == "" || cfg.TagStore.Postgres.Database == "" {
				return fmt.Errorf("devices: %q requires integrity tags but tag_store.postgres is incomplete", d.Name)
			}
		}
	}
	return nil
}
