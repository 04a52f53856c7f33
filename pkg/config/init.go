package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfigTemplate is the commented sample configuration written by
// InitConfig. The %s placeholder receives a freshly generated JWT secret.
const sampleConfigTemplate = `# cryptblk Configuration File
#
# Every option can be overridden with environment variables:
#   CRYPTBLK_<SECTION>_<KEY> (underscores for nested keys)
# Examples:
#   CRYPTBLK_LOGGING_LEVEL=DEBUG
#   CRYPTBLK_API_PORT=9080

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Output format: text or json
  format: text
  # Destination: stdout, stderr, or a file path
  output: stdout

# Maximum time to wait for devices to drain on shutdown
shutdown_timeout: 30s

# Control plane database: stores users and device registrations
database:
  # sqlite (single node) or postgres
  type: sqlite
  sqlite:
    # Defaults to $XDG_STATE_HOME/cryptblk/controlplane.db
    path: ""

# Control plane REST API
api:
  port: 8080
  jwt:
    # HMAC signing key for JWT tokens, at least 32 characters.
    # For production set CRYPTBLK_API_JWT_SECRET instead of keeping
    # the secret in this file.
    secret: "%s"
    access_token_duration: 15m
    refresh_token_duration: 168h

# Conversion executor sizing, shared by all attached devices
crypt:
  # 0 means one worker per CPU
  workers: 0
  stop_timeout: 30s

# Integrity tag store for AEAD devices: memory, badger or postgres
tag_store:
  type: memory
  badger:
    # Defaults to $XDG_STATE_HOME/cryptblk/tags
    path: ""
    sync_writes: false

# Prometheus metrics, scraped from /metrics on the API port
metrics:
  enabled: false

# OpenTelemetry tracing
telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  sample_rate: 1.0
  profiling:
    enabled: false
    endpoint: http://localhost:4040

admin:
  username: admin

# Devices registered and attached at startup. Devices created through the
# API live in the control plane database instead.
#
# devices:
#   - name: vault0
#     backend: file
#     backend_config:
#       path: /var/lib/cryptblk/vault0.img
#     cipher: aes-xts-plain64
#     sectors: 2097152
#     passphrase_env: VAULT0_PASSPHRASE
`

// InitConfig creates a sample configuration file at the default location.
// Returns the path of the created file. Fails if the file already exists
// unless force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath creates a sample configuration file at the given path,
// creating parent directories as needed. Fails if the file already exists
// unless force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	secret, err := generateJWTSecret()
	if err != nil {
		return err
	}

	content := fmt.Sprintf(sampleConfigTemplate, secret)

	// The file holds a JWT secret, keep it owner-only.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateJWTSecret returns a 64-character hex string (32 bytes of entropy).
func generateJWTSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
