package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the cryptblk configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  cryptblk config validate

  # Validate specific config file
  cryptblk config validate --config /etc/cryptblk/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string

	if !cfg.API.HasJWTSecret() {
		warnings = append(warnings, "JWT secret not configured - API authentication will fail")
	}

	if cfg.TagStore.Type == "memory" && hasIntegrityDevice(cfg) {
		warnings = append(warnings, "integrity-enabled devices with the memory tag store lose tags on restart")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Database type:   %s\n", cfg.Database.Type)
	fmt.Printf("  API port:        %d\n", cfg.API.Port)
	fmt.Printf("  Tag store:       %s\n", cfg.TagStore.Type)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)
	fmt.Printf("  Static devices:  %d\n", len(cfg.Devices))

	return nil
}

func hasIntegrityDevice(cfg *config.Config) bool {
	for _, dev := range cfg.Devices {
		for _, feat := range dev.Features {
			if strings.HasPrefix(feat, "integrity:") {
				return true
			}
		}
	}
	return false
}
