package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/pkg/config"
	"github.com/cryptblk/cryptblk/pkg/controlplane/api"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sample configuration file",
	Long: `Create a sample configuration file with sensible defaults.

The configuration file is created at the default location
($XDG_CONFIG_HOME/cryptblk/config.yaml) unless --config specifies
another path. The generated file includes a fresh random JWT secret
and commented examples for every section.

Examples:
  # Create config at default location
  cryptblk init

  # Create config at custom location
  cryptblk init --config /etc/cryptblk/config.yaml

  # Overwrite existing config
  cryptblk init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	var path string
	var err error

	if cfgFile != "" {
		path = cfgFile
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Configuration file created: %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit the configuration file")
	fmt.Println("  2. Start the server: cryptblk start")
	fmt.Println()
	fmt.Println("Security note: the generated file contains a random JWT secret and is")
	fmt.Println("created with 0600 permissions. In production, prefer the environment")
	fmt.Println("variable over the file:")
	fmt.Printf("  export %s=$(openssl rand -hex 32)\n", api.EnvJWTSecret)

	return nil
}
