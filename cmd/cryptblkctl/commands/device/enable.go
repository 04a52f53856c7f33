package device

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
)

var enableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable and attach a device",
	Long: `Enable a disabled device and attach it. Requires admin role.

Examples:
  cryptblkctl device enable vault0`,
	Args: cobra.ExactArgs(1),
	RunE: runEnable,
}

func runEnable(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	dev, err := client.EnableDevice(name)
	if err != nil {
		return fmt.Errorf("failed to enable device: %w", err)
	}

	return cmdutil.PrintResourceWithSuccess(os.Stdout, dev,
		fmt.Sprintf("Device '%s' enabled and attached", dev.Name))
}
