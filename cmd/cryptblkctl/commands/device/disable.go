package device

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
)

var disableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Detach and disable a device",
	Long: `Detach a device, draining in-flight I/O, and mark it disabled. Requires admin role.

A disabled device keeps its registration and can be re-attached with
'device enable'.

Examples:
  cryptblkctl device disable vault0`,
	Args: cobra.ExactArgs(1),
	RunE: runDisable,
}

func runDisable(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	dev, err := client.DisableDevice(name)
	if err != nil {
		return fmt.Errorf("failed to disable device: %w", err)
	}

	return cmdutil.PrintResourceWithSuccess(os.Stdout, dev,
		fmt.Sprintf("Device '%s' detached and disabled", dev.Name))
}
