package device

import (
	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"remove", "rm"},
	Short:   "Remove a device registration",
	Long: `Remove a device registration from the cryptblk server. Requires admin role.

If the device is attached it is detached first, draining in-flight I/O.
The backend data itself is not touched.

Examples:
  # Delete a device (with confirmation)
  cryptblkctl device delete vault0

  # Delete without confirmation
  cryptblkctl device delete vault0 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	return cmdutil.RunDeleteWithConfirmation("Device", name, deleteForce, func() error {
		return client.DeleteDevice(name)
	})
}
