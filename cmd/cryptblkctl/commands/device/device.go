// Package device implements encrypted device management subcommands for cryptblkctl.
package device

import (
	"github.com/spf13/cobra"
)

// Cmd is the device subcommand.
var Cmd = &cobra.Command{
	Use:   "device",
	Short: "Manage encrypted devices",
	Long: `Manage encrypted block devices on the cryptblk server.

Devices are registered with a backend (memory, file or s3), a cipher
transform and a key source, then attached so the server encrypts and
decrypts sector I/O transparently.

Subcommands:
  list     List all registered devices
  get      Show device details
  create   Register and attach a new device
  delete   Remove a device registration
  enable   Enable and attach a device
  disable  Detach and disable a device
  status   Show live status of an attached device`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(enableCmd)
	Cmd.AddCommand(disableCmd)
	Cmd.AddCommand(statusCmd)
}
