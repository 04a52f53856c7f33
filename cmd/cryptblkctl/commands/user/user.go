// Package user implements user management subcommands for cryptblkctl.
package user

import (
	"github.com/spf13/cobra"
)

// Cmd is the user subcommand.
var Cmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
	Long: `Manage users on the cryptblk server.

Subcommands:
  list      List all users
  get       Show user details
  create    Create a new user
  edit      Edit a user's role or enabled state
  delete    Delete a user
  password  Change your own password
  reset     Reset another user's password (admin only)`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(editCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(passwordCmd)
	Cmd.AddCommand(resetCmd)
}
