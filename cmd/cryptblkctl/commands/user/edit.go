package user

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/pkg/apiclient"
)

var (
	editRole    string
	editEnable  bool
	editDisable bool
)

var editCmd = &cobra.Command{
	Use:   "edit <username>",
	Short: "Edit a user's role or enabled state",
	Long: `Edit a user on the cryptblk server. Requires admin role.

Only the flags you pass are changed; other fields stay as they are.

Examples:
  # Promote a user to admin
  cryptblkctl user edit alice --role admin

  # Disable an account
  cryptblkctl user edit alice --disable

  # Re-enable an account
  cryptblkctl user edit alice --enable`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	editCmd.Flags().StringVar(&editRole, "role", "", "New role (user|admin)")
	editCmd.Flags().BoolVar(&editEnable, "enable", false, "Enable the account")
	editCmd.Flags().BoolVar(&editDisable, "disable", false, "Disable the account")
	editCmd.MarkFlagsMutuallyExclusive("enable", "disable")
}

func runEdit(cmd *cobra.Command, args []string) error {
	username := args[0]

	if editRole == "" && !editEnable && !editDisable {
		return fmt.Errorf("nothing to change: pass --role, --enable or --disable")
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	req := &apiclient.UpdateUserRequest{}
	if editRole != "" {
		req.Role = &editRole
	}
	if editEnable {
		enabled := true
		req.Enabled = &enabled
	}
	if editDisable {
		enabled := false
		req.Enabled = &enabled
	}

	u, err := client.UpdateUser(username, req)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return cmdutil.PrintResourceWithSuccess(os.Stdout, u,
		fmt.Sprintf("User '%s' updated", u.Username))
}
