package user

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/internal/cli/prompt"
)

var resetPassword string

var resetCmd = &cobra.Command{
	Use:   "reset <username>",
	Short: "Reset another user's password",
	Long: `Reset a user's password. Requires admin role.

The user will be required to change the password on their next login.

Examples:
  # Reset with interactive prompt
  cryptblkctl user reset alice

  # Reset with password on command line (less secure)
  cryptblkctl user reset alice --password temporary123`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVarP(&resetPassword, "password", "p", "", "New password (prompts if not provided)")
}

func runReset(cmd *cobra.Command, args []string) error {
	username := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	password := resetPassword
	if password == "" {
		password, err = prompt.PasswordWithConfirmation("New password", "Confirm password", 8)
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	if err := client.ResetUserPassword(username, password); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	cmdutil.PrintSuccessWithInfo(
		fmt.Sprintf("Password reset for user '%s'", username),
		"The user must change it on next login.")
	return nil
}
