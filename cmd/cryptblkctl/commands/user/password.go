package user

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/internal/cli/credentials"
	"github.com/cryptblk/cryptblk/internal/cli/prompt"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change your own password",
	Long: `Change the password of the currently authenticated user.

You will be prompted for your current password and the new password.
On success, fresh tokens are issued and saved to the current context,
so no re-login is needed.

Examples:
  cryptblkctl user password`,
	Args: cobra.NoArgs,
	RunE: runPassword,
}

func runPassword(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	current, err := prompt.Password("Current password")
	if err != nil {
		return cmdutil.HandleAbort(err)
	}

	newPassword, err := prompt.PasswordWithConfirmation("New password", "Confirm new password", 8)
	if err != nil {
		return cmdutil.HandleAbort(err)
	}

	tokens, err := client.ChangeOwnPassword(current, newPassword)
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	// Persist the fresh tokens so the session stays valid
	store, err := credentials.NewStore()
	if err == nil {
		_ = store.UpdateTokens(tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt)
	}

	cmdutil.PrintSuccess("Password changed successfully")
	return nil
}
