package user

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/internal/cli/prompt"
	"github.com/cryptblk/cryptblk/pkg/apiclient"
)

var (
	createUsername string
	createPassword string
	createRole     string
	createEnabled  bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	Long: `Create a new user on the cryptblk server. Requires admin role.

If username or password are not provided via flags, you will be prompted
to enter them interactively.

Examples:
  # Create user interactively
  cryptblkctl user create

  # Create user with flags
  cryptblkctl user create --username alice --password secret123

  # Create admin user
  cryptblkctl user create --username ops --password secret123 --role admin`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&createUsername, "username", "u", "", "Username (prompts if not provided)")
	createCmd.Flags().StringVarP(&createPassword, "password", "p", "", "Password (prompts if not provided)")
	createCmd.Flags().StringVar(&createRole, "role", "user", "Role (user|admin)")
	createCmd.Flags().BoolVar(&createEnabled, "enabled", true, "Enable account")
}

func runCreate(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	username := createUsername
	if username == "" {
		username, err = prompt.InputRequired("Username")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	password := createPassword
	if password == "" {
		password, err = prompt.PasswordWithConfirmation("Password", "Confirm password", 8)
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	enabled := createEnabled
	req := &apiclient.CreateUserRequest{
		Username: username,
		Password: password,
		Role:     createRole,
		Enabled:  &enabled,
	}

	u, err := client.CreateUser(req)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return cmdutil.PrintResourceWithSuccess(os.Stdout, u,
		fmt.Sprintf("User '%s' created with role '%s'", u.Username, u.Role))
}
