package user

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/pkg/apiclient"
)

var getCmd = &cobra.Command{
	Use:   "get [username]",
	Short: "Show user details",
	Long: `Show details for a user.

Without an argument, shows the currently authenticated user.

Examples:
  # Show your own user
  cryptblkctl user get

  # Show another user
  cryptblkctl user get alice

  # Show as JSON
  cryptblkctl user get alice -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGet,
}

// userDetail renders a single user as a key/value table.
type userDetail struct {
	user *apiclient.User
}

// Headers implements TableRenderer.
func (d userDetail) Headers() []string {
	return []string{"FIELD", "VALUE"}
}

// Rows implements TableRenderer.
func (d userDetail) Rows() [][]string {
	u := d.user
	lastLogin := "never"
	if u.LastLogin != nil {
		lastLogin = u.LastLogin.Format("2006-01-02 15:04:05")
	}
	return [][]string{
		{"Username", u.Username},
		{"Role", u.Role},
		{"Enabled", cmdutil.BoolToYesNo(u.Enabled)},
		{"Must change password", cmdutil.BoolToYesNo(u.MustChangePassword)},
		{"Last login", lastLogin},
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	var u *apiclient.User
	if len(args) == 0 {
		u, err = client.GetCurrentUser()
	} else {
		u, err = client.GetUser(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	return cmdutil.PrintResource(os.Stdout, u, userDetail{user: u})
}
