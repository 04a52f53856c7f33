package user

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/pkg/apiclient"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	Long: `List all users on the cryptblk server.

Examples:
  # List users as table
  cryptblkctl user list

  # List as JSON
  cryptblkctl user list -o json

  # List as YAML
  cryptblkctl user list -o yaml`,
	RunE: runList,
}

// UserList is a list of users for table rendering.
type UserList []apiclient.User

// Headers implements TableRenderer.
func (ul UserList) Headers() []string {
	return []string{"USERNAME", "ROLE", "ENABLED", "LAST LOGIN"}
}

// Rows implements TableRenderer.
func (ul UserList) Rows() [][]string {
	rows := make([][]string, 0, len(ul))
	for _, u := range ul {
		lastLogin := "never"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{u.Username, u.Role, cmdutil.BoolToYesNo(u.Enabled), lastLogin})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	users, err := client.ListUsers()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, users, len(users) == 0, "No users found.", UserList(users))
}
