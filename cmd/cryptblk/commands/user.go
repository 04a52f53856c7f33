package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/internal/cli/output"
	"github.com/cryptblk/cryptblk/internal/cli/prompt"
	"github.com/cryptblk/cryptblk/pkg/config"
	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
	"github.com/cryptblk/cryptblk/pkg/controlplane/store"
	"github.com/cryptblk/cryptblk/pkg/identity"
)

// Local user management against the control plane database. These commands
// bypass the API and are meant for bootstrap and recovery (for example,
// resetting the admin password when nobody can log in). For day-to-day
// administration use cryptblkctl against a running server.

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users in the control plane database",
	Long: `Manage users directly in the control plane database.

These commands operate on the database without requiring a running
server. Use them for bootstrap and recovery; prefer 'cryptblkctl user'
against a running server for routine administration.

Examples:
  cryptblk user add alice
  cryptblk user add bob --role admin
  cryptblk user list
  cryptblk user passwd alice
  cryptblk user delete alice`,
}

var userAddRole string

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a new user (prompts for password)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		if err := identity.ValidateUsername(username); err != nil {
			return err
		}
		role := identity.Role(userAddRole)
		if !role.IsValid() {
			return fmt.Errorf("invalid role %q (must be user or admin)", userAddRole)
		}

		cpStore, err := openStore()
		if err != nil {
			return err
		}
		ctx := context.Background()

		password, err := prompt.PasswordWithConfirmation("Password", "Confirm password", identity.MinPasswordLength)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if err := identity.ValidatePassword(password); err != nil {
			return err
		}

		hash, err := identity.HashPassword(password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		user := &models.User{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: hash,
			Enabled:      true,
			Role:         string(role),
		}
		if _, err := cpStore.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		fmt.Printf("User %q created with role %q\n", username, role)
		return nil
	},
}

var userListOutput string

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all users",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(userListOutput)
		if err != nil {
			return err
		}

		cpStore, err := openStore()
		if err != nil {
			return err
		}

		users, err := cpStore.ListUsers(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		switch format {
		case output.FormatJSON:
			return output.PrintJSON(os.Stdout, users)
		case output.FormatYAML:
			return output.PrintYAML(os.Stdout, users)
		default:
			table := output.NewTableData("USERNAME", "ROLE", "ENABLED", "LAST LOGIN")
			for _, u := range users {
				lastLogin := "never"
				if u.LastLogin != nil {
					lastLogin = u.LastLogin.Format("2006-01-02 15:04:05")
				}
				table.AddRow(u.Username, u.Role, fmt.Sprintf("%t", u.Enabled), lastLogin)
			}
			return output.PrintTable(os.Stdout, table)
		}
	},
}

var userDeleteForce bool

var userDeleteCmd = &cobra.Command{
	Use:     "delete <username>",
	Aliases: []string{"remove", "rm"},
	Short:   "Delete a user",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		if strings.EqualFold(username, identity.AdminUsername) {
			return fmt.Errorf("the %q user cannot be deleted", identity.AdminUsername)
		}

		confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete user %q?", username), userDeleteForce)
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted")
			return nil
		}

		cpStore, err := openStore()
		if err != nil {
			return err
		}

		if err := cpStore.DeleteUser(context.Background(), username); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}

		fmt.Printf("User %q deleted\n", username)
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:     "passwd <username>",
	Aliases: []string{"password"},
	Short:   "Change a user's password",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		cpStore, err := openStore()
		if err != nil {
			return err
		}
		ctx := context.Background()

		// Fail early with a clear message rather than on update
		if _, err := cpStore.GetUser(ctx, username); err != nil {
			return fmt.Errorf("user %q not found", username)
		}

		password, err := prompt.PasswordWithConfirmation("New password", "Confirm password", identity.MinPasswordLength)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if err := identity.ValidatePassword(password); err != nil {
			return err
		}

		hash, err := identity.HashPassword(password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		if err := cpStore.UpdatePassword(ctx, username, hash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}

		fmt.Printf("Password updated for user %q\n", username)
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userAddRole, "role", string(identity.RoleUser), "User role (user|admin)")
	userListCmd.Flags().StringVarP(&userListOutput, "output", "o", "table", "Output format (table|json|yaml)")
	userDeleteCmd.Flags().BoolVarP(&userDeleteForce, "force", "f", false, "Skip confirmation prompt")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userPasswdCmd)
}

// openStore loads the configuration and opens the control plane database.
func openStore() (store.Store, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	cpStore, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open control plane store: %w", err)
	}
	return cpStore, nil
}
