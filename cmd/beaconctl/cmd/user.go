package cmd

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/sunbeamfin/beacon/domain"
	"github.com/sunbeamfin/beacon/internal/auth"
)

var userCmd = &cobra.Command{
	Use:     "user",
	Short:   "Manage user accounts",
	Aliases: []string{"users"},
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an active user account",
	Long: `Creates a user that can sign in right away. The password is
prompted unless --password is given. With --workspace the user is also
added as a member there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		email = strings.TrimSpace(email)
		if email == "" {
			return errors.New("--email is required")
		}
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			var err error
			password, err = promptPassword()
			if err != nil {
				return err
			}
		}
		if len(password) < 8 {
			return errors.New("password must be at least 8 characters")
		}
		firstName, _ := cmd.Flags().GetString("first-name")
		lastName, _ := cmd.Flags().GetString("last-name")
		workspaceID, _ := cmd.Flags().GetString("workspace")
		roleName, _ := cmd.Flags().GetString("role")
		role := domain.Role(roleName)
		if workspaceID != "" && !role.IsValid() {
			return fmt.Errorf("unknown role %q", roleName)
		}

		ctx := cmd.Context()
		repos, _, cleanup, err := openRepos(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		hash, err := auth.NewBcryptPasswordHasher(bcrypt.DefaultCost).Hash(password)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		user := &domain.User{
			ID:           uuid.NewString(),
			Email:        email,
			PasswordHash: hash,
			Status:       domain.UserStatusActive,
			FirstName:    firstName,
			LastName:     lastName,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := repos.Users.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		if workspaceID != "" {
			if _, err := repos.Workspaces.GetWorkspaceByID(ctx, workspaceID); err != nil {
				return fmt.Errorf("user %s created, but workspace %s was not found: %w", user.ID, workspaceID, err)
			}
			if err := repos.Workspaces.AddMembership(ctx, &domain.WorkspaceMembership{
				ID:          uuid.NewString(),
				WorkspaceID: workspaceID,
				UserID:      user.ID,
				Role:        role,
				CreatedAt:   now,
			}); err != nil {
				return fmt.Errorf("user %s created, but adding the membership failed: %w", user.ID, err)
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "user_id: %s\n", user.ID)
		return nil
	},
}

// promptPassword reads the password twice from the terminal without echo.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func init() {
	userCreateCmd.Flags().String("email", "", "account email (required)")
	userCreateCmd.Flags().String("password", "", "password; prompted when omitted")
	userCreateCmd.Flags().String("first-name", "", "given name")
	userCreateCmd.Flags().String("last-name", "", "family name")
	userCreateCmd.Flags().String("workspace", "", "workspace id to join")
	userCreateCmd.Flags().String("role", string(domain.RoleMember), "membership role: admin, member or viewer")
	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(userCmd)
}
