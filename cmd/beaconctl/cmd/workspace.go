package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sunbeamfin/beacon/domain"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Short:   "Manage workspaces",
	Aliases: []string{"workspaces", "ws"},
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return errors.New("--name is required")
		}
		slug, _ := cmd.Flags().GetString("slug")
		if slug == "" {
			slug = slugify(name)
		}

		ctx := cmd.Context()
		repos, _, cleanup, err := openRepos(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		now := time.Now().UTC()
		ws := &domain.Workspace{
			ID:        uuid.NewString(),
			Name:      name,
			Slug:      slug,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repos.Workspaces.CreateWorkspace(ctx, ws); err != nil {
			return fmt.Errorf("failed to create workspace: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "workspace_id: %s\nslug: %s\n", ws.ID, ws.Slug)
		return nil
	},
}

// slugify lowercases the name and collapses everything that is not a letter
// or digit into single dashes.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func init() {
	workspaceCreateCmd.Flags().String("name", "", "workspace display name (required)")
	workspaceCreateCmd.Flags().String("slug", "", "url slug; derived from the name when omitted")
	workspaceCmd.AddCommand(workspaceCreateCmd)
	rootCmd.AddCommand(workspaceCmd)
}
