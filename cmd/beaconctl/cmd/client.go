package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	beacon "github.com/sunbeamfin/beacon"
	"github.com/sunbeamfin/beacon/domain"
)

var clientCmd = &cobra.Command{
	Use:     "client",
	Short:   "Manage OAuth clients",
	Aliases: []string{"clients"},
}

var clientCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register an OAuth client",
	Long: `Registers an OAuth client and prints its credentials. The secret
is shown exactly once; only its hash envelope is stored. Public clients get
no secret and must use PKCE.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return errors.New("--name is required")
		}
		public, _ := cmd.Flags().GetBool("public")
		requirePKCE, _ := cmd.Flags().GetBool("require-pkce")
		redirectURIs, _ := cmd.Flags().GetStringSlice("redirect-uri")
		scopes, _ := cmd.Flags().GetStringSlice("scope")
		grantTypes, _ := cmd.Flags().GetStringSlice("grant-type")
		workspaces, _ := cmd.Flags().GetStringSlice("workspace")

		ctx := cmd.Context()
		repos, cfg, cleanup, err := openRepos(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		now := time.Now().UTC()
		client := &domain.Client{
			ID:                uuid.NewString(),
			Kind:              domain.ClientKindConfidential,
			Name:              name,
			RedirectURIs:      redirectURIs,
			AllowedScopes:     scopes,
			AllowedGrantTypes: grantTypes,
			AllowedWorkspaces: workspaces,
			RequirePKCE:       requirePKCE,
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		secret := ""
		if public {
			client.Kind = domain.ClientKindPublic
			client.RequirePKCE = true
		} else {
			// The envelope must verify under the server's key ring, so an
			// ephemeral CLI-side key is useless here.
			if cfg.TokenHashKeys == "" {
				return errors.New("TOKEN_HASH_KEYS is not configured; the server could never verify the secret")
			}
			hasher, err := beacon.NewTokenHasherFromSpec(cfg.TokenHashKeys)
			if err != nil {
				return err
			}
			secret = uuid.NewString()
			envelope, err := hasher.Hash(secret)
			if err != nil {
				return err
			}
			client.SecretEnvelope = envelope
		}

		if err := repos.Clients.CreateClient(ctx, client); err != nil {
			return fmt.Errorf("failed to register client: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "client_id: %s\n", client.ID)
		if secret != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "client_secret: %s\n", secret)
			fmt.Fprintln(cmd.OutOrStdout(), "store the secret now; it cannot be recovered")
		}
		return nil
	},
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered OAuth clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		search, _ := cmd.Flags().GetString("search")

		ctx := cmd.Context()
		repos, _, cleanup, err := openRepos(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		clients, err := repos.Clients.ListClients(ctx, domain.ClientFilter{
			Kind:   domain.ClientKind(kind),
			Search: search,
		})
		if err != nil {
			return fmt.Errorf("failed to list clients: %w", err)
		}

		out, err := yaml.Marshal(clients)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	clientCreateCmd.Flags().String("name", "", "client display name (required)")
	clientCreateCmd.Flags().Bool("public", false, "public client: no secret, PKCE enforced")
	clientCreateCmd.Flags().Bool("require-pkce", false, "require PKCE for this confidential client")
	clientCreateCmd.Flags().StringSlice("redirect-uri", nil, "allowed redirect URI (repeatable)")
	clientCreateCmd.Flags().StringSlice("scope", []string{"openid", "workspace:read"}, "allowed scope (repeatable)")
	clientCreateCmd.Flags().StringSlice("grant-type",
		[]string{beacon.GrantTypeAuthorizationCode, beacon.GrantTypeRefreshToken},
		"allowed grant type (repeatable)")
	clientCreateCmd.Flags().StringSlice("workspace", nil, "workspace the client may mint tokens for (repeatable)")
	clientListCmd.Flags().String("kind", "", "filter by kind: confidential or public")
	clientListCmd.Flags().String("search", "", "substring match on the client name")
	clientCmd.AddCommand(clientCreateCmd, clientListCmd)
	rootCmd.AddCommand(clientCmd)
}
