// Package cmd implements the beaconctl command tree.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sunbeamfin/beacon/config"
	"github.com/sunbeamfin/beacon/mongodb"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "beaconctl",
	Short: "beaconctl administers a beacon deployment",
	Long: `beaconctl manages the parts of a beacon deployment that have no
self-serve surface: RSA signing keys, OAuth clients, workspaces and user
accounts. Commands that touch the database read the same configuration as
the server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Command results go to stdout; keep library log noise down
		// unless asked for.
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		}
	},
}

// Execute runs the command tree. Cobra prints the error; we only set the
// exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

// openRepos connects to MongoDB using the server configuration and returns
// the repositories together with a disconnect func.
func openRepos(ctx context.Context) (*mongodb.Repositories, *config.ServerConfig, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	client, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() { _ = client.Disconnect(context.Background()) }
	return mongodb.NewRepositories(ctx, client.Database(cfg.MongoDBName)), cfg, cleanup, nil
}
