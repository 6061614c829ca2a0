// Package mongodb implements the domain repositories on MongoDB. Conditional
// state transitions (rotation revokes, one-shot consumes) map onto single
// UpdateOne/DeleteOne calls whose modified/deleted counts decide the winner.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collection names.
const (
	UsersCollection         = "users"
	SessionsCollection      = "sessions"
	RefreshTokensCollection = "refresh_tokens"
	AuthCodesCollection     = "auth_codes"
	LoginTokensCollection   = "login_tokens"
	PATsCollection          = "personal_access_tokens"
	ClientsCollection       = "oauth_clients"
	WorkspacesCollection    = "workspaces"
	MembershipsCollection   = "workspace_memberships"
	IdentitiesCollection    = "federated_identities"
)

// Connect opens an instrumented MongoDB client and verifies the connection
// with a ping. The caller owns the client and must Disconnect it on shutdown.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info().Msg("connected to mongodb")
	return client, nil
}
