package mongodb

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sunbeamfin/beacon/domain"
)

// Repositories bundles the MongoDB implementations of every domain port.
type Repositories struct {
	Users       domain.UserRepository
	Sessions    domain.SessionRepository
	Tokens      domain.RefreshTokenRepository
	AuthCodes   domain.AuthCodeRepository
	LoginTokens domain.LoginTokenRepository
	PATs        domain.PATRepository
	Clients     domain.ClientRepository
	Workspaces  domain.WorkspaceRepository
	Identities  domain.FederatedIdentityRepository
}

// NewRepositories wires every repository against db and ensures the indexes
// each collection relies on. Index failures are logged and do not prevent
// startup: the queries still work, just slower, and TTL cleanup falls back
// to the maintenance sweeps.
func NewRepositories(ctx context.Context, db *mongo.Database) *Repositories {
	ensureIndexes(ctx, db)
	return &Repositories{
		Users:       NewUserRepository(db),
		Sessions:    NewSessionRepository(db),
		Tokens:      NewRefreshTokenRepository(db),
		AuthCodes:   NewAuthCodeRepository(db),
		LoginTokens: NewLoginTokenRepository(db),
		PATs:        NewPATRepository(db),
		Clients:     NewClientRepository(db),
		Workspaces:  NewWorkspaceRepository(db),
		Identities:  NewIdentityRepository(db),
	}
}

func ensureIndexes(ctx context.Context, db *mongo.Database) {
	// The personal access token collection carries no TTL index: revoked
	// and expired tokens stay listed until their owner deletes them.
	models := map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		SessionsCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "absolute_expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		RefreshTokensCollection: {
			{Keys: bson.D{{Key: "family_id", Value: 1}}},
			{Keys: bson.D{{Key: "session_id", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		AuthCodesCollection: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		LoginTokensCollection: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		PATsCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		ClientsCollection: {
			{Keys: bson.D{{Key: "client_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		WorkspacesCollection: {
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		MembershipsCollection: {
			{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		IdentitiesCollection: {
			{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "subject", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
	}

	for coll, indexes := range models {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, indexes); err != nil {
			log.Warn().Err(err).Str("collection", coll).Msg("failed to ensure indexes")
		}
	}
}
