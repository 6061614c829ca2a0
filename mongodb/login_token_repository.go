package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
)

// LoginTokenRepository implements domain.LoginTokenRepository on MongoDB.
// Magic links and session transfers share the collection; the kind field
// keeps them apart.
type LoginTokenRepository struct {
	coll *mongo.Collection
}

// NewLoginTokenRepository creates a new LoginTokenRepository.
func NewLoginTokenRepository(db *mongo.Database) *LoginTokenRepository {
	return &LoginTokenRepository{coll: db.Collection(LoginTokensCollection)}
}

func (r *LoginTokenRepository) CreateLoginToken(ctx context.Context, token *domain.LoginToken) error {
	_, err := r.coll.InsertOne(ctx, token)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("login token %s already exists", token.ID)
		}
		log.Error().Err(err).Msg("failed to insert login token")
		return err
	}
	return nil
}

func (r *LoginTokenRepository) GetLoginTokenByID(ctx context.Context, id string) (*domain.LoginToken, error) {
	var token domain.LoginToken
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		log.Error().Err(err).Str("token_id", id).Msg("failed to load login token")
		return nil, err
	}
	return &token, nil
}

// ConsumeLoginToken deletes the token. The returned bool reports whether
// this call removed the document.
func (r *LoginTokenRepository) ConsumeLoginToken(ctx context.Context, id string) (bool, error) {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Err(err).Str("token_id", id).Msg("failed to consume login token")
		return false, err
	}
	return result.DeletedCount == 1, nil
}

func (r *LoginTokenRepository) DeleteExpiredLoginTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		log.Error().Err(err).Msg("failed to delete expired login tokens")
		return 0, err
	}
	return result.DeletedCount, nil
}

var _ domain.LoginTokenRepository = (*LoginTokenRepository)(nil)
