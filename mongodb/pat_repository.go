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

// PATRepository implements domain.PATRepository on MongoDB. Revoked and
// expired tokens stay in the collection so owners can list their history.
type PATRepository struct {
	coll *mongo.Collection
}

// NewPATRepository creates a new PATRepository.
func NewPATRepository(db *mongo.Database) *PATRepository {
	return &PATRepository{coll: db.Collection(PATsCollection)}
}

func (r *PATRepository) CreatePAT(ctx context.Context, pat *domain.PersonalAccessToken) error {
	_, err := r.coll.InsertOne(ctx, pat)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("personal access token %s already exists", pat.ID)
		}
		log.Error().Err(err).Msg("failed to insert personal access token")
		return err
	}
	return nil
}

func (r *PATRepository) GetPATByID(ctx context.Context, id string) (*domain.PersonalAccessToken, error) {
	var pat domain.PersonalAccessToken
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&pat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		log.Error().Err(err).Str("token_id", id).Msg("failed to load personal access token")
		return nil, err
	}
	return &pat, nil
}

func (r *PATRepository) ListUserPATs(ctx context.Context, userID string) ([]*domain.PersonalAccessToken, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to list personal access tokens")
		return nil, err
	}
	defer cursor.Close(ctx)

	var pats []*domain.PersonalAccessToken
	if err := cursor.All(ctx, &pats); err != nil {
		return nil, err
	}
	return pats, nil
}

// RevokePAT revokes the token if it is still live. The returned bool
// reports whether this call performed the transition.
func (r *PATRepository) RevokePAT(ctx context.Context, id string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "revoked_at": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{"revoked_at": at}}
	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("token_id", id).Msg("failed to revoke personal access token")
		return false, err
	}
	return result.ModifiedCount == 1, nil
}

func (r *PATRepository) TouchPATUsage(ctx context.Context, id string, at time.Time) error {
	update := bson.M{"$set": bson.M{"last_used_at": at}}
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		log.Error().Err(err).Str("token_id", id).Msg("failed to touch personal access token")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

var _ domain.PATRepository = (*PATRepository)(nil)
