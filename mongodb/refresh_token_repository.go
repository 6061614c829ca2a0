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

// RefreshTokenRepository implements domain.RefreshTokenRepository on MongoDB.
type RefreshTokenRepository struct {
	coll *mongo.Collection
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(db *mongo.Database) *RefreshTokenRepository {
	return &RefreshTokenRepository{coll: db.Collection(RefreshTokensCollection)}
}

func (r *RefreshTokenRepository) CreateRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	_, err := r.coll.InsertOne(ctx, token)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("refresh token %s already exists", token.ID)
		}
		log.Error().Err(err).Msg("failed to insert refresh token")
		return err
	}
	return nil
}

func (r *RefreshTokenRepository) GetRefreshTokenByID(ctx context.Context, id string) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		log.Error().Err(err).Str("token_id", id).Msg("failed to load refresh token")
		return nil, err
	}
	return &token, nil
}

// RevokeRefreshToken revokes the token if it is still live. The returned
// bool reports whether this call performed the transition, so concurrent
// rotations of the same token resolve to exactly one winner.
func (r *RefreshTokenRepository) RevokeRefreshToken(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "revoked_at": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{
		"revoked_at":     at,
		"revoked_reason": reason,
	}}
	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("token_id", id).Msg("failed to revoke refresh token")
		return false, err
	}
	return result.ModifiedCount == 1, nil
}

func (r *RefreshTokenRepository) MarkRefreshTokenReplaced(ctx context.Context, id, replacedBy string) error {
	update := bson.M{"$set": bson.M{"replaced_by": replacedBy}}
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		log.Error().Err(err).Str("token_id", id).Msg("failed to mark refresh token replaced")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

func (r *RefreshTokenRepository) TouchRefreshTokenUsage(ctx context.Context, id string, at time.Time, ip string) error {
	update := bson.M{"$set": bson.M{
		"last_used_at": at,
		"last_used_ip": ip,
	}}
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		log.Error().Err(err).Str("token_id", id).Msg("failed to touch refresh token")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error) {
	filter := bson.M{"family_id": familyID, "revoked_at": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{
		"revoked_at":     at,
		"revoked_reason": reason,
	}}
	result, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("family_id", familyID).Msg("failed to revoke token family")
		return 0, err
	}
	return result.ModifiedCount, nil
}

func (r *RefreshTokenRepository) CountActiveInFamily(ctx context.Context, familyID string, now time.Time) (int64, error) {
	filter := bson.M{
		"family_id":  familyID,
		"revoked_at": bson.M{"$exists": false},
		"expires_at": bson.M{"$gt": now},
	}
	count, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		log.Error().Err(err).Str("family_id", familyID).Msg("failed to count active family tokens")
		return 0, err
	}
	return count, nil
}

func (r *RefreshTokenRepository) ListSessionRefreshTokens(ctx context.Context, sessionID string) ([]*domain.RefreshToken, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to list session refresh tokens")
		return nil, err
	}
	defer cursor.Close(ctx)

	var tokens []*domain.RefreshToken
	if err := cursor.All(ctx, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *RefreshTokenRepository) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		log.Error().Err(err).Msg("failed to delete expired refresh tokens")
		return 0, err
	}
	return result.DeletedCount, nil
}

var _ domain.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
