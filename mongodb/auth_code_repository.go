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

// AuthCodeRepository implements domain.AuthCodeRepository on MongoDB.
type AuthCodeRepository struct {
	coll *mongo.Collection
}

// NewAuthCodeRepository creates a new AuthCodeRepository.
func NewAuthCodeRepository(db *mongo.Database) *AuthCodeRepository {
	return &AuthCodeRepository{coll: db.Collection(AuthCodesCollection)}
}

func (r *AuthCodeRepository) CreateAuthCode(ctx context.Context, code *domain.AuthCode) error {
	_, err := r.coll.InsertOne(ctx, code)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("authorization code %s already exists", code.ID)
		}
		log.Error().Err(err).Msg("failed to insert authorization code")
		return err
	}
	return nil
}

func (r *AuthCodeRepository) GetAuthCodeByID(ctx context.Context, id string) (*domain.AuthCode, error) {
	var code domain.AuthCode
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&code)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		log.Error().Err(err).Str("code_id", id).Msg("failed to load authorization code")
		return nil, err
	}
	return &code, nil
}

// ConsumeAuthCode deletes the code. The returned bool reports whether this
// call removed the document, so concurrent redemptions of the same code
// resolve to exactly one winner.
func (r *AuthCodeRepository) ConsumeAuthCode(ctx context.Context, id string) (bool, error) {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Err(err).Str("code_id", id).Msg("failed to consume authorization code")
		return false, err
	}
	return result.DeletedCount == 1, nil
}

func (r *AuthCodeRepository) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		log.Error().Err(err).Msg("failed to delete expired authorization codes")
		return 0, err
	}
	return result.DeletedCount, nil
}

var _ domain.AuthCodeRepository = (*AuthCodeRepository)(nil)
