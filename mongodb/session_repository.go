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

// SessionRepository implements domain.SessionRepository on MongoDB.
type SessionRepository struct {
	coll *mongo.Collection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *mongo.Database) *SessionRepository {
	return &SessionRepository{coll: db.Collection(SessionsCollection)}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := r.coll.InsertOne(ctx, session)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("session %s already exists", session.ID)
		}
		log.Error().Err(err).Msg("failed to insert session")
		return err
	}
	return nil
}

func (r *SessionRepository) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		log.Error().Err(err).Str("session_id", id).Msg("failed to load session")
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) TouchSession(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	update := bson.M{"$set": bson.M{
		"last_activity_at": lastActivity,
		"expires_at":       expiresAt,
	}}
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("failed to touch session")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

// RevokeSession stamps the session once. A session that is already revoked
// keeps its original reason and timestamp.
func (r *SessionRepository) RevokeSession(ctx context.Context, id, reason string, at time.Time) error {
	filter := bson.M{"_id": id, "revoked_at": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{
		"revoked_at":     at,
		"revoked_reason": reason,
	}}
	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("failed to revoke session")
		return err
	}
	if result.MatchedCount == 0 {
		// Either the session never existed or it lost the revoke race.
		err := r.coll.FindOne(ctx, bson.M{"_id": id}).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return serrors.ErrNotFound
		}
		return err
	}
	return nil
}

func (r *SessionRepository) RevokeUserSessions(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	filter := bson.M{"user_id": userID, "revoked_at": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{
		"revoked_at":     at,
		"revoked_reason": reason,
	}}
	result, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to revoke user sessions")
		return 0, err
	}
	return result.ModifiedCount, nil
}

func (r *SessionRepository) ListUserSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to list user sessions")
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*domain.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"absolute_expires_at": bson.M{"$lt": before}})
	if err != nil {
		log.Error().Err(err).Msg("failed to delete expired sessions")
		return 0, err
	}
	return result.DeletedCount, nil
}

var _ domain.SessionRepository = (*SessionRepository)(nil)
