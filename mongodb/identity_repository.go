package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
)

// IdentityRepository implements domain.FederatedIdentityRepository on MongoDB.
type IdentityRepository struct {
	coll *mongo.Collection
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db *mongo.Database) *IdentityRepository {
	return &IdentityRepository{coll: db.Collection(IdentitiesCollection)}
}

func (r *IdentityRepository) LinkIdentity(ctx context.Context, identity *domain.FederatedIdentity) error {
	_, err := r.coll.InsertOne(ctx, identity)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("identity %s/%s already linked", identity.Provider, identity.Subject)
		}
		log.Error().Err(err).Msg("failed to insert federated identity")
		return err
	}
	return nil
}

func (r *IdentityRepository) GetByProviderSubject(ctx context.Context, provider, subject string) (*domain.FederatedIdentity, error) {
	var identity domain.FederatedIdentity
	filter := bson.M{"provider": provider, "subject": subject}
	err := r.coll.FindOne(ctx, filter).Decode(&identity)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		log.Error().Err(err).Str("provider", provider).Msg("failed to load federated identity")
		return nil, err
	}
	return &identity, nil
}

func (r *IdentityRepository) ListUserIdentities(ctx context.Context, userID string) ([]*domain.FederatedIdentity, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to list federated identities")
		return nil, err
	}
	defer cursor.Close(ctx)

	var identities []*domain.FederatedIdentity
	if err := cursor.All(ctx, &identities); err != nil {
		return nil, err
	}
	return identities, nil
}

var _ domain.FederatedIdentityRepository = (*IdentityRepository)(nil)
