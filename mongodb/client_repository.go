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

// ClientRepository implements domain.ClientRepository on MongoDB.
type ClientRepository struct {
	coll *mongo.Collection
}

// NewClientRepository creates a new ClientRepository.
func NewClientRepository(db *mongo.Database) *ClientRepository {
	return &ClientRepository{coll: db.Collection(ClientsCollection)}
}

func (r *ClientRepository) CreateClient(ctx context.Context, client *domain.Client) error {
	_, err := r.coll.InsertOne(ctx, client)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("client %s already exists", client.ID)
		}
		log.Error().Err(err).Msg("failed to insert client")
		return err
	}
	return nil
}

func (r *ClientRepository) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var client domain.Client
	err := r.coll.FindOne(ctx, bson.M{"client_id": id}).Decode(&client)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrClientNotFound
		}
		log.Error().Err(err).Str("client_id", id).Msg("failed to load client")
		return nil, err
	}
	return &client, nil
}

func (r *ClientRepository) UpdateClient(ctx context.Context, client *domain.Client) error {
	client.UpdatedAt = time.Now().UTC()
	result, err := r.coll.ReplaceOne(ctx, bson.M{"client_id": client.ID}, client)
	if err != nil {
		log.Error().Err(err).Str("client_id", client.ID).Msg("failed to update client")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrClientNotFound
	}
	return nil
}

func (r *ClientRepository) DeleteClient(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"client_id": id})
	if err != nil {
		log.Error().Err(err).Str("client_id", id).Msg("failed to delete client")
		return err
	}
	if result.DeletedCount == 0 {
		return serrors.ErrClientNotFound
	}
	return nil
}

func (r *ClientRepository) ListClients(ctx context.Context, filter domain.ClientFilter) ([]*domain.Client, error) {
	query := bson.M{}
	if filter.Kind != "" {
		query["client_kind"] = filter.Kind
	}
	if filter.Search != "" {
		pattern := bson.M{"$regex": filter.Search, "$options": "i"}
		query["$or"] = []bson.M{
			{"client_id": pattern},
			{"client_name": pattern},
			{"description": pattern},
		}
	}

	cursor, err := r.coll.Find(ctx, query)
	if err != nil {
		log.Error().Err(err).Msg("failed to list clients")
		return nil, err
	}
	defer cursor.Close(ctx)

	var clients []*domain.Client
	if err := cursor.All(ctx, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

var _ domain.ClientRepository = (*ClientRepository)(nil)
