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

// WorkspaceRepository implements domain.WorkspaceRepository on MongoDB.
// Workspaces and memberships live in separate collections.
type WorkspaceRepository struct {
	workspaces  *mongo.Collection
	memberships *mongo.Collection
}

// NewWorkspaceRepository creates a new WorkspaceRepository.
func NewWorkspaceRepository(db *mongo.Database) *WorkspaceRepository {
	return &WorkspaceRepository{
		workspaces:  db.Collection(WorkspacesCollection),
		memberships: db.Collection(MembershipsCollection),
	}
}

func (r *WorkspaceRepository) CreateWorkspace(ctx context.Context, workspace *domain.Workspace) error {
	_, err := r.workspaces.InsertOne(ctx, workspace)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("workspace %s already exists", workspace.Slug)
		}
		log.Error().Err(err).Msg("failed to insert workspace")
		return err
	}
	return nil
}

func (r *WorkspaceRepository) GetWorkspaceByID(ctx context.Context, id string) (*domain.Workspace, error) {
	var workspace domain.Workspace
	err := r.workspaces.FindOne(ctx, bson.M{"_id": id}).Decode(&workspace)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		log.Error().Err(err).Str("workspace_id", id).Msg("failed to load workspace")
		return nil, err
	}
	return &workspace, nil
}

func (r *WorkspaceRepository) AddMembership(ctx context.Context, membership *domain.WorkspaceMembership) error {
	_, err := r.memberships.InsertOne(ctx, membership)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("user %s is already a member of workspace %s", membership.UserID, membership.WorkspaceID)
		}
		log.Error().Err(err).Msg("failed to insert workspace membership")
		return err
	}
	return nil
}

func (r *WorkspaceRepository) GetMembership(ctx context.Context, workspaceID, userID string) (*domain.WorkspaceMembership, error) {
	var membership domain.WorkspaceMembership
	filter := bson.M{"workspace_id": workspaceID, "user_id": userID}
	err := r.memberships.FindOne(ctx, filter).Decode(&membership)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		log.Error().Err(err).Str("workspace_id", workspaceID).Str("user_id", userID).Msg("failed to load membership")
		return nil, err
	}
	return &membership, nil
}

func (r *WorkspaceRepository) ListUserMemberships(ctx context.Context, userID string) ([]*domain.WorkspaceMembership, error) {
	cursor, err := r.memberships.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to list memberships")
		return nil, err
	}
	defer cursor.Close(ctx)

	var memberships []*domain.WorkspaceMembership
	if err := cursor.All(ctx, &memberships); err != nil {
		return nil, err
	}
	return memberships, nil
}

var _ domain.WorkspaceRepository = (*WorkspaceRepository)(nil)
