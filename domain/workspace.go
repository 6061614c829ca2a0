package domain

import "time"

// Workspace is a tenant boundary. Every financial object in Sunbeam lives
// inside exactly one workspace.
type Workspace struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Slug      string    `bson:"slug,unique" json:"slug"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// WorkspaceMembership ties a user to a workspace with a single role.
type WorkspaceMembership struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	WorkspaceID string    `bson:"workspace_id" json:"workspace_id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	Role        Role      `bson:"role" json:"role"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}
