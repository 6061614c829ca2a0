package domain

import "time"

// PersonalAccessToken is a long-lived opaque credential minted by a user
// for scripts and integrations. It authenticates as the owning user,
// optionally pinned to one workspace and a narrowed scope set.
type PersonalAccessToken struct {
	ID            string     `bson:"_id" json:"id"`
	UserID        string     `bson:"user_id" json:"user_id"`
	Name          string     `bson:"name" json:"name"`
	TokenEnvelope string     `bson:"token_envelope" json:"-"`
	Scopes        []string   `bson:"scopes,omitempty" json:"scopes,omitempty"`
	WorkspaceID   string     `bson:"workspace_id,omitempty" json:"workspace_id,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	ExpiresAt     *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
	RevokedAt     *time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
}

// IsRevoked reports whether the token has been revoked by its owner.
func (t *PersonalAccessToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token has passed its optional deadline.
func (t *PersonalAccessToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
