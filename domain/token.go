package domain

import "time"

// Refresh token revocation reasons recorded on the token document.
const (
	RefreshRevokedRotated    = "rotated"
	RefreshRevokedReuse      = "reuse_detected"
	RefreshRevokedSessionEnd = "session_revoked"
	RefreshRevokedLogout     = "logout"
	RefreshRevokedClient     = "client_revoked"
)

// RefreshToken is the server-side record of one opaque refresh token.
// Tokens issued by rotating an earlier token share that token's FamilyID,
// which is what lets a replayed ancestor take down the whole chain.
type RefreshToken struct {
	ID            string     `bson:"_id" json:"id"`
	SessionID     string     `bson:"session_id,omitempty" json:"session_id,omitempty"`
	UserID        string     `bson:"user_id" json:"user_id"`
	ClientID      string     `bson:"client_id" json:"client_id"`
	FamilyID      string     `bson:"family_id" json:"family_id"`
	TokenEnvelope string     `bson:"token_envelope" json:"-"`
	Scopes        []string   `bson:"scopes,omitempty" json:"scopes,omitempty"`
	WorkspaceID   string     `bson:"workspace_id,omitempty" json:"workspace_id,omitempty"`
	IssuedAt      time.Time  `bson:"issued_at" json:"issued_at"`
	ExpiresAt     time.Time  `bson:"expires_at" json:"expires_at"`
	RevokedAt     *time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
	RevokedReason string     `bson:"revoked_reason,omitempty" json:"revoked_reason,omitempty"`
	ReplacedBy    string     `bson:"replaced_by,omitempty" json:"replaced_by,omitempty"`
	LastUsedAt    *time.Time `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
	LastUsedIP    string     `bson:"last_used_ip,omitempty" json:"last_used_ip,omitempty"`
}

// IsRevoked reports whether the token has already been rotated or revoked.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token has passed its deadline at the given instant.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
