package domain

import "time"

// LoginTokenKind distinguishes the two one-shot login token flavours.
type LoginTokenKind string

const (
	// LoginTokenMagicLink is mailed to the user and signs them in on click.
	LoginTokenMagicLink LoginTokenKind = "magic_link"
	// LoginTokenSessionTransfer hands an existing session to another device.
	LoginTokenSessionTransfer LoginTokenKind = "session_transfer"
)

// LoginToken is a short-lived, single-use credential. Verification consumes
// the record atomically, so a link can never sign in twice.
type LoginToken struct {
	ID            string         `bson:"_id" json:"id"`
	Kind          LoginTokenKind `bson:"kind" json:"kind"`
	UserID        string         `bson:"user_id" json:"user_id"`
	SessionID     string         `bson:"session_id,omitempty" json:"session_id,omitempty"`
	TokenEnvelope string         `bson:"token_envelope" json:"-"`
	RedirectTo    string         `bson:"redirect_to,omitempty" json:"redirect_to,omitempty"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
	ExpiresAt     time.Time      `bson:"expires_at" json:"expires_at"`
}

// IsExpired reports whether the token has passed its deadline at the given instant.
func (t *LoginToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
