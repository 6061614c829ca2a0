package domain

import "time"

// AuthCode is the server-side record of one authorization code. The code
// itself travels to the client as an opaque token; only its hash envelope
// is persisted. Consumption deletes the record, so a populated ConsumedAt
// is only ever seen on audit copies.
type AuthCode struct {
	ID                  string     `bson:"_id" json:"id"`
	TokenEnvelope       string     `bson:"token_envelope" json:"-"`
	ClientID            string     `bson:"client_id" json:"client_id"`
	UserID              string     `bson:"user_id" json:"user_id"`
	SessionID           string     `bson:"session_id,omitempty" json:"session_id,omitempty"`
	RedirectURI         string     `bson:"redirect_uri" json:"redirect_uri"`
	Scopes              []string   `bson:"scopes,omitempty" json:"scopes,omitempty"`
	WorkspaceID         string     `bson:"workspace_id,omitempty" json:"workspace_id,omitempty"`
	CodeChallenge       string     `bson:"code_challenge,omitempty" json:"code_challenge,omitempty"`
	CodeChallengeMethod string     `bson:"code_challenge_method,omitempty" json:"code_challenge_method,omitempty"`
	Nonce               string     `bson:"nonce,omitempty" json:"nonce,omitempty"`
	CreatedAt           time.Time  `bson:"created_at" json:"created_at"`
	ExpiresAt           time.Time  `bson:"expires_at" json:"expires_at"`
	ConsumedAt          *time.Time `bson:"consumed_at,omitempty" json:"consumed_at,omitempty"`
}

// IsExpired reports whether the code has passed its deadline at the given instant.
func (c *AuthCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
