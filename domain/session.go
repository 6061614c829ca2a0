package domain

import "time"

// ClientType identifies the kind of client a session was established from.
type ClientType string

const (
	ClientTypeWeb    ClientType = "web"
	ClientTypeMobile ClientType = "mobile"
	ClientTypeCLI    ClientType = "cli"
)

// MFALevel is the authenticator assurance level reached during login.
type MFALevel string

const (
	MFALevelAAL1 MFALevel = "aal1"
	MFALevelAAL2 MFALevel = "aal2"
)

// Session revocation reasons recorded on the session document.
const (
	SessionRevokedLogout        = "logout"
	SessionRevokedAdmin         = "admin"
	SessionRevokedPassword      = "password_change"
	SessionRevokedTokenReuse    = "token_reuse"
	SessionRevokedUserRequested = "user_requested"
)

// Session represents an authenticated browser or device session. The opaque
// session token itself is never stored; only its hash envelope is.
type Session struct {
	ID                string     `bson:"_id" json:"id"`
	UserID            string     `bson:"user_id" json:"user_id"`
	TokenEnvelope     string     `bson:"token_envelope" json:"-"`
	ClientType        ClientType `bson:"client_type,omitempty" json:"client_type,omitempty"`
	MFALevel          MFALevel   `bson:"mfa_level,omitempty" json:"mfa_level,omitempty"`
	IPAddress         string     `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent         string     `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	RollingWindow     int64      `bson:"rolling_window" json:"-"`
	CreatedAt         time.Time  `bson:"created_at" json:"created_at"`
	LastActivityAt    time.Time  `bson:"last_activity_at" json:"last_activity_at"`
	ReauthAt          *time.Time `bson:"reauth_at,omitempty" json:"reauth_at,omitempty"`
	ExpiresAt         time.Time  `bson:"expires_at" json:"expires_at"`
	AbsoluteExpiresAt time.Time  `bson:"absolute_expires_at" json:"absolute_expires_at"`
	RevokedAt         *time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
	RevokedReason     string     `bson:"revoked_reason,omitempty" json:"revoked_reason,omitempty"`
}

// Window returns the session's rolling inactivity window as a duration.
func (s *Session) Window() time.Duration {
	return time.Duration(s.RollingWindow)
}

// IsRevoked reports whether the session has been terminally revoked.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsExpired reports whether the session has passed either its rolling or
// absolute deadline at the given instant.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt) || !now.Before(s.AbsoluteExpiresAt)
}

// IsActive reports whether the session can still authenticate requests.
func (s *Session) IsActive(now time.Time) bool {
	return !s.IsRevoked() && !s.IsExpired(now)
}

// NextExpiry computes the rolling deadline after activity at now, clamped so
// it never extends past the absolute deadline.
func (s *Session) NextExpiry(now time.Time) time.Time {
	next := now.Add(s.Window())
	if next.After(s.AbsoluteExpiresAt) {
		return s.AbsoluteExpiresAt
	}
	return next
}
