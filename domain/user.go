package domain

import "time"

// UserStatus defines the possible statuses of a user account.
type UserStatus string

const (
	UserStatusActive  UserStatus = "ACTIVE"
	UserStatusLocked  UserStatus = "LOCKED"
	UserStatusPending UserStatus = "PENDING_ACTIVATION"
)

// User represents a person that can sign in to Sunbeam.
type User struct {
	ID                  string     `bson:"_id,omitempty" json:"id"`
	Email               string     `bson:"email,unique" json:"email"`
	PasswordHash        string     `bson:"password_hash,omitempty" json:"-"`
	Status              UserStatus `bson:"status" json:"status"`
	FirstName           string     `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName            string     `bson:"last_name,omitempty" json:"last_name,omitempty"`
	MFAEnrolled         bool       `bson:"mfa_enrolled,omitempty" json:"mfa_enrolled,omitempty"`
	TOTPSecret          string     `bson:"totp_secret,omitempty" json:"-"`
	CreatedAt           time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at" json:"updated_at"`
	LastLoginAt         *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
	FailedLoginAttempts int        `bson:"failed_login_attempts,omitempty" json:"-"`
}

// IsActive reports whether the account is allowed to authenticate.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
