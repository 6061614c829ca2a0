package domain

import "time"

// FederatedIdentity links a local user account to an external identity provider.
type FederatedIdentity struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Provider  string    `bson:"provider" json:"provider"`
	Subject   string    `bson:"subject" json:"subject"`
	Email     string    `bson:"email,omitempty" json:"email,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
