package errors

import "errors"

// Sentinel errors returned by stores and services. Handlers translate these
// into protocol errors; they never reach a response body verbatim.
var (
	ErrNotFound           = errors.New("record not found")
	ErrTokenMalformed     = errors.New("token malformed")
	ErrTokenNotFound      = errors.New("token not found")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrTokenConsumed      = errors.New("token already consumed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrUserInactive       = errors.New("user account is not active")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMFARequired        = errors.New("mfa code required")
	ErrClientNotFound     = errors.New("client not found")
	ErrWorkspaceRequired  = errors.New("workspace hint required")
	ErrNotMember          = errors.New("not a member of workspace")
	ErrKeyNotFound        = errors.New("signing key not found")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
