package beacon

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	serrors "github.com/sunbeamfin/beacon/errors"
)

// TokenKind identifies what an opaque token is for. The kind decides the
// wire prefix, so a leaked token can be recognized and a token of one kind
// can never be replayed as another.
type TokenKind string

const (
	TokenKindSession         TokenKind = "session"
	TokenKindRefresh         TokenKind = "refresh"
	TokenKindPAT             TokenKind = "pat"
	TokenKindAuthCode        TokenKind = "auth_code"
	TokenKindMagicLink       TokenKind = "magic_link"
	TokenKindSessionTransfer TokenKind = "session_transfer"
)

// tokenSecretBytes is the entropy of the secret half; 32 bytes encode to 43
// base64url characters.
const tokenSecretBytes = 32

const encodedSecretLen = 43

var kindPrefixes = map[TokenKind]string{
	TokenKindSession:         "",
	TokenKindRefresh:         "rt",
	TokenKindPAT:             "sbf",
	TokenKindAuthCode:        "ac",
	TokenKindMagicLink:       "ml",
	TokenKindSessionTransfer: "st",
}

var prefixKinds = map[string]TokenKind{
	"rt":  TokenKindRefresh,
	"sbf": TokenKindPAT,
	"ac":  TokenKindAuthCode,
	"ml":  TokenKindMagicLink,
	"st":  TokenKindSessionTransfer,
}

// Prefix returns the wire prefix for the kind. Session tokens have none.
func (k TokenKind) Prefix() string {
	return kindPrefixes[k]
}

// OpaqueToken is the parsed form of a bearer credential. ID is the lookup
// key persisted with the record; Secret is the part that is only ever
// stored as a hash envelope.
type OpaqueToken struct {
	Kind   TokenKind
	ID     string
	Secret string
}

// String renders the wire form: [prefix_]<id>.<secret>.
func (t OpaqueToken) String() string {
	if p := t.Kind.Prefix(); p != "" {
		return p + "_" + t.ID + "." + t.Secret
	}
	return t.ID + "." + t.Secret
}

// GenerateToken mints a fresh opaque token of the given kind with a random
// UUID id and a 32-byte random secret.
func GenerateToken(kind TokenKind) (OpaqueToken, error) {
	if _, ok := kindPrefixes[kind]; !ok {
		return OpaqueToken{}, fmt.Errorf("unknown token kind %q", kind)
	}

	buf := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return OpaqueToken{}, fmt.Errorf("failed to generate token secret: %w", err)
	}

	return OpaqueToken{
		Kind:   kind,
		ID:     uuid.NewString(),
		Secret: base64.RawURLEncoding.EncodeToString(buf),
	}, nil
}

// ParseToken validates the wire form and splits it into its parts. Tokens
// without a prefix parse as session tokens; unknown prefixes are rejected.
func ParseToken(raw string) (OpaqueToken, error) {
	idPart, secret, ok := strings.Cut(raw, ".")
	if !ok {
		return OpaqueToken{}, serrors.ErrTokenMalformed
	}

	kind := TokenKindSession
	if prefix, id, found := strings.Cut(idPart, "_"); found {
		k, known := prefixKinds[prefix]
		if !known {
			return OpaqueToken{}, serrors.ErrTokenMalformed
		}
		kind = k
		idPart = id
	}

	if _, err := uuid.Parse(idPart); err != nil {
		return OpaqueToken{}, serrors.ErrTokenMalformed
	}
	if len(secret) != encodedSecretLen {
		return OpaqueToken{}, serrors.ErrTokenMalformed
	}
	if _, err := base64.RawURLEncoding.DecodeString(secret); err != nil {
		return OpaqueToken{}, serrors.ErrTokenMalformed
	}

	return OpaqueToken{Kind: kind, ID: idPart, Secret: secret}, nil
}

// ParseTokenAs parses the token and requires it to be of the given kind.
// Only session tokens may arrive unprefixed; every other kind must carry
// its own prefix.
func ParseTokenAs(raw string, kind TokenKind) (OpaqueToken, error) {
	tok, err := ParseToken(raw)
	if err != nil {
		return OpaqueToken{}, err
	}
	if tok.Kind != kind {
		return OpaqueToken{}, serrors.ErrTokenMalformed
	}
	return tok, nil
}

// RedactToken renders a loggable form of a token: the prefix and id with the
// secret dropped. Malformed input is redacted wholesale.
func RedactToken(raw string) string {
	tok, err := ParseToken(raw)
	if err != nil {
		return "<redacted>"
	}
	if p := tok.Kind.Prefix(); p != "" {
		return p + "_" + tok.ID + ".***"
	}
	return tok.ID + ".***"
}
