package beacon

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	serrors "github.com/sunbeamfin/beacon/errors"
)

const signingKeyBits = 2048

// KeyStore holds the RSA signing keys for access and id tokens. Exactly one
// key is active and signs new tokens; the rest stay available so tokens they
// signed keep verifying until expiry. The set is assembled at startup and
// immutable afterwards, which makes unsynchronized concurrent reads safe.
// Rotation happens by deploying a new key set, not by mutating this one.
type KeyStore struct {
	keys     map[string]*rsa.PrivateKey
	order    []string
	activeID string
}

// NewKeyStore creates an empty key store. Add or generate at least one key
// before serving; Sign fails until then.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys: make(map[string]*rsa.PrivateKey),
	}
}

// ParseSigningKeyPEM decodes a PKCS#1 or PKCS#8 encoded RSA private key.
func ParseSigningKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key must be RSA, got %T", parsed)
	}
	return key, nil
}

// AddKey registers a key under the given kid, optionally as the active
// signer. The first key added becomes active by default. Startup only.
func (s *KeyStore) AddKey(kid string, key *rsa.PrivateKey, active bool) error {
	if kid == "" {
		return fmt.Errorf("signing key id must not be empty")
	}
	if _, exists := s.keys[kid]; exists {
		return fmt.Errorf("duplicate signing key id %q", kid)
	}
	s.keys[kid] = key
	s.order = append(s.order, kid)
	if active || s.activeID == "" {
		s.activeID = kid
	}
	return nil
}

// GenerateKey mints a fresh RSA key pair under a random kid and makes it the
// active signer. Meant for dev setups that run without configured keys.
func (s *KeyStore) GenerateKey() (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate RSA key: %w", err)
	}
	kid := uuid.NewString()
	if err := s.AddKey(kid, key, true); err != nil {
		return "", err
	}
	return kid, nil
}

// Len returns how many keys are on the ring.
func (s *KeyStore) Len() int {
	return len(s.keys)
}

// ActiveKeyID returns the kid of the current signing key.
func (s *KeyStore) ActiveKeyID() string {
	return s.activeID
}

// Sign serializes the claims into a JWT signed by the active key. The kid
// travels in the token header so verifiers can pick the right public key.
func (s *KeyStore) Sign(claims jwt.Claims) (string, error) {
	key := s.keys[s.activeID]
	if key == nil {
		return "", serrors.ErrKeyNotFound
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.activeID
	return token.SignedString(key)
}

// PublicKey returns the public half of the key with the given kid. An empty
// kid selects the active key.
func (s *KeyStore) PublicKey(kid string) (*rsa.PublicKey, bool) {
	if kid == "" {
		kid = s.activeID
	}
	key, ok := s.keys[kid]
	if !ok {
		return nil, false
	}
	return &key.PublicKey, true
}

// Keyfunc resolves verification keys for jwt.Parse by the token's kid
// header. Tokens without a kid are rejected rather than tried against the
// active key.
func (s *KeyStore) Keyfunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, serrors.ErrKeyNotFound
	}
	pub, ok := s.PublicKey(kid)
	if !ok {
		return nil, serrors.ErrKeyNotFound
	}
	return pub, nil
}

// JWKS exports the public half of every key on the ring, newest first.
func (s *KeyStore) JWKS() jose.JSONWebKeySet {
	keys := make([]jose.JSONWebKey, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		kid := s.order[i]
		key, ok := s.keys[kid]
		if !ok {
			continue
		}
		keys = append(keys, jose.JSONWebKey{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Use:       "sig",
			Algorithm: string(jose.RS256),
		})
	}
	return jose.JSONWebKeySet{Keys: keys}
}
