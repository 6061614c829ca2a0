package beacon

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// HashAlgoHMACSHA256 is the only envelope algorithm currently minted.
const HashAlgoHMACSHA256 = "hmac-sha256"

const hashSaltBytes = 16

// HashToken derives the cache key for a raw token value. This is a plain
// digest, not the persisted envelope: it only keeps full token values out
// of cache keys.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	hashedBytes := hasher.Sum(nil)
	return hex.EncodeToString(hashedBytes)
}

// TokenHashEnvelope is the persisted form of a token secret. The envelope
// carries everything needed to re-verify: which key signed it, the salt,
// and when it was minted.
type TokenHashEnvelope struct {
	Algo     string `json:"algo"`
	KeyID    string `json:"keyId"`
	Hash     string `json:"hash"`
	Salt     string `json:"salt"`
	IssuedAt string `json:"issuedAt"`
}

// TokenHasher computes and verifies hash envelopes against a named key ring.
// Envelopes minted under a retired key keep verifying as long as the key
// stays on the ring.
type TokenHasher struct {
	keys     map[string][]byte
	activeID string
}

// NewTokenHasher builds a hasher over the key ring. activeID names the key
// used for new envelopes and must be present in keys.
func NewTokenHasher(activeID string, keys map[string][]byte) (*TokenHasher, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("token hasher needs at least one key")
	}
	if _, ok := keys[activeID]; !ok {
		return nil, fmt.Errorf("active hash key %q not in key ring", activeID)
	}
	ring := make(map[string][]byte, len(keys))
	for id, k := range keys {
		if len(k) == 0 {
			return nil, fmt.Errorf("hash key %q is empty", id)
		}
		ring[id] = append([]byte(nil), k...)
	}
	return &TokenHasher{keys: ring, activeID: activeID}, nil
}

// NewTokenHasherFromSpec builds a hasher from a comma-separated list of
// id:base64url-secret pairs, the TOKEN_HASH_KEYS wire format. The first pair
// is the active key; later pairs keep verifying envelopes minted under
// retired keys.
func NewTokenHasherFromSpec(spec string) (*TokenHasher, error) {
	keys := make(map[string][]byte)
	activeID := ""
	for _, pair := range strings.Split(spec, ",") {
		id, encoded, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed hash key entry %q, want id:base64url-secret", pair)
		}
		secret, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode hash key %q: %w", id, err)
		}
		keys[id] = secret
		if activeID == "" {
			activeID = id
		}
	}
	return NewTokenHasher(activeID, keys)
}

// ActiveKeyID returns the id of the key new envelopes are minted under.
func (h *TokenHasher) ActiveKeyID() string {
	return h.activeID
}

// Hash envelopes the token secret under the active key with a fresh salt
// and returns the envelope as JSON.
func (h *TokenHasher) Hash(secret string) (string, error) {
	salt := make([]byte, hashSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	env := TokenHashEnvelope{
		Algo:     HashAlgoHMACSHA256,
		KeyID:    h.activeID,
		Hash:     base64.StdEncoding.EncodeToString(h.compute(h.keys[h.activeID], salt, secret)),
		Salt:     base64.StdEncoding.EncodeToString(salt),
		IssuedAt: time.Now().UTC().Format(time.RFC3339),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal hash envelope: %w", err)
	}
	return string(raw), nil
}

// Verify checks the token secret against a stored envelope. Verification is
// strict about the recorded key: only when the envelope names a key that is
// no longer on the ring does it fall back to the active key. Any malformed
// envelope verifies false rather than erroring.
func (h *TokenHasher) Verify(envelope, secret string) bool {
	var env TokenHashEnvelope
	if err := json.Unmarshal([]byte(envelope), &env); err != nil {
		return false
	}
	if env.Algo != HashAlgoHMACSHA256 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(env.Hash)
	if err != nil || len(want) == 0 {
		return false
	}

	key, ok := h.keys[env.KeyID]
	if !ok {
		key = h.keys[h.activeID]
	}

	return hmac.Equal(want, h.compute(key, salt, secret))
}

func (h *TokenHasher) compute(key, salt []byte, secret string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(salt)
	mac.Write([]byte(":"))
	mac.Write([]byte(secret))
	return mac.Sum(nil)
}
