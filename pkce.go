package beacon

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	serrors "github.com/sunbeamfin/beacon/errors"
)

// PKCE challenge methods. S256 is what every sane client sends; plain is
// accepted for verifier round-trips but adds nothing over the raw value.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// Code verifier length bounds from RFC 7636.
const (
	minVerifierLen     = 43
	maxVerifierLen     = 128
	defaultVerifierLen = 64
)

// verifierCharset is the RFC 7636 unreserved character set.
const verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// GenerateCodeVerifier produces a random code verifier of the given length,
// clamped into the RFC bounds. Zero picks the default length.
func GenerateCodeVerifier(length int) (string, error) {
	if length <= 0 {
		length = defaultVerifierLen
	}
	if length < minVerifierLen {
		length = minVerifierLen
	}
	if length > maxVerifierLen {
		length = maxVerifierLen
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate code verifier: %w", err)
		}
		for _, b := range buf {
			// Reject bytes outside the largest multiple of the charset
			// size so every character stays equally likely.
			if int(b) >= len(verifierCharset)*(256/len(verifierCharset)) {
				continue
			}
			out = append(out, verifierCharset[int(b)%len(verifierCharset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// ValidateCodeVerifier checks the verifier against the RFC 7636 length and
// character set rules.
func ValidateCodeVerifier(verifier string) error {
	if len(verifier) < minVerifierLen || len(verifier) > maxVerifierLen {
		return serrors.NewInvalidPKCE("code verifier length out of bounds")
	}
	for i := 0; i < len(verifier); i++ {
		if !strings.ContainsRune(verifierCharset, rune(verifier[i])) {
			return serrors.NewInvalidPKCE("code verifier contains invalid characters")
		}
	}
	return nil
}

// DeriveCodeChallenge computes the challenge for a verifier under the given
// method.
func DeriveCodeChallenge(verifier, method string) (string, error) {
	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case PKCEMethodPlain:
		return verifier, nil
	default:
		return "", serrors.NewInvalidPKCE(fmt.Sprintf("unsupported challenge method %q", method))
	}
}

// VerifyPKCE recomputes the challenge from the presented verifier and
// compares it to the recorded one in constant time.
func VerifyPKCE(verifier, challenge, method string) error {
	if err := ValidateCodeVerifier(verifier); err != nil {
		return err
	}
	derived, err := DeriveCodeChallenge(verifier, method)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
		return serrors.NewInvalidPKCE("code verifier does not match challenge")
	}
	return nil
}
