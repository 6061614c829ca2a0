package beacon

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/sunbeamfin/beacon/errors"
)

func TestGenerateTokenRoundTrip(t *testing.T) {
	kinds := []TokenKind{
		TokenKindSession,
		TokenKindRefresh,
		TokenKindPAT,
		TokenKindAuthCode,
		TokenKindMagicLink,
		TokenKindSessionTransfer,
	}

	for _, kind := range kinds {
		tok, err := GenerateToken(kind)
		require.NoError(t, err, "kind %s", kind)

		parsed, err := ParseToken(tok.String())
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, kind, parsed.Kind)
		assert.Equal(t, tok.ID, parsed.ID)
		assert.Equal(t, tok.Secret, parsed.Secret)
	}
}

func TestGenerateTokenUnknownKind(t *testing.T) {
	_, err := GenerateToken(TokenKind("bogus"))
	assert.Error(t, err)
}

func TestTokenWireFormat(t *testing.T) {
	tok, err := GenerateToken(TokenKindRefresh)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok.String(), "rt_"))

	sess, err := GenerateToken(TokenKindSession)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sess.String(), sess.ID+"."))
	assert.Len(t, sess.Secret, 43)
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	valid, err := GenerateToken(TokenKindRefresh)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":            "",
		"no dot":           "rt_" + valid.ID + valid.Secret,
		"unknown prefix":   "zz_" + valid.ID + "." + valid.Secret,
		"bad uuid":         "rt_not-a-uuid." + valid.Secret,
		"short secret":     "rt_" + valid.ID + "." + valid.Secret[:20],
		"long secret":      "rt_" + valid.ID + "." + valid.Secret + "A",
		"invalid base64":   "rt_" + valid.ID + "." + strings.Repeat("!", 43),
		"no id":            "." + valid.Secret,
		"prefix only":      "rt_." + valid.Secret,
		"padded base64url": "rt_" + valid.ID + "." + valid.Secret[:42] + "=",
	}

	for name, raw := range cases {
		_, err := ParseToken(raw)
		assert.ErrorIs(t, err, serrors.ErrTokenMalformed, name)
	}
}

func TestParseTokenAsEnforcesKind(t *testing.T) {
	refresh, err := GenerateToken(TokenKindRefresh)
	require.NoError(t, err)

	// Refresh tokens cannot be presented where a session token is expected.
	_, err = ParseTokenAs(refresh.String(), TokenKindSession)
	assert.ErrorIs(t, err, serrors.ErrTokenMalformed)

	// Nor can an unprefixed session token pass as a refresh token.
	session, err := GenerateToken(TokenKindSession)
	require.NoError(t, err)
	_, err = ParseTokenAs(session.String(), TokenKindRefresh)
	assert.ErrorIs(t, err, serrors.ErrTokenMalformed)

	parsed, err := ParseTokenAs(refresh.String(), TokenKindRefresh)
	require.NoError(t, err)
	assert.Equal(t, refresh.ID, parsed.ID)
}

func TestRedactToken(t *testing.T) {
	tok, err := GenerateToken(TokenKindPAT)
	require.NoError(t, err)

	redacted := RedactToken(tok.String())
	assert.Equal(t, "sbf_"+tok.ID+".***", redacted)
	assert.NotContains(t, redacted, tok.Secret)

	assert.Equal(t, "<redacted>", RedactToken("garbage"))

	sess := OpaqueToken{Kind: TokenKindSession, ID: uuid.NewString(), Secret: tok.Secret}
	assert.Equal(t, sess.ID+".***", RedactToken(sess.String()))
}
