package beacon

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
	"github.com/sunbeamfin/beacon/internal/audit"
)

func TestPATCreateAndVerify(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ws := env.addWorkspace(t, "acme")
	env.addMembership(t, ws.ID, user.ID, domain.RoleAdmin)
	ctx := context.Background()

	pat, raw, err := env.patSvc.Create(ctx, CreatePATInput{
		UserID: user.ID,
		Name:   "ci deploy",
		Scopes: []string{domain.ScopeWorkspaceRead},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "sbf_"))
	assert.Nil(t, pat.ExpiresAt)

	authCtx, err := env.patSvc.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalUser, authCtx.PrincipalType)
	assert.Equal(t, user.ID, authCtx.UserID)
	assert.Equal(t, ws.ID, authCtx.ActiveWorkspaceID)
	assert.Equal(t, []string{domain.ScopeWorkspaceRead}, authCtx.Scopes)
	assert.Equal(t, domain.MFALevelAAL1, authCtx.MFALevel)

	stored, err := env.pats.GetPATByID(ctx, pat.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsedAt)

	require.Len(t, env.sink.ByAction(audit.ActionPATCreated), 1)
}

func TestPATWithoutScopesInheritsRole(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ws := env.addWorkspace(t, "acme")
	env.addMembership(t, ws.ID, user.ID, domain.RoleViewer)
	ctx := context.Background()

	_, raw, err := env.patSvc.Create(ctx, CreatePATInput{
		UserID: user.ID,
		Name:   "read only",
	})
	require.NoError(t, err)

	authCtx, err := env.patSvc.Verify(ctx, raw)
	require.NoError(t, err)
	assert.ElementsMatch(t, domain.RoleViewer.Scopes(), authCtx.Scopes)
	assert.False(t, authCtx.HasScope(domain.ScopeWorkspaceAdmin))
}

func TestPATWorkspacePinning(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ws1 := env.addWorkspace(t, "acme")
	ws2 := env.addWorkspace(t, "globex")
	env.addMembership(t, ws1.ID, user.ID, domain.RoleMember)
	env.addMembership(t, ws2.ID, user.ID, domain.RoleMember)
	ctx := context.Background()

	_, raw, err := env.patSvc.Create(ctx, CreatePATInput{
		UserID:      user.ID,
		Name:        "globex automation",
		Scopes:      []string{domain.ScopeWorkspaceRead},
		WorkspaceID: ws2.ID,
	})
	require.NoError(t, err)

	authCtx, err := env.patSvc.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, ws2.ID, authCtx.ActiveWorkspaceID)

	// Pinning to a workspace the owner is not in fails at creation.
	foreign := env.addWorkspace(t, "initech")
	_, _, err = env.patSvc.Create(ctx, CreatePATInput{
		UserID:      user.ID,
		Name:        "bad pin",
		WorkspaceID: foreign.ID,
	})
	assert.ErrorIs(t, err, serrors.ErrNotMember)
}

func TestPATRevoke(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	other := env.addUser(t, "mallory@sunbeam.test")
	ctx := context.Background()

	pat, raw, err := env.patSvc.Create(ctx, CreatePATInput{
		UserID: user.ID,
		Name:   "doomed",
		Scopes: []string{domain.ScopeWorkspaceRead},
	})
	require.NoError(t, err)

	// Someone else's revoke looks like the token does not exist and
	// leaves it live.
	err = env.patSvc.Revoke(ctx, other.ID, pat.ID)
	assert.ErrorIs(t, err, serrors.ErrTokenNotFound)
	_, err = env.patSvc.Verify(ctx, raw)
	require.NoError(t, err)

	require.NoError(t, env.patSvc.Revoke(ctx, user.ID, pat.ID))
	_, err = env.patSvc.Verify(ctx, raw)
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)

	// Revocation is terminal; repeats are no-ops and emit nothing new.
	require.NoError(t, env.patSvc.Revoke(ctx, user.ID, pat.ID))
	assert.Len(t, env.sink.ByAction(audit.ActionPATRevoked), 1)
}

func TestPATExpiry(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	pat, raw, err := env.patSvc.Create(ctx, CreatePATInput{
		UserID:    user.ID,
		Name:      "short lived",
		ExpiresIn: time.Nanosecond,
	})
	require.NoError(t, err)
	require.NotNil(t, pat.ExpiresAt)

	time.Sleep(5 * time.Millisecond)
	_, err = env.patSvc.Verify(ctx, raw)
	assert.ErrorIs(t, err, serrors.ErrTokenExpired)
}

func TestPATVerifyRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	_, raw, err := env.patSvc.Create(ctx, CreatePATInput{
		UserID: user.ID,
		Name:   "target",
	})
	require.NoError(t, err)

	_, err = env.patSvc.Verify(ctx, "not a token")
	assert.ErrorIs(t, err, serrors.ErrTokenMalformed)

	// Session tokens are a different kind and never reach the lookup.
	_, err = env.patSvc.Verify(ctx, strings.TrimPrefix(raw, "sbf_"))
	assert.ErrorIs(t, err, serrors.ErrTokenMalformed)

	unknown, err := GenerateToken(TokenKindPAT)
	require.NoError(t, err)
	_, err = env.patSvc.Verify(ctx, unknown.String())
	assert.ErrorIs(t, err, serrors.ErrTokenNotFound)

	// Right id, wrong secret.
	tok, err := ParseToken(raw)
	require.NoError(t, err)
	forged, err := GenerateToken(TokenKindPAT)
	require.NoError(t, err)
	forged.ID = tok.ID
	_, err = env.patSvc.Verify(ctx, forged.String())
	assert.ErrorIs(t, err, serrors.ErrTokenNotFound)
}

func TestPATRejectsInactiveOwner(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	_, raw, err := env.patSvc.Create(ctx, CreatePATInput{
		UserID: user.ID,
		Name:   "orphaned",
	})
	require.NoError(t, err)

	user.Status = domain.UserStatusLocked
	require.NoError(t, env.users.UpdateUser(ctx, user))

	_, err = env.patSvc.Verify(ctx, raw)
	assert.ErrorIs(t, err, serrors.ErrUserInactive)
}

func TestPATList(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	other := env.addUser(t, "sam@sunbeam.test")
	ctx := context.Background()

	first, _, err := env.patSvc.Create(ctx, CreatePATInput{UserID: user.ID, Name: "one"})
	require.NoError(t, err)
	second, _, err := env.patSvc.Create(ctx, CreatePATInput{UserID: user.ID, Name: "two"})
	require.NoError(t, err)
	_, _, err = env.patSvc.Create(ctx, CreatePATInput{UserID: other.ID, Name: "theirs"})
	require.NoError(t, err)

	list, err := env.patSvc.List(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}
