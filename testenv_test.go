package beacon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sunbeamfin/beacon/domain"
	"github.com/sunbeamfin/beacon/internal/audit"
	"github.com/sunbeamfin/beacon/internal/auth"
	"github.com/sunbeamfin/beacon/internal/memstore"
)

const (
	testIssuer   = "https://auth.test"
	testAudience = "https://api.test"
	testPassword = "correct horse battery staple"
)

// Key generation is slow enough to share one store across the package; the
// key set is immutable after startup so concurrent reads are safe.
var (
	sharedKeysOnce sync.Once
	sharedKeys     *KeyStore
)

func testKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	sharedKeysOnce.Do(func() {
		sharedKeys = NewKeyStore()
		if _, err := sharedKeys.GenerateKey(); err != nil {
			panic(err)
		}
	})
	return sharedKeys
}

type testEnv struct {
	users       *memstore.UserStore
	sessions    *memstore.SessionStore
	tokens      *memstore.RefreshTokenStore
	codes       *memstore.AuthCodeStore
	clients     *memstore.ClientStore
	workspaces  *memstore.WorkspaceStore
	pats        *memstore.PATStore
	loginTokens *memstore.LoginTokenStore
	identities  *memstore.IdentityStore

	hasher   *TokenHasher
	keys     *KeyStore
	issuer   *TokenIssuer
	resolver *WorkspaceResolver
	sink     *audit.MemorySink
	password *auth.BcryptPasswordHasher

	sessionSvc *SessionService
	refreshSvc *RefreshService
	codeSvc    *AuthCodeService
	grantSvc   *GrantService
	authSvc    *AuthService
	patSvc     *PATService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hasher, err := NewTokenHasher("k1", map[string][]byte{"k1": []byte("hash-key-one")})
	require.NoError(t, err)

	env := &testEnv{
		users:       memstore.NewUserStore(),
		sessions:    memstore.NewSessionStore(),
		tokens:      memstore.NewRefreshTokenStore(),
		codes:       memstore.NewAuthCodeStore(),
		clients:     memstore.NewClientStore(),
		workspaces:  memstore.NewWorkspaceStore(),
		pats:        memstore.NewPATStore(),
		loginTokens: memstore.NewLoginTokenStore(),
		identities:  memstore.NewIdentityStore(),
		hasher:      hasher,
		keys:        testKeyStore(t),
		sink:        audit.NewMemorySink(),
		password:    auth.NewBcryptPasswordHasher(bcryptTestCost),
	}

	env.issuer = NewTokenIssuer(env.keys, testIssuer, testAudience, 0, 0)
	env.resolver = NewWorkspaceResolver(env.workspaces)
	env.sessionSvc = NewSessionService(env.sessions, env.users, env.hasher, nil, env.sink, DefaultSessionPolicy())
	env.refreshSvc = NewRefreshService(env.tokens, env.users, env.hasher, env.sessionSvc, env.sink, 0)
	env.codeSvc = NewAuthCodeService(env.codes, env.hasher, env.sink, 0)
	env.grantSvc = NewGrantService(env.clients, env.users, env.codeSvc, env.refreshSvc, env.sessionSvc, env.issuer, env.resolver, env.hasher, env.sink)
	env.authSvc = NewAuthService(env.users, env.identities, env.loginTokens, env.sessionSvc, env.refreshSvc, env.issuer, env.resolver, env.hasher, env.password, NopMailer{}, env.sink, "https://auth.test")
	env.patSvc = NewPATService(env.pats, env.users, env.hasher, env.resolver, env.sink)

	return env
}

// bcryptTestCost keeps password hashing fast in tests.
const bcryptTestCost = 4

func (e *testEnv) addUser(t *testing.T, email string) *domain.User {
	t.Helper()
	hash, err := e.password.Hash(testPassword)
	require.NoError(t, err)

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
		FirstName:    "Test",
		LastName:     "User",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.users.CreateUser(context.Background(), user))
	return user
}

func (e *testEnv) addWorkspace(t *testing.T, name string) *domain.Workspace {
	t.Helper()
	now := time.Now().UTC()
	ws := &domain.Workspace{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.workspaces.CreateWorkspace(context.Background(), ws))
	return ws
}

func (e *testEnv) addMembership(t *testing.T, workspaceID, userID string, role domain.Role) {
	t.Helper()
	require.NoError(t, e.workspaces.AddMembership(context.Background(), &domain.WorkspaceMembership{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}))
}

type testClientOption func(*domain.Client)

func withClientKind(kind domain.ClientKind) testClientOption {
	return func(c *domain.Client) { c.Kind = kind }
}

func withGrantTypes(types ...string) testClientOption {
	return func(c *domain.Client) { c.AllowedGrantTypes = types }
}

func withScopes(scopes ...string) testClientOption {
	return func(c *domain.Client) { c.AllowedScopes = scopes }
}

func withWorkspaces(ids ...string) testClientOption {
	return func(c *domain.Client) { c.AllowedWorkspaces = ids }
}

func withRequirePKCE() testClientOption {
	return func(c *domain.Client) { c.RequirePKCE = true }
}

// addClient registers a client and returns it with the plaintext secret.
// Confidential clients get a secret envelope; public clients get none.
func (e *testEnv) addClient(t *testing.T, opts ...testClientOption) (*domain.Client, string) {
	t.Helper()

	secret := uuid.NewString()
	envelope, err := e.hasher.Hash(secret)
	require.NoError(t, err)

	now := time.Now().UTC()
	client := &domain.Client{
		ID:                uuid.NewString(),
		SecretEnvelope:    envelope,
		Kind:              domain.ClientKindConfidential,
		Name:              "Test Client",
		RedirectURIs:      []string{"https://app.test/callback"},
		AllowedScopes:     []string{"openid", "workspace:read", "workspace:write"},
		AllowedGrantTypes: []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.Kind == domain.ClientKindPublic {
		client.SecretEnvelope = ""
		secret = ""
	}
	require.NoError(t, e.clients.CreateClient(context.Background(), client))
	return client, secret
}

// login opens a session for the user through the password flow.
func (e *testEnv) login(t *testing.T, user *domain.User) *LoginResult {
	t.Helper()
	result, err := e.authSvc.LoginWithPassword(context.Background(), LoginInput{
		Email:      user.Email,
		Password:   testPassword,
		ClientType: domain.ClientTypeWeb,
		IPAddress:  "198.51.100.7",
	})
	require.NoError(t, err)
	return result
}
