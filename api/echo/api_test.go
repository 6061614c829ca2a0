package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/sunbeamfin/beacon"
	"github.com/sunbeamfin/beacon/domain"
	"github.com/sunbeamfin/beacon/internal/audit"
	"github.com/sunbeamfin/beacon/internal/auth"
	"github.com/sunbeamfin/beacon/internal/federation"
	"github.com/sunbeamfin/beacon/internal/memstore"
	"github.com/sunbeamfin/beacon/middleware"
)

const (
	testIssuer   = "https://auth.test"
	testAudience = "https://api.test"
	testPassword = "correct horse battery staple"

	// bcryptTestCost keeps password hashing fast in tests.
	bcryptTestCost = 4
)

// Key generation is slow enough to share one store across the package; the
// key set is immutable after startup so concurrent reads are safe.
var (
	sharedKeysOnce sync.Once
	sharedKeys     *beacon.KeyStore
)

func testKeyStore(t *testing.T) *beacon.KeyStore {
	t.Helper()
	sharedKeysOnce.Do(func() {
		sharedKeys = beacon.NewKeyStore()
		if _, err := sharedKeys.GenerateKey(); err != nil {
			panic(err)
		}
	})
	return sharedKeys
}

// captureMailer keeps the mailed magic links instead of sending them.
type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendMagicLink(_ context.Context, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *captureMailer) lastLink() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		return ""
	}
	return m.links[len(m.links)-1]
}

// testServer is the whole HTTP stack over in-memory stores.
type testServer struct {
	router *echo.Echo

	users      *memstore.UserStore
	clients    *memstore.ClientStore
	workspaces *memstore.WorkspaceStore

	hasher   *beacon.TokenHasher
	keys     *beacon.KeyStore
	issuer   *beacon.TokenIssuer
	password *auth.BcryptPasswordHasher
	mailer   *captureMailer

	sessionSvc *beacon.SessionService
	authSvc    *beacon.AuthService
	patSvc     *beacon.PATService
}

func newTestServer(t *testing.T, providers ...federation.Provider) *testServer {
	t.Helper()

	hasher, err := beacon.NewTokenHasher("k1", map[string][]byte{"k1": []byte("hash-key-one")})
	require.NoError(t, err)

	ts := &testServer{
		users:      memstore.NewUserStore(),
		clients:    memstore.NewClientStore(),
		workspaces: memstore.NewWorkspaceStore(),
		hasher:     hasher,
		keys:       testKeyStore(t),
		password:   auth.NewBcryptPasswordHasher(bcryptTestCost),
		mailer:     &captureMailer{},
	}

	sessions := memstore.NewSessionStore()
	tokens := memstore.NewRefreshTokenStore()
	codes := memstore.NewAuthCodeStore()
	pats := memstore.NewPATStore()
	loginTokens := memstore.NewLoginTokenStore()
	identities := memstore.NewIdentityStore()
	sink := audit.NopSink{}

	ts.issuer = beacon.NewTokenIssuer(ts.keys, testIssuer, testAudience, 0, 0)
	resolver := beacon.NewWorkspaceResolver(ts.workspaces)
	ts.sessionSvc = beacon.NewSessionService(sessions, ts.users, hasher, nil, sink, beacon.DefaultSessionPolicy())
	refreshSvc := beacon.NewRefreshService(tokens, ts.users, hasher, ts.sessionSvc, sink, 0)
	codeSvc := beacon.NewAuthCodeService(codes, hasher, sink, 0)
	grantSvc := beacon.NewGrantService(ts.clients, ts.users, codeSvc, refreshSvc, ts.sessionSvc, ts.issuer, resolver, hasher, sink)
	ts.authSvc = beacon.NewAuthService(ts.users, identities, loginTokens, ts.sessionSvc, refreshSvc, ts.issuer, resolver, hasher, ts.password, ts.mailer, sink, testIssuer)
	ts.patSvc = beacon.NewPATService(pats, ts.users, hasher, resolver, sink)

	api := NewAPI(grantSvc, ts.authSvc, ts.sessionSvc, ts.patSvc, ts.users, ts.issuer, ts.keys,
		federation.NewRegistry(providers...), Config{PublicURL: testIssuer})

	router := echo.New()
	authn := middleware.NewAuthenticator(ts.issuer, ts.sessionSvc, ts.patSvc, resolver, SessionCookieName)
	api.RegisterRoutes(router, authn.Middleware())
	ts.router = router

	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) addUser(t *testing.T, email string) *domain.User {
	t.Helper()
	hash, err := ts.password.Hash(testPassword)
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
	require.NoError(t, ts.users.CreateUser(context.Background(), user))
	return user
}

// addClient registers a confidential client for the code flow and returns
// it with the plaintext secret.
func (ts *testServer) addClient(t *testing.T, mutate ...func(*domain.Client)) (*domain.Client, string) {
	t.Helper()

	secret := uuid.NewString()
	envelope, err := ts.hasher.Hash(secret)
	require.NoError(t, err)

	now := time.Now().UTC()
	client := &domain.Client{
		ID:                uuid.NewString(),
		SecretEnvelope:    envelope,
		Kind:              domain.ClientKindConfidential,
		Name:              "Test Client",
		RedirectURIs:      []string{"https://app.test/callback"},
		AllowedScopes:     []string{"openid", "workspace:read", "workspace:write"},
		AllowedGrantTypes: []string{beacon.GrantTypeAuthorizationCode, beacon.GrantTypeRefreshToken},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, m := range mutate {
		m(client)
	}
	if client.Kind == domain.ClientKindPublic {
		client.SecretEnvelope = ""
		secret = ""
	}
	require.NoError(t, ts.clients.CreateClient(context.Background(), client))
	return client, secret
}

// login opens a session through the service layer and returns the result,
// including the cookie value.
func (ts *testServer) login(t *testing.T, user *domain.User) *beacon.LoginResult {
	t.Helper()
	result, err := ts.authSvc.LoginWithPassword(context.Background(), beacon.LoginInput{
		Email:      user.Email,
		Password:   testPassword,
		ClientType: domain.ClientTypeWeb,
		IPAddress:  "198.51.100.7",
	})
	require.NoError(t, err)
	return result
}

func sessionCookie(result *beacon.LoginResult) *http.Cookie {
	return &http.Cookie{Name: SessionCookieName, Value: result.SessionToken}
}

func formRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return req
}

func jsonRequest(method, path string, body any) *http.Request {
	encoded, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(encoded))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// responseCookie digs a named cookie out of the recorded response.
func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
