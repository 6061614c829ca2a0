package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	beacon "github.com/sunbeamfin/beacon"
	echoapi "github.com/sunbeamfin/beacon/api/echo"
	"github.com/sunbeamfin/beacon/cache"
	redisstore "github.com/sunbeamfin/beacon/cache/redis"
	"github.com/sunbeamfin/beacon/config"
	"github.com/sunbeamfin/beacon/internal/audit"
	"github.com/sunbeamfin/beacon/internal/auth"
	"github.com/sunbeamfin/beacon/internal/federation"
	"github.com/sunbeamfin/beacon/internal/metrics"
	"github.com/sunbeamfin/beacon/internal/server"
	"github.com/sunbeamfin/beacon/log"
	"github.com/sunbeamfin/beacon/middleware"
	"github.com/sunbeamfin/beacon/mongodb"
	"github.com/sunbeamfin/beacon/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := log.Setup(cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()
	logger.Info(ctx, "Starting beacon server", map[string]any{
		"http_port":     cfg.HTTPPort,
		"public_url":    cfg.PublicURL,
		"mongo_db_name": cfg.MongoDBName,
		"log_level":     cfg.LogLevel,
		"otel_service":  cfg.OtelServiceName,
	})

	tracerProvider, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize TracerProvider", err)
	}

	mongoClient, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		logger.Fatal(ctx, "Failed to connect to MongoDB", err)
	}
	repos := mongodb.NewRepositories(ctx, mongoClient.Database(cfg.MongoDBName))

	// Session cache: in-process for a single instance, Redis when several
	// instances must see each other's evictions.
	cacheTTL := time.Duration(cfg.SessionCacheTTLSec) * time.Second
	var sessionCache beacon.SessionStore
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal(ctx, "Failed to connect to Redis", err)
		}
		sessionCache = redisstore.NewSessionStore(redisClient, "beacon", cacheTTL)
		logger.Info(ctx, "Session cache backed by Redis", map[string]any{"addr": cfg.RedisAddr})
	} else {
		sessionCache = cache.NewMemorySessionStore(cacheTTL)
	}

	hasher := buildTokenHasher(ctx, logger, cfg.TokenHashKeys)
	keys := buildKeyStore(ctx, logger, cfg.SigningKeyDir, cfg.ActiveSigningKey)
	issuer := beacon.NewTokenIssuer(keys, cfg.PublicURL, cfg.TokenAudience,
		time.Duration(cfg.AccessTokenTTLMin)*time.Minute,
		time.Duration(cfg.IDTokenTTLMin)*time.Minute)

	metrics.InitCustomMetrics(prometheus.DefaultRegisterer)
	sink := audit.FanoutSink{
		audit.NewZerologSink(zlog.Logger),
		metrics.NewAuditSink(),
	}

	passwordHasher := auth.NewBcryptPasswordHasher(bcrypt.DefaultCost)
	resolver := beacon.NewWorkspaceResolver(repos.Workspaces)

	sessionSvc := beacon.NewSessionService(repos.Sessions, repos.Users, hasher, sessionCache, sink, beacon.SessionPolicy{
		RollingWindow:    time.Duration(cfg.SessionWindowHour) * time.Hour,
		RememberMeWindow: time.Duration(cfg.SessionRememberHour) * time.Hour,
		AbsoluteCap:      time.Duration(cfg.SessionAbsoluteHour) * time.Hour,
	})
	refreshSvc := beacon.NewRefreshService(repos.Tokens, repos.Users, hasher, sessionSvc, sink,
		time.Duration(cfg.RefreshTokenTTLHour)*time.Hour)
	codeSvc := beacon.NewAuthCodeService(repos.AuthCodes, hasher, sink,
		time.Duration(cfg.AuthCodeTTLSec)*time.Second)
	grantSvc := beacon.NewGrantService(repos.Clients, repos.Users, codeSvc, refreshSvc, sessionSvc, issuer, resolver, hasher, sink)
	authSvc := beacon.NewAuthService(repos.Users, repos.Identities, repos.LoginTokens,
		sessionSvc, refreshSvc, issuer, resolver, hasher, passwordHasher, logMailer{}, sink, cfg.PublicURL)
	authSvc.SetMagicLinkTTL(time.Duration(cfg.MagicLinkTTLMin) * time.Minute)
	patSvc := beacon.NewPATService(repos.PATs, repos.Users, hasher, resolver, sink)

	var providers []federation.Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, federation.NewGoogleProvider(
			cfg.GoogleClientID, cfg.GoogleClientSecret,
			cfg.PublicURL+"/auth/federation/google/callback"))
	}
	if cfg.GitHubClientID != "" {
		providers = append(providers, federation.NewGitHubProvider(
			cfg.GitHubClientID, cfg.GitHubClientSecret,
			cfg.PublicURL+"/auth/federation/github/callback"))
	}
	registry := federation.NewRegistry(providers...)
	if len(providers) > 0 {
		logger.Info(ctx, "Federated login enabled", map[string]any{"providers": registry.Names()})
	}

	api := echoapi.NewAPI(grantSvc, authSvc, sessionSvc, patSvc, repos.Users, issuer, keys, registry, echoapi.Config{
		PublicURL:     cfg.PublicURL,
		SecureCookies: strings.HasPrefix(cfg.PublicURL, "https://"),
	})
	authn := middleware.NewAuthenticator(issuer, sessionSvc, patSvc, resolver, echoapi.SessionCookieName)
	httpServer := server.NewHTTPServer(cfg, api, authn.Middleware())

	go func() {
		logger.Info(context.Background(), fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(context.Background(), "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	received := <-quit

	logger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", received))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	if err := sessionCache.Close(); err != nil {
		logger.Error(shutdownCtx, "Session cache shutdown error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error(shutdownCtx, "Redis client shutdown error", err)
		}
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "TracerProvider shutdown error", err)
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "MongoDB disconnect error", err)
	}

	logger.Info(shutdownCtx, "Server gracefully stopped.")
}

// buildTokenHasher assembles the opaque-token key ring from TOKEN_HASH_KEYS:
// comma-separated id:base64url-secret pairs, first pair active. An empty
// value generates an ephemeral key, so outstanding tokens do not survive a
// restart.
func buildTokenHasher(ctx context.Context, logger log.Logger, spec string) *beacon.TokenHasher {
	if spec == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			logger.Fatal(ctx, "Failed to generate ephemeral hash key", err)
		}
		hasher, err := beacon.NewTokenHasher("dev", map[string][]byte{"dev": secret})
		if err != nil {
			logger.Fatal(ctx, "Failed to build token hasher", err)
		}
		logger.Warn(ctx, "TOKEN_HASH_KEYS not set; using an ephemeral hash key, outstanding tokens will not survive a restart")
		return hasher
	}

	hasher, err := beacon.NewTokenHasherFromSpec(spec)
	if err != nil {
		logger.Fatal(ctx, "Failed to build token hasher from TOKEN_HASH_KEYS", err)
	}
	return hasher
}

// buildKeyStore loads the RSA signing keys from dir, one PEM file per key,
// with the file base name as the kid. An empty dir generates an ephemeral
// key, so issued access tokens do not verify across restarts.
func buildKeyStore(ctx context.Context, logger log.Logger, dir, activeKid string) *beacon.KeyStore {
	keys := beacon.NewKeyStore()

	if dir == "" {
		kid, err := keys.GenerateKey()
		if err != nil {
			logger.Fatal(ctx, "Failed to generate ephemeral signing key", err)
		}
		logger.Warn(ctx, "SIGNING_KEY_DIR not set; generated an ephemeral signing key", map[string]any{"kid": kid})
		return keys
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Fatal(ctx, "Failed to read signing key directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pem" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Fatal(ctx, fmt.Sprintf("Failed to read signing key %s", entry.Name()), err)
		}
		key, err := beacon.ParseSigningKeyPEM(data)
		if err != nil {
			logger.Fatal(ctx, fmt.Sprintf("Failed to parse signing key %s", entry.Name()), err)
		}
		kid := strings.TrimSuffix(entry.Name(), ".pem")
		if err := keys.AddKey(kid, key, kid == activeKid); err != nil {
			logger.Fatal(ctx, "Failed to register signing key", err)
		}
	}

	if keys.Len() == 0 {
		logger.Fatal(ctx, "Signing key directory holds no .pem files", fmt.Errorf("dir %q", dir))
	}
	if activeKid != "" && keys.ActiveKeyID() != activeKid {
		logger.Fatal(ctx, "ACTIVE_SIGNING_KEY does not match any loaded key", fmt.Errorf("want %q, have %q", activeKid, keys.ActiveKeyID()))
	}
	logger.Info(ctx, "Signing keys loaded", map[string]any{
		"count":      keys.Len(),
		"active_kid": keys.ActiveKeyID(),
	})
	return keys
}

// logMailer writes magic links to the log instead of sending mail. Mail
// transport is deployment-specific; dev setups read the link off the log.
type logMailer struct{}

func (logMailer) SendMagicLink(_ context.Context, email, link string) error {
	zlog.Info().Str("email", email).Str("link", link).Msg("magic link issued, mail transport not configured")
	return nil
}
