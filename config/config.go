// Package config loads server configuration from file, environment
// variables, and defaults via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling and env variable binding.
type ServerConfig struct {
	HTTPPort string `mapstructure:"HTTP_PORT"`
	// PublicURL is the externally visible base URL. It becomes the token
	// issuer and the base of magic-link URLs, so it must match what
	// clients are configured against.
	PublicURL string `mapstructure:"PUBLIC_URL"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	// RedisAddr selects the Redis-backed session cache. Empty keeps the
	// in-process cache, which is fine for a single instance.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// SigningKeyDir holds PEM-encoded RSA signing keys, one per file; the
	// file base name becomes the key id. Empty generates an ephemeral dev
	// key at startup.
	SigningKeyDir    string `mapstructure:"SIGNING_KEY_DIR"`
	ActiveSigningKey string `mapstructure:"ACTIVE_SIGNING_KEY"`

	// TokenHashKeys is a comma-separated list of id:base64url-secret
	// pairs for the opaque-token hasher. The first pair is the active
	// key. Empty generates an ephemeral dev key at startup.
	TokenHashKeys string `mapstructure:"TOKEN_HASH_KEYS"`

	TokenAudience string `mapstructure:"TOKEN_AUDIENCE"`

	AccessTokenTTLMin   int `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	IDTokenTTLMin       int `mapstructure:"ID_TOKEN_TTL_MIN"`
	RefreshTokenTTLHour int `mapstructure:"REFRESH_TOKEN_TTL_HOUR"`
	AuthCodeTTLSec      int `mapstructure:"AUTH_CODE_TTL_SEC"`
	SessionWindowHour   int `mapstructure:"SESSION_WINDOW_HOUR"`
	SessionRememberHour int `mapstructure:"SESSION_REMEMBER_HOUR"`
	SessionAbsoluteHour int `mapstructure:"SESSION_ABSOLUTE_HOUR"`
	SessionCacheTTLSec  int `mapstructure:"SESSION_CACHE_TTL_SEC"`
	MagicLinkTTLMin     int `mapstructure:"MAGIC_LINK_TTL_MIN"`

	// Federated login providers. A provider with an empty client id is
	// not mounted.
	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `mapstructure:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `mapstructure:"GITHUB_CLIENT_SECRET"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/beacon/")
	v.AddConfigPath("$HOME/.beacon")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "beacon")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "beacon")
	v.SetDefault("TOKEN_AUDIENCE", "sunbeam-api")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 10)
	v.SetDefault("ID_TOKEN_TTL_MIN", 60)
	v.SetDefault("REFRESH_TOKEN_TTL_HOUR", 720)
	v.SetDefault("AUTH_CODE_TTL_SEC", 300)
	v.SetDefault("SESSION_WINDOW_HOUR", 24)
	v.SetDefault("SESSION_REMEMBER_HOUR", 720)
	v.SetDefault("SESSION_ABSOLUTE_HOUR", 4320)
	v.SetDefault("SESSION_CACHE_TTL_SEC", 30)
	v.SetDefault("MAGIC_LINK_TTL_MIN", 15)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults and env vars carry the
		// whole configuration. Anything else is a real error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
