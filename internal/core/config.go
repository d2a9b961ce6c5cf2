package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fedgate/fedgate/internal/saml"
)

// Config holds the application configuration
type Config struct {
	// Environment (development, production)
	Environment string

	// Server listening address
	ListenAddr string

	// Base URL for constructing absolute URLs
	BaseURL string

	// Issuer entity id; defaults to BaseURL + "/saml/metadata"
	EntityID string

	// CORS allowed origins
	CORSOrigins []string

	// Enable debug logging
	Debug bool

	// Protocol tuning
	ClockSkew           time.Duration
	RequestLifetime     time.Duration
	MaxRelayStateLength int

	// Single-use state retention
	SigninStateTTL   time.Duration
	LogoutMessageTTL time.Duration

	// Signing key material; empty paths mean an ephemeral self-signed pair
	SigningKeyPath  string
	SigningCertPath string

	// Storage
	DatabasePath string

	// Startup configuration files
	ServiceProvidersPath string
	FrontendsPath        string
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() *Config {
	cfg := &Config{
		Environment:          getEnv("FEDGATE_ENV", "development"),
		ListenAddr:           getEnv("FEDGATE_LISTEN_ADDR", ":8080"),
		BaseURL:              getEnv("FEDGATE_BASE_URL", "http://localhost:8080"),
		CORSOrigins:          getEnvList("FEDGATE_CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		Debug:                getEnvBool("FEDGATE_DEBUG", false),
		ClockSkew:            getEnvDuration("FEDGATE_CLOCK_SKEW", 3*time.Minute),
		RequestLifetime:      getEnvDuration("FEDGATE_REQUEST_LIFETIME", 5*time.Minute),
		MaxRelayStateLength:  getEnvInt("FEDGATE_MAX_RELAY_STATE", 512),
		SigninStateTTL:       getEnvDuration("FEDGATE_SIGNIN_STATE_TTL", 10*time.Minute),
		LogoutMessageTTL:     getEnvDuration("FEDGATE_LOGOUT_MESSAGE_TTL", 15*time.Minute),
		SigningKeyPath:       getEnv("FEDGATE_SIGNING_KEY", ""),
		SigningCertPath:      getEnv("FEDGATE_SIGNING_CERT", ""),
		DatabasePath:         getEnv("FEDGATE_DB_PATH", "fedgate.db"),
		ServiceProvidersPath: getEnv("FEDGATE_SP_CONFIG", ""),
		FrontendsPath:        getEnv("FEDGATE_FRONTEND_CONFIG", ""),
	}
	cfg.EntityID = getEnv("FEDGATE_ENTITY_ID", cfg.BaseURL+"/saml/metadata")

	return cfg
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// SecureCookies reports whether session and state cookies should carry the
// Secure flag. Development over plain http cannot.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// ProtocolOptions derives the protocol-level option set from the
// application configuration.
func (c *Config) ProtocolOptions() saml.Options {
	return saml.Options{
		EntityID:            c.EntityID,
		ClockSkew:           c.ClockSkew,
		RequestLifetime:     c.RequestLifetime,
		MaxRelayStateLength: c.MaxRelayStateLength,
		SupportedNameIDFormats: []string{
			saml.NameIDFormatUnspecified,
			saml.NameIDFormatEmail,
			saml.NameIDFormatPersistent,
			saml.NameIDFormatTransient,
		},
		DefaultNameIDFormat: saml.NameIDFormatUnspecified,
		SigninURL:           c.BaseURL + "/saml" + saml.PathSSO,
		SigninCallbackURL:   "/saml" + saml.PathSSOCallback,
		LogoutURL:           c.BaseURL + "/saml" + saml.PathSLO,
		LogoutCallbackURL:   "/saml" + saml.PathSLOCallback,
		LoginURL:            "/login",
		ConsentURL:          "/consent",
		HostLogoutURL:       "/logout",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Split(value, ",")
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
