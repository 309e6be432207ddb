package server

import (
	"os"
	"strconv"

	"github.com/arcwell/authcore/security"
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Stamped into
	// every token the codec signs and verified on decode.
	Issuer string

	// SigningKey is the HMAC key for access token signing.
	// Must be at least 32 bytes.
	SigningKey []byte

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// ClockSkewGracePeriod is the grace period for token expiration checks (in seconds)
	// This prevents false expiration errors due to time synchronization issues
	// Default: 5 seconds
	ClockSkewGracePeriod int64 // seconds, default: 5

	// ClientSecretLength is the length of generated client secrets
	// Default: 48
	ClientSecretLength int

	// RegistrationTokenLength is the length of generated registration access tokens
	// Default: 32
	RegistrationTokenLength int

	// ManagerScope is the scope a client must hold to call the client
	// management operations on behalf of other clients.
	// Default: "clients:manage"
	ManagerScope string

	// AuditEnabled enables security audit logging
	AuditEnabled bool

	// SecurityEventRateLimit caps security event log entries per second
	// per actor, preventing log flooding. Default: 10
	SecurityEventRateLimit float64

	// SecurityEventRateBurst is the burst allowance for security event logging
	// Default: 20
	SecurityEventRateBurst int
}

// DefaultManagerScope is the scope required for cross-client management
// operations when Config.ManagerScope is left empty.
const DefaultManagerScope = "clients:manage"

// applySecureDefaults applies secure-by-default configuration values.
// Signing key strength is not checked here; the token codec rejects short
// keys when the server is constructed.
func applySecureDefaults(config *Config) *Config {
	applyTimeDefaults(config)
	applyCredentialDefaults(config)

	if config.ManagerScope == "" {
		config.ManagerScope = DefaultManagerScope
	}
	if config.SecurityEventRateLimit == 0 {
		config.SecurityEventRateLimit = 10
	}
	if config.SecurityEventRateBurst == 0 {
		config.SecurityEventRateBurst = 20
	}

	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = int64(security.DefaultClockSkewGracePeriod.Seconds())
	}
}

// applyCredentialDefaults sets default lengths for generated credentials
func applyCredentialDefaults(config *Config) {
	if config.ClientSecretLength == 0 {
		config.ClientSecretLength = security.DefaultClientSecretLength
	}
	if config.RegistrationTokenLength == 0 {
		config.RegistrationTokenLength = security.DefaultRegistrationTokenLength
	}
}

// ConfigFromEnv builds a Config from AUTHCORE_* environment variables.
// Unset variables fall through to the secure defaults applied by New.
func ConfigFromEnv() *Config {
	config := &Config{
		Issuer:       os.Getenv("AUTHCORE_ISSUER"),
		SigningKey:   []byte(os.Getenv("AUTHCORE_SIGNING_KEY")),
		ManagerScope: os.Getenv("AUTHCORE_MANAGER_SCOPE"),
		AuditEnabled: os.Getenv("AUTHCORE_AUDIT_DISABLED") != "true",
	}
	if len(config.SigningKey) == 0 {
		config.SigningKey = nil
	}

	config.AuthorizationCodeTTL = envInt64("AUTHCORE_CODE_TTL", 0)
	config.AccessTokenTTL = envInt64("AUTHCORE_ACCESS_TOKEN_TTL", 0)
	config.RefreshTokenTTL = envInt64("AUTHCORE_REFRESH_TOKEN_TTL", 0)

	return config
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
