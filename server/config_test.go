package server

import (
	"testing"
)

func TestApplySecureDefaults(t *testing.T) {
	config := applySecureDefaults(&Config{})

	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"code TTL", config.AuthorizationCodeTTL, 600},
		{"access token TTL", config.AccessTokenTTL, 3600},
		{"refresh token TTL", config.RefreshTokenTTL, 7776000},
		{"clock skew grace", config.ClockSkewGracePeriod, 5},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}

	if config.ClientSecretLength != 48 {
		t.Errorf("client secret length = %d", config.ClientSecretLength)
	}
	if config.RegistrationTokenLength != 32 {
		t.Errorf("registration token length = %d", config.RegistrationTokenLength)
	}
	if config.ManagerScope != DefaultManagerScope {
		t.Errorf("manager scope = %q", config.ManagerScope)
	}
	if config.SecurityEventRateLimit != 10 || config.SecurityEventRateBurst != 20 {
		t.Error("security event limiter defaults not applied")
	}
}

func TestApplySecureDefaultsKeepsExplicitValues(t *testing.T) {
	config := applySecureDefaults(&Config{
		AuthorizationCodeTTL: 60,
		AccessTokenTTL:       120,
		RefreshTokenTTL:      3600,
		ManagerScope:         "ops:admin",
	})

	if config.AuthorizationCodeTTL != 60 || config.AccessTokenTTL != 120 || config.RefreshTokenTTL != 3600 {
		t.Error("explicit TTLs were overwritten")
	}
	if config.ManagerScope != "ops:admin" {
		t.Errorf("manager scope = %q", config.ManagerScope)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHCORE_ISSUER", "https://env.test")
	t.Setenv("AUTHCORE_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("AUTHCORE_ACCESS_TOKEN_TTL", "1800")
	t.Setenv("AUTHCORE_MANAGER_SCOPE", "ops:admin")

	config := ConfigFromEnv()

	if config.Issuer != "https://env.test" {
		t.Errorf("issuer = %q", config.Issuer)
	}
	if string(config.SigningKey) != "0123456789abcdef0123456789abcdef" {
		t.Error("signing key not read from environment")
	}
	if config.AccessTokenTTL != 1800 {
		t.Errorf("access token TTL = %d", config.AccessTokenTTL)
	}
	if config.ManagerScope != "ops:admin" {
		t.Errorf("manager scope = %q", config.ManagerScope)
	}
	if !config.AuditEnabled {
		t.Error("audit should default to enabled")
	}
}

func TestConfigFromEnvIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("AUTHCORE_ACCESS_TOKEN_TTL", "not-a-number")

	config := ConfigFromEnv()
	if config.AccessTokenTTL != 0 {
		t.Errorf("malformed TTL should fall through to default, got %d", config.AccessTokenTTL)
	}
}
