package server

import (
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/arcwell/authcore/instrumentation"
	"github.com/arcwell/authcore/scope"
	"github.com/arcwell/authcore/security"
	"github.com/arcwell/authcore/storage"
	"github.com/arcwell/authcore/token"
)

// Server implements the grant, exchange, introspection, and client
// management logic. It holds no protocol state of its own; every
// correctness guarantee comes from the storage layer's unique indexes.
type Server struct {
	tokenStore  storage.TokenStore
	clientStore storage.ClientStore
	userStore   storage.UserStore
	codec       *token.Codec
	resolver    *scope.Resolver

	Auditor                  *security.Auditor
	SecurityEventRateLimiter *security.RateLimiter
	Logger                   *slog.Logger
	Config                   *Config

	instrumentation *instrumentation.Instrumentation
}

// New creates a new authorization server
func New(
	tokenStore storage.TokenStore,
	clientStore storage.ClientStore,
	scopeStore storage.ScopeStore,
	userStore storage.UserStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if scopeStore == nil {
		return nil, fmt.Errorf("scope store is required")
	}
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config)

	codec, err := token.NewCodec(config.Issuer, config.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	srv := &Server{
		tokenStore:  tokenStore,
		clientStore: clientStore,
		userStore:   userStore,
		codec:       codec,
		resolver:    scope.NewResolver(scopeStore, logger),
		Logger:      logger,
		Config:      config,
	}

	if config.AuditEnabled {
		srv.Auditor = security.NewAuditor(logger, true)
		srv.SecurityEventRateLimiter = security.NewRateLimiter(
			config.SecurityEventRateLimit, config.SecurityEventRateBurst, logger)
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents log flooding from repeated security events
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation sets OpenTelemetry instrumentation for the server
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// Codec returns the token codec so callers can verify tokens offline
func (s *Server) Codec() *token.Codec {
	return s.codec
}

// Resolver returns the scope resolver
func (s *Server) Resolver() *scope.Resolver {
	return s.resolver
}

// Stop releases background resources held by the server
func (s *Server) Stop() {
	if s.SecurityEventRateLimiter != nil {
		s.SecurityEventRateLimiter.Stop()
	}
}

// auditAllowed reports whether a security event for the identifier should
// be logged, consulting the event rate limiter when one is configured.
func (s *Server) auditAllowed(identifier string) bool {
	if s.Auditor == nil {
		return false
	}
	if s.SecurityEventRateLimiter == nil {
		return true
	}
	return s.SecurityEventRateLimiter.Allow(identifier)
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string, used for authorization code values.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
