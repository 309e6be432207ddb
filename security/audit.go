// Package security provides security primitives for the authorization
// server: opaque credential generation, constant-time comparison, password
// hashing, clock-skew-tolerant expiry checks, audit logging, and rate
// limiting for security event logging.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when an access token is issued
func (a *Auditor) LogTokenIssued(userID, clientID, audience, grantType string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"audience":   audience,
			"grant_type": grantType,
		},
	})
}

// LogCodeIssued logs when an authorization code is granted
func (a *Auditor) LogCodeIssued(userID, clientID, audience string) {
	a.LogEvent(Event{
		Type:     EventCodeIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"audience": audience,
		},
	})
}

// LogTokenRefreshed logs when a token pair is rotated
func (a *Auditor) LogTokenRefreshed(userID, clientID, audience string) {
	a.LogEvent(Event{
		Type:     EventTokenRefreshed,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"audience": audience,
			"rotated":  true,
		},
	})
}

// LogGrantDenied logs a folded protocol denial. The reason stays in the
// audit log only; it is never surfaced to the caller.
func (a *Auditor) LogGrantDenied(userID, clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventGrantDenied,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventAuthFailure,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogClientLifecycle logs a client registration lifecycle event
// (registered, updated, reset, deleted).
func (a *Auditor) LogClientLifecycle(eventType, clientID string) {
	a.LogEvent(Event{
		Type:     eventType,
		ClientID: clientID,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
