package server

import (
	"context"
	"errors"

	"github.com/arcwell/authcore/security"
	"github.com/arcwell/authcore/storage"
)

// redirectURIRegistered reports whether uri is one of the client's
// registered redirect URIs. Exact string match only, no pattern or
// prefix matching.
func redirectURIRegistered(client *storage.Client, uri string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// authenticateClient resolves a client and verifies its secret in constant
// time. Every failure mode returns ErrGrantDenied so callers cannot probe
// which part of the credential was wrong. A missing client still burns a
// comparison against a dummy value to keep timing uniform.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrGrantDenied
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			security.ConstantTimeEquals(clientSecret, clientSecret)
			if s.auditAllowed(clientID) {
				s.Auditor.LogAuthFailure("", clientID, "unknown_client")
			}
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to load client", "client_id", clientID, "error", err)
		return nil, ErrInternal("storage failure")
	}

	if !security.ConstantTimeEquals(client.Secret, clientSecret) {
		if s.auditAllowed(clientID) {
			s.Auditor.LogAuthFailure("", clientID, "invalid_client_secret")
		}
		return nil, ErrGrantDenied
	}

	return client, nil
}

// lookupClient resolves a client for the grant path, where no secret is
// presented. Unknown clients fold into the grant denial.
func (s *Server) lookupClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, ErrInvalidParameter("client_id is required")
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if s.auditAllowed(clientID) {
				s.Auditor.LogAuthFailure("", clientID, "unknown_client")
			}
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to load client", "client_id", clientID, "error", err)
		return nil, ErrInternal("storage failure")
	}

	return client, nil
}
