package server

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/arcwell/authcore/security"
	"github.com/arcwell/authcore/storage"
)

// maxSecretGenerationAttempts bounds the retry loop when a freshly
// generated secret collides with an existing one. With 48 characters of
// entropy a single collision is already astronomically unlikely.
const maxSecretGenerationAttempts = 3

// ClientUpdate carries the mutable registration fields for UpdateClient.
// Nil slices and empty strings mean "leave unchanged".
type ClientUpdate struct {
	Name         string
	RedirectURIs []string
	HostURI      string
	Scopes       []string
}

// RegisterClient registers a new client and returns it with its generated
// credentials. The returned Secret and RegistrationToken are shown exactly
// once; the caller must persist them.
func (s *Server) RegisterClient(ctx context.Context, name string, redirectURIs []string, hostURI, audienceID string, scopes []string) (*storage.Client, error) {
	if name == "" {
		return nil, ErrInvalidParameter("client name is required")
	}
	if len(redirectURIs) == 0 {
		return nil, ErrInvalidParameter("at least one redirect_uri is required")
	}
	for _, raw := range redirectURIs {
		if err := validateRedirectURI(raw); err != nil {
			if s.auditAllowed(name) {
				s.Auditor.LogEvent(security.Event{
					Type:    security.EventClientRegistrationRejected,
					Details: map[string]any{"redirect_uri": raw, "reason": err.Error()},
				})
			}
			return nil, ErrInvalidParameter("invalid redirect_uri: " + raw)
		}
	}
	if audienceID == "" {
		audienceID = uuid.NewString()
	}

	client := &storage.Client{
		ID:                uuid.NewString(),
		Name:              name,
		RedirectURIs:      slices.Clone(redirectURIs),
		HostURI:           hostURI,
		AudienceID:        audienceID,
		Scopes:            slices.Clone(scopes),
		RegistrationToken: security.GenerateOpaqueToken(s.Config.RegistrationTokenLength),
		CreatedAt:         time.Now(),
	}

	var err error
	for attempt := 0; attempt < maxSecretGenerationAttempts; attempt++ {
		client.Secret = security.GenerateOpaqueToken(s.Config.ClientSecretLength)
		err = s.clientStore.CreateClient(ctx, client)
		if err == nil {
			break
		}
		var dup *storage.DuplicateKeyError
		if errors.As(err, &dup) && dup.Field == "secret" {
			continue
		}
		break
	}
	if err != nil {
		if storage.IsDuplicateKey(err) {
			var dup *storage.DuplicateKeyError
			errors.As(err, &dup)
			return nil, ErrInvalidParameter("client " + dup.Field + " is already registered")
		}
		s.Logger.Error("Failed to save client", "error", err)
		return nil, ErrInternal("storage failure")
	}

	if s.auditAllowed(client.ID) {
		s.Auditor.LogClientLifecycle(security.EventClientRegistered, client.ID)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordClientRegistered(ctx)
	}

	s.Logger.Info("Registered client",
		"client_id", client.ID,
		"client_name", client.Name,
		"audience_id", client.AudienceID)
	return client, nil
}

// GetClientInfo returns a client's registration. The credential is either
// the client's own registration token or an access token carrying the
// manager scope.
func (s *Server) GetClientInfo(ctx context.Context, clientID, credential string) (*storage.Client, error) {
	client, err := s.authorizeManagement(ctx, clientID, credential)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// UpdateClientRegistration applies the non-zero fields of update to a
// client's registration. Credentials (secret, registration token) cannot be
// changed this way; use ResetClientSecret.
func (s *Server) UpdateClientRegistration(ctx context.Context, clientID, credential string, update ClientUpdate) (*storage.Client, error) {
	client, err := s.authorizeManagement(ctx, clientID, credential)
	if err != nil {
		return nil, err
	}

	if update.Name != "" {
		client.Name = update.Name
	}
	if update.RedirectURIs != nil {
		for _, raw := range update.RedirectURIs {
			if err := validateRedirectURI(raw); err != nil {
				return nil, ErrInvalidParameter("invalid redirect_uri: " + raw)
			}
		}
		client.RedirectURIs = slices.Clone(update.RedirectURIs)
	}
	if update.HostURI != "" {
		client.HostURI = update.HostURI
	}
	if update.Scopes != nil {
		client.Scopes = slices.Clone(update.Scopes)
	}

	if err := s.clientStore.UpdateClient(ctx, client); err != nil {
		if storage.IsDuplicateKey(err) {
			var dup *storage.DuplicateKeyError
			errors.As(err, &dup)
			return nil, ErrInvalidParameter("client " + dup.Field + " is already registered")
		}
		s.Logger.Error("Failed to update client", "client_id", clientID, "error", err)
		return nil, ErrInternal("storage failure")
	}

	if s.auditAllowed(clientID) {
		s.Auditor.LogClientLifecycle(security.EventClientUpdated, clientID)
	}
	s.Logger.Info("Updated client", "client_id", clientID)
	return client, nil
}

// ResetClientSecret replaces a client's secret and registration token with
// freshly generated ones and revokes every code, access token, and refresh
// token the client holds. A compromised credential therefore invalidates
// everything minted under it, not just future exchanges.
func (s *Server) ResetClientSecret(ctx context.Context, clientID, credential string) (*storage.Client, error) {
	client, err := s.authorizeManagement(ctx, clientID, credential)
	if err != nil {
		return nil, err
	}

	var updateErr error
	for attempt := 0; attempt < maxSecretGenerationAttempts; attempt++ {
		client.Secret = security.GenerateOpaqueToken(s.Config.ClientSecretLength)
		client.RegistrationToken = security.GenerateOpaqueToken(s.Config.RegistrationTokenLength)
		updateErr = s.clientStore.UpdateClient(ctx, client)
		if updateErr == nil {
			break
		}
		var dup *storage.DuplicateKeyError
		if errors.As(updateErr, &dup) && (dup.Field == "secret" || dup.Field == "registration_token") {
			continue
		}
		break
	}
	if updateErr != nil {
		s.Logger.Error("Failed to reset client credentials", "client_id", clientID, "error", updateErr)
		return nil, ErrInternal("storage failure")
	}

	revoked, err := s.tokenStore.DeleteClientCredentials(ctx, client.ID)
	if err != nil {
		s.Logger.Error("Failed to revoke client credentials", "client_id", clientID, "error", err)
		return nil, ErrInternal("storage failure")
	}

	if s.auditAllowed(clientID) {
		s.Auditor.LogClientLifecycle(security.EventClientReset, clientID)
	}
	s.Logger.Info("Reset client credentials", "client_id", clientID, "credentials_revoked", revoked)
	return client, nil
}

// DeleteClientRegistration removes a client and revokes every code, access
// token, and refresh token it holds.
func (s *Server) DeleteClientRegistration(ctx context.Context, clientID, credential string) error {
	client, err := s.authorizeManagement(ctx, clientID, credential)
	if err != nil {
		return err
	}

	revoked, err := s.tokenStore.DeleteClientCredentials(ctx, client.ID)
	if err != nil {
		s.Logger.Error("Failed to revoke client credentials", "client_id", clientID, "error", err)
		return ErrInternal("storage failure")
	}

	if err := s.clientStore.DeleteClient(ctx, client.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound("client not found")
		}
		s.Logger.Error("Failed to delete client", "client_id", clientID, "error", err)
		return ErrInternal("storage failure")
	}

	if s.auditAllowed(clientID) {
		s.Auditor.LogClientLifecycle(security.EventClientDeleted, clientID)
	}
	s.Logger.Info("Deleted client", "client_id", clientID, "credentials_revoked", revoked)
	return nil
}

// authorizeManagement resolves a client and checks the caller's credential:
// the client's own registration token (compared in constant time), or an
// access token carrying the manager scope. Unknown clients return not_found
// only after the credential shape has been rejected, so an unauthenticated
// caller cannot enumerate client IDs.
func (s *Server) authorizeManagement(ctx context.Context, clientID, credential string) (*storage.Client, error) {
	if clientID == "" {
		return nil, ErrInvalidParameter("client_id is required")
	}
	if credential == "" {
		return nil, ErrUnauthorized("credential is required")
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if s.auditAllowed(clientID) {
				s.Auditor.LogAuthFailure("", clientID, "unknown_client")
			}
			return nil, ErrUnauthorized("invalid credential")
		}
		s.Logger.Error("Failed to load client", "client_id", clientID, "error", err)
		return nil, ErrInternal("storage failure")
	}

	if security.ConstantTimeEquals(client.RegistrationToken, credential) {
		return client, nil
	}

	if err := s.checkManagerToken(ctx, credential); err != nil {
		if s.auditAllowed(clientID) {
			s.Auditor.LogAuthFailure("", clientID, "invalid_management_credential")
		}
		return nil, err
	}
	return client, nil
}

// checkManagerToken verifies that credential is a live access token whose
// scopes include the manager scope.
func (s *Server) checkManagerToken(ctx context.Context, credential string) error {
	claims, err := s.codec.Decode(credential)
	if err != nil {
		return ErrUnauthorized("invalid credential")
	}

	stored, err := s.tokenStore.GetAccessToken(ctx, credential)
	if err != nil {
		return ErrUnauthorized("invalid credential")
	}
	if security.IsExpiredWithGracePeriod(stored.ExpireAt, time.Duration(s.Config.ClockSkewGracePeriod)*time.Second) {
		return ErrUnauthorized("invalid credential")
	}

	if !slices.Contains(claims.Scope, s.Config.ManagerScope) {
		return ErrInsufficientScope("token lacks the " + s.Config.ManagerScope + " scope")
	}
	return nil
}

// validateRedirectURI accepts absolute URIs with a scheme and either a host
// or an opaque part (custom app schemes). Fragments are forbidden per the
// authorization framework.
func validateRedirectURI(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" {
		return errors.New("redirect URI must be absolute")
	}
	if parsed.Host == "" && parsed.Opaque == "" && parsed.Path == "" {
		return errors.New("redirect URI has no authority or path")
	}
	if parsed.Fragment != "" {
		return errors.New("redirect URI must not contain a fragment")
	}
	return nil
}
