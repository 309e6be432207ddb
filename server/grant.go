package server

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/arcwell/authcore/internal/util"
	"github.com/arcwell/authcore/scope"
	"github.com/arcwell/authcore/security"
	"github.com/arcwell/authcore/storage"
)

// GrantCode issues an authorization code for a user who has approved the
// requested access. The caller is responsible for having authenticated the
// user; this is the back half of the authorization endpoint.
//
// The duplicate-token check here is advisory. The store's unique index on
// the (client, user, audience) relation is the serializing authority, so a
// race that slips past this check still fails at token creation with the
// same duplicate_token error.
func (s *Server) GrantCode(ctx context.Context, clientID, userID, redirectURI string, scopes []string, audience string) (*storage.AuthorizationCode, error) {
	if userID == "" {
		return nil, ErrInvalidParameter("user_id is required")
	}
	if redirectURI == "" {
		return nil, ErrInvalidParameter("redirect_uri is required")
	}
	if audience == "" {
		return nil, ErrInvalidParameter("audience is required")
	}

	client, err := s.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if !redirectURIRegistered(client, redirectURI) {
		s.denyGrant(userID, clientID, storage.GrantTypeCode, "unregistered_redirect_uri")
		return nil, ErrGrantDenied
	}

	if _, err := s.userStore.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.denyGrant(userID, clientID, storage.GrantTypeCode, "unknown_user")
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to load user", "error", err)
		return nil, ErrInternal("storage failure")
	}

	resolved, err := s.resolver.Resolve(ctx, scopes, audience)
	if err != nil {
		s.Logger.Error("Failed to resolve scopes", "audience", audience, "error", err)
		return nil, ErrInternal("storage failure")
	}

	if err := s.checkNoLiveToken(ctx, clientID, userID, audience); err != nil {
		return nil, err
	}

	code := &storage.AuthorizationCode{
		Value:       generateRandomToken(),
		ClientID:    clientID,
		UserID:      userID,
		RedirectURI: redirectURI,
		Scopes:      scope.Values(resolved),
		Audience:    audience,
		CreatedAt:   time.Now(),
		ExpireAt:    time.Now().Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	if err := s.tokenStore.CreateAuthorizationCode(ctx, code); err != nil {
		if storage.IsDuplicateKey(err) {
			s.recordDuplicateToken(ctx, clientID)
			return nil, ErrDuplicateToken("an authorization code for this client and user is already pending")
		}
		s.Logger.Error("Failed to save authorization code", "error", err)
		return nil, ErrInternal("storage failure")
	}

	if s.auditAllowed(clientID) {
		s.Auditor.LogCodeIssued(userID, clientID, audience)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordCodeIssued(ctx, clientID)
	}

	s.Logger.Info("Issued authorization code",
		"code_prefix", util.SafeTruncate(code.Value, 8),
		"client_id", clientID,
		"audience", audience)
	return code, nil
}

// GrantImplicitToken issues an access token directly from the authorization
// endpoint without an intermediate code. No refresh token is issued on this
// path.
func (s *Server) GrantImplicitToken(ctx context.Context, clientID, userID, redirectURI string, scopes []string, audience string) (*oauth2.Token, error) {
	if userID == "" {
		return nil, ErrInvalidParameter("user_id is required")
	}
	if redirectURI == "" {
		return nil, ErrInvalidParameter("redirect_uri is required")
	}
	if audience == "" {
		return nil, ErrInvalidParameter("audience is required")
	}

	client, err := s.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if !redirectURIRegistered(client, redirectURI) {
		s.denyGrant(userID, clientID, storage.GrantTypeImplicit, "unregistered_redirect_uri")
		return nil, ErrGrantDenied
	}

	if _, err := s.userStore.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.denyGrant(userID, clientID, storage.GrantTypeImplicit, "unknown_user")
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to load user", "error", err)
		return nil, ErrInternal("storage failure")
	}

	resolved, err := s.resolver.Resolve(ctx, scopes, audience)
	if err != nil {
		s.Logger.Error("Failed to resolve scopes", "audience", audience, "error", err)
		return nil, ErrInternal("storage failure")
	}

	return s.issueTokens(ctx, clientID, userID, audience, scope.Values(resolved), storage.GrantTypeImplicit, false)
}

// CheckImmediateApproval reports whether the client already holds a live
// token for this user and audience with exactly the requested scopes.
// When true, the authorization endpoint can skip the consent screen.
//
// Scope comparison is order-independent but duplicate-sensitive, so a
// request repeating a scope never matches an existing single-scope token.
func (s *Server) CheckImmediateApproval(ctx context.Context, clientID, userID, audience string, scopes []string) (bool, error) {
	if clientID == "" || userID == "" || audience == "" {
		return false, ErrInvalidParameter("client_id, user_id, and audience are required")
	}

	existing, err := s.tokenStore.FindAccessToken(ctx, clientID, userID, audience)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		s.Logger.Error("Failed to look up access token", "error", err)
		return false, ErrInternal("storage failure")
	}

	if security.IsExpiredWithGracePeriod(existing.ExpireAt, time.Duration(s.Config.ClockSkewGracePeriod)*time.Second) {
		return false, nil
	}

	resolved, err := s.resolver.Resolve(ctx, scopes, audience)
	if err != nil {
		s.Logger.Error("Failed to resolve scopes", "audience", audience, "error", err)
		return false, ErrInternal("storage failure")
	}

	return scope.SetEqual(existing.Scopes, scope.Values(resolved)), nil
}

// checkNoLiveToken is the advisory pre-check for the one-token-per-relation
// invariant. An expired but unswept token does not block issuance.
func (s *Server) checkNoLiveToken(ctx context.Context, clientID, userID, audience string) error {
	existing, err := s.tokenStore.FindAccessToken(ctx, clientID, userID, audience)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		s.Logger.Error("Failed to look up access token", "error", err)
		return ErrInternal("storage failure")
	}

	if security.IsExpiredWithGracePeriod(existing.ExpireAt, time.Duration(s.Config.ClockSkewGracePeriod)*time.Second) {
		return nil
	}

	s.recordDuplicateToken(ctx, clientID)
	return ErrDuplicateToken("client already holds a token for this user and audience")
}

// denyGrant records a grant denial in the audit log and metrics
func (s *Server) denyGrant(userID, clientID, grantType, reason string) {
	if s.auditAllowed(clientID) {
		s.Auditor.LogGrantDenied(userID, clientID, reason)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordGrantDenied(context.Background(), grantType)
	}
}

// recordDuplicateToken records a duplicate-token rejection in the audit log
// and metrics
func (s *Server) recordDuplicateToken(ctx context.Context, clientID string) {
	if s.auditAllowed(clientID) {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventDuplicateToken,
			ClientID: clientID,
		})
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordDuplicateToken(ctx, clientID)
	}
}
