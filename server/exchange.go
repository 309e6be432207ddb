package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/arcwell/authcore/internal/util"
	"github.com/arcwell/authcore/scope"
	"github.com/arcwell/authcore/security"
	"github.com/arcwell/authcore/storage"
)

// ExchangeCode redeems an authorization code for an access/refresh token
// pair. The code is consumed by deletion before any further validation, so
// two racing exchanges of the same code cannot both succeed: the loser sees
// the code gone and is denied.
func (s *Server) ExchangeCode(ctx context.Context, codeValue, clientID, clientSecret, redirectURI string) (*oauth2.Token, error) {
	if codeValue == "" {
		return nil, ErrInvalidParameter("code is required")
	}
	if redirectURI == "" {
		return nil, ErrInvalidParameter("redirect_uri is required")
	}

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	code, err := s.tokenStore.GetAuthorizationCode(ctx, codeValue)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.denyGrant("", clientID, storage.GrantTypeCode, "unknown_code")
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to load authorization code", "error", err)
		return nil, ErrInternal("storage failure")
	}

	// Claim the code before validating anything else. Single use is
	// enforced by the delete: a replay finds the code gone.
	if err := s.tokenStore.DeleteAuthorizationCode(ctx, codeValue); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.denyGrant(code.UserID, clientID, storage.GrantTypeCode, "code_replayed")
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to consume authorization code", "error", err)
		return nil, ErrInternal("storage failure")
	}

	if code.ClientID != client.ID {
		s.denyGrant(code.UserID, clientID, storage.GrantTypeCode, "code_client_mismatch")
		return nil, ErrGrantDenied
	}
	if code.RedirectURI != redirectURI {
		s.denyGrant(code.UserID, clientID, storage.GrantTypeCode, "redirect_uri_mismatch")
		return nil, ErrGrantDenied
	}
	if security.IsExpiredWithGracePeriod(code.ExpireAt, time.Duration(s.Config.ClockSkewGracePeriod)*time.Second) {
		s.denyGrant(code.UserID, clientID, storage.GrantTypeCode, "code_expired")
		return nil, ErrGrantDenied
	}

	return s.issueTokens(ctx, client.ID, code.UserID, code.Audience, code.Scopes, storage.GrantTypeCode, true)
}

// ExchangePassword implements the resource owner password credentials
// grant. The client authenticates with its secret and presents the user's
// username and password directly.
func (s *Server) ExchangePassword(ctx context.Context, clientID, clientSecret, username, password string, scopes []string, audience string) (*oauth2.Token, error) {
	if audience == "" {
		return nil, ErrInvalidParameter("audience is required")
	}

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	user, err := s.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn a hash comparison so unknown usernames take as long
			// as wrong passwords.
			security.VerifyPassword("", password)
			s.denyGrant("", clientID, storage.GrantTypePassword, "unknown_user")
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to load user", "error", err)
		return nil, ErrInternal("storage failure")
	}

	if !security.VerifyPassword(user.PasswordHash, password) {
		s.denyGrant(user.ID, clientID, storage.GrantTypePassword, "invalid_password")
		return nil, ErrGrantDenied
	}

	resolved, err := s.resolver.Resolve(ctx, scopes, audience)
	if err != nil {
		s.Logger.Error("Failed to resolve scopes", "audience", audience, "error", err)
		return nil, ErrInternal("storage failure")
	}

	return s.issueTokens(ctx, client.ID, user.ID, audience, scope.Values(resolved), storage.GrantTypePassword, true)
}

// ExchangeClientCredentials implements the client credentials grant. The
// token is bound to the client alone; no user participates and no refresh
// token is issued, since the client can simply authenticate again.
func (s *Server) ExchangeClientCredentials(ctx context.Context, clientID, clientSecret string, scopes []string, audience string) (*oauth2.Token, error) {
	if audience == "" {
		return nil, ErrInvalidParameter("audience is required")
	}

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolver.Resolve(ctx, scopes, audience)
	if err != nil {
		s.Logger.Error("Failed to resolve scopes", "audience", audience, "error", err)
		return nil, ErrInternal("storage failure")
	}

	return s.issueTokens(ctx, client.ID, "", audience, scope.Values(resolved), storage.GrantTypeClientCredentials, false)
}

// ExchangeRefreshToken rotates a refresh token: the presented token and its
// access token are revoked and a fresh pair with the same user, audience,
// and scopes is issued. A refresh token therefore works exactly once.
func (s *Server) ExchangeRefreshToken(ctx context.Context, refreshValue, clientID, clientSecret string) (*oauth2.Token, error) {
	if refreshValue == "" {
		return nil, ErrInvalidParameter("refresh_token is required")
	}

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	refresh, err := s.tokenStore.GetRefreshToken(ctx, refreshValue)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.denyGrant("", clientID, "refresh_token", "unknown_refresh_token")
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to load refresh token", "error", err)
		return nil, ErrInternal("storage failure")
	}

	old, err := s.tokenStore.GetAccessTokenByID(ctx, refresh.AccessTokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.denyGrant("", clientID, "refresh_token", "dangling_refresh_token")
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to load access token", "error", err)
		return nil, ErrInternal("storage failure")
	}

	if old.ClientID != client.ID {
		s.denyGrant(old.UserID, clientID, "refresh_token", "refresh_client_mismatch")
		return nil, ErrGrantDenied
	}

	// Client-credentials tokens are never issued with a refresh token, so
	// any refresh token pointing at one is forged or a store defect.
	if old.GrantType == storage.GrantTypeClientCredentials {
		s.denyGrant(old.UserID, clientID, "refresh_token", "client_credentials_not_refreshable")
		return nil, ErrGrantDenied
	}

	if security.IsExpiredWithGracePeriod(refresh.ExpireAt, time.Duration(s.Config.ClockSkewGracePeriod)*time.Second) {
		// Expired but unswept. Revoke the pair so it cannot linger.
		if err := s.tokenStore.DeleteAccessToken(ctx, old.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Warn("Failed to revoke expired token pair", "token_id", old.ID, "error", err)
		}
		s.denyGrant(old.UserID, clientID, "refresh_token", "refresh_token_expired")
		return nil, ErrGrantDenied
	}

	// Rotation: revoke the old pair first so the relation index is free
	// for the replacement. The refresh token cascades with its access
	// token.
	if err := s.tokenStore.DeleteAccessToken(ctx, old.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// A concurrent rotation won the race.
			s.denyGrant(old.UserID, clientID, "refresh_token", "refresh_token_replayed")
			return nil, ErrGrantDenied
		}
		s.Logger.Error("Failed to revoke rotated token", "token_id", old.ID, "error", err)
		return nil, ErrInternal("storage failure")
	}

	tok, err := s.issueTokens(ctx, client.ID, old.UserID, old.Audience, old.Scopes, old.GrantType, true)
	if err != nil {
		return nil, err
	}

	if s.auditAllowed(clientID) {
		s.Auditor.LogTokenRefreshed(old.UserID, clientID, old.Audience)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenRefreshed(ctx, clientID)
	}

	return tok, nil
}

// issueTokens mints an access token (and optionally a refresh token) for
// the relation and returns the pair as an oauth2.Token. A duplicate on the
// relation index converges to the same duplicate_token error as the
// advisory pre-check on the grant path.
func (s *Server) issueTokens(ctx context.Context, clientID, userID, audience string, scopes []string, grantType string, withRefresh bool) (*oauth2.Token, error) {
	now := time.Now()
	expireAt := now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second)

	subject := userID
	if subject == "" {
		subject = clientID
	}

	value, err := s.codec.Encode(subject, audience, clientID, scopes, now, expireAt)
	if err != nil {
		s.Logger.Error("Failed to encode access token", "error", err)
		return nil, ErrInternal("token encoding failure")
	}

	access := &storage.AccessToken{
		ID:        uuid.NewString(),
		Value:     value,
		ClientID:  clientID,
		UserID:    userID,
		Audience:  audience,
		Scopes:    scopes,
		GrantType: grantType,
		CreatedAt: now,
		ExpireAt:  expireAt,
	}

	err = s.tokenStore.CreateAccessToken(ctx, access)
	if err != nil && storage.IsDuplicateKey(err) {
		// The relation may still be occupied by an expired row the sweep
		// has not collected. Evict it and retry once; a live occupant
		// stays a duplicate.
		if s.evictExpiredToken(ctx, clientID, userID, audience) {
			err = s.tokenStore.CreateAccessToken(ctx, access)
		}
	}
	if err != nil {
		if storage.IsDuplicateKey(err) {
			s.recordDuplicateToken(ctx, clientID)
			return nil, ErrDuplicateToken("client already holds a token for this user and audience")
		}
		s.Logger.Error("Failed to save access token", "error", err)
		return nil, ErrInternal("storage failure")
	}

	tok := &oauth2.Token{
		AccessToken: value,
		TokenType:   "Bearer",
		Expiry:      expireAt,
	}

	if withRefresh {
		refresh := &storage.RefreshToken{
			Value:         security.GenerateOpaqueToken(security.DefaultRefreshTokenLength),
			AccessTokenID: access.ID,
			CreatedAt:     now,
			ExpireAt:      now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
		}
		if err := s.tokenStore.CreateRefreshToken(ctx, refresh); err != nil {
			// Roll back the access token so the pair stays consistent.
			if delErr := s.tokenStore.DeleteAccessToken(ctx, access.ID); delErr != nil {
				s.Logger.Error("Failed to roll back access token", "token_id", access.ID, "error", delErr)
			}
			s.Logger.Error("Failed to save refresh token", "error", err)
			return nil, ErrInternal("storage failure")
		}
		tok.RefreshToken = refresh.Value
	}

	if s.auditAllowed(clientID) {
		s.Auditor.LogTokenIssued(userID, clientID, audience, grantType)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenIssued(ctx, clientID, grantType)
	}

	s.Logger.Info("Issued access token",
		"token_id", access.ID,
		"client_id", clientID,
		"audience", audience,
		"grant_type", grantType,
		"with_refresh", withRefresh,
		"token_prefix", util.SafeTruncate(value, 8))
	return tok, nil
}

// evictExpiredToken removes an expired access token still occupying the
// (client, user, audience) relation ahead of the background sweep. An
// attached refresh token cascades with it. Reports whether a row was
// removed.
func (s *Server) evictExpiredToken(ctx context.Context, clientID, userID, audience string) bool {
	existing, err := s.tokenStore.FindAccessToken(ctx, clientID, userID, audience)
	if err != nil {
		return false
	}
	if !security.IsExpiredWithGracePeriod(existing.ExpireAt, time.Duration(s.Config.ClockSkewGracePeriod)*time.Second) {
		return false
	}
	if err := s.tokenStore.DeleteAccessToken(ctx, existing.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.Logger.Warn("Failed to evict expired token", "token_id", existing.ID, "error", err)
		return false
	}
	return true
}
