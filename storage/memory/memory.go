// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arcwell/authcore/instrumentation"
	"github.com/arcwell/authcore/internal/util"
	"github.com/arcwell/authcore/security"
	"github.com/arcwell/authcore/storage"
)

const (
	// credentialLogLength is the number of characters to include when
	// logging credential values. Enough uniqueness for debugging while
	// keeping logs secure.
	credentialLogLength = 8
)

// ownerKey indexes authorization codes by their (client, user) pair.
type ownerKey struct {
	clientID string
	userID   string
}

// relationKey indexes access tokens by their (client, user, audience) triple.
type relationKey struct {
	clientID string
	userID   string
	audience string
}

// scopeKey indexes scopes by their (value, audience) pair.
type scopeKey struct {
	value      string
	audienceID string
}

// Store is an in-memory implementation of all storage interfaces.
// Uniqueness constraints are enforced at insert time under the write lock,
// which is the store-level atomicity the engines rely on: a racing duplicate
// insert fails with the same DuplicateKeyError a pre-check would produce.
//
// Expired rows are removed by a background sweep; reads deliberately do NOT
// filter on ExpireAt, matching the TTL-index semantics of a document store
// whose sweep has not yet run. Consumers re-check expiry themselves.
type Store struct {
	mu sync.RWMutex

	// Authorization codes, indexed by value and by owner pair
	codes        map[string]*storage.AuthorizationCode
	codesByOwner map[ownerKey]string // (clientID, userID) -> value

	// Access tokens, indexed by ID, value, and relation triple
	tokens           map[string]*storage.AccessToken
	tokensByValue    map[string]string      // value -> ID
	tokensByRelation map[relationKey]string // (clientID, userID, audience) -> ID

	// Refresh tokens, indexed by value and by access token
	refreshTokens        map[string]*storage.RefreshToken
	refreshByAccessToken map[string]string // accessTokenID -> value

	// Clients and their unique secondary indexes
	clients                   map[string]*storage.Client
	clientsBySecret           map[string]string
	clientsByName             map[string]string
	clientsByHostURI          map[string]string
	clientsByRegistrationTok  map[string]string
	clientsByRedirectURI      map[string]string // each URI globally unique

	// Scope definitions
	scopes map[scopeKey]*storage.Scope

	// Users
	users           map[string]*storage.User
	usersByUsername map[string]string

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Atomic counters for metrics (lock-free access during collection)
	codesCountAtomic         atomic.Int64
	tokensCountAtomic        atomic.Int64
	refreshTokensCountAtomic atomic.Int64
	clientsCountAtomic       atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
	_ storage.ScopeStore  = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
)

// New creates a new in-memory store with the default sweep interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom TTL sweep
// interval. If cleanupInterval is 0 or negative, the default of 1 minute
// is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		codes:                    make(map[string]*storage.AuthorizationCode),
		codesByOwner:             make(map[ownerKey]string),
		tokens:                   make(map[string]*storage.AccessToken),
		tokensByValue:            make(map[string]string),
		tokensByRelation:         make(map[relationKey]string),
		refreshTokens:            make(map[string]*storage.RefreshToken),
		refreshByAccessToken:     make(map[string]string),
		clients:                  make(map[string]*storage.Client),
		clientsBySecret:          make(map[string]string),
		clientsByName:            make(map[string]string),
		clientsByHostURI:         make(map[string]string),
		clientsByRegistrationTok: make(map[string]string),
		clientsByRedirectURI:     make(map[string]string),
		scopes:                   make(map[scopeKey]*storage.Scope),
		users:                    make(map[string]*storage.User),
		usersByUsername:          make(map[string]string),
		cleanupInterval:          cleanupInterval,
		stopCleanup:              make(chan struct{}),
		logger:                   slog.Default(),
	}

	// Start background TTL sweep
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
			func() int64 { return s.clientsCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the sweep goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// TokenStore: authorization codes
// ============================================================

// CreateAuthorizationCode inserts a code, enforcing uniqueness of Value and
// of the (ClientID, UserID) owner pair.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "create_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "create_authorization_code", err, startTime)
	}()

	if code == nil || code.Value == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Value]; exists {
		err = &storage.DuplicateKeyError{
			Collection: "authorization_codes",
			Field:      "value",
			Value:      util.SafeTruncate(code.Value, credentialLogLength),
		}
		return err
	}
	owner := ownerKey{clientID: code.ClientID, userID: code.UserID}
	if _, exists := s.codesByOwner[owner]; exists {
		err = &storage.DuplicateKeyError{
			Collection: "authorization_codes",
			Field:      "client_id,user_id",
			Value:      code.ClientID + "," + code.UserID,
		}
		return err
	}

	stored := *code
	s.codes[code.Value] = &stored
	s.codesByOwner[owner] = code.Value
	s.codesCountAtomic.Add(1)

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Value, credentialLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves a code by value. Expired codes are still
// returned until the sweep removes them; callers check ExpireAt.
func (s *Store) GetAuthorizationCode(ctx context.Context, value string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.codes[value]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}

	// Return a copy to prevent callers from modifying the stored version
	codeCopy := *code
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes a code (single-use consumption).
// Returns ErrCodeNotFound if the code was already consumed, which is the
// signal the exchange engine relies on to reject replays.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[value]
	if !ok {
		return storage.ErrCodeNotFound
	}

	delete(s.codes, value)
	delete(s.codesByOwner, ownerKey{clientID: code.ClientID, userID: code.UserID})
	s.codesCountAtomic.Add(-1)

	s.logger.Debug("Deleted authorization code",
		"code_prefix", util.SafeTruncate(value, credentialLogLength))
	return nil
}

// ============================================================
// TokenStore: access tokens
// ============================================================

// CreateAccessToken inserts a token, enforcing uniqueness of ID, Value, and
// the (ClientID, UserID, Audience) relation triple.
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "create_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "create_access_token", err, startTime)
	}()

	if token == nil || token.ID == "" || token.Value == "" {
		err = fmt.Errorf("invalid access token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.ID]; exists {
		err = &storage.DuplicateKeyError{Collection: "access_tokens", Field: "id", Value: token.ID}
		return err
	}
	if _, exists := s.tokensByValue[token.Value]; exists {
		err = &storage.DuplicateKeyError{
			Collection: "access_tokens",
			Field:      "value",
			Value:      util.SafeTruncate(token.Value, credentialLogLength),
		}
		return err
	}
	relation := relationKey{clientID: token.ClientID, userID: token.UserID, audience: token.Audience}
	if _, exists := s.tokensByRelation[relation]; exists {
		err = &storage.DuplicateKeyError{
			Collection: "access_tokens",
			Field:      "client_id,user_id,audience",
			Value:      token.ClientID + "," + token.UserID + "," + token.Audience,
		}
		return err
	}

	stored := *token
	s.tokens[token.ID] = &stored
	s.tokensByValue[token.Value] = token.ID
	s.tokensByRelation[relation] = token.ID
	s.tokensCountAtomic.Add(1)

	s.logger.Debug("Saved access token",
		"token_id", token.ID,
		"client_id", token.ClientID,
		"grant_type", token.GrantType)
	return nil
}

// GetAccessToken retrieves an access token by its signed value
func (s *Store) GetAccessToken(ctx context.Context, value string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokensByValue[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	tokenCopy := *s.tokens[id]
	return &tokenCopy, nil
}

// GetAccessTokenByID retrieves an access token by internal identifier
func (s *Store) GetAccessTokenByID(ctx context.Context, id string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	tokenCopy := *token
	return &tokenCopy, nil
}

// FindAccessToken retrieves the token covering a (client, user, audience)
// relation, or ErrTokenNotFound.
func (s *Store) FindAccessToken(ctx context.Context, clientID, userID, audience string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokensByRelation[relationKey{clientID: clientID, userID: userID, audience: audience}]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	tokenCopy := *s.tokens[id]
	return &tokenCopy, nil
}

// FindAccessTokensByOwner retrieves all tokens held by a (client, user) pair
func (s *Store) FindAccessTokensByOwner(ctx context.Context, clientID, userID string) ([]*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []*storage.AccessToken
	for relation, id := range s.tokensByRelation {
		if relation.clientID == clientID && relation.userID == userID {
			tokenCopy := *s.tokens[id]
			tokens = append(tokens, &tokenCopy)
		}
	}
	return tokens, nil
}

// DeleteAccessToken removes a token by ID and cascades its refresh token
func (s *Store) DeleteAccessToken(ctx context.Context, id string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_access_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		err = storage.ErrTokenNotFound
		return err
	}

	s.deleteAccessTokenLocked(token)
	s.logger.Debug("Deleted access token", "token_id", id)
	return nil
}

// deleteAccessTokenLocked removes a token and its paired refresh token.
// Caller must hold the write lock.
func (s *Store) deleteAccessTokenLocked(token *storage.AccessToken) {
	delete(s.tokens, token.ID)
	delete(s.tokensByValue, token.Value)
	delete(s.tokensByRelation, relationKey{clientID: token.ClientID, userID: token.UserID, audience: token.Audience})
	s.tokensCountAtomic.Add(-1)

	if refreshValue, ok := s.refreshByAccessToken[token.ID]; ok {
		delete(s.refreshTokens, refreshValue)
		delete(s.refreshByAccessToken, token.ID)
		s.refreshTokensCountAtomic.Add(-1)
	}
}

// ============================================================
// TokenStore: refresh tokens
// ============================================================

// CreateRefreshToken inserts a refresh token, enforcing uniqueness of Value
// and AccessTokenID (exactly one refresh token per access token).
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Value == "" || token.AccessTokenID == "" {
		return fmt.Errorf("invalid refresh token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Value]; exists {
		return &storage.DuplicateKeyError{
			Collection: "refresh_tokens",
			Field:      "value",
			Value:      util.SafeTruncate(token.Value, credentialLogLength),
		}
	}
	if _, exists := s.refreshByAccessToken[token.AccessTokenID]; exists {
		return &storage.DuplicateKeyError{
			Collection: "refresh_tokens",
			Field:      "access_token_id",
			Value:      token.AccessTokenID,
		}
	}

	stored := *token
	s.refreshTokens[token.Value] = &stored
	s.refreshByAccessToken[token.AccessTokenID] = token.Value
	s.refreshTokensCountAtomic.Add(1)

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.Value, credentialLogLength),
		"access_token_id", token.AccessTokenID)
	return nil
}

// GetRefreshToken retrieves a refresh token by value
func (s *Store) GetRefreshToken(ctx context.Context, value string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	tokenCopy := *token
	return &tokenCopy, nil
}

// DeleteRefreshToken removes a refresh token (rotation)
func (s *Store) DeleteRefreshToken(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[value]
	if !ok {
		return storage.ErrTokenNotFound
	}

	delete(s.refreshTokens, value)
	delete(s.refreshByAccessToken, token.AccessTokenID)
	s.refreshTokensCountAtomic.Add(-1)

	s.logger.Debug("Deleted refresh token",
		"token_prefix", util.SafeTruncate(value, credentialLogLength))
	return nil
}

// DeleteClientCredentials removes every code, access token, and refresh
// token referencing the client. Refresh tokens cascade with their access
// tokens. Returns the number of credentials removed.
func (s *Store) DeleteClientCredentials(ctx context.Context, clientID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "delete_client_credentials")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_client_credentials", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for value, code := range s.codes {
		if code.ClientID == clientID {
			delete(s.codes, value)
			delete(s.codesByOwner, ownerKey{clientID: code.ClientID, userID: code.UserID})
			s.codesCountAtomic.Add(-1)
			removed++
		}
	}

	for _, token := range s.tokens {
		if token.ClientID == clientID {
			if _, hasRefresh := s.refreshByAccessToken[token.ID]; hasRefresh {
				removed++
			}
			s.deleteAccessTokenLocked(token)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Revoked all credentials for client",
			"client_id", clientID,
			"credentials_removed", removed)
	}
	return removed, nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// CreateClient saves a new client, enforcing uniqueness of ID, Secret,
// Name, HostURI, RegistrationToken, and every redirect URI across the whole
// client population.
func (s *Store) CreateClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "create_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "create_client", err, startTime)
	}()

	if client == nil || client.ID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.checkClientUniquenessLocked(client, ""); err != nil {
		return err
	}

	stored := cloneClient(client)
	s.clients[client.ID] = stored
	s.indexClientLocked(stored)
	s.clientsCountAtomic.Add(1)

	s.logger.Debug("Saved client", "client_id", client.ID, "client_name", client.Name)
	return nil
}

// GetClient retrieves a client by public identifier
func (s *Store) GetClient(ctx context.Context, id string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, id)
		return nil, err
	}

	return cloneClient(client), nil
}

// UpdateClient replaces a stored client, re-enforcing uniqueness of every
// indexed field against the rest of the population.
func (s *Store) UpdateClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.clients[client.ID]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, client.ID)
	}

	if err := s.checkClientUniquenessLocked(client, client.ID); err != nil {
		return err
	}

	s.unindexClientLocked(existing)
	stored := cloneClient(client)
	s.clients[client.ID] = stored
	s.indexClientLocked(stored)

	s.logger.Debug("Updated client", "client_id", client.ID)
	return nil
}

// DeleteClient removes a client registration
func (s *Store) DeleteClient(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, id)
	}

	s.unindexClientLocked(client)
	delete(s.clients, id)
	s.clientsCountAtomic.Add(-1)

	s.logger.Debug("Deleted client", "client_id", id)
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, cloneClient(client))
	}
	return clients, nil
}

// checkClientUniquenessLocked verifies every unique index, ignoring hits on
// selfID (updates). Caller must hold the write lock.
func (s *Store) checkClientUniquenessLocked(client *storage.Client, selfID string) error {
	if owner, exists := s.clients[client.ID]; exists && owner.ID != selfID {
		return &storage.DuplicateKeyError{Collection: "clients", Field: "id", Value: client.ID}
	}
	if owner, exists := s.clientsBySecret[client.Secret]; exists && owner != selfID {
		return &storage.DuplicateKeyError{
			Collection: "clients",
			Field:      "secret",
			Value:      util.SafeTruncate(client.Secret, credentialLogLength),
		}
	}
	if owner, exists := s.clientsByName[client.Name]; exists && owner != selfID {
		return &storage.DuplicateKeyError{Collection: "clients", Field: "name", Value: client.Name}
	}
	if client.HostURI != "" {
		if owner, exists := s.clientsByHostURI[client.HostURI]; exists && owner != selfID {
			return &storage.DuplicateKeyError{Collection: "clients", Field: "host_uri", Value: client.HostURI}
		}
	}
	if owner, exists := s.clientsByRegistrationTok[client.RegistrationToken]; exists && owner != selfID {
		return &storage.DuplicateKeyError{
			Collection: "clients",
			Field:      "registration_token",
			Value:      util.SafeTruncate(client.RegistrationToken, credentialLogLength),
		}
	}
	for _, uri := range client.RedirectURIs {
		if owner, exists := s.clientsByRedirectURI[uri]; exists && owner != selfID {
			return &storage.DuplicateKeyError{Collection: "clients", Field: "redirect_uris", Value: uri}
		}
	}
	return nil
}

// indexClientLocked adds a client to every secondary index.
// Caller must hold the write lock.
func (s *Store) indexClientLocked(client *storage.Client) {
	s.clientsBySecret[client.Secret] = client.ID
	s.clientsByName[client.Name] = client.ID
	if client.HostURI != "" {
		s.clientsByHostURI[client.HostURI] = client.ID
	}
	s.clientsByRegistrationTok[client.RegistrationToken] = client.ID
	for _, uri := range client.RedirectURIs {
		s.clientsByRedirectURI[uri] = client.ID
	}
}

// unindexClientLocked removes a client from every secondary index.
// Caller must hold the write lock.
func (s *Store) unindexClientLocked(client *storage.Client) {
	delete(s.clientsBySecret, client.Secret)
	delete(s.clientsByName, client.Name)
	delete(s.clientsByHostURI, client.HostURI)
	delete(s.clientsByRegistrationTok, client.RegistrationToken)
	for _, uri := range client.RedirectURIs {
		delete(s.clientsByRedirectURI, uri)
	}
}

func cloneClient(client *storage.Client) *storage.Client {
	clone := *client
	clone.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	clone.Scopes = append([]string(nil), client.Scopes...)
	return &clone
}

// ============================================================
// ScopeStore Implementation
// ============================================================

// CreateScope saves a scope definition, enforcing (Value, AudienceID) uniqueness
func (s *Store) CreateScope(ctx context.Context, scope *storage.Scope) error {
	if scope == nil || scope.Value == "" {
		return fmt.Errorf("invalid scope")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopeKey{value: scope.Value, audienceID: scope.AudienceID}
	if _, exists := s.scopes[key]; exists {
		return &storage.DuplicateKeyError{
			Collection: "scopes",
			Field:      "value,audience_id",
			Value:      scope.Value + "," + scope.AudienceID,
		}
	}

	stored := *scope
	stored.PermittedClients = append([]string(nil), scope.PermittedClients...)
	s.scopes[key] = &stored
	return nil
}

// ListScopesByAudience retrieves all scopes owned by an audience
func (s *Store) ListScopesByAudience(ctx context.Context, audienceID string) ([]*storage.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scopes []*storage.Scope
	for key, scope := range s.scopes {
		if key.audienceID == audienceID {
			scopeCopy := *scope
			scopes = append(scopes, &scopeCopy)
		}
	}
	return scopes, nil
}

// ============================================================
// UserStore Implementation
// ============================================================

// CreateUser saves a user, enforcing Username uniqueness
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return fmt.Errorf("invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return &storage.DuplicateKeyError{Collection: "users", Field: "id", Value: user.ID}
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return &storage.DuplicateKeyError{Collection: "users", Field: "username", Value: user.Username}
	}

	stored := *user
	s.users[user.ID] = &stored
	s.usersByUsername[user.Username] = user.ID
	return nil
}

// GetUser retrieves a user by internal identifier
func (s *Store) GetUser(ctx context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, id)
	}
	userCopy := *user
	return &userCopy, nil
}

// GetUserByUsername retrieves a user by login name
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByUsername[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, username)
	}
	userCopy := *s.users[id]
	return &userCopy, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes rows past their ExpireAt (with clock skew grace period).
// Refresh tokens cascade with their access tokens and are also swept on
// their own expiry.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for value, code := range s.codes {
		if security.IsExpired(code.ExpireAt) {
			delete(s.codes, value)
			delete(s.codesByOwner, ownerKey{clientID: code.ClientID, userID: code.UserID})
			s.codesCountAtomic.Add(-1)
			cleaned++
		}
	}

	for _, token := range s.tokens {
		if security.IsExpired(token.ExpireAt) {
			// Keep the access token row while its refresh token is still
			// live: the refresh exchange dereferences it during rotation.
			if refreshValue, ok := s.refreshByAccessToken[token.ID]; ok {
				if !security.IsExpired(s.refreshTokens[refreshValue].ExpireAt) {
					continue
				}
			}
			s.deleteAccessTokenLocked(token)
			cleaned++
		}
	}

	for value, token := range s.refreshTokens {
		if security.IsExpired(token.ExpireAt) {
			delete(s.refreshTokens, value)
			delete(s.refreshByAccessToken, token.AccessTokenID)
			s.refreshTokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
