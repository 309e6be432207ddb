package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Grant type values recorded on issued access tokens.
const (
	GrantTypeCode              = "code"
	GrantTypeImplicit          = "token"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
)

// Sentinel errors returned by storage implementations.
// Callers match these with errors.Is to distinguish storage outcomes.
var (
	// ErrNotFound indicates the requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrClientNotFound indicates no client exists for the given identifier
	ErrClientNotFound = fmt.Errorf("client %w", ErrNotFound)

	// ErrUserNotFound indicates no user exists for the given identifier
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

	// ErrCodeNotFound indicates no authorization code exists for the given value
	ErrCodeNotFound = fmt.Errorf("authorization code %w", ErrNotFound)

	// ErrTokenNotFound indicates no access or refresh token exists for the given value
	ErrTokenNotFound = fmt.Errorf("token %w", ErrNotFound)
)

// DuplicateKeyError is returned when an insert or update violates a
// uniqueness constraint. The message names the offending collection, field,
// and value so operators can identify the conflict from logs alone.
type DuplicateKeyError struct {
	Collection string
	Field      string
	Value      string
}

// Error implements the error interface
func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s with %s %q already exists", e.Collection, e.Field, e.Value)
}

// IsDuplicateKey reports whether err is (or wraps) a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var dup *DuplicateKeyError
	return errors.As(err, &dup)
}

// Client represents a registered OAuth client application.
// A client is also addressable as a resource-server audience via AudienceID.
type Client struct {
	ID                string   // public client identifier, unique
	Secret            string   // opaque credential, unique, server generated
	Name              string   // human-readable name, unique
	RedirectURIs      []string // absolute URIs, each globally unique across all clients
	HostURI           string   // client's host origin, unique
	AudienceID        string   // identifies the client as a resource-server audience
	Scopes            []string // scopes the client may grant under client_credentials
	RegistrationToken string   // self-service management credential, unique
	CreatedAt         time.Time
}

// User is a resource owner able to authorize grants and authenticate
// via the password grant. PasswordHash is a bcrypt hash; the plaintext
// password is never stored.
type User struct {
	ID           string
	Username     string // unique
	PasswordHash string
	CreatedAt    time.Time
}

// AuthorizationCode is a single-use credential issued by the authorization
// grant and consumed exactly once by the code exchange.
// At most one live code exists per (ClientID, UserID) pair.
type AuthorizationCode struct {
	Value       string // opaque, unique
	ClientID    string
	UserID      string
	RedirectURI string
	Scopes      []string
	Audience    string
	CreatedAt   time.Time
	ExpireAt    time.Time
}

// AccessToken is an issued access credential. Value carries the signed
// self-describing token; ID is the stable internal identifier refresh
// tokens reference. UserID is empty for client_credentials grants.
// At most one live token exists per (ClientID, UserID, Audience) triple.
type AccessToken struct {
	ID        string // internal identifier, unique
	Value     string // signed token, unique
	ClientID  string
	UserID    string // empty for client_credentials
	Audience  string
	Scopes    []string
	GrantType string
	CreatedAt time.Time
	ExpireAt  time.Time
}

// RefreshToken pairs one-to-one with an access token and outlives it.
// Never issued for client_credentials grants.
type RefreshToken struct {
	Value         string // opaque, unique
	AccessTokenID string // unique, exactly one refresh token per access token
	CreatedAt     time.Time
	ExpireAt      time.Time
}

// Scope is a named permission unit owned by a resource-server audience.
// (Value, AudienceID) is unique.
type Scope struct {
	Value            string
	AudienceID       string
	PermittedClients []string
}

// TokenStore persists the lifecycle of authorization codes, access tokens,
// and refresh tokens. Creates fail with a DuplicateKeyError when a
// uniqueness constraint is violated, so racing inserts converge to the same
// error that the caller's pre-check would have produced.
//
// Expiry is a background guarantee: rows past ExpireAt are eventually
// removed by the sweep, but lookups may still return them before the sweep
// runs. Every consumer must compare ExpireAt against the current time
// before trusting a result.
//
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// CreateAuthorizationCode inserts a code, enforcing uniqueness of
	// Value and of the (ClientID, UserID) pair.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves a code by its opaque value
	GetAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code (single-use consumption)
	DeleteAuthorizationCode(ctx context.Context, value string) error

	// CreateAccessToken inserts a token, enforcing uniqueness of ID, Value,
	// and the (ClientID, UserID, Audience) triple.
	CreateAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token by its signed value
	GetAccessToken(ctx context.Context, value string) (*AccessToken, error)

	// GetAccessTokenByID retrieves an access token by its internal identifier
	GetAccessTokenByID(ctx context.Context, id string) (*AccessToken, error)

	// FindAccessToken retrieves the access token for a (client, user, audience)
	// triple, or ErrTokenNotFound if none exists. UserID is empty for
	// client_credentials tokens.
	FindAccessToken(ctx context.Context, clientID, userID, audience string) (*AccessToken, error)

	// FindAccessTokensByOwner retrieves all access tokens held by a
	// (client, user) pair across audiences.
	FindAccessTokensByOwner(ctx context.Context, clientID, userID string) ([]*AccessToken, error)

	// DeleteAccessToken removes an access token by ID and cascades deletion
	// of its paired refresh token, if any.
	DeleteAccessToken(ctx context.Context, id string) error

	// CreateRefreshToken inserts a refresh token, enforcing uniqueness of
	// Value and AccessTokenID.
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token by its opaque value
	GetRefreshToken(ctx context.Context, value string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token (rotation)
	DeleteRefreshToken(ctx context.Context, value string) error

	// DeleteClientCredentials removes every code, access token, and refresh
	// token referencing the client. Called on client reset and delete.
	// Returns the number of credentials removed.
	DeleteClientCredentials(ctx context.Context, clientID string) (int, error)
}

// ClientStore manages OAuth client registrations. Writes enforce uniqueness
// of ID, Secret, Name, HostURI, RegistrationToken, and of every redirect URI
// across the whole client population.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// CreateClient saves a new client
	CreateClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by public identifier
	GetClient(ctx context.Context, id string) (*Client, error)

	// UpdateClient replaces a stored client, re-enforcing uniqueness
	UpdateClient(ctx context.Context, client *Client) error

	// DeleteClient removes a client registration
	DeleteClient(ctx context.Context, id string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// ScopeStore manages scope definitions per audience.
type ScopeStore interface {
	// CreateScope saves a scope definition, enforcing (Value, AudienceID) uniqueness
	CreateScope(ctx context.Context, scope *Scope) error

	// ListScopesByAudience retrieves all scopes owned by an audience
	ListScopesByAudience(ctx context.Context, audienceID string) ([]*Scope, error)
}

// UserStore resolves resource owners for the password grant.
type UserStore interface {
	// CreateUser saves a user, enforcing Username uniqueness
	CreateUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by internal identifier
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by login name
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}
