package authcore

import (
	"github.com/arcwell/authcore/server"
)

// Re-exported core types so embedders only import the root package for the
// common path.
type (
	// Server is the authorization server core
	Server = server.Server

	// Config holds authorization server configuration
	Config = server.Config

	// Error is a protocol error with a wire code and HTTP status
	Error = server.Error

	// Introspection is an RFC 7662 introspection response
	Introspection = server.Introspection

	// ClientUpdate carries the mutable client registration fields
	ClientUpdate = server.ClientUpdate
)

// New creates a new authorization server
var New = server.New

// ConfigFromEnv builds a Config from AUTHCORE_* environment variables
var ConfigFromEnv = server.ConfigFromEnv

// TokenResponse is the token endpoint success body (RFC 6749 section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ErrorResponse is the error body for every endpoint (RFC 6749 section 5.2)
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// AuthorizationResponse is returned by the authorize endpoint. Exactly one
// of Code or AccessToken is set depending on the response type.
type AuthorizationResponse struct {
	Code        string `json:"code,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
	State       string `json:"state,omitempty"`
}

// ClientRegistrationRequest is the JSON body for client registration
type ClientRegistrationRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
	HostURI      string   `json:"host_uri,omitempty"`
	AudienceID   string   `json:"audience_id,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// ClientRegistrationResponse is the JSON body returned on registration and
// client reads. Secret and RegistrationAccessToken are only populated when
// they have just been generated.
type ClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	HostURI                 string   `json:"host_uri,omitempty"`
	AudienceID              string   `json:"audience_id"`
	Scopes                  []string `json:"scopes,omitempty"`
	RegistrationAccessToken string   `json:"registration_access_token,omitempty"`
}
