package authcore

// Wire values for the token endpoint grant_type parameter (RFC 6749)
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
)

// Wire values for the authorize endpoint response_type parameter
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

const tokenTypeBearer = "Bearer"
