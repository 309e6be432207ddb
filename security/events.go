package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Token lifecycle events

	// EventCodeIssued is logged when an authorization code is granted
	EventCodeIssued = "authorization_code_issued"

	// EventTokenIssued is logged when a new access token is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is rotated via a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked = "token_revoked"

	// EventDuplicateToken is logged when issuance is rejected because a live
	// token already covers the (client, user, audience) relationship
	EventDuplicateToken = "duplicate_token_rejected" //nolint:gosec // G101: event type name, not a credential

	// Grant/exchange protocol events

	// EventGrantDenied is logged when an exchange is folded into the generic
	// denial outcome (bad code, bad redirect URI, bad credentials)
	EventGrantDenied = "grant_denied"

	// EventAuthFailure is logged when authentication fails (wrong credentials, etc.)
	EventAuthFailure = "auth_failure"

	// Client lifecycle events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientUpdated is logged when a client registration is modified
	EventClientUpdated = "client_updated"

	// EventClientReset is logged when a client's secret and registration token
	// are regenerated and its outstanding credentials revoked
	EventClientReset = "client_reset"

	// EventClientDeleted is logged when a client registration is removed
	EventClientDeleted = "client_deleted"

	// EventClientRegistrationRejected is logged when registration is rejected
	// (uniqueness conflict, invalid redirect URI)
	EventClientRegistrationRejected = "client_registration_rejected"

	// Introspection events

	// EventTokenIntrospected is logged when a token is introspected
	EventTokenIntrospected = "token_introspected"
)
