// Package server implements the core authorization server logic.
//
// The Server type carries four engines behind one API:
//   - Grants: authorization codes and implicit tokens for users who have
//     approved access (GrantCode, GrantImplicitToken, CheckImmediateApproval)
//   - Exchanges: the token endpoint grants that redeem credentials for
//     access/refresh token pairs (ExchangeCode, ExchangePassword,
//     ExchangeClientCredentials, ExchangeRefreshToken)
//   - Introspection and revocation (Introspect, RevokeToken)
//   - Client lifecycle management (RegisterClient through
//     DeleteClientRegistration)
//
// The server holds no locks and no protocol state. Every uniqueness
// guarantee (one live token per client/user/audience relation, single-use
// codes, single refresh token per access token) is delegated to the
// storage layer's insert-time unique indexes, and every check the engines
// perform before an insert is advisory: races are resolved by the store
// and surface as the same errors the pre-checks produce.
//
// All credential failures on the grant and exchange paths fold into one
// opaque access_denied error so callers cannot probe which part of a
// credential was wrong.
package server
