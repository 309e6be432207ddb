// Package authcore implements an embeddable OAuth 2.0 authorization server
// core: the grant and exchange protocol engine plus the token lifecycle
// store behind it.
//
// The package covers the classic RFC 6749 grants (authorization code,
// implicit, resource owner password, client credentials) with single-use
// refresh token rotation, RFC 7662 introspection, RFC 7009 revocation, and
// dynamic client registration with full lifecycle management.
//
// Two invariants shape the design. A client holds at most one live token
// per user and audience, and an authorization code or refresh token works
// exactly once. Both are enforced by unique indexes in the storage layer
// rather than application locks, so concurrent requests race safely: the
// loser of a race gets the same duplicate_token or access_denied answer a
// sequential request would have gotten.
//
// The Server type in the server package carries the protocol logic; this
// package re-exports it alongside a thin HTTP adapter. The embedding
// application owns user authentication and consent UI, calls the grant
// operations with the authenticated user's ID, and exposes the token
// endpoints however it likes.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := authcore.New(store, store, store, store, &authcore.Config{
//	    Issuer:     "https://auth.example.com",
//	    SigningKey: signingKey,
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	handler := authcore.NewHandler(srv, logger)
//	mux := http.NewServeMux()
//	handler.RegisterRoutes(mux)
package authcore
