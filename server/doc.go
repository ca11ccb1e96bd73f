// Package server implements the authorization engine of an OAuth 2.1
// authorization server: the state machine that turns an authorization
// request into a single-use, PKCE-bound authorization code and then into a
// short-lived opaque access token.
//
// Operations:
//   - RegisterClient / GetClient / AuthenticateClient: client registry
//   - Authorize: validate a request and park it as a pending authorization
//   - CompleteLogin: consume the pending authorization and issue a code
//   - ExchangeAuthorizationCode: verify PKCE, claim the code, issue a token
//   - LoadToken: look up a token with lazy expiry
//   - RevokeToken: idempotent removal
//
// Every failure maps to one of the sentinel errors in errors.go. The engine
// is transport agnostic; the root package adapts it to HTTP.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, store, store, &server.Config{
//	    Issuer: "http://localhost:9000",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
