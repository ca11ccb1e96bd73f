// Package resource implements the resource server side of the flow.
//
// The resource server never holds authorization server state. Every bearer
// token is checked with a live call to the authorization server's
// introspection endpoint through IntrospectionVerifier; the result is valid
// for the current request only and is never cached. Any transport failure,
// non-200 status or malformed response is treated as an inactive token.
//
// Server exposes a small tool registry over HTTP:
//
//	GET  /.well-known/oauth-protected-resource   RFC 9728 metadata
//	GET  /tools                                  list tools
//	POST /tools/{name}                           call a tool with JSON arguments
//
// Tools listed in Config.RequireAuthForTools need a bearer token. A missing
// or inactive token yields 401 invalid_token; a token without a tool's
// required scopes yields 403 insufficient_scope.
//
// Example:
//
//	verifier, err := resource.NewIntrospectionVerifier(resource.VerifierConfig{
//	    AuthServerURL: "http://localhost:9000",
//	})
//	if err != nil { ... }
//	srv, err := resource.NewServer(resource.Config{
//	    ResourceURL:   "http://localhost:8000",
//	    AuthServerURL: "http://localhost:9000",
//	    AuthEnabled:   true,
//	}, verifier, resource.NewRegistry(resource.DefaultTools(time.Now)...))
//	if err != nil { ... }
//	http.ListenAndServe(":8000", srv.Routes())
package resource
