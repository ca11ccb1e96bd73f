package security

// Audit event types.
const (
	EventClientRegistered           = "client_registered"
	EventClientRegistrationRejected = "client_registration_rejected"

	EventAuthorizationStarted  = "authorization_started"
	EventAuthorizationRejected = "authorization_rejected"

	// EventLoginFailed is logged when the login form credentials are wrong
	EventLoginFailed = "login_failed"

	// EventLoginUnknownState is logged when the login callback carries a
	// state that is unknown, consumed or expired
	EventLoginUnknownState = "login_unknown_state"

	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when a claim for a code
	// loses, which means the code was presented twice
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	EventInvalidGrant = "invalid_grant"
	EventInvalidPKCE  = "invalid_pkce"

	// EventClientAuthFailed is logged when token endpoint client
	// authentication fails
	EventClientAuthFailed = "client_auth_failed"

	EventTokenIssued  = "token_issued"
	EventTokenRevoked = "token_revoked"

	// EventTokenRevocationRejected is logged when an authenticated client
	// asks to revoke a token issued to another client
	EventTokenRevocationRejected = "token_revocation_rejected"

	// EventIntrospectionUnauthorized is logged when a resource server calls
	// introspection with wrong credentials
	EventIntrospectionUnauthorized = "introspection_unauthorized"
)
