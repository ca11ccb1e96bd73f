// Package security holds the security plumbing shared by the authorization
// server and the resource server: audit logging with hashed identities,
// response security headers, client IP extraction, request IDs, expiry
// checks and AES-256-GCM encryption of records at rest.
//
// # Audit Logging
//
// The Auditor writes one structured slog record per security event. User
// names are hashed before logging so audit logs do not carry PII:
//
//	auditor := security.NewAuditor(logger, true)
//	auditor.LogLoginFailed(username, clientID, ip)
//
// # Expiry
//
// IsExpiredAt treats the instant of expiry as already expired: a record with
// ExpiresAt == now is no longer valid.
//
// # Encryption
//
//	key, _ := security.KeyFromBase64(os.Getenv("MCP_AUTHFLOW_ENCRYPTION_KEY"))
//	enc, err := security.NewEncryptor(key)
//	sealed, err := enc.Seal(plaintext, []byte("code:"+code))
//
// The associated data binds a ciphertext to the key it is stored under, so a
// value copied to another key fails to decrypt.
package security
