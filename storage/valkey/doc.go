// Package valkey provides a Valkey storage backend. Valkey is wire-compatible
// with Redis, so any Redis 6+ server works as well.
//
// Use it when more than one authorization server instance must share clients,
// flows and tokens.
//
// # Key Schema
//
// All keys use a configurable prefix (default "mcp:"):
//
//	{prefix}client:{clientID}   -> JSON(Client)
//	{prefix}pending:{state}     -> JSON(PendingAuthorization), TTL to ExpiresAt
//	{prefix}code:{code}         -> JSON(AuthorizationCode), TTL to ExpiresAt
//	{prefix}token:{token}       -> JSON(AccessToken), TTL to ExpiresAt
//
// # Atomic Operations
//
// ConsumePendingAuthorization and ClaimAuthorizationCode run a Lua
// get-and-delete script, so of several concurrent callers exactly one gets
// the record. SaveAuthorizationCode uses SET NX so a live code is never
// overwritten.
//
// # Encryption at Rest
//
// With SetEncryptor every value is sealed with AES-256-GCM before it is
// written. The Valkey key is used as associated data, so a value moved to a
// different key will not decrypt.
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "mcp:",
//	})
//	if err != nil { ... }
//	defer store.Close()
package valkey
