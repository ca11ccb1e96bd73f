// Package storage defines the records and store interfaces behind the
// authorization server: registered clients, pending authorizations,
// authorization codes and access tokens.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-process storage, the default for a single instance
//   - storage/valkey: Valkey/Redis-compatible storage shared between instances
//   - storage/sqlite: persistent client registry
//   - storage/mock: function-field mocks for failure injection in tests
//
// Stores only persist records. Expiry decisions for tokens and codes are made
// by the authorization engine with its own clock; stores may drop expired
// records early (TTL keys, background sweeps) but never keep them alive.
package storage
