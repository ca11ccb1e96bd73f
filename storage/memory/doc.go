// Package memory provides an in-memory implementation of every store in
// package storage.
//
// Records live in maps guarded by a single sync.RWMutex; get-and-delete
// operations (ConsumePendingAuthorization, ClaimAuthorizationCode) run
// under the write lock, which makes them atomic with respect to each other.
// A background loop sweeps expired pending authorizations and authorization
// codes. Access tokens are expired lazily by the authorization engine.
//
// State is lost on restart. Use storage/valkey to share state between
// instances.
//
//	store := memory.New()
//	defer store.Stop()
package memory
