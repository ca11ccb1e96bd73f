// Package sqlite provides a persistent client registry on SQLite.
//
// Registered clients survive restarts while flows and tokens stay in memory
// or Valkey. The schema is created on Open.
//
//	clients, err := sqlite.Open(ctx, "file:clients.db?_busy_timeout=5000", logger)
//	if err != nil { ... }
//	defer clients.Close()
package sqlite
