// Package testutil provides fixtures shared by tests: a controllable clock,
// PKCE pairs, random strings and sample records.
package testutil
