package server

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Demo credentials accepted by DemoCredentials.
const (
	DemoUsername = "demo_user"
	DemoPassword = "demo_password"
)

// CredentialVerifier checks a username and password. It is kept apart from
// the login page so that CompleteLogin only sees the verdict.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) bool
}

// StaticCredentials verifies against a fixed set of users whose passwords
// are held as bcrypt hashes.
type StaticCredentials struct {
	users map[string][]byte
}

var _ CredentialVerifier = (*StaticCredentials)(nil)

// NewStaticCredentials hashes the given plaintext passwords.
func NewStaticCredentials(users map[string]string) (*StaticCredentials, error) {
	c := &StaticCredentials{users: make(map[string][]byte, len(users))}
	for username, password := range users {
		if username == "" {
			return nil, fmt.Errorf("username cannot be empty")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password for %s: %w", username, err)
		}
		c.users[username] = hash
	}
	return c, nil
}

// DemoCredentials accepts demo_user / demo_password only.
func DemoCredentials() *StaticCredentials {
	c, err := NewStaticCredentials(map[string]string{DemoUsername: DemoPassword})
	if err != nil {
		panic(err)
	}
	return c
}

// VerifyCredentials reports whether password matches the stored hash for
// username. Unknown users are compared against a dummy hash.
func (c *StaticCredentials) VerifyCredentials(_ context.Context, username, password string) bool {
	hash, ok := c.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummySecretHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
