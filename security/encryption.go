package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/mcp-authflow/instrumentation"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrDecrypt is returned when a ciphertext cannot be opened, either because
// it was tampered with or because it was sealed under a different key or
// associated data.
var ErrDecrypt = errors.New("failed to decrypt")

// Encryptor seals records at rest with AES-256-GCM. A disabled Encryptor
// (nil key) passes data through unchanged.
type Encryptor struct {
	aead    cipher.AEAD
	metrics *instrumentation.Metrics
}

// NewEncryptor creates an encryptor. An empty key disables encryption; any
// other key must be exactly 32 bytes.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return &Encryptor{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// SetMetrics records encrypt and decrypt timings.
func (e *Encryptor) SetMetrics(m *instrumentation.Metrics) {
	e.metrics = m
}

// IsEnabled returns true if encryption is enabled
func (e *Encryptor) IsEnabled() bool {
	return e != nil && e.aead != nil
}

// Seal encrypts plaintext and binds it to associatedData. The output layout
// is nonce || ciphertext.
func (e *Encryptor) Seal(plaintext, associatedData []byte) ([]byte, error) {
	if !e.IsEnabled() {
		return plaintext, nil
	}
	start := time.Now()
	defer e.record("encrypt", start)

	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, associatedData), nil
}

// Open reverses Seal.
func (e *Encryptor) Open(sealed, associatedData []byte) ([]byte, error) {
	if !e.IsEnabled() {
		return sealed, nil
	}
	start := time.Now()
	defer e.record("decrypt", start)

	n := e.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plaintext, err := e.aead.Open(nil, sealed[:n], sealed[n:], associatedData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (e *Encryptor) record(op string, start time.Time) {
	e.metrics.RecordEncryptionOperation(context.Background(), op, float64(time.Since(start).Microseconds())/1000)
}

// GenerateKey generates a new 32-byte encryption key for AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded encryption key
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// KeyToBase64 encodes an encryption key to base64
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
