package valkey

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/internal/util"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "mcp:"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxKeyLength bounds state, code and token values used in keys.
	MaxKeyLength = 512
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// luaGetAndDelete atomically returns and removes a key.
// KEYS[1] = key. Returns nil when the key does not exist.
// GETDEL would do the same but needs Valkey/Redis 6.2.
const luaGetAndDelete = `
local data = redis.call('GET', KEYS[1])
if data then
    redis.call('DEL', KEYS[1])
end
return data
`

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "mcp:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// guards encryptor and instrumentation, which may be set after New
	mu              sync.RWMutex
	encryptor       *security.Encryptor
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks
var (
	_ storage.ClientStore               = (*Store)(nil)
	_ storage.PendingAuthorizationStore = (*Store)(nil)
	_ storage.AuthorizationCodeStore    = (*Store)(nil)
	_ storage.AccessTokenStore          = (*Store)(nil)
	_ storage.FlowStore                 = (*Store)(nil)
)

// New connects to Valkey and verifies the connection with PING.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetEncryptor enables encryption at rest for all values written after the
// call.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Valkey storage")
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Keys
// ============================================================

func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

func (s *Store) pendingKey(state string) string {
	return fmt.Sprintf("%spending:%s", s.prefix, state)
}

func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

func (s *Store) tokenKey(token string) string {
	return fmt.Sprintf("%stoken:%s", s.prefix, token)
}

func validateKeyPart(v string) error {
	if v == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if len(v) > MaxKeyLength {
		return errInputTooLarge
	}
	return nil
}

// ============================================================
// Encoding
// ============================================================

// encode marshals v to JSON and seals it when encryption is enabled. Sealed
// values are base64 encoded so they stay printable in valkey-cli.
func (s *Store) encode(key string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}

	s.mu.RLock()
	enc := s.encryptor
	s.mu.RUnlock()
	if !enc.IsEnabled() {
		return string(data), nil
	}

	sealed, err := enc.Seal(data, []byte(key))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Store) decode(key, raw string, v any) error {
	data := []byte(raw)

	s.mu.RLock()
	enc := s.encryptor
	s.mu.RUnlock()
	if enc.IsEnabled() {
		sealed, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return fmt.Errorf("failed to decode sealed value: %w", err)
		}
		if data, err = enc.Open(sealed, []byte(key)); err != nil {
			return err
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// getAndDelete runs luaGetAndDelete. found is false when the key did not exist.
func (s *Store) getAndDelete(ctx context.Context, key string) (data string, found bool, err error) {
	data, err = s.client.Do(ctx,
		s.client.B().Eval().Script(luaGetAndDelete).
			Numkeys(1).
			Key(key).
			Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return data, true, nil
}

// calculateTTL returns the time left until expiresAt, or 0 if it has passed.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func logPrefix(secret string) string {
	return util.SafeTruncate(secret, tokenIDLogLength)
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) observe(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	tracer, inst := s.tracer, s.instrumentation
	s.mu.RUnlock()

	start := time.Now()
	span := trace.SpanFromContext(ctx)
	if tracer != nil {
		ctx, span = tracer.Start(ctx, "storage."+operation)
		instrumentation.AddStorageAttributes(span, operation, "valkey")
	}

	return ctx, func(err error) {
		if inst == nil {
			return
		}
		result := "success"
		if err != nil {
			result = "error"
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		inst.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Microseconds())/1000)
		if tracer != nil {
			span.End()
		}
	}
}
