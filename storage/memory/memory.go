package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/internal/util"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/storage"
)

const (
	// DefaultCleanupInterval is how often expired pending authorizations and
	// codes are swept.
	DefaultCleanupInterval = time.Minute

	// tokenIDLogLength is the number of characters logged for secrets
	tokenIDLogLength = 8
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client
	pending map[string]*storage.PendingAuthorization
	codes   map[string]*storage.AuthorizationCode
	tokens  map[string]*storage.AccessToken

	now func() time.Time

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters let metric collection run without taking the lock.
	clientsCount atomic.Int64
	pendingCount atomic.Int64
	codesCount   atomic.Int64
	tokensCount  atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore               = (*Store)(nil)
	_ storage.PendingAuthorizationStore = (*Store)(nil)
	_ storage.AuthorizationCodeStore    = (*Store)(nil)
	_ storage.AccessTokenStore          = (*Store)(nil)
	_ storage.FlowStore                 = (*Store)(nil)
)

// New creates a store that sweeps expired entries every minute.
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a store with a custom sweep interval.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		pending:         make(map[string]*storage.PendingAuthorization),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.AccessToken),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the clock used by the sweeper.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.syncCountersLocked()
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizeCallbacks{
		Tokens:                s.tokensCount.Load,
		Clients:               s.clientsCount.Load,
		PendingAuthorizations: s.pendingCount.Load,
		AuthorizationCodes:    s.codesCount.Load,
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) syncCountersLocked() {
	s.clientsCount.Store(int64(len(s.clients)))
	s.pendingCount.Store(int64(len(s.pending)))
	s.codesCount.Store(int64(len(s.codes)))
	s.tokensCount.Store(int64(len(s.tokens)))
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired pending authorizations and authorization codes.
// Access tokens are left alone; the engine purges them when it sees them
// expired.
func (s *Store) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for state, p := range s.pending {
		if security.IsExpiredAt(now, p.ExpiresAt) {
			delete(s.pending, state)
			cleaned++
		}
	}
	for code, c := range s.codes {
		if security.IsExpiredAt(now, c.ExpiresAt) {
			delete(s.codes, code)
			cleaned++
		}
	}

	s.syncCountersLocked()

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired flow entries", "count", cleaned)
	}
	return cleaned
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation))
	instrumentation.AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}

// observe wraps a storage operation with a span and a metric.
func (s *Store) observe(ctx context.Context, operation string) (context.Context, func(error)) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, operation)
	return ctx, func(err error) {
		s.recordStorageOperation(ctx, span, operation, err, startTime)
		if s.tracer != nil {
			span.End()
		}
	}
}

func logPrefix(secret string) string {
	return util.SafeTruncate(secret, tokenIDLogLength)
}
