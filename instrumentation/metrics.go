package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization flow metrics
	AuthorizationStarted metric.Int64Counter
	LoginCompleted       metric.Int64Counter
	CodeIssued           metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	CodeExchangeFailed   metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	TokenIntrospected    metric.Int64Counter
	ClientRegistered     metric.Int64Counter

	// Security Metrics
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageSizeTokens        metric.Int64ObservableGauge
	StorageSizeClients       metric.Int64ObservableGauge
	StorageSizePending       metric.Int64ObservableGauge
	StorageSizeCodes         metric.Int64ObservableGauge

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram

	// Resource server metrics
	TokenVerificationsTotal   metric.Int64Counter
	TokenVerificationDuration metric.Float64Histogram
	ToolCallsTotal            metric.Int64Counter
}

type instrumentBuilder struct {
	err error
}

func (b *instrumentBuilder) counter(m metric.Meter, name, desc, unit string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s counter: %w", name, err)
	}
	return c
}

func (b *instrumentBuilder) histogram(m metric.Meter, name, desc string) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := m.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s histogram: %w", name, err)
	}
	return h
}

func (b *instrumentBuilder) gauge(m metric.Meter, name, desc string) metric.Int64ObservableGauge {
	if b.err != nil {
		return nil
	}
	g, err := m.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit("{item}"))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s gauge: %w", name, err)
	}
	return g
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	resourceMeter := inst.Meter("resource")

	b := &instrumentBuilder{}
	m := &Metrics{
		HTTPRequestsTotal:   b.counter(httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"),
		HTTPRequestDuration: b.histogram(httpMeter, "oauth.http.request.duration", "HTTP request duration in milliseconds"),

		AuthorizationStarted: b.counter(serverMeter, "oauth.authorization.started", "Number of authorization requests accepted", "{flow}"),
		LoginCompleted:       b.counter(serverMeter, "oauth.login.completed", "Number of login callbacks processed", "{login}"),
		CodeIssued:           b.counter(serverMeter, "oauth.code.issued", "Number of authorization codes issued", "{code}"),
		CodeExchanged:        b.counter(serverMeter, "oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"),
		CodeExchangeFailed:   b.counter(serverMeter, "oauth.code.exchange_failed", "Number of rejected code exchanges", "{exchange}"),
		TokenRevoked:         b.counter(serverMeter, "oauth.token.revoked", "Number of tokens revoked", "{revocation}"),
		TokenIntrospected:    b.counter(serverMeter, "oauth.token.introspected", "Number of introspection requests", "{request}"),
		ClientRegistered:     b.counter(serverMeter, "oauth.client.registered", "Number of clients registered", "{client}"),

		PKCEValidationFailed: b.counter(securityMeter, "oauth.pkce.validation_failed", "Number of PKCE validation failures", "{failure}"),
		CodeReuseDetected:    b.counter(securityMeter, "oauth.code.reuse_detected", "Number of authorization code reuse attempts", "{attempt}"),

		StorageOperationTotal:    b.counter(storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"),
		StorageOperationDuration: b.histogram(storageMeter, "storage.operation.duration", "Storage operation duration in milliseconds"),
		StorageSizeTokens:        b.gauge(storageMeter, "storage.tokens.count", "Number of stored access tokens"),
		StorageSizeClients:       b.gauge(storageMeter, "storage.clients.count", "Number of registered clients"),
		StorageSizePending:       b.gauge(storageMeter, "storage.pending_authorizations.count", "Number of pending authorizations"),
		StorageSizeCodes:         b.gauge(storageMeter, "storage.authorization_codes.count", "Number of live authorization codes"),

		AuditEventsTotal: b.counter(securityMeter, "oauth.audit.events.total", "Number of audit events", "{event}"),

		EncryptionOperationsTotal: b.counter(securityMeter, "oauth.encryption.operations.total", "Number of encryption operations", "{operation}"),
		EncryptionDuration:        b.histogram(securityMeter, "oauth.encryption.duration", "Encryption operation duration in milliseconds"),

		TokenVerificationsTotal:   b.counter(resourceMeter, "resource.token.verifications.total", "Number of bearer token verifications", "{verification}"),
		TokenVerificationDuration: b.histogram(resourceMeter, "resource.token.verification.duration", "Introspection round trip in milliseconds"),
		ToolCallsTotal:            b.counter(resourceMeter, "resource.tool.calls.total", "Number of tool invocations", "{call}"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records an accepted authorization request
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordLoginCompleted records the outcome of a login callback
func (m *Metrics) RecordLoginCompleted(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.LoginCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCodeIssued records an issued authorization code
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string) {
	if m == nil {
		return
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordCodeExchangeFailed records a rejected exchange and why
func (m *Metrics) RecordCodeExchangeFailed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.CodeExchangeFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordIntrospection records an introspection request and whether the token was active
func (m *Metrics) RecordIntrospection(ctx context.Context, active bool) {
	if m == nil {
		return
	}
	m.TokenIntrospected.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	if m == nil {
		return
	}
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(attribute.String("client_type", clientType)))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordEncryptionOperation records an encryption/decryption operation
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	if m == nil {
		return
	}
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	m.EncryptionDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordTokenVerification records a resource-server token check. result is
// one of "active", "inactive" or "unavailable".
func (m *Metrics) RecordTokenVerification(ctx context.Context, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.TokenVerificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.TokenVerificationDuration.Record(ctx, durationMs)
}

// RecordToolCall records a tool invocation on the resource server
func (m *Metrics) RecordToolCall(ctx context.Context, tool, result string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("result", result),
	))
}
