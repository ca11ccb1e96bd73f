package instrumentation

import (
	"context"
	"testing"
)

func TestMetrics_RecordAll(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		inst, err := New(Config{Enabled: enabled})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		ctx := context.Background()
		m := inst.Metrics()

		m.RecordHTTPRequest(ctx, "GET", "/authorize", 302, 1.2)
		m.RecordAuthorizationStarted(ctx, "client")
		m.RecordLoginCompleted(ctx, "success")
		m.RecordCodeIssued(ctx, "client")
		m.RecordCodeExchange(ctx, "client", "S256")
		m.RecordCodeExchangeFailed(ctx, "pkce")
		m.RecordTokenRevocation(ctx, "client")
		m.RecordIntrospection(ctx, true)
		m.RecordClientRegistration(ctx, "public")
		m.RecordPKCEValidationFailed(ctx, "S256")
		m.RecordCodeReuseDetected(ctx)
		m.RecordStorageOperation(ctx, "claim_authorization_code", "success", 0.3)
		m.RecordAuditEvent(ctx, "token_issued")
		m.RecordEncryptionOperation(ctx, "encrypt", 0.1)
		m.RecordTokenVerification(ctx, "active", 4.2)
		m.RecordToolCall(ctx, "greet", "success")

		_ = inst.Shutdown(ctx)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "/", 200, 1)
	m.RecordCodeIssued(ctx, "client")
	m.RecordStorageOperation(ctx, "save", "success", 1)
	m.RecordTokenVerification(ctx, "inactive", 1)
}
