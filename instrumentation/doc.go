// Package instrumentation wires OpenTelemetry metrics and tracing into the
// authorization server and resource server.
//
// Each layer asks for a scoped meter or tracer ("http", "server", "storage",
// "security", "resource"). When instrumentation is disabled every provider is
// a no-op, so callers never have to check.
//
// Metrics can be exported to a Prometheus registry (served with promhttp) and
// traces to an OTLP/HTTP collector:
//
//	registry := prometheus.NewRegistry()
//	inst, err := instrumentation.New(instrumentation.Config{
//	    Enabled:            true,
//	    ServiceName:        "mcp-authflow",
//	    PrometheusRegistry: registry,
//	    OTLPEndpoint:       "localhost:4318",
//	    OTLPInsecure:       true,
//	})
//	if err != nil { ... }
//	defer inst.Shutdown(context.Background())
//	http.Handle("/metrics", inst.MetricsHandler())
//
// SECURITY: attribute helpers in this package only carry metadata. Tokens,
// codes and secrets must never be recorded in spans or metrics.
package instrumentation
