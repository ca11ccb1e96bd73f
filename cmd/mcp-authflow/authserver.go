package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/mcp-authflow"
	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/server"
	"github.com/giantswarm/mcp-authflow/storage"
	"github.com/giantswarm/mcp-authflow/storage/memory"
	"github.com/giantswarm/mcp-authflow/storage/sqlite"
	"github.com/giantswarm/mcp-authflow/storage/valkey"
)

const (
	storageMemory = "memory"
	storageValkey = "valkey"
)

func newAuthServerCommand(cfg *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authserver",
		Short: "Run the OAuth 2.1 authorization server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			return runAuthServer(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "localhost", "listen host")
	flags.Int("port", 9000, "listen port")
	flags.String("issuer", "http://localhost:9000", "issuer URL advertised in metadata")
	flags.StringSlice("scopes", []string{"user"}, "supported scopes")
	flags.StringToString("users", nil, "login users as name=password (default: the demo user)")
	flags.Int64("access-token-ttl", 3600, "access token lifetime in seconds")
	flags.Bool("allow-insecure-http", false, "allow an http issuer outside loopback")
	flags.Bool("allow-insecure-redirect-uris", false, "allow http redirect URIs outside loopback")

	flags.String("storage", storageMemory, "flow and token storage: memory or valkey")
	flags.String("valkey-address", "localhost:6379", "valkey address")
	flags.String("valkey-password", "", "valkey password")
	flags.Int("valkey-db", 0, "valkey database number")
	flags.String("valkey-key-prefix", valkey.DefaultKeyPrefix, "valkey key prefix")
	flags.String("encryption-key", "", "base64 AES-256 key for valkey encryption at rest")
	flags.String("clients-db", "", "SQLite DSN for the client registry (default: same store as flows)")

	flags.String("introspection-client-id", "", "require these Basic credentials on /introspect")
	flags.String("introspection-client-secret", "", "secret for --introspection-client-id")
	flags.Bool("trust-proxy", false, "trust X-Forwarded-For")
	flags.Int("trusted-proxy-count", 0, "number of trusted proxies in front of the server")
	flags.Bool("audit", true, "emit security audit events")

	addObservabilityFlags(cmd)
	return cmd
}

// addObservabilityFlags registers the metrics and tracing flags shared by
// both servers.
func addObservabilityFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.String("otlp-endpoint", "", "OTLP/HTTP trace collector host:port")
	flags.Bool("otlp-insecure", false, "send traces over plain HTTP")
	flags.Bool("log-client-ips", false, "attach client IPs to spans")
}

// newInstrumentation returns nil when neither metrics nor tracing is
// configured. The registry is nil in that case too.
func newInstrumentation(cfg *viper.Viper, serviceName string) (*instrumentation.Instrumentation, *prometheus.Registry, error) {
	metricsAddr := cfg.GetString("metrics-addr")
	otlpEndpoint := cfg.GetString("otlp-endpoint")
	if metricsAddr == "" && otlpEndpoint == "" {
		return nil, nil, nil
	}

	var registry *prometheus.Registry
	if metricsAddr != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:        serviceName,
		ServiceVersion:     version,
		Enabled:            true,
		LogClientIPs:       cfg.GetBool("log-client-ips"),
		PrometheusRegistry: registry,
		OTLPEndpoint:       otlpEndpoint,
		OTLPInsecure:       cfg.GetBool("otlp-insecure"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("instrumentation: %w", err)
	}
	return inst, registry, nil
}

// authStores bundles the stores of an authorization server and how to
// close them.
type authStores struct {
	clients storage.ClientStore
	flows   storage.FlowStore
	tokens  storage.AccessTokenStore
	closers []func()
}

func (s *authStores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openAuthStores(ctx context.Context, cfg *viper.Viper, logger *slog.Logger, inst *instrumentation.Instrumentation) (*authStores, error) {
	stores := &authStores{}

	switch backend := cfg.GetString("storage"); backend {
	case storageMemory:
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		stores.clients, stores.flows, stores.tokens = store, store, store
		stores.closers = append(stores.closers, store.Stop)

	case storageValkey:
		store, err := valkey.New(valkey.Config{
			Address:   cfg.GetString("valkey-address"),
			Password:  cfg.GetString("valkey-password"),
			DB:        cfg.GetInt("valkey-db"),
			KeyPrefix: cfg.GetString("valkey-key-prefix"),
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		stores.closers = append(stores.closers, store.Close)

		if encoded := cfg.GetString("encryption-key"); encoded != "" {
			key, err := security.KeyFromBase64(encoded)
			if err != nil {
				stores.Close()
				return nil, fmt.Errorf("encryption key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				stores.Close()
				return nil, fmt.Errorf("encryption key: %w", err)
			}
			if inst != nil {
				enc.SetMetrics(inst.Metrics())
			}
			store.SetEncryptor(enc)
		}
		store.SetInstrumentation(inst)
		stores.clients, stores.flows, stores.tokens = store, store, store

	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %s or %s)", backend, storageMemory, storageValkey)
	}

	if dsn := cfg.GetString("clients-db"); dsn != "" {
		clients, err := sqlite.Open(ctx, dsn, logger)
		if err != nil {
			stores.Close()
			return nil, err
		}
		stores.closers = append(stores.closers, func() { _ = clients.Close() })
		stores.clients = clients
	}

	return stores, nil
}

func runAuthServer(ctx context.Context, cfg *viper.Viper, logger *slog.Logger) error {
	inst, registry, err := newInstrumentation(cfg, "mcp-authflow-as")
	if err != nil {
		return err
	}
	if inst != nil {
		defer func() { _ = inst.Shutdown(context.Background()) }()
	}

	stores, err := openAuthStores(ctx, cfg, logger, inst)
	if err != nil {
		return err
	}
	defer stores.Close()

	engine, err := server.New(stores.clients, stores.flows, stores.tokens, &server.Config{
		Issuer:                    cfg.GetString("issuer"),
		AccessTokenTTL:            cfg.GetInt64("access-token-ttl"),
		SupportedScopes:           cfg.GetStringSlice("scopes"),
		AllowInsecureHTTP:         cfg.GetBool("allow-insecure-http"),
		AllowInsecureRedirectURIs: cfg.GetBool("allow-insecure-redirect-uris"),
	}, logger)
	if err != nil {
		return err
	}
	engine.SetInstrumentation(inst)
	if cfg.GetBool("audit") {
		auditor := security.NewAuditor(logger, true)
		if inst != nil {
			auditor.SetMetrics(inst.Metrics())
		}
		engine.SetAuditor(auditor)
	}

	handlerConfig := &oauth.Config{
		IntrospectionClientID:     cfg.GetString("introspection-client-id"),
		IntrospectionClientSecret: cfg.GetString("introspection-client-secret"),
		TrustProxy:                cfg.GetBool("trust-proxy"),
		TrustedProxyCount:         cfg.GetInt("trusted-proxy-count"),
		Logger:                    logger,
	}
	if users := cfg.GetStringMapString("users"); len(users) > 0 {
		credentials, err := server.NewStaticCredentials(users)
		if err != nil {
			return err
		}
		handlerConfig.Credentials = credentials
	} else {
		logger.Warn("Using demo credentials", "username", server.DemoUsername)
	}

	handler := oauth.NewHandler(engine, handlerConfig)
	addr := net.JoinHostPort(cfg.GetString("host"), strconv.Itoa(cfg.GetInt("port")))

	return serveWithMetrics(ctx, logger, "authserver", addr, handler.Routes(), cfg.GetString("metrics-addr"), inst, registry)
}

// serveWithMetrics runs the main listener and, when metricsAddr is set, a
// separate Prometheus listener. Either failing stops both.
func serveWithMetrics(ctx context.Context, logger *slog.Logger, name, addr string, handler http.Handler,
	metricsAddr string, inst *instrumentation.Instrumentation, registry *prometheus.Registry) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(ctx, logger, name, addr, handler) })
	if metricsAddr != "" && inst != nil && registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", inst.MetricsHandler())
		g.Go(func() error { return serveHTTP(ctx, logger, name+"-metrics", metricsAddr, mux) })
	}
	return g.Wait()
}
