package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/mcp-authflow/resource"
)

func newResourceServerCommand(cfg *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resourceserver",
		Short: "Run the protected resource server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			return runResourceServer(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "localhost", "listen host")
	flags.Int("port", 8000, "listen port")
	flags.String("server-name", "mcp-authflow-resource-server", "name advertised in metadata")
	flags.String("resource-url", "http://localhost:8000", "public URL of this server")
	flags.String("auth-server-url", "http://localhost:9000", "authorization server base URL")
	flags.Bool("auth-enabled", true, "require bearer tokens for protected tools")
	flags.StringSlice("require-auth-for-tools", []string{resource.ToolServerTime},
		"tools that need a token; empty protects every tool")
	flags.StringSlice("required-scopes", []string{"user"}, "scopes required on every protected tool")
	flags.String("introspection-client-id", "", "Basic credentials sent to /introspect")
	flags.String("introspection-client-secret", "", "secret for --introspection-client-id")
	flags.String("expected-audience", "", "reject tokens issued for another resource")
	flags.Duration("introspection-timeout", resource.DefaultIntrospectionTimeout, "introspection call timeout")
	flags.Bool("trust-proxy", false, "trust X-Forwarded-For")
	flags.Int("trusted-proxy-count", 0, "number of trusted proxies in front of the server")

	addObservabilityFlags(cmd)
	return cmd
}

func runResourceServer(ctx context.Context, cfg *viper.Viper, logger *slog.Logger) error {
	inst, registry, err := newInstrumentation(cfg, "mcp-authflow-rs")
	if err != nil {
		return err
	}
	if inst != nil {
		defer func() { _ = inst.Shutdown(context.Background()) }()
	}

	authEnabled := cfg.GetBool("auth-enabled")
	authServerURL := cfg.GetString("auth-server-url")

	var verifier resource.TokenVerifier
	if authEnabled {
		v, err := resource.NewIntrospectionVerifier(resource.VerifierConfig{
			AuthServerURL:    authServerURL,
			ClientID:         cfg.GetString("introspection-client-id"),
			ClientSecret:     cfg.GetString("introspection-client-secret"),
			ExpectedAudience: cfg.GetString("expected-audience"),
			Timeout:          cfg.GetDuration("introspection-timeout"),
			Logger:           logger,
			Instrumentation:  inst,
		})
		if err != nil {
			return fmt.Errorf("token verifier: %w", err)
		}
		logger.Info("Verifying tokens by introspection", "url", v.IntrospectionURL())
		verifier = v
	}

	requiredScopes := cfg.GetStringSlice("required-scopes")
	srv, err := resource.NewServer(resource.Config{
		ServerName:          cfg.GetString("server-name"),
		ResourceURL:         cfg.GetString("resource-url"),
		AuthServerURL:       authServerURL,
		AuthEnabled:         authEnabled,
		RequireAuthForTools: cfg.GetStringSlice("require-auth-for-tools"),
		RequiredScopes:      requiredScopes,
		ScopesSupported:     requiredScopes,
		TrustProxy:          cfg.GetBool("trust-proxy"),
		TrustedProxyCount:   cfg.GetInt("trusted-proxy-count"),
		Logger:              logger,
		Instrumentation:     inst,
	}, verifier, resource.NewRegistry(resource.DefaultTools(time.Now)...))
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.GetString("host"), strconv.Itoa(cfg.GetInt("port")))
	return serveWithMetrics(ctx, logger, "resourceserver", addr, srv.Routes(), cfg.GetString("metrics-addr"), inst, registry)
}
