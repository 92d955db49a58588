package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolflight/allowlist"
	"github.com/jonwraymond/toolflight/auth"
	"github.com/jonwraymond/toolflight/config"
	"github.com/jonwraymond/toolflight/health"
	"github.com/jonwraymond/toolflight/localtools"
	"github.com/jonwraymond/toolflight/mcpbridge"
	"github.com/jonwraymond/toolflight/observe"
	"github.com/jonwraymond/toolflight/resilience"
	"github.com/jonwraymond/toolflight/toolcall"
)

// envConfig names the config file used when --config is not given.
const envConfig = "TOOLFLIGHT_CONFIG"

func buildServeCmd() *cobra.Command {
	var configPath, httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tools over MCP stdio through the call cache",
		Long: `Serve the configured tools as an MCP server on stdin and stdout.

Tools come from the upstream MCP server when upstream.command is set, and from
the local workspace tools otherwise. Logs go to stderr. With --http a
diagnostics listener serves /healthz, /livez and /metrics.`,
		Example: `  toolflight serve --config toolflight.yaml
  toolflight serve --http 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (or set "+envConfig+")")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Diagnostics listen address; overrides http.addr")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(envConfig)
	}
	if strings.TrimSpace(path) == "" {
		cfg := config.Default()
		config.ApplyEnv(cfg, os.LookupEnv)
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// service is the wired runtime built from a Config.
type service struct {
	logger   observe.Logger
	observer observe.Observer
	registry *prometheus.Registry
	source   *allowlist.Source
	manager  *toolcall.Manager
	proxy    *mcpbridge.Proxy
	health   *health.Aggregator
	upstream *mcpbridge.Upstream
	bulkhead *resilience.Bulkhead
}

func runServe(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	svc, err := newService(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer svc.close()

	if cfg.Allowlist != "" {
		go func() {
			if err := svc.source.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				svc.logger.Error(ctx, "allowlist watch stopped", observe.F("error", err))
			}
		}()
	}

	if cfg.HTTP.Addr != "" {
		auths, err := authenticators(cfg.HTTP)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           auth.Require(svc.diagnostics(), []string{"/livez"}, auths...),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				svc.logger.Error(ctx, "diagnostics listener failed", observe.F("addr", cfg.HTTP.Addr), observe.F("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		svc.logger.Info(ctx, "diagnostics listening", observe.F("addr", cfg.HTTP.Addr))
	}

	svc.logger.Info(ctx, "serving mcp on stdio", observe.F("allowlist_version", svc.source.Current().Version()))
	return svc.proxy.ServeStdio()
}

func newService(ctx context.Context, cfg *config.Config, stderr io.Writer) (_ *service, err error) {
	svc := &service{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			svc.close()
		}
	}()

	// stdout carries the MCP stream.
	obsCfg := cfg.Observe
	obsCfg.Version = version
	obsCfg.Logging.Writer = stderr
	obsCfg.Metrics.Registerer = svc.registry
	if svc.observer, err = observe.NewObserver(ctx, obsCfg); err != nil {
		return nil, fmt.Errorf("observer: %w", err)
	}
	mw, err := observe.MiddlewareFromObserver(svc.observer)
	if err != nil {
		return nil, fmt.Errorf("middleware: %w", err)
	}
	svc.logger = mw.Logger()

	ttlOpts := []allowlist.Option{
		allowlist.WithDefaultTTL(cfg.Cache.DefaultTTL),
		allowlist.WithMaxTTL(cfg.Cache.MaxTTL),
	}
	builtin, err := allowlist.Builtin(ttlOpts...)
	if err != nil {
		return nil, err
	}
	svc.source, err = allowlist.NewSource(allowlist.SourceConfig{
		Path:     cfg.Allowlist,
		Fallback: builtin,
		Options:  ttlOpts,
		Logger:   svc.logger,
		OnReload: func(a *allowlist.Allowlist, err error) {
			if err == nil {
				svc.logger.Info(context.Background(), "allowlist reloaded; applies to new sessions",
					observe.F("allowlist_version", a.Version()),
					observe.F("tools", a.Len()),
				)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("allowlist: %w", err)
	}

	execOpts := []resilience.ExecutorOption{resilience.WithTimeout(cfg.Dispatch.Timeout)}
	if cfg.Dispatch.MaxConcurrent > 0 {
		svc.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: cfg.Dispatch.MaxConcurrent})
		execOpts = append(execOpts, resilience.WithBulkhead(svc.bulkhead))
	}

	backend, universe, err := svc.dialBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if missing := svc.source.Current().Unknown(universe); len(missing) > 0 {
		svc.logger.Warn(ctx, "allowlisted tools not offered by dispatcher", observe.F("tools", missing))
	}

	svc.manager, err = toolcall.NewManager(toolcall.ManagerConfig{
		Dispatcher:    backend,
		Source:        svc.source,
		Executor:      resilience.NewExecutor(execOpts...),
		Middleware:    mw,
		Logger:        svc.logger,
		MaxEntries:    cfg.Cache.MaxEntries,
		FollowerWait:  cfg.Dispatch.FollowerWait,
		CacheDisabled: cfg.Cache.Disabled,
	})
	if err != nil {
		return nil, err
	}
	svc.proxy, err = mcpbridge.NewProxy(mcpbridge.ProxyConfig{
		Name:    cfg.ServiceName,
		Version: version,
		Backend: backend,
		Manager: svc.manager,
		Logger:  svc.logger,
	})
	if err != nil {
		return nil, err
	}

	svc.health = svc.checks()
	return svc, nil
}

// dialBackend connects the upstream server when one is configured and falls
// back to the workspace tools. It also returns the tool names the allowlist
// is checked against.
func (s *service) dialBackend(ctx context.Context, cfg *config.Config) (mcpbridge.Backend, []string, error) {
	if cfg.Upstream.Enabled() {
		u, err := mcpbridge.DialStdio(ctx, mcpbridge.UpstreamConfig{
			Name:          cfg.Upstream.Name,
			Command:       cfg.Upstream.Command,
			Args:          cfg.Upstream.Args,
			Env:           cfg.Upstream.Env,
			ClientName:    cfg.ServiceName,
			ClientVersion: version,
		})
		if err != nil {
			return nil, nil, err
		}
		s.upstream = u
		s.logger.Info(ctx, "upstream connected",
			observe.F("server", u.ServerInfo().Name),
			observe.F("tools", len(u.Tools())),
		)
		return u, u.Names(), nil
	}

	reg, err := localtools.New(localtools.Config{Root: cfg.Local.Root})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info(ctx, "serving workspace tools", observe.F("root", reg.Root()))
	return mcpbridge.Local(reg), reg.Names(), nil
}

func (s *service) checks() *health.Aggregator {
	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 5 * time.Second})
	agg.Register(s.manager.Checker())
	if s.upstream != nil {
		agg.Register(s.upstream.Checker())
	}
	if s.bulkhead != nil {
		agg.Register(health.NewCapacityChecker("dispatch", health.CapacityCheckerConfig{}, func() health.Usage {
			m := s.bulkhead.Metrics()
			return health.Usage{
				Used:     m.Active,
				Capacity: m.MaxConcurrent,
				Details:  map[string]any{"max_active": m.MaxActive, "rejected": m.Rejected},
			}
		}))
	}
	return agg
}

func (s *service) diagnostics() http.Handler {
	mux := http.NewServeMux()
	health.RegisterHandlers(mux, s.health)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *service) close() {
	if s.manager != nil {
		_ = s.manager.Close()
	}
	if s.upstream != nil {
		_ = s.upstream.Close()
	}
	if s.observer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.observer.Shutdown(ctx)
	}
}

// authenticators builds the diagnostics credentials from cfg. A request
// passes with any of them.
func authenticators(cfg config.HTTPConfig) ([]auth.Authenticator, error) {
	keys, err := auth.NewAPIKeys("", cfg.APIKeys...)
	if err != nil {
		return nil, fmt.Errorf("http.api_keys: %w", err)
	}
	auths := []auth.Authenticator{keys}
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		auths = append(auths, auth.NewJWTAuthenticator(
			auth.JWTConfig{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience},
			auth.NewStaticKeyProvider([]byte(secret)),
		))
	}
	return auths, nil
}
