package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/docsync-go/internal/auth"
	"github.com/yndnr/docsync-go/internal/infra/buildinfo"
	"github.com/yndnr/docsync-go/internal/infra/confloader"
	"github.com/yndnr/docsync-go/internal/infra/shutdown"
	"github.com/yndnr/docsync-go/internal/infra/tlsroots"
	"github.com/yndnr/docsync-go/internal/relay"
	"github.com/yndnr/docsync-go/internal/room"
	"github.com/yndnr/docsync-go/internal/server/config"
	"github.com/yndnr/docsync-go/internal/server/httpserver"
	"github.com/yndnr/docsync-go/internal/server/httpserver/handler"
	"github.com/yndnr/docsync-go/internal/server/localserver"
	"github.com/yndnr/docsync-go/internal/session"
	"github.com/yndnr/docsync-go/internal/storage"
	"github.com/yndnr/docsync-go/internal/telemetry/logger"
	"github.com/yndnr/docsync-go/internal/telemetry/metric"
)

func run(c *cli.Context) error {
	configFile := c.String("config")
	cfg, err := loadConfig(configFile, flagOverrides(c))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	slog.SetDefault(log)

	if c.Bool("check") {
		log.Info("configuration valid", "config", config.Sanitize(cfg))
		return nil
	}

	info := buildinfo.Get()
	log.Info("starting docsync-server",
		"version", info.Version,
		"commit", info.Commit,
		"instance", cfg.InstanceID(),
		"config", configFile)

	ctx, stop := shutdown.WithSignals(c.Context)
	defer stop()

	reg := metric.NewRegistry()
	metrics := metric.New(reg)

	store, err := storage.Open(ctx, cfg.Storage.DSN, storage.OpenOptions{
		Logger:   log,
		Registry: reg,
		Badger:   cfg.BadgerConfig(),
	})
	if err != nil {
		return fmt.Errorf("open storage %s: %w", storage.Redact(cfg.Storage.DSN), err)
	}
	adapter := storage.NewAdapter(store, cfg.AdapterConfig(), log)
	log.Info("storage opened", "dsn", storage.Redact(cfg.Storage.DSN))

	rl, err := openRelay(ctx, cfg, log)
	if err != nil {
		_ = adapter.Close()
		return fmt.Errorf("open relay: %w", err)
	}
	metrics.RegisterRelay(rl.Available)

	authn, authz, err := authorizer(cfg)
	if err != nil {
		_ = rl.Close()
		_ = adapter.Close()
		return err
	}
	adminKeys := auth.NewAdminKeys(cfg.Auth.AdminKeyHashes, cfg.Auth.AdminKeyCacheTTL)
	if !adminKeys.Enabled() {
		log.Warn("no admin keys configured, admin API is only served on the local socket")
	}

	rooms, err := room.NewManager(cfg.RoomConfig(), adapter, rl, log, metrics)
	if err != nil {
		_ = rl.Close()
		_ = adapter.Close()
		return fmt.Errorf("room manager: %w", err)
	}
	sessions, err := session.NewHandler(cfg.SessionConfig(), rooms, authn, authz, log, metrics)
	if err != nil {
		_ = rl.Close()
		_ = adapter.Close()
		return fmt.Errorf("session handler: %w", err)
	}

	h := handler.New(handler.Config{
		Rooms:          rooms,
		Sessions:       sessions,
		RelayAvailable: rl.Available,
		AllowedOrigins: cfg.Server.HTTP.AllowedOrigins,
		// room for the frame header so oversized payloads get a too_large
		// error frame instead of a dropped connection
		MaxMessageSize: 2 * int64(cfg.Session.MaxPayloadSize),
		Logger:         log,
	})

	var certs *tlsroots.CertReloader
	httpCfg := httpserver.Config{
		Addr:              cfg.Server.HTTP.Addr,
		ReadHeaderTimeout: cfg.Server.HTTP.ReadHeaderTimeout,
	}
	if cfg.Server.HTTP.TLSCertFile != "" {
		certs, err = tlsroots.NewCertReloader(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile,
			tlsroots.WithLogger(log))
		if err != nil {
			_ = rl.Close()
			_ = adapter.Close()
			return fmt.Errorf("tls: %w", err)
		}
		httpCfg.TLS = certs.TLSConfig()
	}

	httpSrv := httpserver.New(httpCfg, httpserver.NewRouter(&httpserver.RouterConfig{
		Handler:            h,
		Gatherer:           reg,
		Metrics:            metrics,
		AdminKeys:          adminKeys,
		AdminAllowList:     cfg.Auth.AdminAllowList,
		MetricsPublic:      cfg.Auth.MetricsPublic,
		CORSAllowedOrigins: cfg.Server.HTTP.AllowedOrigins,
		Logger:             log,
	}), log)

	var localSrv *localserver.Server
	if cfg.Server.Local.Path != "" {
		localSrv = localserver.New(cfg.Server.Local.Path, httpserver.NewLocalRouter(h, log), log)
		if err := localSrv.Listen(); err != nil {
			_ = rl.Close()
			_ = adapter.Close()
			return fmt.Errorf("local socket: %w", err)
		}
	}

	// Hooks run in reverse order: listeners stop first, rooms flush while
	// the store and relay are still open.
	sd := shutdown.NewHandler(cfg.Server.ShutdownTimeout, log)
	sd.OnShutdown("storage", func(context.Context) error { return adapter.Close() })
	sd.OnShutdown("relay", func(context.Context) error { return rl.Close() })
	sd.OnShutdown("sessions", h.CloseSessions)
	sd.OnShutdown("rooms", rooms.Close)
	if localSrv != nil {
		sd.OnShutdown("local socket", localSrv.Shutdown)
	}
	sd.OnShutdown("http", httpSrv.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr, "tls", certs != nil)
		return httpSrv.ListenAndServe()
	})
	if certs != nil {
		g.Go(func() error { return certs.Run(gctx) })
	}
	if localSrv != nil {
		g.Go(func() error {
			log.Info("local socket listening", "path", localSrv.Addr())
			return localSrv.Serve()
		})
	}
	if configFile != "" {
		w, err := confloader.NewWatcher(configFile, confloader.WithWatcherLogger(log))
		if err != nil {
			log.Warn("configuration reload disabled", "error", err)
		} else {
			w.OnChange(func(path string) { reloadLogLevel(path, log) })
			g.Go(func() error { return w.Run(gctx) })
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return sd.Run()
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// flagOverrides maps command line flags onto configuration keys.
func flagOverrides(c *cli.Context) map[string]any {
	out := map[string]any{}
	if v := c.String("addr"); v != "" {
		out["server.http.addr"] = v
	}
	if v := c.String("storage-dsn"); v != "" {
		out["storage.dsn"] = v
	}
	if v := c.String("log-level"); v != "" {
		out["log.level"] = v
	}
	return out
}

// loadConfig layers defaults, the file, DOCSYNC_ environment variables and
// overrides, then validates the result.
func loadConfig(path string, overrides map[string]any) (*config.ServerConfig, error) {
	cfg := config.Default()
	opts := []confloader.Option{confloader.WithOverrides(overrides)}
	if path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// reloadLogLevel applies log.level from a changed file. Other settings
// need a restart.
func reloadLogLevel(path string, log *slog.Logger) {
	cfg, err := loadConfig(path, nil)
	if err != nil {
		log.Warn("ignoring changed configuration", "path", path, "error", err)
		return
	}
	if old := logger.GetLevel(); old != cfg.Log.Level {
		logger.SetLevel(cfg.Log.Level)
		log.Info("log level changed", "from", old, "to", cfg.Log.Level)
	}
}

func openRelay(ctx context.Context, cfg *config.ServerConfig, log *slog.Logger) (relay.Relay, error) {
	id := cfg.InstanceID()
	switch cfg.Relay.Backend {
	case config.RelayLocal:
		return relay.NewBus().Join(id, log), nil
	case config.RelayRedis:
		rc := cfg.RedisConfig()
		if cfg.Relay.Redis.CAFile != "" {
			t, err := tlsroots.ClientConfig(cfg.Relay.Redis.CAFile)
			if err != nil {
				return nil, err
			}
			rc.TLS = t
		}
		return relay.NewRedisRelay(ctx, rc, id, log.With("relay", "redis"))
	case config.RelayGossip:
		return relay.NewGossipRelay(cfg.GossipConfig(), id, log.With("relay", "gossip"))
	default:
		return nil, errors.New("unknown relay backend " + cfg.Relay.Backend)
	}
}

func authorizer(cfg *config.ServerConfig) (auth.Authenticator, auth.Authorizer, error) {
	switch cfg.Auth.Mode {
	case config.AuthToken:
		t, err := auth.NewTokenAuthorizer([]byte(cfg.Auth.TokenSecret))
		if err != nil {
			return nil, nil, err
		}
		return t, t, nil
	default:
		return auth.AllowAll{}, auth.AllowAll{}, nil
	}
}
