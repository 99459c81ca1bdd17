package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corral/internal/api"
	"corral/internal/bus"
	"corral/internal/codec"
	"corral/internal/command"
	"corral/internal/config"
	"corral/internal/container"
	"corral/internal/events"
	"corral/internal/logging"
	"corral/internal/metrics"
	"corral/internal/pool"
	"corral/internal/security"
	"corral/internal/service"
	"corral/internal/store"
)

const drainTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "./corral.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	l, level, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		logger.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	logger = l
	slog.SetDefault(logger)
	logger.Info("config loaded",
		"listen", cfg.Listen,
		"store", cfg.Store.Backend,
		"security", cfg.Security.Provider,
		"nats", cfg.NATS.Enabled(),
		"workers", cfg.Pool.Workers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := security.New(cfg.Security)
	if err != nil {
		logger.Error("failed to load security provider", "error", err)
		os.Exit(1)
	}

	// NATS is optional: it carries the request transport, the event feed
	// and the nats store backend.
	var nc *bus.Client
	if cfg.NATS.Enabled() {
		nc, err = bus.Connect(cfg.NATS, "corrald", logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		if cfg.NATS.PublishEvents {
			if err := nc.ProvisionStreams(ctx); err != nil {
				logger.Warn("stream provisioning failed (continuing without)", "error", err)
			}
		}
	}

	st, err := openStore(ctx, cfg.Store, nc)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if cfg.Store.ClearOnStart {
		if err := st.Clear(ctx); err != nil {
			logger.Error("failed to clear store", "error", err)
			os.Exit(1)
		}
		logger.Info("store cleared", "backend", st.Backend())
	}

	emitter := events.NewEmitter(logger)
	metrics.RegisterEventHandler(emitter)
	if nc != nil && cfg.NATS.PublishEvents {
		bus.NewPublisher(nc, logger).Attach(emitter)
	}

	workers := pool.New(cfg.Pool, logger)

	factory := command.NewFactory(logger)
	clients, err := registerDrivers(factory, cfg.Runtimes, logger)
	if err != nil {
		logger.Error("failed to set up runtimes", "error", err)
		os.Exit(1)
	}
	defer closeClients(clients, logger)

	handler, err := service.New(service.Options{
		Security:     provider,
		Codecs:       codec.DefaultSet(),
		Factory:      factory,
		Pool:         workers,
		Store:        st,
		Emitter:      emitter,
		Timeout:      cfg.RequestTimeout,
		StoreTimeout: cfg.Store.Timeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to build request handler", "error", err)
		os.Exit(1)
	}

	if cfg.Runtimes.Watch {
		for rt, cli := range clients {
			go container.NewWatcher(rt, cli, handler.Observe, logger).Watch(ctx)
		}
	}

	var httpDone chan struct{}
	if cfg.HTTP.IsEnabled() {
		enc, _ := codec.ParseEncoding(cfg.HTTP.Encoding)
		srv := api.NewServer(api.Options{
			Handler:      handler,
			Emitter:      emitter,
			PoolStats:    workers.Stats,
			Encoding:     enc,
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
			RateLimit:    cfg.HTTP.RateLimit,
			Burst:        cfg.HTTP.Burst,
			AuthToken:    cfg.AdminToken,
			Logger:       logger,
		})
		httpDone = make(chan struct{})
		go func() {
			defer close(httpDone)
			if err := srv.ListenAndServe(ctx, cfg.Listen, drainTimeout); err != nil {
				logger.Error("server failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	var natsSrv *bus.Server
	if nc != nil {
		natsSrv, err = bus.NewServer(nc, handler, cfg.NATS, logger)
		if err == nil {
			err = natsSrv.Start()
		}
		if err != nil {
			logger.Error("failed to start nats transport", "error", err)
			os.Exit(1)
		}
	}

	// Wait for shutdown signal or SIGHUP for reload.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var sig os.Signal
	for {
		sig = <-sigCh
		if sig != syscall.SIGHUP {
			break
		}
		logger.Info("SIGHUP received, reloading config")
		newCfg, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to reload config", "error", err)
			continue
		}
		reloadConfig(logger, level, cfg, newCfg)
	}

	logger.Info("shutting down", "signal", sig, "pool", workers.Stats())
	cancel() // stops the http server and the watchers

	// In-flight HTTP requests still need the pool and the store to finish.
	if httpDone != nil {
		<-httpDone
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer shutdownCancel()

	if natsSrv != nil {
		if err := natsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("nats transport did not drain", "error", err)
		}
	}
	if err := workers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker pool did not drain, remaining tasks discarded", "error", err)
	}

	fmt.Println("corrald stopped")
}

func openStore(ctx context.Context, cfg store.Config, nc *bus.Client) (store.Store, error) {
	if nc == nil {
		return store.Open(ctx, cfg, nil)
	}
	return store.Open(ctx, cfg, nc.JetStream())
}

// reloadConfig applies the runtime-safe part of a new config (log level)
// and warns about changes that need a restart.
func reloadConfig(logger *slog.Logger, level *slog.LevelVar, old, new_ *config.Config) {
	if lvl, err := logging.ParseLevel(new_.Log.Level); err == nil && lvl != level.Level() {
		level.Set(lvl)
		logger.Info("config reload: log level changed", "level", lvl.String())
	}

	restart := func(field string, changed bool) {
		if changed {
			logger.Warn("config reload: change requires restart", "field", field)
		}
	}
	restart("listen", old.Listen != new_.Listen)
	restart("log.format", old.Log.Format != new_.Log.Format)
	restart("admin_token", old.AdminToken != new_.AdminToken)
	restart("request_timeout", old.RequestTimeout != new_.RequestTimeout)
	restart("http", old.HTTP.Encoding != new_.HTTP.Encoding || old.HTTP.RateLimit != new_.HTTP.RateLimit ||
		old.HTTP.Burst != new_.HTTP.Burst || old.HTTP.MaxBodyBytes != new_.HTTP.MaxBodyBytes || old.HTTP.IsEnabled() != new_.HTTP.IsEnabled())
	restart("pool", old.Pool != new_.Pool)
	restart("security", old.Security != new_.Security)
	restart("runtimes", !sameRuntimes(old.Runtimes, new_.Runtimes))
	restart("store", old.Store != new_.Store)
	restart("nats", old.NATS != new_.NATS)

	logger.Info("config reload complete")
}

func sameRuntimes(a, b config.Runtimes) bool {
	same := func(x, y config.Runtime) bool {
		return x.Binary == y.Binary && x.Host == y.Host &&
			x.CLIEnabled() == y.CLIEnabled() && x.APIEnabled() == y.APIEnabled()
	}
	return same(a.Docker, b.Docker) && same(a.Podman, b.Podman) &&
		a.CommandTimeout == b.CommandTimeout && a.StopGrace == b.StopGrace && a.Watch == b.Watch
}
