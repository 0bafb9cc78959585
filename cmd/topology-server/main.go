package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/meshtopo/core"
	"github.com/signalsfoundry/meshtopo/internal/config"
	"github.com/signalsfoundry/meshtopo/internal/engine"
	"github.com/signalsfoundry/meshtopo/internal/logging"
	"github.com/signalsfoundry/meshtopo/internal/observability"
	"github.com/signalsfoundry/meshtopo/internal/rpc"
	"github.com/signalsfoundry/meshtopo/internal/service"
	"github.com/signalsfoundry/meshtopo/internal/watcher"
	"github.com/signalsfoundry/meshtopo/kb"
)

var shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file (default: search MESHTOPO_CONFIG, XDG config dir, ./meshtopo.yaml)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the gRPC server listens on (overrides server.grpc_addr)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides server.metrics_addr)")
	capturePath := flag.String("capture", "", "Capture file to ingest at startup (overrides capture.path)")
	watch := flag.Bool("watch", false, "Reload the capture and config files when they change")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "topology-server: %v\n", err)
		os.Exit(1)
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}
	if *capturePath != "" {
		cfg.Capture.Path = *capturePath
	}
	if *watch {
		cfg.Capture.Watch = true
	}

	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "topology server exited", logging.Err(err))
		os.Exit(1)
	}
}

// newLogger prefers the environment and falls back to the config file's
// logging section.
func newLogger(cfg *config.Config) logging.Logger {
	if os.Getenv("MESHTOPO_LOG_LEVEL") != "" || os.Getenv("LOG_LEVEL") != "" {
		return logging.NewFromEnv()
	}
	return logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
}

// run serves until ctx is cancelled. The listener is owned by run and is
// closed when the gRPC server stops.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	reg := prometheus.NewRegistry()
	engineMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("rpc metrics: %w", err)
	}

	eng := engine.New(
		engine.WithDebounce(cfg.Engine.Debounce.Std()),
		engine.WithLogger(log),
		engine.WithMetrics(engineMetrics),
		engine.WithTracer(observability.Tracer()),
	)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	svc := service.New(kb.NewStore(), eng, service.Options{
		Config:   cfg.Core(),
		CacheTTL: cfg.Cache.TTL.Std(),
		Logger:   log,
		Metrics:  engineMetrics,
	})

	serverOpts := rpc.ServerOptions{Logger: log, Metrics: rpcMetrics}
	if cfg.Server.IngestRate > 0 {
		serverOpts.IngestLimiter = rate.NewLimiter(rate.Limit(cfg.Server.IngestRate), cfg.Server.IngestBurst)
	}
	grpcServer, healthServer := rpc.NewGRPCServer(rpc.NewServer(svc, log), serverOpts)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return svc.Run(gctx) })

	g.Go(func() error {
		log.Info(gctx, "starting topology gRPC server", logging.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	if cfg.Server.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux(rpcMetrics)}
		g.Go(func() error {
			log.Info(gctx, "serving Prometheus metrics", logging.String("addr", cfg.Server.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down topology server")
		healthServer.Shutdown()
		stopGRPC(grpcServer.GracefulStop, grpcServer.Stop)
		return nil
	})

	g.Go(func() error {
		select {
		case <-svc.Ready():
		case <-gctx.Done():
			return nil
		}
		if cfg.Capture.Path != "" {
			loadCapture(gctx, svc, cfg.Capture.Path, log)
		}
		paths := watchedPaths(cfg)
		if len(paths) == 0 {
			return nil
		}
		w := watcher.New(paths, reloader(gctx, svc, cfg, log)).WithLogger(log)
		return w.Watch(gctx)
	})

	return g.Wait()
}

func metricsMux(c *observability.RPCCollector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}

// stopGRPC waits for in-flight RPCs up to shutdownTimeout, then forces the
// server down.
func stopGRPC(graceful, force func()) {
	done := make(chan struct{})
	go func() {
		graceful()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		force()
		<-done
	}
}

func watchedPaths(cfg *config.Config) []string {
	if !cfg.Capture.Watch {
		return nil
	}
	var paths []string
	if cfg.Capture.Path != "" {
		paths = append(paths, cfg.Capture.Path)
	}
	if cfg.Path != "" {
		paths = append(paths, cfg.Path)
	}
	return paths
}

func reloader(ctx context.Context, svc *service.Service, cfg *config.Config, log logging.Logger) func(string) {
	capturePath := absPath(cfg.Capture.Path)
	configPath := absPath(cfg.Path)
	return func(path string) {
		switch path {
		case capturePath:
			loadCapture(ctx, svc, cfg.Capture.Path, log)
		case configPath:
			reloadConfig(ctx, svc, cfg.Path, log)
		}
	}
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func loadCapture(ctx context.Context, svc *service.Service, path string, log logging.Logger) {
	capture, summary, err := core.LoadCaptureFile(path)
	if err != nil {
		log.Warn(ctx, "failed to load capture", logging.String("path", path), logging.Err(err))
		return
	}
	if err := svc.Ingest(capture); err != nil {
		log.Warn(ctx, "failed to ingest capture", logging.String("path", path), logging.Err(err))
		return
	}
	log.Info(ctx, "loaded capture",
		logging.String("path", path),
		logging.Int("packets", summary.Packets),
		logging.Int("neighbors", summary.Neighbors),
		logging.Int("skipped_packets", summary.SkippedPackets),
	)
}

// reloadConfig applies a changed config file, including its log level. A
// file without a local hash keeps the one already in use.
func reloadConfig(ctx context.Context, svc *service.Service, path string, log logging.Logger) {
	next, err := config.LoadFile(path)
	if err != nil {
		log.Warn(ctx, "ignoring invalid config change", logging.String("path", path), logging.Err(err))
		return
	}
	if next.Logging.Level != "" && logging.SetLevel(log, next.Logging.Level) {
		log.Debug(ctx, "log level changed", logging.String("level", next.Logging.Level))
	}
	coreCfg := next.Core()
	if coreCfg.LocalHash == "" {
		current := svc.Config()
		coreCfg.LocalHash = current.LocalHash
		if coreCfg.LocalPosition == nil {
			coreCfg.LocalPosition = current.LocalPosition
		}
	}
	if err := svc.SetConfig(ctx, coreCfg); err != nil {
		log.Warn(ctx, "failed to apply config change", logging.String("path", path), logging.Err(err))
		return
	}
	log.Info(ctx, "applied config change", logging.String("path", path))
}
