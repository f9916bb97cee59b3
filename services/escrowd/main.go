package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	nodeconfig "swapchain/config"
	"swapchain/core"
	"swapchain/core/events"
	"swapchain/observability/logging"
	telemetry "swapchain/observability/otel"
	"swapchain/services/escrowd/config"
	"swapchain/services/escrowd/indexer"
	"swapchain/services/escrowd/server"
	"swapchain/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/escrowd/config.yaml", "path to escrowd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("escrowd: load config: %v", err)
	}
	nodeCfg, err := nodeconfig.Load(cfg.NodeConfig)
	if err != nil {
		log.Fatalf("escrowd: load node config: %v", err)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = nodeCfg.LogFile
	}
	env := strings.TrimSpace(os.Getenv("SWAP_ENV"))
	logger := logging.Setup("escrowd", env, logging.WithFile(logFile))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("escrowd", env, os.Getenv))
	if err != nil {
		log.Fatalf("escrowd: init telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	db, err := storage.NewLevelDB(nodeCfg.DataDir)
	if err != nil {
		log.Fatalf("escrowd: open state database: %v", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, nodeCfg)
	if err != nil {
		log.Fatalf("escrowd: start node: %v", err)
	}
	node.SetLogger(logger)

	gdb, err := indexer.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("escrowd: open index: %v", err)
	}
	idx, err := indexer.New(gdb, cfg.Indexer.QueueSize)
	if err != nil {
		log.Fatalf("escrowd: init index: %v", err)
	}
	node.SetEmitter(events.Fanout{idx, logging.EventLogger(logger)})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	indexDone := make(chan struct{})
	go func() {
		defer close(indexDone)
		idx.Run(ctx)
	}()

	srv := server.New(server.Config{
		Ledger: node,
		Events: idx,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.Uint64("chain_id", node.ChainID()),
			slog.String("state_root", node.StateRoot().Hex()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server failed", slog.String("error", err.Error()))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.String("error", err.Error()))
	}
	<-indexDone
	if dropped := idx.Dropped(); dropped > 0 {
		logger.Warn("index dropped events", slog.Uint64("count", dropped))
	}
	logger.Info("escrowd stopped")
}
