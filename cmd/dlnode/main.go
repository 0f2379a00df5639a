package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"datalayr/config"
	"datalayr/core"
	"datalayr/core/events"
	"datalayr/core/genesis"
	"datalayr/indexer"
	"datalayr/observability/logging"
	"datalayr/observability/metrics"
	telemetry "datalayr/observability/otel"
	"datalayr/rpc"
	"datalayr/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file applied to an empty data directory")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DATALAYR_ENV"))
	cfg, err := config.Load(*configFile)
	if err != nil {
		logging.Setup("dlnode", env, "").Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("dlnode", env, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, *genesisFlag, logger); err != nil {
		logger.Error("dlnode stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, env, genesisPath string, logger *slog.Logger) error {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			Service:     "dlnode",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    cfg.OTLPInsecure,
			Headers:     cfg.OTLPHeaders,
			Traces:      true,
			Metrics:     true,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}
	defer db.Close()

	coord, err := core.NewCoordinator(db, cfg.Global, logger)
	if err != nil {
		return err
	}
	server := rpc.NewServer(coord, cfg.Global.RPC, logger)
	hub := events.NewHub(256)
	server.SetEventFeed(hub)
	sink := events.Fanout{hub}
	if dsn := strings.TrimSpace(cfg.IndexerDSN); dsn != "" {
		idx, err := indexer.Open(dsn, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := idx.Close(); err != nil {
				logger.Warn("close event index", slog.Any("error", err))
			}
		}()
		sink = append(sink, idx)
		server.SetEventIndex(idx)
		logger.Info("event index enabled")
	}
	coord.SetEventSink(sink)

	if genesisPath == "" {
		genesisPath = cfg.GenesisFile
	}
	if err := bootstrap(coord, genesisPath, logger); err != nil {
		return err
	}
	metrics.DataLayr().SetBlockHeight(coord.Height() - 1)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server.Handler(), "dlnode"),
		ReadHeaderTimeout: time.Duration(cfg.RPCReadHeaderTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPCWriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		commitLoop(loopCtx, coord, time.Duration(cfg.BlockInterval)*time.Second, logger)
	}()
	defer func() {
		cancelLoop()
		<-loopDone
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", slog.String("addr", cfg.ListenAddress), slog.Uint64("height", coord.Height()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rpc server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("rpc shutdown", slog.Any("error", err))
		}
	}

	cancelLoop()
	<-loopDone
	root, height, err := coord.Commit()
	if err != nil {
		return fmt.Errorf("final commit: %w", err)
	}
	logger.Info("state committed", slog.String("root", root.Hex()), slog.Uint64("height", height))
	return nil
}

type committer interface {
	Commit() (common.Hash, uint64, error)
}

// commitLoop advances the block height every interval so expiry, fraud-proof
// and withdrawal deadlines pass on an idle node. A non-positive interval
// disables it.
func commitLoop(ctx context.Context, c committer, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		logger.Info("automatic commits disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			root, height, err := c.Commit()
			if err != nil {
				logger.Error("block commit failed", slog.Any("error", err))
				continue
			}
			logger.Debug("block committed", slog.String("root", root.Hex()), slog.Uint64("height", height))
		}
	}
}

// bootstrap applies genesis only to a data directory that has never been
// committed.
func bootstrap(coord *core.Coordinator, path string, logger *slog.Logger) error {
	if coord.Initialized() {
		if path != "" {
			logger.Info("state already initialised; ignoring genesis", slog.String("genesis", path))
		}
		return nil
	}
	if path == "" {
		logger.Warn("starting from empty state without genesis")
		return nil
	}
	spec, err := genesis.LoadSpec(path)
	if err != nil {
		return err
	}
	if err := coord.ApplyGenesis(spec); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	root, height, err := coord.Commit()
	if err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	logger.Info("genesis applied",
		slog.Int("operators", spec.OperatorCount()),
		slog.String("root", root.Hex()),
		slog.Uint64("height", height))
	return nil
}
