package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/croncat/internal/agent"
	"github.com/t77yq/croncat/internal/chain"
	"github.com/t77yq/croncat/internal/config"
	"github.com/t77yq/croncat/internal/kv"
	"github.com/t77yq/croncat/internal/model"
	"github.com/t77yq/croncat/internal/monitor"
	"github.com/t77yq/croncat/internal/scheduler"
	"github.com/t77yq/croncat/internal/service"
)

func serve(parent context.Context, path string) error {
	cfg, v, err := config.Load(path)
	if err != nil {
		return err
	}

	logger, level, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	if v.ConfigFileUsed() != "" {
		config.WatchLogLevel(v, level, logger)
		logger.Info("Configuration loaded", zap.String("file", v.ConfigFileUsed()))
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}()

	nc, err := connectNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	refunds, err := service.NewRefundPublisher(ctx, js, logger)
	if err != nil {
		return err
	}

	registry := agent.NewRegistry(cfg.Agent.HeartbeatTimeout, logger)
	if err := registry.Start(ctx); err != nil {
		return err
	}
	defer registry.Stop()

	clock := chain.NewBlockClock(cfg.Chain.GenesisHeight, cfg.Chain.GenesisTime, cfg.Chain.BlockTime)
	sched := scheduler.New(scheduler.Config{ContractAddress: cfg.Scheduler.ContractAddress}, store, clock, registry, refunds, logger)
	if _, err := sched.Init(ctx, model.Config{
		OwnerID:          cfg.Scheduler.OwnerID,
		NativeDenom:      cfg.Scheduler.NativeDenom,
		MinTasksPerAgent: cfg.Scheduler.MinTasksPerAgent,
		SlotGranularity:  uint64(cfg.Scheduler.SlotGranularity),
	}); err != nil {
		return err
	}

	if err := service.NewHeartbeatListener(nc, registry, logger).Start(ctx); err != nil {
		return err
	}

	api := service.NewAPI(nc, sched, logger)
	if err := api.Start(ctx); err != nil {
		return err
	}
	defer api.Stop()

	collector := monitor.NewMetricsCollector(js, sched, registry, cfg.Metrics.Interval, logger)
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop()

	logger.Info("Server started",
		zap.String("app", cfg.App.Name),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("nats", nc.ConnectedUrl()))

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	api.Stop()
	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}

	logger.Info("Server shutting down gracefully")
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, level, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, level, err
	}
	return logger, level, nil
}

func openStore(cfg config.StorageConfig, logger *zap.Logger) (kv.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory storage, state is lost on exit")
		return kv.NewMemoryStore(), nil
	default:
		store, err := kv.NewSQLiteStore(logger, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return store, nil
	}
}

func connectNATS(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second * time.Duration(i+1)):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after retries: %w", err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}
