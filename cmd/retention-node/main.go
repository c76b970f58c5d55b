package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/client"
	"github.com/devrev/pairdb/retention-node/internal/config"
	"github.com/devrev/pairdb/retention-node/internal/handler"
	"github.com/devrev/pairdb/retention-node/internal/health"
	"github.com/devrev/pairdb/retention-node/internal/metrics"
	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/replication"
	"github.com/devrev/pairdb/retention-node/internal/server"
	"github.com/devrev/pairdb/retention-node/internal/service"
	"github.com/devrev/pairdb/retention-node/internal/storage/commitstore"
	"github.com/devrev/pairdb/retention-node/internal/storage/diskmanager"
	pb "github.com/devrev/pairdb/retention-node/pkg/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger = logger.With(zap.String("node_id", cfg.Server.NodeID))
	logger.Info("Configuration loaded",
		zap.String("shard_id", cfg.Shard.ShardID),
		zap.Bool("primary", cfg.Shard.Primary),
		zap.Int64("primary_term", cfg.Shard.PrimaryTerm),
		zap.String("engine", cfg.Storage.Engine),
		zap.Int("port", cfg.Server.Port))

	if err := os.MkdirAll(cfg.Storage.CommitDir, 0755); err != nil {
		logger.Fatal("Failed to create commit directory", zap.Error(err))
	}

	m := metrics.NewMetrics(cfg.Server.NodeID, nil)

	diskCfg := diskmanager.DefaultConfig(cfg.Storage.DataDir)
	diskCfg.CircuitBreakerThreshold = cfg.Storage.MaxDiskUsage * 100
	disk, err := diskmanager.NewDiskManager(diskCfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize disk manager", zap.Error(err))
	}

	commits, err := commitstore.Open(&commitstore.Config{
		Engine:      commitstore.Engine(cfg.Storage.Engine),
		Dir:         cfg.Storage.CommitDir,
		KeepCommits: cfg.Storage.KeepCommits,
		SyncWrites:  cfg.Storage.SyncWrites,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open commit store", zap.Error(err))
	}

	role := model.NodeRoleReplica
	if cfg.Shard.Primary {
		role = model.NodeRolePrimary
	}

	var (
		peers     replication.PeerProvider = replication.StaticPeers(cfg.Replication.Peers)
		gossipSvc *service.GossipService
	)
	if cfg.Gossip.Enabled {
		gossipSvc, err = service.NewGossipService(
			&service.GossipConfig{
				Enabled:        cfg.Gossip.Enabled,
				BindPort:       cfg.Gossip.BindPort,
				SeedNodes:      cfg.Gossip.SeedNodes,
				GossipInterval: cfg.Gossip.GossipInterval,
				ProbeTimeout:   cfg.Gossip.ProbeTimeout,
				ProbeInterval:  cfg.Gossip.ProbeInterval,
			},
			model.NodeMeta{
				NodeID:      cfg.Server.NodeID,
				ShardID:     cfg.Shard.ShardID,
				Role:        role,
				RPCAddr:     cfg.Server.AdvertiseAddr,
				PrimaryTerm: cfg.Shard.PrimaryTerm,
			},
			m,
			logger,
		)
		if err != nil {
			logger.Error("Failed to initialize gossip service, using static peers", zap.Error(err))
		} else {
			peers = gossipSvc
			logger.Info("Gossip service initialized")
		}
	}

	replicator := replication.NewReplicator(&replication.Config{
		SyncTimeout: cfg.Replication.SyncTimeout,
		Workers:     cfg.Replication.Workers,
		QueueSize:   cfg.Replication.QueueSize,
	}, peers, logger)

	store := service.NewLeaseStore(&service.LeaseStoreConfig{
		ShardID:     cfg.Shard.ShardID,
		LeaseTTL:    cfg.Retention.LeaseTTL,
		Primary:     cfg.Shard.Primary,
		PrimaryTerm: cfg.Shard.PrimaryTerm,
	}, service.SystemClock, replicator, m, logger)
	sink := service.NewReplicaLeaseSink(store, cfg.Retention.RejectStalePushes, m, logger)
	shard := service.NewShard(cfg.Shard.ShardID, store, sink, commits, disk, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting shard recovery")
	if err := shard.Recover(ctx); err != nil {
		logger.Fatal("Failed to recover shard", zap.Error(err))
	}
	if !cfg.Shard.Primary {
		catchUpFromPrimary(ctx, cfg, shard, gossipSvc, logger)
	}

	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:  cfg.Server.NodeID,
		DataDir: cfg.Storage.DataDir,
	}, disk, shard, logger)
	go checker.Start(ctx, 10*time.Second)

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, m, checker, disk, shard, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}

	sweeper := service.NewRetentionSweeper(&service.SweeperConfig{
		SyncInterval:  cfg.Retention.BackgroundSyncInterval,
		FlushInterval: cfg.Retention.FlushInterval,
	}, shard, logger)
	sweeper.Start()

	if gossipSvc != nil {
		go advertiseLoop(ctx, gossipSvc, shard, store, disk, cfg.Retention.BackgroundSyncInterval)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConnections)),
	)
	pb.RegisterRetentionLeaseServiceServer(grpcServer, handler.NewLeaseHandler(shard, logger))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}

	logger.Info("Retention node starting",
		zap.String("address", addr),
		zap.String("history_uuid", shard.HistoryUUID()))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down gracefully...")
		checker.SetReadiness(false)
		sweeper.Stop()
		grpcServer.GracefulStop()
	}()

	if err := grpcServer.Serve(listener); err != nil {
		logger.Error("gRPC server stopped", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := shard.Close(shutdownCtx); err != nil {
		logger.Error("Failed to close shard", zap.Error(err))
	}
	if err := replicator.Close(); err != nil {
		logger.Warn("Failed to close replicator", zap.Error(err))
	}
	if gossipSvc != nil {
		if err := gossipSvc.Shutdown(); err != nil {
			logger.Warn("Failed to shut down gossip", zap.Error(err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Warn("Failed to stop metrics server", zap.Error(err))
		}
	}
	cancel()
	logger.Info("Retention node stopped")
}

// catchUpFromPrimary pulls the primary's collection once after recovery
func catchUpFromPrimary(ctx context.Context, cfg *config.Config, shard *service.Shard, gossipSvc *service.GossipService, logger *zap.Logger) {
	primaryAddr := cfg.Replication.PrimaryAddr
	if primaryAddr == "" && gossipSvc != nil {
		primaryAddr, _ = gossipSvc.Primary()
	}
	if primaryAddr == "" {
		logger.Info("Primary address unknown, waiting for the next push")
		return
	}

	c, err := client.NewLeaseClient(primaryAddr, logger)
	if err != nil {
		logger.Warn("Failed to connect to primary", zap.String("primary", primaryAddr), zap.Error(err))
		return
	}
	defer c.Close()

	leases, err := c.FetchWithRetry(ctx, cfg.Replication.FetchRetries, cfg.Replication.RetryInterval)
	if err != nil {
		logger.Warn("Failed to fetch retention leases from primary", zap.Error(err))
		return
	}
	if _, err := shard.UpdateRetentionLeasesOnReplica(leases); err != nil {
		logger.Warn("Failed to apply retention leases from primary", zap.Error(err))
	}
}

// advertiseLoop keeps the gossiped role and lease position current
func advertiseLoop(
	ctx context.Context,
	gossipSvc *service.GossipService,
	shard *service.Shard,
	store *service.LeaseStore,
	disk *diskmanager.DiskManager,
	interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		role := model.NodeRoleReplica
		if shard.IsPrimary() {
			role = model.NodeRolePrimary
		}
		current := store.Current()
		gossipSvc.UpdateLocalState(role, store.OperationPrimaryTerm(), current.Version(), model.HealthMetrics{
			DiskUsage: disk.GetDiskUsage().UsagePercent,
		})

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// initLogger builds the zap logger from logging configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
