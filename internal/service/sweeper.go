package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweeperConfig holds retention sweeper configuration
type SweeperConfig struct {
	SyncInterval  time.Duration
	FlushInterval time.Duration
	FlushTimeout  time.Duration
}

// RetentionSweeper periodically expires and re-syncs leases on the primary
// and flushes commits so the latest collection reaches disk.
type RetentionSweeper struct {
	config   *SweeperConfig
	shard    *Shard
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRetentionSweeper creates a sweeper; Start launches its loops
func NewRetentionSweeper(cfg *SweeperConfig, shard *Shard, logger *zap.Logger) *RetentionSweeper {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	return &RetentionSweeper{
		config:   cfg,
		shard:    shard,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sync and flush loops. Non-positive intervals disable a loop.
func (s *RetentionSweeper) Start() {
	if s.config.SyncInterval > 0 {
		s.wg.Add(1)
		go s.syncLoop()
	}
	if s.config.FlushInterval > 0 {
		s.wg.Add(1)
		go s.flushLoop()
	}

	s.logger.Info("Retention sweeper started",
		zap.Duration("sync_interval", s.config.SyncInterval),
		zap.Duration("flush_interval", s.config.FlushInterval))
}

func (s *RetentionSweeper) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SyncOnce()
		case <-s.stopChan:
			return
		}
	}
}

func (s *RetentionSweeper) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.FlushOnce()
		case <-s.stopChan:
			return
		}
	}
}

// SyncOnce runs a single expiry and background sync pass
func (s *RetentionSweeper) SyncOnce() {
	if !s.shard.IsRecovered() {
		return
	}
	if err := s.shard.SyncRetentionLeases(nil); err != nil {
		s.logger.Warn("Retention lease sync pass failed", zap.Error(err))
	}
}

// FlushOnce writes a single commit
func (s *RetentionSweeper) FlushOnce() {
	if !s.shard.IsRecovered() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.FlushTimeout)
	defer cancel()

	if _, err := s.shard.Flush(ctx); err != nil {
		s.logger.Warn("Periodic flush failed", zap.Error(err))
	}
}

// Stop stops both loops and waits for them to exit
func (s *RetentionSweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info("Retention sweeper stopped")
}
