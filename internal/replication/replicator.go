// Package replication pushes a primary's retention leases to its replicas.
package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/client"
	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/service"
	"github.com/devrev/pairdb/retention-node/internal/util/workerpool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// PeerProvider lists the RPC addresses of the replicas to sync to
type PeerProvider interface {
	Peers() []string
}

// StaticPeers is a fixed peer list
type StaticPeers []string

// Peers implements PeerProvider
func (p StaticPeers) Peers() []string {
	return append([]string(nil), p...)
}

// Config holds replicator configuration
type Config struct {
	SyncTimeout time.Duration
	Workers     int
	QueueSize   int
}

// Replicator implements service.Synchronizer over gRPC. Each peer receives
// collections in version order; a push older than one already delivered to
// that peer is skipped.
type Replicator struct {
	config   *Config
	peers    PeerProvider
	pool     *workerpool.WorkerPool
	dialOpts []grpc.DialOption
	logger   *zap.Logger

	mu      sync.Mutex
	targets map[string]*target
}

type target struct {
	mu       sync.Mutex
	client   *client.LeaseClient
	lastSent *model.RetentionLeaseCollection
}

// NewReplicator creates a replicator. dialOpts are passed to every peer client.
func NewReplicator(cfg *Config, peers PeerProvider, logger *zap.Logger, dialOpts ...grpc.DialOption) *Replicator {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 5 * time.Second
	}

	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "lease-replication",
		MaxWorkers: cfg.Workers,
		QueueSize:  cfg.QueueSize,
		Logger:     logger,
	})

	return &Replicator{
		config:   cfg,
		peers:    peers,
		pool:     pool,
		dialOpts: dialOpts,
		logger:   logger,
		targets:  make(map[string]*target),
	}
}

// Sync implements service.Synchronizer. done receives nil once every peer
// acknowledged, or the combined per-peer errors.
func (r *Replicator) Sync(leases *model.RetentionLeaseCollection, done service.SyncListener) {
	peers := r.peers.Peers()
	if len(peers) == 0 {
		if done != nil {
			done(nil)
		}
		return
	}

	var (
		mu        sync.Mutex
		errs      error
		remaining = len(peers)
	)
	finish := func(peer string, err error) {
		mu.Lock()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("peer %s: %w", peer, err))
		}
		remaining--
		last := remaining == 0
		combined := errs
		mu.Unlock()

		if last && done != nil {
			done(combined)
		}
	}

	for _, peer := range peers {
		peer := peer
		t, err := r.target(peer)
		if err != nil {
			finish(peer, err)
			continue
		}

		task := workerpool.Task{
			ID: fmt.Sprintf("sync-%s-v%d", peer, leases.Version()),
			Fn: func(ctx context.Context) error {
				err := r.push(ctx, t, leases)
				finish(peer, err)
				return err
			},
		}
		if err := r.pool.Submit(task); err != nil {
			finish(peer, err)
		}
	}
}

func (r *Replicator) push(ctx context.Context, t *target, leases *model.RetentionLeaseCollection) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastSent != nil && !leases.Supersedes(t.lastSent) && !leases.Equal(t.lastSent) {
		r.logger.Debug("Skipping retention lease push superseded by a newer one",
			zap.String("peer", t.client.Addr()),
			zap.Int64("version", leases.Version()),
			zap.Int64("last_sent_version", t.lastSent.Version()))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.SyncTimeout)
	defer cancel()

	if err := t.client.Push(ctx, leases); err != nil {
		return err
	}
	t.lastSent = leases
	return nil
}

func (r *Replicator) target(peer string) (*target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.targets[peer]; ok {
		return t, nil
	}

	c, err := client.NewLeaseClient(peer, r.logger, r.dialOpts...)
	if err != nil {
		return nil, err
	}
	t := &target{client: c}
	r.targets[peer] = t
	return t, nil
}

// Close stops the worker pool and closes every peer connection
func (r *Replicator) Close() error {
	err := r.pool.Stop(10 * time.Second)

	r.mu.Lock()
	defer r.mu.Unlock()
	for peer, t := range r.targets {
		err = multierr.Append(err, t.client.Close())
		delete(r.targets, peer)
	}
	return err
}

// Stats returns worker pool statistics
func (r *Replicator) Stats() workerpool.Stats {
	return r.pool.Stats()
}

var _ service.Synchronizer = (*Replicator)(nil)
