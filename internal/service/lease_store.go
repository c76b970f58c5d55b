package service

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/errors"
	"github.com/devrev/pairdb/retention-node/internal/metrics"
	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/validation"
	"go.uber.org/zap"
)

const (
	// PeerRecoveryLeaseSource is the source of leases held on behalf of replica copies
	PeerRecoveryLeaseSource = "peer recovery"

	peerRecoveryLeasePrefix = "peer_recovery/"
)

// PeerRecoveryLeaseID returns the lease id retaining history for the copy on nodeID
func PeerRecoveryLeaseID(nodeID string) string {
	return peerRecoveryLeasePrefix + nodeID
}

// LeaseStore is the authority over a shard's retention leases. Mutations
// serialize on mu; readers load the current immutable collection without locking.
type LeaseStore struct {
	shardID      string
	ttlMillis    int64
	clock        Clock
	synchronizer Synchronizer
	validator    *validation.Validator
	metrics      *metrics.Metrics
	logger       *zap.Logger

	mu                   sync.Mutex
	primary              bool
	operationPrimaryTerm int64

	current atomic.Pointer[model.RetentionLeaseCollection]
}

// LeaseStoreConfig holds lease store configuration
type LeaseStoreConfig struct {
	ShardID     string
	LeaseTTL    time.Duration
	Primary     bool
	PrimaryTerm int64
}

// NewLeaseStore creates a lease store holding the empty collection.
// A nil synchronizer behaves like NoopSynchronizer.
func NewLeaseStore(
	cfg *LeaseStoreConfig,
	clock Clock,
	synchronizer Synchronizer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *LeaseStore {
	if clock == nil {
		clock = SystemClock
	}
	if synchronizer == nil {
		synchronizer = NoopSynchronizer
	}
	term := cfg.PrimaryTerm
	if term <= 0 {
		term = model.DefaultPrimaryTerm
	}

	s := &LeaseStore{
		shardID:              cfg.ShardID,
		ttlMillis:            cfg.LeaseTTL.Milliseconds(),
		clock:                clock,
		synchronizer:         synchronizer,
		validator:            validation.NewValidator(),
		metrics:              m,
		logger:               logger.With(zap.String("shard_id", cfg.ShardID)),
		primary:              cfg.Primary,
		operationPrimaryTerm: term,
	}
	s.current.Store(model.EmptyRetentionLeases)
	return s
}

// Add creates a lease for id. onSynced, if non-nil, is invoked asynchronously
// once replicas acknowledged the new collection, never before Add returns.
func (s *LeaseStore) Add(id string, retainingSequenceNumber int64, source string, onSynced SyncListener) (model.RetentionLease, error) {
	lease, err := s.add(id, retainingSequenceNumber, source, onSynced)
	s.metrics.RecordLeaseOperation("add", err)
	return lease, err
}

func (s *LeaseStore) add(id string, retainingSequenceNumber int64, source string, onSynced SyncListener) (model.RetentionLease, error) {
	if err := s.validator.ValidateLeaseRequest(id, retainingSequenceNumber, source); err != nil {
		return model.RetentionLease{}, err
	}

	released := make(chan struct{})
	defer close(released)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primary {
		return model.RetentionLease{}, errors.NotPrimary(s.shardID)
	}

	current := s.current.Load()
	if current.Contains(id) {
		return model.RetentionLease{}, errors.AlreadyExists(id)
	}

	lease := model.RetentionLease{
		ID:                      id,
		RetainingSequenceNumber: retainingSequenceNumber,
		Timestamp:               s.clock.NowMillis(),
		Source:                  source,
	}
	next := current.WithLease(s.operationPrimaryTerm, lease)
	s.publish(next)

	s.logger.Info("Added retention lease",
		zap.String("lease_id", id),
		zap.Int64("retaining_seq_no", retainingSequenceNumber),
		zap.String("source", source),
		zap.Int64("version", next.Version()))

	s.sync(next, s.afterRelease(released, onSynced))
	return lease, nil
}

// Renew advances the retaining sequence number of an existing lease and
// refreshes its timestamp. Sync is fire-and-forget.
func (s *LeaseStore) Renew(id string, retainingSequenceNumber int64, source string) (model.RetentionLease, error) {
	lease, err := s.renew(id, retainingSequenceNumber, source)
	s.metrics.RecordLeaseOperation("renew", err)
	return lease, err
}

func (s *LeaseStore) renew(id string, retainingSequenceNumber int64, source string) (model.RetentionLease, error) {
	if err := s.validator.ValidateLeaseRequest(id, retainingSequenceNumber, source); err != nil {
		return model.RetentionLease{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primary {
		return model.RetentionLease{}, errors.NotPrimary(s.shardID)
	}

	current := s.current.Load()
	existing, ok := current.Get(id)
	if !ok {
		return model.RetentionLease{}, errors.NotFound(id)
	}
	if retainingSequenceNumber < existing.RetainingSequenceNumber {
		return model.RetentionLease{}, errors.InvalidRetainingSequenceNumber(
			id, existing.RetainingSequenceNumber, retainingSequenceNumber)
	}

	lease := model.RetentionLease{
		ID:                      id,
		RetainingSequenceNumber: retainingSequenceNumber,
		Timestamp:               s.clock.NowMillis(),
		Source:                  source,
	}
	next := current.WithLease(s.operationPrimaryTerm, lease)
	s.publish(next)

	s.logger.Debug("Renewed retention lease",
		zap.String("lease_id", id),
		zap.Int64("retaining_seq_no", retainingSequenceNumber),
		zap.Int64("version", next.Version()))

	s.sync(next, nil)
	return lease, nil
}

// Remove drops the lease for id. onSynced may be nil.
func (s *LeaseStore) Remove(id string, onSynced SyncListener) error {
	err := s.remove(id, onSynced)
	s.metrics.RecordLeaseOperation("remove", err)
	return err
}

func (s *LeaseStore) remove(id string, onSynced SyncListener) error {
	released := make(chan struct{})
	defer close(released)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primary {
		return errors.NotPrimary(s.shardID)
	}

	current := s.current.Load()
	if !current.Contains(id) {
		return errors.NotFound(id)
	}

	next := current.WithoutLeases(s.operationPrimaryTerm, id)
	s.publish(next)

	s.logger.Info("Removed retention lease",
		zap.String("lease_id", id),
		zap.Int64("version", next.Version()))

	s.sync(next, s.afterRelease(released, onSynced))
	return nil
}

// Snapshot returns the current collection. With expire set, a primary first
// drops every lease older than the TTL in a single version bump; didExpire
// reports whether anything was removed.
func (s *LeaseStore) Snapshot(expire bool) (didExpire bool, leases *model.RetentionLeaseCollection) {
	if !expire {
		return false, s.current.Load()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.current.Load()
	if !s.primary {
		s.logger.Debug("Ignoring retention lease expiry on replica")
		return false, current
	}

	now := s.clock.NowMillis()
	var expired []string
	for _, lease := range current.Leases() {
		if now-lease.Timestamp > s.ttlMillis {
			expired = append(expired, lease.ID)
		}
	}
	s.metrics.RecordExpirySweep(len(expired))

	if len(expired) == 0 {
		return false, current
	}

	next := current.WithoutLeases(s.operationPrimaryTerm, expired...)
	s.publish(next)

	s.logger.Info("Expired retention leases",
		zap.Strings("lease_ids", expired),
		zap.Int64("version", next.Version()))

	s.sync(next, nil)
	return true, next
}

// Current returns the current collection without locking
func (s *LeaseStore) Current() *model.RetentionLeaseCollection {
	return s.current.Load()
}

// Restore replaces the current collection wholesale without synchronizing.
// Shard recovery calls this before any other lease operation.
func (s *LeaseStore) Restore(leases *model.RetentionLeaseCollection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leases.PrimaryTerm() > s.operationPrimaryTerm {
		s.operationPrimaryTerm = leases.PrimaryTerm()
	}
	s.publish(leases)
}

type applyOutcome int

const (
	applyAdopted applyOutcome = iota
	applyStale
	applyOnPrimary
)

// applyFromPrimary adopts a collection pushed by the primary. With
// rejectStale, collections not newer than the local one are refused.
func (s *LeaseStore) applyFromPrimary(incoming *model.RetentionLeaseCollection, rejectStale bool) applyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.primary {
		return applyOnPrimary
	}

	current := s.current.Load()
	if rejectStale && !incoming.Supersedes(current) {
		if incoming.Equal(current) {
			return applyAdopted
		}
		return applyStale
	}
	if incoming.PrimaryTerm() > s.operationPrimaryTerm {
		s.operationPrimaryTerm = incoming.PrimaryTerm()
	}
	s.publish(incoming)
	return applyAdopted
}

// ActivatePrimaryMode switches the store to primary role under the given term
func (s *LeaseStore) ActivatePrimaryMode(primaryTerm int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.primary = true
	if primaryTerm > s.operationPrimaryTerm {
		s.operationPrimaryTerm = primaryTerm
	}
	s.logger.Info("Retention lease store activated in primary mode",
		zap.Int64("primary_term", s.operationPrimaryTerm))
}

// IsPrimary reports whether the store acts for the primary copy
func (s *LeaseStore) IsPrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

// OperationPrimaryTerm returns the term stamped on collections produced here
func (s *LeaseStore) OperationPrimaryTerm() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.operationPrimaryTerm
}

// AddPeerRecoveryLease retains history above globalCheckpoint for the copy on nodeID
func (s *LeaseStore) AddPeerRecoveryLease(nodeID string, globalCheckpoint int64, onSynced SyncListener) (model.RetentionLease, error) {
	return s.Add(PeerRecoveryLeaseID(nodeID), retainingAbove(globalCheckpoint), PeerRecoveryLeaseSource, onSynced)
}

// retainingAbove returns the first sequence number after checkpoint, saturating at MaxInt64
func retainingAbove(checkpoint int64) int64 {
	if checkpoint == math.MaxInt64 {
		return checkpoint
	}
	return checkpoint + 1
}

// RenewPeerRecoveryLeases renews the peer recovery lease of every node in
// checkpoints whose lease would advance or has passed half its TTL. Nodes
// without a lease and renewals that would move backward are skipped.
func (s *LeaseStore) RenewPeerRecoveryLeases(checkpoints map[string]int64) int {
	nodeIDs := make([]string, 0, len(checkpoints))
	for nodeID := range checkpoints {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	renewed := 0
	for _, nodeID := range nodeIDs {
		id := PeerRecoveryLeaseID(nodeID)
		existing, ok := s.Current().Get(id)
		if !ok {
			continue
		}

		retaining := retainingAbove(checkpoints[nodeID])
		if retaining < existing.RetainingSequenceNumber {
			continue
		}
		halfExpired := existing.Timestamp <= s.clock.NowMillis()-s.ttlMillis/2
		if retaining == existing.RetainingSequenceNumber && !halfExpired {
			continue
		}

		if _, err := s.Renew(id, retaining, PeerRecoveryLeaseSource); err != nil {
			s.logger.Debug("Skipped peer recovery lease renewal",
				zap.String("node_id", nodeID),
				zap.Error(err))
			continue
		}
		renewed++
	}
	return renewed
}

// BackgroundSync pushes the current collection to replicas unchanged
func (s *LeaseStore) BackgroundSync(onSynced SyncListener) {
	released := make(chan struct{})
	defer close(released)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primary {
		return
	}
	s.sync(s.current.Load(), s.afterRelease(released, onSynced))
}

// publish must be called with mu held
func (s *LeaseStore) publish(next *model.RetentionLeaseCollection) {
	s.current.Store(next)
	minRetained, hasMin := next.MinimumRetainingSequenceNumber()
	s.metrics.UpdateLeaseState(next.PrimaryTerm(), next.Version(), next.Len(), minRetained, hasMin)
}

// sync must be called with mu held so collections reach the synchronizer in version order
func (s *LeaseStore) sync(leases *model.RetentionLeaseCollection, onSynced SyncListener) {
	start := time.Now()
	version := leases.Version()
	s.synchronizer.Sync(leases, func(err error) {
		s.metrics.RecordSync(time.Since(start).Seconds(), err)
		if err != nil {
			s.logger.Warn("Failed to sync retention leases to replicas",
				zap.Int64("version", version),
				zap.Error(err))
		}
		if onSynced != nil {
			onSynced(err)
		}
	})
}

// afterRelease defers listener until released is closed and runs it on its own goroutine
func (s *LeaseStore) afterRelease(released <-chan struct{}, listener SyncListener) SyncListener {
	if listener == nil {
		return nil
	}
	return func(err error) {
		go func() {
			<-released
			listener(err)
		}()
	}
}
