package service

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/errors"
	"github.com/devrev/pairdb/retention-node/internal/metrics"
	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/persistence"
	"github.com/devrev/pairdb/retention-node/internal/storage/commitstore"
	"github.com/devrev/pairdb/retention-node/internal/storage/diskmanager"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// HistoryUUIDKey is the commit user-data key holding the shard history UUID
const HistoryUUIDKey = "history_uuid"

// Shard ties a shard's lease store, replica sink and commit store together.
// Lease operations are refused until Recover has restored the last commit.
type Shard struct {
	shardID string
	store   *LeaseStore
	sink    *ReplicaLeaseSink
	commits commitstore.Store
	disk    *diskmanager.DiskManager
	metrics *metrics.Metrics
	logger  *zap.Logger

	// flushMu serializes commits so generations carry collections in order
	flushMu sync.Mutex

	mu          sync.RWMutex
	recovered   bool
	closed      bool
	historyUUID string
}

// NewShard creates a shard. disk may be nil to skip free-space checks.
func NewShard(
	shardID string,
	store *LeaseStore,
	sink *ReplicaLeaseSink,
	commits commitstore.Store,
	disk *diskmanager.DiskManager,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Shard {
	return &Shard{
		shardID: shardID,
		store:   store,
		sink:    sink,
		commits: commits,
		disk:    disk,
		metrics: m,
		logger:  logger.With(zap.String("shard_id", shardID)),
	}
}

// Recover restores retention leases and the history UUID from the last
// commit. A shard with no commit starts from the empty collection and writes
// its first commit. Corrupt lease metadata aborts recovery.
func (s *Shard) Recover(ctx context.Context) error {
	s.mu.Lock()
	if s.recovered {
		s.mu.Unlock()
		return nil
	}
	if s.closed {
		s.mu.Unlock()
		return errors.Unavailable("shard is closed", nil)
	}

	err := s.recover(ctx)
	s.metrics.RecordRecovery(err)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("Shard recovery failed", zap.Error(err))
		return err
	}

	if s.needsInitialCommit() {
		if _, err := s.Flush(ctx); err != nil {
			return err
		}
	}

	current := s.store.Current()
	s.logger.Info("Shard recovered",
		zap.String("history_uuid", s.HistoryUUID()),
		zap.Int64("primary_term", current.PrimaryTerm()),
		zap.Int64("version", current.Version()),
		zap.Int("leases", current.Len()))
	return nil
}

// recover must be called with mu held
func (s *Shard) recover(ctx context.Context) error {
	commit, err := s.commits.LastCommit(ctx)
	if err != nil {
		if errors.IsLeaseError(err) {
			return err
		}
		return errors.InternalError("failed to read last commit", err)
	}

	var userData map[string][]byte
	if commit != nil {
		userData = commit.UserData
	}

	leases, err := persistence.RestoreOnOpen(userData)
	if err != nil {
		return err
	}
	s.store.Restore(leases)

	if raw, ok := userData[HistoryUUIDKey]; ok && len(raw) > 0 {
		s.historyUUID = string(raw)
	} else {
		s.historyUUID = ""
	}
	s.recovered = true
	return nil
}

func (s *Shard) needsInitialCommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyUUID != "" {
		return false
	}
	s.historyUUID = uuid.NewString()
	return true
}

// Flush writes a commit carrying the current retention leases
func (s *Shard) Flush(ctx context.Context) (*commitstore.Commit, error) {
	if err := s.checkRecovered(); err != nil {
		return nil, err
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	leases := s.store.Current()
	userData := map[string][]byte{
		HistoryUUIDKey: []byte(s.HistoryUUID()),
	}
	persistence.EmbedInCommit(userData, leases)

	if s.disk != nil {
		estimated := uint64(0)
		for _, v := range userData {
			estimated += uint64(len(v))
		}
		if err := s.disk.CheckBeforeWrite(estimated); err != nil {
			s.metrics.RecordCommit(0, err)
			return nil, errors.DiskFull("refusing to write commit", err)
		}
	}

	start := time.Now()
	commit, err := s.commits.Commit(ctx, userData)
	s.metrics.RecordCommit(time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Error("Failed to write commit", zap.Error(err))
		return nil, errors.CommitFailed("failed to write commit", err)
	}

	s.logger.Debug("Flushed shard",
		zap.Int64("generation", commit.Generation),
		zap.Int64("lease_version", leases.Version()))
	return commit, nil
}

// Close flushes a final commit if the shard was recovered and closes the commit store
func (s *Shard) Close(ctx context.Context) error {
	var err error
	if s.isRecovered() {
		if _, flushErr := s.Flush(ctx); flushErr != nil {
			err = multierr.Append(err, flushErr)
		}
	}

	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.recovered = false
	s.mu.Unlock()

	if !alreadyClosed {
		err = multierr.Append(err, s.commits.Close())
	}
	return err
}

// AddRetentionLease adds a lease on the primary
func (s *Shard) AddRetentionLease(id string, retainingSequenceNumber int64, source string, onSynced SyncListener) (model.RetentionLease, error) {
	if err := s.checkRecovered(); err != nil {
		return model.RetentionLease{}, err
	}
	return s.store.Add(id, retainingSequenceNumber, source, onSynced)
}

// RenewRetentionLease renews a lease on the primary
func (s *Shard) RenewRetentionLease(id string, retainingSequenceNumber int64, source string) (model.RetentionLease, error) {
	if err := s.checkRecovered(); err != nil {
		return model.RetentionLease{}, err
	}
	return s.store.Renew(id, retainingSequenceNumber, source)
}

// RemoveRetentionLease removes a lease on the primary
func (s *Shard) RemoveRetentionLease(id string, onSynced SyncListener) error {
	if err := s.checkRecovered(); err != nil {
		return err
	}
	return s.store.Remove(id, onSynced)
}

// AddPeerRecoveryLease adds the peer recovery lease for the copy on nodeID
func (s *Shard) AddPeerRecoveryLease(nodeID string, globalCheckpoint int64, onSynced SyncListener) (model.RetentionLease, error) {
	if err := s.checkRecovered(); err != nil {
		return model.RetentionLease{}, err
	}
	return s.store.AddPeerRecoveryLease(nodeID, globalCheckpoint, onSynced)
}

// RenewPeerRecoveryLeases renews peer recovery leases from per-node global checkpoints
func (s *Shard) RenewPeerRecoveryLeases(checkpoints map[string]int64) (int, error) {
	if err := s.checkRecovered(); err != nil {
		return 0, err
	}
	return s.store.RenewPeerRecoveryLeases(checkpoints), nil
}

// GetRetentionLeases returns the current collection, expiring first if asked
func (s *Shard) GetRetentionLeases(expire bool) (bool, *model.RetentionLeaseCollection, error) {
	if err := s.checkRecovered(); err != nil {
		return false, nil, err
	}
	expired, leases := s.store.Snapshot(expire)
	return expired, leases, nil
}

// UpdateRetentionLeasesOnReplica adopts a collection pushed by the primary
func (s *Shard) UpdateRetentionLeasesOnReplica(leases *model.RetentionLeaseCollection) (bool, error) {
	if err := s.checkRecovered(); err != nil {
		return false, err
	}
	return s.sink.Apply(leases), nil
}

// SyncRetentionLeases expires leases on the primary and, when nothing
// expired or a listener is waiting, pushes the current collection to replicas.
// Replicas ignore the call.
func (s *Shard) SyncRetentionLeases(onSynced SyncListener) error {
	if err := s.checkRecovered(); err != nil {
		return err
	}
	if !s.store.IsPrimary() {
		return nil
	}

	expired, _ := s.store.Snapshot(true)
	if !expired || onSynced != nil {
		s.store.BackgroundSync(onSynced)
	}
	return nil
}

// ActivatePrimaryMode promotes this copy to primary under primaryTerm
func (s *Shard) ActivatePrimaryMode(primaryTerm int64) error {
	if err := s.checkRecovered(); err != nil {
		return err
	}
	s.store.ActivatePrimaryMode(primaryTerm)
	return nil
}

// MinimumRetainingSequenceNumber returns the lowest sequence number any lease retains
func (s *Shard) MinimumRetainingSequenceNumber() (int64, bool) {
	return s.store.Current().MinimumRetainingSequenceNumber()
}

// IsPrimary reports whether this copy is the primary
func (s *Shard) IsPrimary() bool {
	return s.store.IsPrimary()
}

// HistoryUUID returns the shard history UUID, empty before recovery
func (s *Shard) HistoryUUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyUUID
}

// ShardID returns the shard identifier
func (s *Shard) ShardID() string {
	return s.shardID
}

// IsRecovered reports whether Recover completed
func (s *Shard) IsRecovered() bool {
	return s.isRecovered()
}

func (s *Shard) isRecovered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovered
}

func (s *Shard) checkRecovered() error {
	if !s.isRecovered() {
		return errors.NotRecovered(s.shardID)
	}
	return nil
}
