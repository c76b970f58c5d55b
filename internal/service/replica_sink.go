package service

import (
	"github.com/devrev/pairdb/retention-node/internal/metrics"
	"github.com/devrev/pairdb/retention-node/internal/model"
	"go.uber.org/zap"
)

// ReplicaLeaseSink adopts collections pushed by the primary. It never
// originates mutations, computes expiry or fans state out further.
type ReplicaLeaseSink struct {
	store       *LeaseStore
	rejectStale bool
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewReplicaLeaseSink creates a sink over store. With rejectStale, pushes
// whose (primary term, version) is not newer than the local collection are
// refused; otherwise every push replaces local state.
func NewReplicaLeaseSink(store *LeaseStore, rejectStale bool, m *metrics.Metrics, logger *zap.Logger) *ReplicaLeaseSink {
	return &ReplicaLeaseSink{
		store:       store,
		rejectStale: rejectStale,
		metrics:     m,
		logger:      logger,
	}
}

// Apply replaces the local collection with incoming and reports whether it was adopted
func (s *ReplicaLeaseSink) Apply(incoming *model.RetentionLeaseCollection) bool {
	if incoming == nil {
		s.logger.Warn("Ignoring nil retention lease collection")
		s.metrics.RecordReplicaApply(false)
		return false
	}

	switch s.store.applyFromPrimary(incoming, s.rejectStale) {
	case applyOnPrimary:
		s.logger.Error("Primary received retention leases from another primary",
			zap.Int64("primary_term", incoming.PrimaryTerm()),
			zap.Int64("version", incoming.Version()))
		s.metrics.RecordReplicaApply(false)
		return false
	case applyStale:
		current := s.store.Current()
		s.logger.Warn("Rejected stale retention leases from primary",
			zap.Int64("incoming_primary_term", incoming.PrimaryTerm()),
			zap.Int64("incoming_version", incoming.Version()),
			zap.Int64("local_primary_term", current.PrimaryTerm()),
			zap.Int64("local_version", current.Version()))
		s.metrics.RecordReplicaApply(false)
		return false
	}

	s.metrics.RecordReplicaApply(true)
	s.logger.Debug("Applied retention leases from primary",
		zap.Int64("primary_term", incoming.PrimaryTerm()),
		zap.Int64("version", incoming.Version()),
		zap.Int("leases", incoming.Len()))
	return true
}
