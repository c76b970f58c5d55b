package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the retention node.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Lease state
	LeasesTotal       prometheus.Gauge
	LeasesVersion     prometheus.Gauge
	LeasesPrimaryTerm prometheus.Gauge
	MinRetainedSeqNo  prometheus.Gauge

	// Lease operations
	LeaseOperationsTotal *prometheus.CounterVec
	LeasesExpiredTotal   prometheus.Counter
	ExpirySweepsTotal    *prometheus.CounterVec

	// Replication
	SyncTotal           *prometheus.CounterVec
	SyncDuration        prometheus.Histogram
	ReplicaAppliesTotal *prometheus.CounterVec

	// Commits
	CommitsTotal    *prometheus.CounterVec
	CommitDuration  prometheus.Histogram
	RecoveriesTotal *prometheus.CounterVec

	// Gossip metrics
	GossipMembersTotal prometheus.Gauge

	// System metrics
	DiskUsageBytes     prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
	MemoryUsageBytes   prometheus.Gauge
	GoroutinesTotal    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with reg.
// A nil reg registers with the default registry.
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		LeasesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "retention",
			Name:        "leases_total",
			Help:        "Current number of retention leases",
			ConstLabels: labels,
		}),
		LeasesVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "retention",
			Name:        "leases_version",
			Help:        "Version of the current retention lease collection",
			ConstLabels: labels,
		}),
		LeasesPrimaryTerm: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "retention",
			Name:        "leases_primary_term",
			Help:        "Primary term of the current retention lease collection",
			ConstLabels: labels,
		}),
		MinRetainedSeqNo: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "retention",
			Name:        "min_retaining_sequence_number",
			Help:        "Lowest retaining sequence number across all leases",
			ConstLabels: labels,
		}),
		LeaseOperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "retention",
			Name:        "lease_operations_total",
			Help:        "Total number of retention lease operations by operation and result",
			ConstLabels: labels,
		}, []string{"operation", "result"}),
		LeasesExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "retention",
			Name:        "leases_expired_total",
			Help:        "Total number of retention leases removed by expiry",
			ConstLabels: labels,
		}),
		ExpirySweepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "retention",
			Name:        "expiry_sweeps_total",
			Help:        "Total number of expiry sweeps by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),

		SyncTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replication",
			Name:        "lease_syncs_total",
			Help:        "Total number of retention lease syncs to replicas by result",
			ConstLabels: labels,
		}, []string{"result"}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "replication",
			Name:        "lease_sync_duration_seconds",
			Help:        "Histogram of retention lease sync durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ReplicaAppliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replication",
			Name:        "replica_applies_total",
			Help:        "Total number of retention lease collections received from the primary by result",
			ConstLabels: labels,
		}, []string{"result"}),

		CommitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "commit",
			Name:        "commits_total",
			Help:        "Total number of commits by result",
			ConstLabels: labels,
		}, []string{"result"}),
		CommitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "commit",
			Name:        "commit_duration_seconds",
			Help:        "Histogram of commit durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		RecoveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "commit",
			Name:        "recoveries_total",
			Help:        "Total number of shard recoveries by result",
			ConstLabels: labels,
		}, []string{"result"}),

		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "gossip",
			Name:        "members_total",
			Help:        "Current number of gossip members",
			ConstLabels: labels,
		}),

		DiskUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_usage_bytes",
			Help:        "Current disk usage in bytes",
			ConstLabels: labels,
		}),
		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Available disk space in bytes",
			ConstLabels: labels,
		}),
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Current disk usage percentage",
			ConstLabels: labels,
		}),
		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Current memory usage in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// UpdateLeaseState records the shape of the current lease collection
func (m *Metrics) UpdateLeaseState(primaryTerm, version int64, leases int, minRetained int64, hasMin bool) {
	if m == nil {
		return
	}
	m.LeasesTotal.Set(float64(leases))
	m.LeasesVersion.Set(float64(version))
	m.LeasesPrimaryTerm.Set(float64(primaryTerm))
	if hasMin {
		m.MinRetainedSeqNo.Set(float64(minRetained))
	}
}

// RecordLeaseOperation records an add, renew or remove outcome
func (m *Metrics) RecordLeaseOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.LeaseOperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

// RecordExpirySweep records a sweep and how many leases it removed
func (m *Metrics) RecordExpirySweep(expired int) {
	if m == nil {
		return
	}
	if expired == 0 {
		m.ExpirySweepsTotal.WithLabelValues("noop").Inc()
		return
	}
	m.ExpirySweepsTotal.WithLabelValues("expired").Inc()
	m.LeasesExpiredTotal.Add(float64(expired))
}

// RecordSync records a completed sync to replicas
func (m *Metrics) RecordSync(duration float64, err error) {
	if m == nil {
		return
	}
	m.SyncTotal.WithLabelValues(resultLabel(err)).Inc()
	m.SyncDuration.Observe(duration)
}

// RecordReplicaApply records whether a pushed collection was adopted
func (m *Metrics) RecordReplicaApply(applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.ReplicaAppliesTotal.WithLabelValues("applied").Inc()
	} else {
		m.ReplicaAppliesTotal.WithLabelValues("rejected").Inc()
	}
}

// RecordCommit records a commit
func (m *Metrics) RecordCommit(duration float64, err error) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(resultLabel(err)).Inc()
	m.CommitDuration.Observe(duration)
}

// RecordRecovery records a shard recovery
func (m *Metrics) RecordRecovery(err error) {
	if m == nil {
		return
	}
	m.RecoveriesTotal.WithLabelValues(resultLabel(err)).Inc()
}

// UpdateGossipStats updates gossip statistics
func (m *Metrics) UpdateGossipStats(totalMembers int) {
	if m == nil {
		return
	}
	m.GossipMembersTotal.Set(float64(totalMembers))
}

// UpdateSystemStats updates system-level statistics
func (m *Metrics) UpdateSystemStats(diskUsage, diskAvailable, memoryUsage int64, goroutines int) {
	if m == nil {
		return
	}
	m.DiskUsageBytes.Set(float64(diskUsage))
	m.DiskAvailableBytes.Set(float64(diskAvailable))
	if diskUsage+diskAvailable > 0 {
		m.DiskUsagePercent.Set(float64(diskUsage) / float64(diskUsage+diskAvailable) * 100)
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
