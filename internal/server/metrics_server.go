package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/health"
	"github.com/devrev/pairdb/retention-node/internal/metrics"
	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/storage/diskmanager"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// LeaseView exposes a shard's retention leases for inspection
type LeaseView interface {
	ShardID() string
	HistoryUUID() string
	IsPrimary() bool
	GetRetentionLeases(expire bool) (bool, *model.RetentionLeaseCollection, error)
}

// MetricsServer serves Prometheus metrics, health probes and a lease dump over HTTP
type MetricsServer struct {
	httpServer *http.Server
	metrics    *metrics.Metrics
	disk       *diskmanager.DiskManager
	leases     LeaseView
	logger     *zap.Logger
	stopChan   chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port     int
	Path     string
	Gatherer prometheus.Gatherer
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(
	cfg *MetricsServerConfig,
	m *metrics.Metrics,
	checker *health.HealthChecker,
	disk *diskmanager.DiskManager,
	leases LeaseView,
	logger *zap.Logger,
) *MetricsServer {
	mux := http.NewServeMux()

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:  m,
		disk:     disk,
		leases:   leases,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if checker != nil {
		mux.HandleFunc("/health/live", checker.LivenessHandler)
		mux.HandleFunc("/health/ready", checker.ReadinessHandler)
	}
	mux.HandleFunc("/leases", ms.leasesHandler)

	return ms
}

// Handler returns the HTTP handler, for tests
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the metrics server
func (s *MetricsServer) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	go s.collectSystemMetrics()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop() error {
	s.logger.Info("Stopping metrics server")

	close(s.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	return nil
}

type leaseJSON struct {
	ID                      string `json:"id"`
	RetainingSequenceNumber int64  `json:"retaining_seq_no"`
	Timestamp               int64  `json:"timestamp"`
	Source                  string `json:"source"`
}

type leasesResponse struct {
	ShardID     string      `json:"shard_id"`
	HistoryUUID string      `json:"history_uuid"`
	Primary     bool        `json:"primary"`
	PrimaryTerm int64       `json:"primary_term"`
	Version     int64       `json:"version"`
	MinRetained *int64      `json:"min_retaining_seq_no,omitempty"`
	Leases      []leaseJSON `json:"leases"`
}

// leasesHandler dumps the current collection without expiring
func (s *MetricsServer) leasesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.leases == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"no shard"}`)
		return
	}

	_, current, err := s.leases.GetRetentionLeases(false)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	resp := leasesResponse{
		ShardID:     s.leases.ShardID(),
		HistoryUUID: s.leases.HistoryUUID(),
		Primary:     s.leases.IsPrimary(),
		PrimaryTerm: current.PrimaryTerm(),
		Version:     current.Version(),
		Leases:      make([]leaseJSON, 0, current.Len()),
	}
	if minRetained, ok := current.MinimumRetainingSequenceNumber(); ok {
		resp.MinRetained = &minRetained
	}
	for _, lease := range current.Leases() {
		resp.Leases = append(resp.Leases, leaseJSON{
			ID:                      lease.ID,
			RetainingSequenceNumber: lease.RetainingSequenceNumber,
			Timestamp:               lease.Timestamp,
			Source:                  lease.Source,
		})
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *MetricsServer) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MetricsServer) updateSystemMetrics() {
	var diskUsed, diskAvailable int64
	if s.disk != nil {
		usage := s.disk.GetDiskUsage()
		diskAvailable = int64(usage.AvailableBytes)
		if usage.UsagePercent < 100 {
			total := float64(usage.AvailableBytes) / (1 - usage.UsagePercent/100)
			diskUsed = int64(total) - diskAvailable
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.metrics.UpdateSystemStats(diskUsed, diskAvailable, int64(memStats.Alloc), runtime.NumGoroutine())
}
