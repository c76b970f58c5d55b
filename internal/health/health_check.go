package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/storage/diskmanager"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ShardState reports whether the shard finished recovery
type ShardState interface {
	IsRecovered() bool
}

// HealthChecker performs health checks for the retention node
type HealthChecker struct {
	nodeID      string
	dataDir     string
	disk        *diskmanager.DiskManager
	shard       ShardState
	logger      *zap.Logger
	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID  string
	DataDir string
}

// NewHealthChecker creates a new health checker. disk may be nil.
func NewHealthChecker(cfg *HealthCheckConfig, disk *diskmanager.DiskManager, shard ShardState, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		nodeID:      cfg.NodeID,
		dataDir:     cfg.DataDir,
		disk:        disk,
		shard:       shard,
		logger:      logger,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: false,
		status:      model.NodeStatusHealthy,
	}
}

// Start runs checks every interval until ctx is done
func (h *HealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.RunChecks()

	for {
		select {
		case <-ticker.C:
			h.RunChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// Check statuses. A critical check makes the node unready.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// RunChecks runs every check once and updates liveness and readiness
func (h *HealthChecker) RunChecks() {
	results := []CheckResult{
		h.checkShardRecovered(),
		h.checkDiskSpace(),
		h.checkDataDirWritable(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()
	h.status = model.NodeStatusHealthy
	h.readinessOK = true
	for _, r := range results {
		h.checks[r.Name] = r
		switch r.Status {
		case StatusCritical:
			h.status = model.NodeStatusUnhealthy
			h.readinessOK = false
		case StatusWarning:
			if h.status == model.NodeStatusHealthy {
				h.status = model.NodeStatusDegraded
			}
		}
	}
	h.livenessOK = true

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("readiness", h.readinessOK))
}

func result(name, status, format string, args ...interface{}) CheckResult {
	return CheckResult{
		Name:      name,
		Status:    status,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

func (h *HealthChecker) checkShardRecovered() CheckResult {
	if h.shard == nil || !h.shard.IsRecovered() {
		return result("shard_recovered", StatusCritical, "Shard has not recovered")
	}
	return result("shard_recovered", StatusHealthy, "Shard recovered from last commit")
}

func (h *HealthChecker) checkDiskSpace() CheckResult {
	if h.disk == nil {
		return result("disk_space", StatusHealthy, "Disk monitoring disabled")
	}

	usage := h.disk.GetDiskUsage()
	switch {
	case usage.IsCircuitBroken:
		return result("disk_space", StatusCritical, "Commits refused, disk usage %.2f%%", usage.UsagePercent)
	case usage.IsThrottled:
		return result("disk_space", StatusWarning, "Disk usage high: %.2f%%", usage.UsagePercent)
	default:
		return result("disk_space", StatusHealthy, "Disk usage: %.2f%%", usage.UsagePercent)
	}
}

// checkDataDirWritable creates and removes a probe file in the data directory
func (h *HealthChecker) checkDataDirWritable() CheckResult {
	const name = "data_dir_writable"

	info, err := os.Stat(h.dataDir)
	switch {
	case err != nil:
		return result(name, StatusCritical, "Data directory not accessible: %v", err)
	case !info.IsDir():
		return result(name, StatusCritical, "Data path %s is not a directory", h.dataDir)
	}

	probe, err := os.CreateTemp(h.dataDir, ".health_check_*")
	if err != nil {
		return result(name, StatusCritical, "Cannot write to data directory: %v", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return result(name, StatusHealthy, "Data directory is writable")
}

// IsLive returns whether the node is live
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node can serve lease traffic
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// Status returns the overall node status
func (h *HealthChecker) Status() model.NodeStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// GetChecks returns a copy of the latest check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness overrides readiness, used during graceful shutdown
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := h.IsLive()
	writeProbe(w, live, map[string]interface{}{
		"healthy": live,
		"node_id": h.nodeID,
		"status":  h.Status(),
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	writeProbe(w, ready, map[string]interface{}{
		"ready":   ready,
		"node_id": h.nodeID,
		"status":  h.Status(),
		"checks":  h.GetChecks(),
	})
}

func writeProbe(w http.ResponseWriter, ok bool, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(body)
}
