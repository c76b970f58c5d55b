package diskmanager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Usage is a filesystem capacity sample
type Usage struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// UsageFunc samples filesystem capacity for a directory
type UsageFunc func(dir string) (Usage, error)

// StatfsUsage samples capacity with statfs(2)
func StatfsUsage(dir string) (Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return Usage{}, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return Usage{
		TotalBytes:     stat.Blocks * uint64(stat.Bsize),
		AvailableBytes: stat.Bavail * uint64(stat.Bsize),
	}, nil
}

// DiskManager gates commit writes on free space in the data directory
type DiskManager struct {
	dataDir       string
	usage         UsageFunc
	logger        *zap.Logger
	checkInterval time.Duration

	warningThreshold        float64
	throttleThreshold       float64
	circuitBreakerThreshold float64

	mu                   sync.RWMutex
	lastCheck            time.Time
	cachedUsagePercent   float64
	cachedAvailableBytes uint64
	isThrottled          bool
	isCircuitBroken      bool
}

// DiskManagerConfig holds configuration for disk manager. Thresholds are percentages.
type DiskManagerConfig struct {
	DataDir                 string
	CheckInterval           time.Duration
	WarningThreshold        float64
	ThrottleThreshold       float64
	CircuitBreakerThreshold float64
	Usage                   UsageFunc
}

// NewDiskManager creates a disk manager and takes an initial sample
func NewDiskManager(cfg *DiskManagerConfig, logger *zap.Logger) (*DiskManager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	usage := cfg.Usage
	if usage == nil {
		usage = StatfsUsage
	}

	dm := &DiskManager{
		dataDir:                 cfg.DataDir,
		usage:                   usage,
		logger:                  logger,
		checkInterval:           cfg.CheckInterval,
		warningThreshold:        cfg.WarningThreshold,
		throttleThreshold:       cfg.ThrottleThreshold,
		circuitBreakerThreshold: cfg.CircuitBreakerThreshold,
	}

	if err := dm.ForceCheck(); err != nil {
		logger.Warn("Initial disk space check failed", zap.Error(err))
	}

	return dm, nil
}

// DefaultConfig returns default disk manager configuration
func DefaultConfig(dataDir string) *DiskManagerConfig {
	return &DiskManagerConfig{
		DataDir:                 dataDir,
		CheckInterval:           10 * time.Second,
		WarningThreshold:        80.0,
		ThrottleThreshold:       90.0,
		CircuitBreakerThreshold: 95.0,
	}
}

// CheckBeforeWrite returns a *DiskSpaceError if a write of estimatedBytes must be refused
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	dm.refreshIfStale()

	dm.mu.RLock()
	defer dm.mu.RUnlock()

	if dm.isCircuitBroken {
		return &DiskSpaceError{
			Code:            ErrCodeDiskFull,
			Message:         fmt.Sprintf("disk usage at %.2f%%, circuit breaker engaged", dm.cachedUsagePercent),
			UsagePercent:    dm.cachedUsagePercent,
			AvailableBytes:  dm.cachedAvailableBytes,
			IsCircuitBroken: true,
		}
	}

	// Commits are small; while throttled only writes above a tenth of the free space are refused
	if dm.isThrottled && estimatedBytes > dm.cachedAvailableBytes/10 {
		return &DiskSpaceError{
			Code:           ErrCodeDiskThrottled,
			Message:        fmt.Sprintf("disk usage at %.2f%%, write throttled", dm.cachedUsagePercent),
			UsagePercent:   dm.cachedUsagePercent,
			AvailableBytes: dm.cachedAvailableBytes,
			IsThrottled:    true,
		}
	}

	if estimatedBytes > dm.cachedAvailableBytes {
		return &DiskSpaceError{
			Code:           ErrCodeInsufficientSpace,
			Message:        fmt.Sprintf("insufficient space: need %d bytes, have %d bytes", estimatedBytes, dm.cachedAvailableBytes),
			UsagePercent:   dm.cachedUsagePercent,
			AvailableBytes: dm.cachedAvailableBytes,
		}
	}

	return nil
}

// GetDiskUsage returns current disk usage statistics
func (dm *DiskManager) GetDiskUsage() DiskUsageStats {
	dm.refreshIfStale()

	dm.mu.RLock()
	defer dm.mu.RUnlock()

	return DiskUsageStats{
		UsagePercent:    dm.cachedUsagePercent,
		AvailableBytes:  dm.cachedAvailableBytes,
		IsThrottled:     dm.isThrottled,
		IsCircuitBroken: dm.isCircuitBroken,
		LastCheck:       dm.lastCheck,
	}
}

// ForceCheck samples disk usage immediately
func (dm *DiskManager) ForceCheck() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.checkDiskSpace()
}

func (dm *DiskManager) refreshIfStale() {
	dm.mu.RLock()
	stale := time.Since(dm.lastCheck) > dm.checkInterval
	dm.mu.RUnlock()

	if stale {
		if err := dm.ForceCheck(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}
}

// checkDiskSpace must be called with the write lock held
func (dm *DiskManager) checkDiskSpace() error {
	usage, err := dm.usage(dm.dataDir)
	if err != nil {
		return err
	}

	var percent float64
	if usage.TotalBytes > 0 {
		percent = float64(usage.TotalBytes-usage.AvailableBytes) / float64(usage.TotalBytes) * 100.0
	}

	wasBroken, wasThrottled := dm.isCircuitBroken, dm.isThrottled
	dm.cachedUsagePercent = percent
	dm.cachedAvailableBytes = usage.AvailableBytes
	dm.lastCheck = time.Now()
	dm.isCircuitBroken = percent >= dm.circuitBreakerThreshold
	dm.isThrottled = !dm.isCircuitBroken && percent >= dm.throttleThreshold

	fields := []zap.Field{
		zap.Float64("usage_percent", percent),
		zap.Uint64("available_bytes", usage.AvailableBytes),
	}
	if dm.isCircuitBroken != wasBroken {
		if dm.isCircuitBroken {
			dm.logger.Error("Commit circuit breaker engaged", append(fields, zap.Float64("threshold", dm.circuitBreakerThreshold))...)
		} else {
			dm.logger.Info("Commit circuit breaker released", fields...)
		}
	}
	if dm.isThrottled != wasThrottled {
		if dm.isThrottled {
			dm.logger.Warn("Commit throttling enabled", append(fields, zap.Float64("threshold", dm.throttleThreshold))...)
		} else {
			dm.logger.Info("Commit throttling disabled", fields...)
		}
	}
	if !dm.isCircuitBroken && !dm.isThrottled && percent >= dm.warningThreshold {
		dm.logger.Warn("Disk usage above warning threshold", append(fields, zap.Float64("threshold", dm.warningThreshold))...)
	}

	return nil
}

// DiskUsageStats contains disk usage statistics
type DiskUsageStats struct {
	UsagePercent    float64
	AvailableBytes  uint64
	IsThrottled     bool
	IsCircuitBroken bool
	LastCheck       time.Time
}

// ErrorCode classifies disk space errors
type ErrorCode int

const (
	ErrCodeDiskFull ErrorCode = iota + 1
	ErrCodeDiskThrottled
	ErrCodeInsufficientSpace
)

// DiskSpaceError represents a disk space related error
type DiskSpaceError struct {
	Code            ErrorCode
	Message         string
	UsagePercent    float64
	AvailableBytes  uint64
	IsThrottled     bool
	IsCircuitBroken bool
}

func (e *DiskSpaceError) Error() string {
	return e.Message
}

// IsDiskSpaceError checks if an error is a disk space error
func IsDiskSpaceError(err error) bool {
	_, ok := err.(*DiskSpaceError)
	return ok
}
