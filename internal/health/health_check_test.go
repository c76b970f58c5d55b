package health

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/storage/diskmanager"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type shardState bool

func (s shardState) IsRecovered() bool { return bool(s) }

func diskAt(t *testing.T, dir string, usedPercent uint64) *diskmanager.DiskManager {
	t.Helper()
	cfg := diskmanager.DefaultConfig(dir)
	cfg.Usage = func(string) (diskmanager.Usage, error) {
		return diskmanager.Usage{TotalBytes: 100, AvailableBytes: 100 - usedPercent}, nil
	}
	dm, err := diskmanager.NewDiskManager(cfg, zap.NewNop())
	require.NoError(t, err)
	return dm
}

func TestHealthChecker_NotReadyBeforeFirstRun(t *testing.T) {
	h := NewHealthChecker(&HealthCheckConfig{NodeID: "n", DataDir: t.TempDir()}, nil, shardState(true), zap.NewNop())
	assert.True(t, h.IsLive())
	assert.False(t, h.IsReady())
}

func TestHealthChecker_RunChecks(t *testing.T) {
	tests := []struct {
		name     string
		recover  bool
		used     uint64
		badDir   bool
		ready    bool
		expected model.NodeStatus
	}{
		{"healthy", true, 10, false, true, model.NodeStatusHealthy},
		{"disk throttled", true, 92, false, true, model.NodeStatusDegraded},
		{"disk full", true, 99, false, false, model.NodeStatusUnhealthy},
		{"not recovered", false, 10, false, false, model.NodeStatusUnhealthy},
		{"missing data dir", true, 10, true, false, model.NodeStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			dataDir := dir
			if tt.badDir {
				dataDir = filepath.Join(dir, "missing")
			}
			h := NewHealthChecker(&HealthCheckConfig{NodeID: "n", DataDir: dataDir},
				diskAt(t, dir, tt.used), shardState(tt.recover), zap.NewNop())

			h.RunChecks()

			assert.Equal(t, tt.ready, h.IsReady())
			assert.Equal(t, tt.expected, h.Status())
			assert.Len(t, h.GetChecks(), 3)
		})
	}
}

func TestHealthChecker_Handlers(t *testing.T) {
	h := NewHealthChecker(&HealthCheckConfig{NodeID: "node-1", DataDir: t.TempDir()}, nil, shardState(true), zap.NewNop())
	h.RunChecks()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "node-1", body["node_id"])

	h.SetReadiness(false)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
