package service_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/service"
	"go.uber.org/zap"
)

type fakeClock struct {
	now atomic.Int64
}

func (c *fakeClock) NowMillis() int64 {
	return c.now.Load()
}

func (c *fakeClock) set(millis int64) {
	c.now.Store(millis)
}

// recordingSynchronizer records every pushed collection. With hold set,
// completions are parked until release is called.
type recordingSynchronizer struct {
	mu      sync.Mutex
	synced  []*model.RetentionLeaseCollection
	pending []service.SyncListener
	hold    bool
	err     error
}

func (r *recordingSynchronizer) Sync(leases *model.RetentionLeaseCollection, done service.SyncListener) {
	r.mu.Lock()
	r.synced = append(r.synced, leases)
	if r.hold {
		r.pending = append(r.pending, done)
		r.mu.Unlock()
		return
	}
	err := r.err
	r.mu.Unlock()
	done(err)
}

func (r *recordingSynchronizer) release(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, done := range pending {
		done(err)
	}
}

func (r *recordingSynchronizer) versions() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := make([]int64, len(r.synced))
	for i, c := range r.synced {
		versions[i] = c.Version()
	}
	return versions
}

func (r *recordingSynchronizer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.synced)
}

type storeFixture struct {
	store *service.LeaseStore
	clock *fakeClock
	sync  *recordingSynchronizer
}

func newStoreFixture(t *testing.T, primary bool, ttl time.Duration) *storeFixture {
	t.Helper()

	clock := &fakeClock{}
	synchronizer := &recordingSynchronizer{}
	store := service.NewLeaseStore(&service.LeaseStoreConfig{
		ShardID:  "shard-0",
		LeaseTTL: ttl,
		Primary:  primary,
	}, clock, synchronizer, nil, zap.NewNop())

	return &storeFixture{store: store, clock: clock, sync: synchronizer}
}

// waitFor returns the value sent on ch or fails the test after a second
func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
		var zero T
		return zero
	}
}
