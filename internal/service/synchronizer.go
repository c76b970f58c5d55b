package service

import (
	"time"

	"github.com/devrev/pairdb/retention-node/internal/model"
)

// Clock supplies the current time in milliseconds since epoch
type Clock interface {
	NowMillis() int64
}

// ClockFunc adapts a function to Clock
type ClockFunc func() int64

// NowMillis implements Clock
func (f ClockFunc) NowMillis() int64 {
	return f()
}

// SystemClock reads the wall clock
var SystemClock Clock = ClockFunc(func() int64 {
	return time.Now().UnixMilli()
})

// SyncListener is told the outcome of pushing a collection to replicas
type SyncListener func(err error)

// Synchronizer pushes a published collection to replicas. Sync must not
// block the caller and must eventually invoke done exactly once.
type Synchronizer interface {
	Sync(leases *model.RetentionLeaseCollection, done SyncListener)
}

// SynchronizerFunc adapts a function to Synchronizer
type SynchronizerFunc func(leases *model.RetentionLeaseCollection, done SyncListener)

// Sync implements Synchronizer
func (f SynchronizerFunc) Sync(leases *model.RetentionLeaseCollection, done SyncListener) {
	f(leases, done)
}

// NoopSynchronizer completes every sync immediately, for shards without replicas
var NoopSynchronizer Synchronizer = SynchronizerFunc(func(_ *model.RetentionLeaseCollection, done SyncListener) {
	done(nil)
})
