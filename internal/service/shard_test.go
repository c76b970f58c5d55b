package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/errors"
	"github.com/devrev/pairdb/retention-node/internal/persistence"
	"github.com/devrev/pairdb/retention-node/internal/service"
	"github.com/devrev/pairdb/retention-node/internal/storage/commitstore"
	"github.com/devrev/pairdb/retention-node/internal/storage/diskmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type shardFixture struct {
	shard   *service.Shard
	store   *service.LeaseStore
	clock   *fakeClock
	sync    *recordingSynchronizer
	commits commitstore.Store
}

type shardOptions struct {
	engine  commitstore.Engine
	dir     string
	primary bool
	disk    *diskmanager.DiskManager
}

func openShard(t *testing.T, opts shardOptions) *shardFixture {
	t.Helper()

	commits, err := commitstore.Open(&commitstore.Config{
		Engine: opts.engine,
		Dir:    opts.dir,
	}, zap.NewNop())
	require.NoError(t, err)

	clock := &fakeClock{}
	synchronizer := &recordingSynchronizer{}
	store := service.NewLeaseStore(&service.LeaseStoreConfig{
		ShardID:     "shard-0",
		LeaseTTL:    time.Hour,
		Primary:     opts.primary,
		PrimaryTerm: 3,
	}, clock, synchronizer, nil, zap.NewNop())
	sink := service.NewReplicaLeaseSink(store, false, nil, zap.NewNop())
	shard := service.NewShard("shard-0", store, sink, commits, opts.disk, nil, zap.NewNop())

	return &shardFixture{
		shard:   shard,
		store:   store,
		clock:   clock,
		sync:    synchronizer,
		commits: commits,
	}
}

var engines = []commitstore.Engine{commitstore.EngineFile, commitstore.EngineBadger}

func TestShard_RecoverFreshWritesInitialCommit(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			ctx := context.Background()
			f := openShard(t, shardOptions{engine: engine, dir: t.TempDir(), primary: true})
			defer f.shard.Close(ctx)

			require.NoError(t, f.shard.Recover(ctx))
			assert.True(t, f.shard.IsRecovered())
			assert.NotEmpty(t, f.shard.HistoryUUID())

			commit, err := f.commits.LastCommit(ctx)
			require.NoError(t, err)
			require.NotNil(t, commit)
			assert.Equal(t, []byte(f.shard.HistoryUUID()), commit.UserData[service.HistoryUUIDKey])

			leases, err := persistence.RestoreOnOpen(commit.UserData)
			require.NoError(t, err)
			assert.Equal(t, int64(0), leases.Version())
		})
	}
}

func TestShard_LeasesSurviveRestart(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			first := openShard(t, shardOptions{engine: engine, dir: dir, primary: true})
			require.NoError(t, first.shard.Recover(ctx))
			first.clock.set(500)

			_, err := first.shard.AddRetentionLease("ccr", 10, "follower", nil)
			require.NoError(t, err)
			_, err = first.shard.AddPeerRecoveryLease("node-2", 4, nil)
			require.NoError(t, err)
			_, err = first.shard.RenewRetentionLease("ccr", 12, "follower")
			require.NoError(t, err)

			historyUUID := first.shard.HistoryUUID()
			_, before, err := first.shard.GetRetentionLeases(false)
			require.NoError(t, err)
			require.NoError(t, first.shard.Close(ctx))

			second := openShard(t, shardOptions{engine: engine, dir: dir, primary: true})
			defer second.shard.Close(ctx)
			require.NoError(t, second.shard.Recover(ctx))

			_, after, err := second.shard.GetRetentionLeases(false)
			require.NoError(t, err)
			assert.True(t, before.Equal(after), "expected %s, got %s", before, after)
			assert.Equal(t, before.Leases(), after.Leases())
			assert.Equal(t, historyUUID, second.shard.HistoryUUID())
			assert.Equal(t, 0, second.sync.count(), "recovery does not sync")

			// versions keep increasing after recovery
			_, err = second.shard.AddRetentionLease("snapshot", 1, "snapshot", nil)
			require.NoError(t, err)
			_, current, err := second.shard.GetRetentionLeases(false)
			require.NoError(t, err)
			assert.Equal(t, before.Version()+1, current.Version())
			assert.Equal(t, int64(3), current.PrimaryTerm())
		})
	}
}

func TestShard_RecoverCorruptLeasesAborts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	seed, err := commitstore.Open(&commitstore.Config{Engine: commitstore.EngineFile, Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	_, err = seed.Commit(ctx, map[string][]byte{
		service.HistoryUUIDKey:         []byte("history"),
		persistence.RetentionLeasesKey: {0x01, 0x01, 0x7f},
	})
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: dir, primary: true})
	defer f.commits.Close()

	err = f.shard.Recover(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeCorruptMetadata), "got %v", err)
	assert.False(t, f.shard.IsRecovered())

	_, err = f.shard.AddRetentionLease("a", 1, "s", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeNotRecovered))
}

func TestShard_OperationsRequireRecovery(t *testing.T) {
	f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: t.TempDir(), primary: true})
	defer f.commits.Close()

	checks := map[string]func() error{
		"add": func() error {
			_, err := f.shard.AddRetentionLease("a", 1, "s", nil)
			return err
		},
		"renew": func() error {
			_, err := f.shard.RenewRetentionLease("a", 1, "s")
			return err
		},
		"remove": func() error {
			return f.shard.RemoveRetentionLease("a", nil)
		},
		"get": func() error {
			_, _, err := f.shard.GetRetentionLeases(true)
			return err
		},
		"replica update": func() error {
			_, err := f.shard.UpdateRetentionLeasesOnReplica(collection(t, 1, 1))
			return err
		},
		"sync": func() error {
			return f.shard.SyncRetentionLeases(nil)
		},
		"flush": func() error {
			_, err := f.shard.Flush(context.Background())
			return err
		},
	}

	for name, check := range checks {
		t.Run(name, func(t *testing.T) {
			err := check()
			assert.True(t, errors.Is(err, errors.ErrCodeNotRecovered), "got %v", err)
		})
	}
}

func TestShard_FlushRefusedWhenDiskFull(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	disk, err := diskmanager.NewDiskManager(&diskmanager.DiskManagerConfig{
		DataDir:                 dir,
		WarningThreshold:        80,
		ThrottleThreshold:       90,
		CircuitBreakerThreshold: 95,
		Usage: func(string) (diskmanager.Usage, error) {
			return diskmanager.Usage{TotalBytes: 100, AvailableBytes: 1}, nil
		},
	}, zap.NewNop())
	require.NoError(t, err)

	f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: dir, primary: true, disk: disk})
	defer f.commits.Close()

	err = f.shard.Recover(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeDiskFull), "got %v", err)

	commit, err := f.commits.LastCommit(ctx)
	require.NoError(t, err)
	assert.Nil(t, commit)
}

func TestShard_FlushAdvancesGeneration(t *testing.T) {
	ctx := context.Background()
	f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: t.TempDir(), primary: true})
	defer f.shard.Close(ctx)
	require.NoError(t, f.shard.Recover(ctx))

	first, err := f.shard.Flush(ctx)
	require.NoError(t, err)
	_, err = f.shard.AddRetentionLease("a", 1, "s", nil)
	require.NoError(t, err)
	second, err := f.shard.Flush(ctx)
	require.NoError(t, err)

	assert.Greater(t, second.Generation, first.Generation)
	leases, err := persistence.RestoreOnOpen(second.UserData)
	require.NoError(t, err)
	assert.True(t, leases.Contains("a"))
}

func TestShard_SyncRetentionLeases(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing expired pushes current collection", func(t *testing.T) {
		f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: t.TempDir(), primary: true})
		defer f.shard.Close(ctx)
		require.NoError(t, f.shard.Recover(ctx))

		_, err := f.shard.AddRetentionLease("a", 1, "s", nil)
		require.NoError(t, err)

		done := make(chan error, 1)
		require.NoError(t, f.shard.SyncRetentionLeases(func(err error) { done <- err }))
		assert.NoError(t, waitFor(t, done))
		assert.Equal(t, []int64{1, 1}, f.sync.versions())
	})

	t.Run("expiry syncs once without listener", func(t *testing.T) {
		f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: t.TempDir(), primary: true})
		defer f.shard.Close(ctx)
		require.NoError(t, f.shard.Recover(ctx))

		_, err := f.shard.AddRetentionLease("a", 1, "s", nil)
		require.NoError(t, err)
		f.clock.set(time.Hour.Milliseconds() + 1)

		require.NoError(t, f.shard.SyncRetentionLeases(nil))
		assert.Equal(t, []int64{1, 2}, f.sync.versions())

		_, current, err := f.shard.GetRetentionLeases(false)
		require.NoError(t, err)
		assert.Equal(t, 0, current.Len())
	})

	t.Run("replica ignores the call", func(t *testing.T) {
		f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: t.TempDir(), primary: false})
		defer f.shard.Close(ctx)
		require.NoError(t, f.shard.Recover(ctx))

		require.NoError(t, f.shard.SyncRetentionLeases(func(error) { t.Error("listener must not run") }))
		assert.Equal(t, 0, f.sync.count())
	})
}

func TestShard_ReplicaAdoptsAndPromotes(t *testing.T) {
	ctx := context.Background()
	f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: t.TempDir(), primary: false})
	defer f.shard.Close(ctx)
	require.NoError(t, f.shard.Recover(ctx))

	_, err := f.shard.AddRetentionLease("a", 1, "s", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeNotPrimary))

	applied, err := f.shard.UpdateRetentionLeasesOnReplica(collection(t, 5, 8, "x", "y"))
	require.NoError(t, err)
	assert.True(t, applied)

	minSeqNo, ok := f.shard.MinimumRetainingSequenceNumber()
	require.True(t, ok)
	assert.Equal(t, int64(0), minSeqNo)

	require.NoError(t, f.shard.ActivatePrimaryMode(5))
	assert.True(t, f.shard.IsPrimary())

	_, err = f.shard.AddRetentionLease("z", 3, "s", nil)
	require.NoError(t, err)
	_, current, err := f.shard.GetRetentionLeases(false)
	require.NoError(t, err)
	assert.Equal(t, int64(9), current.Version())
	assert.Equal(t, int64(5), current.PrimaryTerm())
}

func TestShard_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := openShard(t, shardOptions{engine: commitstore.EngineBadger, dir: t.TempDir(), primary: true})
	require.NoError(t, f.shard.Recover(ctx))

	require.NoError(t, f.shard.Close(ctx))
	require.NoError(t, f.shard.Close(ctx))
	assert.False(t, f.shard.IsRecovered())

	err := f.shard.Recover(ctx)
	assert.True(t, errors.Is(err, errors.ErrCodeUnavailable))
}
