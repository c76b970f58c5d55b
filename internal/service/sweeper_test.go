package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/service"
	"github.com/devrev/pairdb/retention-node/internal/storage/commitstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRetentionSweeper_SkipsUntilRecovered(t *testing.T) {
	f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: t.TempDir(), primary: true})
	defer f.commits.Close()

	sweeper := service.NewRetentionSweeper(&service.SweeperConfig{}, f.shard, zap.NewNop())
	sweeper.SyncOnce()
	sweeper.FlushOnce()

	assert.Equal(t, 0, f.sync.count())
	commit, err := f.commits.LastCommit(context.Background())
	require.NoError(t, err)
	assert.Nil(t, commit)
}

func TestRetentionSweeper_SyncAndFlushOnce(t *testing.T) {
	ctx := context.Background()
	f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: t.TempDir(), primary: true})
	defer f.shard.Close(ctx)
	require.NoError(t, f.shard.Recover(ctx))

	_, err := f.shard.AddRetentionLease("a", 1, "s", nil)
	require.NoError(t, err)
	f.clock.set(time.Hour.Milliseconds() + 1)

	sweeper := service.NewRetentionSweeper(&service.SweeperConfig{}, f.shard, zap.NewNop())
	sweeper.SyncOnce()
	assert.Equal(t, []int64{1, 2}, f.sync.versions())

	before, err := f.commits.LastCommit(ctx)
	require.NoError(t, err)
	sweeper.FlushOnce()
	after, err := f.commits.LastCommit(ctx)
	require.NoError(t, err)
	assert.Greater(t, after.Generation, before.Generation)
}

func TestRetentionSweeper_StartStop(t *testing.T) {
	ctx := context.Background()
	f := openShard(t, shardOptions{engine: commitstore.EngineFile, dir: t.TempDir(), primary: true})
	defer f.shard.Close(ctx)
	require.NoError(t, f.shard.Recover(ctx))

	sweeper := service.NewRetentionSweeper(&service.SweeperConfig{
		SyncInterval:  5 * time.Millisecond,
		FlushInterval: 5 * time.Millisecond,
	}, f.shard, zap.NewNop())
	sweeper.Start()

	require.Eventually(t, func() bool {
		return f.sync.count() >= 2
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()

	count := f.sync.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, f.sync.count())
}
