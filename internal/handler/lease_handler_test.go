package handler_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/client"
	"github.com/devrev/pairdb/retention-node/internal/handler"
	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/service"
	"github.com/devrev/pairdb/retention-node/internal/storage/commitstore"
	pb "github.com/devrev/pairdb/retention-node/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func newShard(t *testing.T, primary, recover bool) *service.Shard {
	t.Helper()

	commits, err := commitstore.Open(&commitstore.Config{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	store := service.NewLeaseStore(&service.LeaseStoreConfig{
		ShardID:  "shard-0",
		LeaseTTL: time.Hour,
		Primary:  primary,
	}, nil, nil, nil, zap.NewNop())
	sink := service.NewReplicaLeaseSink(store, true, nil, zap.NewNop())
	shard := service.NewShard("shard-0", store, sink, commits, nil, nil, zap.NewNop())
	if recover {
		require.NoError(t, shard.Recover(context.Background()))
	}
	t.Cleanup(func() { _ = shard.Close(context.Background()) })
	return shard
}

// serve exposes shard over an in-memory listener and returns a connected client
func serve(t *testing.T, shard *service.Shard) *client.LeaseClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	pb.RegisterRetentionLeaseServiceServer(server, handler.NewLeaseHandler(shard, zap.NewNop()))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	c, err := client.NewLeaseClient("passthrough:///bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func pushed(t *testing.T, term, version int64, ids ...string) *model.RetentionLeaseCollection {
	t.Helper()
	leases := make([]model.RetentionLease, 0, len(ids))
	for i, id := range ids {
		leases = append(leases, model.RetentionLease{ID: id, RetainingSequenceNumber: int64(i), Timestamp: 1, Source: "primary"})
	}
	c, err := model.NewRetentionLeaseCollection(term, version, leases)
	require.NoError(t, err)
	return c
}

func TestLeaseHandler_PushThenFetch(t *testing.T) {
	ctx := context.Background()
	c := serve(t, newShard(t, false, true))

	leases := pushed(t, 2, 5, "a", "b")
	require.NoError(t, c.Push(ctx, leases))

	fetched, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.True(t, leases.Equal(fetched))
	assert.Equal(t, leases.Leases(), fetched.Leases())
}

func TestLeaseHandler_StalePushIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	c := serve(t, newShard(t, false, true))

	require.NoError(t, c.Push(ctx, pushed(t, 2, 5, "a")))
	require.NoError(t, c.Push(ctx, pushed(t, 2, 3)))

	fetched, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fetched.Version())
}

func TestLeaseHandler_PrimaryRefusesPush(t *testing.T) {
	c := serve(t, newShard(t, true, true))

	err := c.Push(context.Background(), pushed(t, 9, 9, "a"))
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestLeaseHandler_NotRecovered(t *testing.T) {
	c := serve(t, newShard(t, false, false))

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestLeaseHandler_RejectsBadPayloads(t *testing.T) {
	shard := newShard(t, false, true)
	h := handler.NewLeaseHandler(shard, zap.NewNop())
	ctx := context.Background()

	t.Run("nil request", func(t *testing.T) {
		_, err := h.Sync(ctx, nil)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("corrupt bytes", func(t *testing.T) {
		_, err := h.Sync(ctx, wrapperspb.Bytes([]byte{0x01, 0x01, 0x7f}))
		assert.Equal(t, codes.DataLoss, status.Code(err))
	})

	_, leases, err := shard.GetRetentionLeases(false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), leases.Version())
}

func TestLeaseHandler_AdoptsLeasesFailingValidation(t *testing.T) {
	shard := newShard(t, false, true)
	c := serve(t, shard)

	pushed, err := model.NewRetentionLeaseCollection(1, 1, []model.RetentionLease{
		{ID: strings.Repeat("x", 1024), RetainingSequenceNumber: 1, Timestamp: 5, Source: "s"},
		{ID: "b", RetainingSequenceNumber: 2, Timestamp: -5, Source: "s"},
	})
	require.NoError(t, err)
	require.NoError(t, c.Push(context.Background(), pushed))

	_, leases, err := shard.GetRetentionLeases(false)
	require.NoError(t, err)
	assert.True(t, pushed.Equal(leases))
}
