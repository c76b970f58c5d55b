package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/devrev/pairdb/retention-node/internal/errors"
	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/devrev/pairdb/retention-node/internal/persistence"
	pb "github.com/devrev/pairdb/retention-node/pkg/proto"
	"go.uber.org/zap"
)

// LeaseClient talks to the retention lease service of one peer
type LeaseClient struct {
	addr   string
	conn   *grpc.ClientConn
	client pb.RetentionLeaseServiceClient
	logger *zap.Logger
}

// NewLeaseClient creates a client for the peer at addr. Extra dial options
// are appended after the insecure transport credentials.
func NewLeaseClient(addr string, logger *zap.Logger, opts ...grpc.DialOption) (*LeaseClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer at %s: %w", addr, err)
	}

	return &LeaseClient{
		addr:   addr,
		conn:   conn,
		client: pb.NewRetentionLeaseServiceClient(conn),
		logger: logger,
	}, nil
}

// Addr returns the peer address
func (c *LeaseClient) Addr() string {
	return c.addr
}

// Push sends a collection to the peer
func (c *LeaseClient) Push(ctx context.Context, leases *model.RetentionLeaseCollection) error {
	_, err := c.client.Sync(ctx, wrapperspb.Bytes(persistence.Encode(leases)))
	if err != nil {
		return errors.FromGRPCError(err).WithDetail("peer", c.addr)
	}
	return nil
}

// Fetch reads the peer's current collection
func (c *LeaseClient) Fetch(ctx context.Context) (*model.RetentionLeaseCollection, error) {
	resp, err := c.client.Fetch(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, errors.FromGRPCError(err).WithDetail("peer", c.addr)
	}
	return persistence.Decode(resp.GetValue())
}

// FetchWithRetry retries Fetch until it succeeds, attempts run out or ctx ends
func (c *LeaseClient) FetchWithRetry(ctx context.Context, maxRetries int, retryInterval time.Duration) (*model.RetentionLeaseCollection, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		leases, err := c.Fetch(ctx)
		if err == nil {
			return leases, nil
		}

		lastErr = err
		c.logger.Warn("Failed to fetch retention leases from peer, retrying...",
			zap.String("peer", c.addr),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during fetch: %w", ctx.Err())
			case <-time.After(retryInterval):
			}
		}
	}

	return nil, fmt.Errorf("failed to fetch retention leases after %d attempts: %w", maxRetries, lastErr)
}

// Close closes the peer connection
func (c *LeaseClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
