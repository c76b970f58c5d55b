package handler

import (
	"context"

	"github.com/devrev/pairdb/retention-node/internal/errors"
	"github.com/devrev/pairdb/retention-node/internal/persistence"
	"github.com/devrev/pairdb/retention-node/internal/service"
	"github.com/devrev/pairdb/retention-node/internal/validation"
	pb "github.com/devrev/pairdb/retention-node/pkg/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// LeaseHandler implements the gRPC retention lease service
type LeaseHandler struct {
	shard     *service.Shard
	validator *validation.Validator
	logger    *zap.Logger
}

// NewLeaseHandler creates a new lease handler
func NewLeaseHandler(shard *service.Shard, logger *zap.Logger) *LeaseHandler {
	return &LeaseHandler{
		shard:     shard,
		validator: validation.NewValidator(),
		logger:    logger,
	}
}

// Sync adopts a collection pushed by the primary
func (h *LeaseHandler) Sync(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	leases, err := persistence.Decode(req.GetValue())
	if err != nil {
		h.logger.Warn("Rejected undecodable retention lease push", zap.Error(err))
		return nil, errors.ToGRPCError(err)
	}
	// The primary's collection is adopted as is; a lease that no longer
	// passes validation is only reported
	for _, lease := range leases.Leases() {
		if err := h.validator.ValidateRetentionLease(lease); err != nil {
			h.logger.Warn("Adopting retention lease that fails validation",
				zap.String("lease_id", lease.ID),
				zap.Error(err))
		}
	}

	applied, err := h.shard.UpdateRetentionLeasesOnReplica(leases)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	if !applied && h.shard.IsPrimary() {
		return nil, status.Errorf(codes.FailedPrecondition,
			"shard %s is primary and does not accept retention lease pushes", h.shard.ShardID())
	}

	// A stale push means a newer collection is already held locally
	return &emptypb.Empty{}, nil
}

// Fetch returns the current collection without expiring
func (h *LeaseHandler) Fetch(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	_, leases, err := h.shard.GetRetentionLeases(false)
	if err != nil {
		return nil, errors.ToGRPCError(err)
	}
	return wrapperspb.Bytes(persistence.Encode(leases)), nil
}

var _ pb.RetentionLeaseServiceServer = (*LeaseHandler)(nil)
