package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for retention lease operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument                ErrorCode = 1000
	ErrCodeAlreadyExists                  ErrorCode = 1001
	ErrCodeNotFound                       ErrorCode = 1002
	ErrCodeInvalidRetainingSequenceNumber ErrorCode = 1003
	ErrCodeNotPrimary                     ErrorCode = 1004

	// Node errors
	ErrCodeInternal        ErrorCode = 2000
	ErrCodeUnavailable     ErrorCode = 2001
	ErrCodeCorruptMetadata ErrorCode = 2002
	ErrCodeNotRecovered    ErrorCode = 2003
	ErrCodeDiskFull        ErrorCode = 2004
	ErrCodeCommitFailed    ErrorCode = 2005
)

// LeaseError represents a structured error with code and context
type LeaseError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *LeaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *LeaseError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts LeaseError to gRPC status
func (e *LeaseError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *LeaseError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeAlreadyExists:
		return codes.AlreadyExists
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeInvalidRetainingSequenceNumber, ErrCodeNotPrimary, ErrCodeNotRecovered:
		return codes.FailedPrecondition
	case ErrCodeCorruptMetadata:
		return codes.DataLoss
	case ErrCodeDiskFull:
		return codes.ResourceExhausted
	case ErrCodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewLeaseError creates a new LeaseError
func NewLeaseError(code ErrorCode, message string, cause error) *LeaseError {
	return &LeaseError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *LeaseError) WithDetail(key string, value interface{}) *LeaseError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *LeaseError {
	return NewLeaseError(ErrCodeInvalidArgument, message, cause)
}

func AlreadyExists(id string) *LeaseError {
	return NewLeaseError(ErrCodeAlreadyExists, fmt.Sprintf("retention lease with ID [%s] already exists", id), nil).
		WithDetail("lease_id", id)
}

func NotFound(id string) *LeaseError {
	return NewLeaseError(ErrCodeNotFound, fmt.Sprintf("retention lease with ID [%s] not found", id), nil).
		WithDetail("lease_id", id)
}

func InvalidRetainingSequenceNumber(id string, current, requested int64) *LeaseError {
	return NewLeaseError(ErrCodeInvalidRetainingSequenceNumber,
		fmt.Sprintf("the current retention lease with [%s] is retaining [%d] which is greater than the new retaining sequence number [%d]",
			id, current, requested), nil).
		WithDetail("lease_id", id).
		WithDetail("current", current).
		WithDetail("requested", requested)
}

func NotPrimary(shardID string) *LeaseError {
	return NewLeaseError(ErrCodeNotPrimary, fmt.Sprintf("shard %s is not in primary mode", shardID), nil).
		WithDetail("shard_id", shardID)
}

func CorruptMetadata(message string, cause error) *LeaseError {
	return NewLeaseError(ErrCodeCorruptMetadata, message, cause)
}

func NotRecovered(shardID string) *LeaseError {
	return NewLeaseError(ErrCodeNotRecovered, fmt.Sprintf("shard %s has not been recovered", shardID), nil).
		WithDetail("shard_id", shardID)
}

func InternalError(message string, cause error) *LeaseError {
	return NewLeaseError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *LeaseError {
	return NewLeaseError(ErrCodeUnavailable, message, cause)
}

func DiskFull(message string, cause error) *LeaseError {
	return NewLeaseError(ErrCodeDiskFull, message, cause)
}

func CommitFailed(message string, cause error) *LeaseError {
	return NewLeaseError(ErrCodeCommitFailed, message, cause)
}

// FromGRPCError maps an error returned by a gRPC call back onto a LeaseError
func FromGRPCError(err error) *LeaseError {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return Unavailable("rpc failed", err)
	}

	var code ErrorCode
	switch st.Code() {
	case codes.InvalidArgument:
		code = ErrCodeInvalidArgument
	case codes.AlreadyExists:
		code = ErrCodeAlreadyExists
	case codes.NotFound:
		code = ErrCodeNotFound
	case codes.DataLoss:
		code = ErrCodeCorruptMetadata
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		code = ErrCodeUnavailable
	default:
		code = ErrCodeInternal
	}
	return NewLeaseError(code, st.Message(), err)
}

// IsLeaseError checks if an error is a LeaseError
func IsLeaseError(err error) bool {
	var le *LeaseError
	return stderrors.As(err, &le)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var le *LeaseError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// ToGRPCError converts any error into a gRPC status error
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	var le *LeaseError
	if stderrors.As(err, &le) {
		return le.ToGRPCStatus().Err()
	}
	return status.Error(codes.Internal, err.Error())
}
