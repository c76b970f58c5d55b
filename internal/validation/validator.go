package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/pairdb/retention-node/internal/errors"
	"github.com/devrev/pairdb/retention-node/internal/model"
)

const (
	// Size limits
	MaxLeaseIDSize = 512
	MaxSourceSize  = 512
)

// Validator validates retention lease inputs
type Validator struct {
	maxLeaseIDSize int
	maxSourceSize  int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxLeaseIDSize: MaxLeaseIDSize,
		maxSourceSize:  MaxSourceSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxLeaseIDSize, maxSourceSize int) *Validator {
	return &Validator{
		maxLeaseIDSize: maxLeaseIDSize,
		maxSourceSize:  maxSourceSize,
	}
}

// ValidateLeaseRequest validates the inputs of an add or renew call
func (v *Validator) ValidateLeaseRequest(id string, retainingSequenceNumber int64, source string) error {
	if err := v.ValidateLeaseID(id); err != nil {
		return err
	}
	if err := v.ValidateRetainingSequenceNumber(retainingSequenceNumber); err != nil {
		return err
	}
	return v.ValidateSource(source)
}

// ValidateLeaseID validates a lease id
func (v *Validator) ValidateLeaseID(id string) error {
	if id == "" {
		return errors.InvalidArgument("retention lease ID cannot be empty", nil)
	}

	if len(id) > v.maxLeaseIDSize {
		return errors.InvalidArgument(
			fmt.Sprintf("retention lease ID exceeds maximum size of %d bytes", v.maxLeaseIDSize), nil).
			WithDetail("size", len(id))
	}

	if hasControlCharacters(id) {
		return errors.InvalidArgument("retention lease ID cannot contain control characters", nil).
			WithDetail("lease_id", id)
	}

	return nil
}

// ValidateSource validates a lease source
func (v *Validator) ValidateSource(source string) error {
	if source == "" {
		return errors.InvalidArgument("retention lease source cannot be empty", nil)
	}

	if len(source) > v.maxSourceSize {
		return errors.InvalidArgument(
			fmt.Sprintf("retention lease source exceeds maximum size of %d bytes", v.maxSourceSize), nil).
			WithDetail("size", len(source))
	}

	if hasControlCharacters(source) {
		return errors.InvalidArgument("retention lease source cannot contain control characters", nil)
	}

	return nil
}

// ValidateRetainingSequenceNumber rejects anything below NoOpsPerformed
func (v *Validator) ValidateRetainingSequenceNumber(seqNo int64) error {
	if seqNo < model.NoOpsPerformed {
		return errors.InvalidArgument(
			fmt.Sprintf("retaining sequence number [%d] out of range", seqNo), nil).
			WithDetail("retaining_sequence_number", seqNo)
	}
	return nil
}

// ValidateRetentionLease validates a complete lease, e.g. one received from a primary
func (v *Validator) ValidateRetentionLease(lease model.RetentionLease) error {
	if err := v.ValidateLeaseRequest(lease.ID, lease.RetainingSequenceNumber, lease.Source); err != nil {
		return err
	}
	if lease.Timestamp < 0 {
		return errors.InvalidArgument(
			fmt.Sprintf("retention lease timestamp [%d] out of range", lease.Timestamp), nil).
			WithDetail("lease_id", lease.ID)
	}
	return nil
}

func hasControlCharacters(s string) bool {
	if strings.Contains(s, "\x00") {
		return true
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
