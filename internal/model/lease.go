package model

import (
	"fmt"
	"strings"
)

const (
	// NoOpsPerformed is the retaining sequence number of a consumer that has not seen any operation
	NoOpsPerformed int64 = -1

	// DefaultPrimaryTerm is the primary term of a shard that has never been promoted
	DefaultPrimaryTerm int64 = 1
)

// RetentionLease is one consumer's claim on operation history at or above
// RetainingSequenceNumber
type RetentionLease struct {
	ID                      string
	RetainingSequenceNumber int64
	Timestamp               int64 // Milliseconds since epoch, set by the primary
	Source                  string
}

// String implements fmt.Stringer
func (l RetentionLease) String() string {
	return fmt.Sprintf("RetentionLease{id=%s, retainingSequenceNumber=%d, timestamp=%d, source=%s}",
		l.ID, l.RetainingSequenceNumber, l.Timestamp, l.Source)
}

// RetentionLeaseCollection is an immutable, versioned set of retention leases.
// Leases keep insertion order so equal collections encode identically.
type RetentionLeaseCollection struct {
	primaryTerm int64
	version     int64
	leases      []RetentionLease
	index       map[string]int
}

// EmptyRetentionLeases is the collection a shard starts with
var EmptyRetentionLeases = &RetentionLeaseCollection{
	primaryTerm: DefaultPrimaryTerm,
	version:     0,
	index:       map[string]int{},
}

// NewRetentionLeaseCollection builds a collection from leases in the given order.
// Duplicate ids and negative term or version are rejected.
func NewRetentionLeaseCollection(primaryTerm, version int64, leases []RetentionLease) (*RetentionLeaseCollection, error) {
	if primaryTerm < 0 {
		return nil, fmt.Errorf("primary term must be non-negative but was %d", primaryTerm)
	}
	if version < 0 {
		return nil, fmt.Errorf("version must be non-negative but was %d", version)
	}

	c := &RetentionLeaseCollection{
		primaryTerm: primaryTerm,
		version:     version,
		leases:      make([]RetentionLease, 0, len(leases)),
		index:       make(map[string]int, len(leases)),
	}
	for _, lease := range leases {
		if _, ok := c.index[lease.ID]; ok {
			return nil, fmt.Errorf("duplicate retention lease id [%s]", lease.ID)
		}
		c.index[lease.ID] = len(c.leases)
		c.leases = append(c.leases, lease)
	}
	return c, nil
}

// PrimaryTerm returns the term of the primary that produced this collection
func (c *RetentionLeaseCollection) PrimaryTerm() int64 {
	return c.primaryTerm
}

// Version returns the collection version
func (c *RetentionLeaseCollection) Version() int64 {
	return c.version
}

// Len returns the number of leases
func (c *RetentionLeaseCollection) Len() int {
	return len(c.leases)
}

// Leases returns a copy of the leases in insertion order
func (c *RetentionLeaseCollection) Leases() []RetentionLease {
	out := make([]RetentionLease, len(c.leases))
	copy(out, c.leases)
	return out
}

// Get returns the lease with the given id
func (c *RetentionLeaseCollection) Get(id string) (RetentionLease, bool) {
	i, ok := c.index[id]
	if !ok {
		return RetentionLease{}, false
	}
	return c.leases[i], true
}

// Contains reports whether a lease with the given id exists
func (c *RetentionLeaseCollection) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

// WithLease returns a new collection at version+1 in which lease is appended,
// or replaces the lease with the same id in place.
func (c *RetentionLeaseCollection) WithLease(primaryTerm int64, lease RetentionLease) *RetentionLeaseCollection {
	next := c.derive(primaryTerm, len(c.leases)+1)
	for _, existing := range c.leases {
		if existing.ID == lease.ID {
			next.leases = append(next.leases, lease)
		} else {
			next.leases = append(next.leases, existing)
		}
	}
	if !c.Contains(lease.ID) {
		next.leases = append(next.leases, lease)
	}
	next.reindex()
	return next
}

// WithoutLeases returns a new collection at version+1 with the given ids removed
func (c *RetentionLeaseCollection) WithoutLeases(primaryTerm int64, ids ...string) *RetentionLeaseCollection {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	next := c.derive(primaryTerm, len(c.leases))
	for _, existing := range c.leases {
		if _, ok := drop[existing.ID]; !ok {
			next.leases = append(next.leases, existing)
		}
	}
	next.reindex()
	return next
}

func (c *RetentionLeaseCollection) derive(primaryTerm int64, capacity int) *RetentionLeaseCollection {
	return &RetentionLeaseCollection{
		primaryTerm: primaryTerm,
		version:     c.version + 1,
		leases:      make([]RetentionLease, 0, capacity),
	}
}

func (c *RetentionLeaseCollection) reindex() {
	c.index = make(map[string]int, len(c.leases))
	for i, lease := range c.leases {
		c.index[lease.ID] = i
	}
}

// Supersedes reports whether c is strictly newer than other, comparing
// (primary term, version) lexicographically
func (c *RetentionLeaseCollection) Supersedes(other *RetentionLeaseCollection) bool {
	if other == nil {
		return true
	}
	return c.primaryTerm > other.primaryTerm ||
		(c.primaryTerm == other.primaryTerm && c.version > other.version)
}

// MinimumRetainingSequenceNumber returns the lowest retaining sequence number
// across all leases. ok is false when the collection is empty.
func (c *RetentionLeaseCollection) MinimumRetainingSequenceNumber() (seqNo int64, ok bool) {
	for i, lease := range c.leases {
		if i == 0 || lease.RetainingSequenceNumber < seqNo {
			seqNo = lease.RetainingSequenceNumber
		}
	}
	return seqNo, len(c.leases) > 0
}

// Equal compares term, version and lease membership
func (c *RetentionLeaseCollection) Equal(other *RetentionLeaseCollection) bool {
	if c == other {
		return true
	}
	if c == nil || other == nil {
		return false
	}
	if c.primaryTerm != other.primaryTerm || c.version != other.version || len(c.leases) != len(other.leases) {
		return false
	}
	for _, lease := range c.leases {
		theirs, ok := other.Get(lease.ID)
		if !ok || theirs != lease {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer
func (c *RetentionLeaseCollection) String() string {
	parts := make([]string, len(c.leases))
	for i, lease := range c.leases {
		parts[i] = lease.String()
	}
	return fmt.Sprintf("RetentionLeases{primaryTerm=%d, version=%d, leases=[%s]}",
		c.primaryTerm, c.version, strings.Join(parts, ", "))
}
