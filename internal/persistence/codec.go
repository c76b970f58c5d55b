// Package persistence embeds retention leases into commit user data and
// restores them when a shard is opened.
//
// The value stored under RetentionLeasesKey is:
//
//	uvarint primary_term
//	uvarint version
//	uvarint count
//	count x { length-prefixed id | fixed64 retaining seq no | fixed64 timestamp ms | length-prefixed source }
//
// Fixed-width fields are little-endian two's complement.
package persistence

import (
	"fmt"
	"math"

	"github.com/devrev/pairdb/retention-node/internal/errors"
	"github.com/devrev/pairdb/retention-node/internal/model"
	"google.golang.org/protobuf/encoding/protowire"
)

// RetentionLeasesKey is the commit user-data key holding the encoded collection
const RetentionLeasesKey = "retention_leases"

// smallest possible encoded lease: two empty strings and two fixed64 fields
const minEncodedLeaseSize = 1 + 8 + 8 + 1

// Encode serializes a collection deterministically
func Encode(c *model.RetentionLeaseCollection) []byte {
	leases := c.Leases()

	size := protowire.SizeVarint(uint64(c.PrimaryTerm())) +
		protowire.SizeVarint(uint64(c.Version())) +
		protowire.SizeVarint(uint64(len(leases)))
	for _, lease := range leases {
		size += protowire.SizeBytes(len(lease.ID)) + protowire.SizeBytes(len(lease.Source)) + 16
	}

	buf := make([]byte, 0, size)
	buf = protowire.AppendVarint(buf, uint64(c.PrimaryTerm()))
	buf = protowire.AppendVarint(buf, uint64(c.Version()))
	buf = protowire.AppendVarint(buf, uint64(len(leases)))
	for _, lease := range leases {
		buf = protowire.AppendString(buf, lease.ID)
		buf = protowire.AppendFixed64(buf, uint64(lease.RetainingSequenceNumber))
		buf = protowire.AppendFixed64(buf, uint64(lease.Timestamp))
		buf = protowire.AppendString(buf, lease.Source)
	}
	return buf
}

// Decode is the inverse of Encode. Any malformed layout, trailing bytes or
// duplicate id yields a CorruptMetadata error.
func Decode(data []byte) (*model.RetentionLeaseCollection, error) {
	d := decoder{buf: data}

	primaryTerm := d.uvarint("primary term")
	version := d.uvarint("version")
	count := d.uvarint("lease count")
	if d.err != nil {
		return nil, d.err
	}
	if count > uint64(len(d.buf)/minEncodedLeaseSize) {
		return nil, errors.CorruptMetadata(
			fmt.Sprintf("retention lease count %d exceeds remaining %d bytes", count, len(d.buf)), nil)
	}

	leases := make([]model.RetentionLease, 0, count)
	for i := uint64(0); i < count; i++ {
		lease := model.RetentionLease{
			ID:                      d.str("lease id"),
			RetainingSequenceNumber: int64(d.fixed64("retaining sequence number")),
			Timestamp:               int64(d.fixed64("timestamp")),
			Source:                  d.str("source"),
		}
		if d.err != nil {
			return nil, d.err
		}
		leases = append(leases, lease)
	}

	if len(d.buf) != 0 {
		return nil, errors.CorruptMetadata(fmt.Sprintf("%d trailing bytes after retention leases", len(d.buf)), nil)
	}

	c, err := model.NewRetentionLeaseCollection(int64(primaryTerm), int64(version), leases)
	if err != nil {
		return nil, errors.CorruptMetadata("invalid retention leases", err)
	}
	return c, nil
}

// RestoreOnOpen returns the collection stored in a commit's user data, or the
// empty collection when the commit predates retention leases
func RestoreOnOpen(userData map[string][]byte) (*model.RetentionLeaseCollection, error) {
	data, ok := userData[RetentionLeasesKey]
	if !ok {
		return model.EmptyRetentionLeases, nil
	}
	return Decode(data)
}

// EmbedInCommit stores the encoded collection in userData, replacing any previous value
func EmbedInCommit(userData map[string][]byte, c *model.RetentionLeaseCollection) {
	userData[RetentionLeasesKey] = Encode(c)
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uvarint(field string) uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		d.fail(field, protowire.ParseError(n))
		return 0
	}
	if v > math.MaxInt64 {
		d.fail(field, fmt.Errorf("value %d out of range", v))
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) fixed64(field string) uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed64(d.buf)
	if n < 0 {
		d.fail(field, protowire.ParseError(n))
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) str(field string) string {
	if d.err != nil {
		return ""
	}
	v, n := protowire.ConsumeString(d.buf)
	if n < 0 {
		d.fail(field, protowire.ParseError(n))
		return ""
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) fail(field string, cause error) {
	d.err = errors.CorruptMetadata(fmt.Sprintf("failed to decode retention lease %s", field), cause).
		WithDetail("field", field)
}
