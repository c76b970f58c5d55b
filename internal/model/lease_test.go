package model_test

import (
	"testing"

	"github.com/devrev/pairdb/retention-node/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lease(id string, seqNo, timestamp int64) model.RetentionLease {
	return model.RetentionLease{
		ID:                      id,
		RetainingSequenceNumber: seqNo,
		Timestamp:               timestamp,
		Source:                  "test",
	}
}

func TestEmptyRetentionLeases(t *testing.T) {
	empty := model.EmptyRetentionLeases

	assert.Equal(t, model.DefaultPrimaryTerm, empty.PrimaryTerm())
	assert.Equal(t, int64(0), empty.Version())
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, empty.Leases())

	_, ok := empty.MinimumRetainingSequenceNumber()
	assert.False(t, ok)
}

func TestNewRetentionLeaseCollection(t *testing.T) {
	tests := []struct {
		name        string
		primaryTerm int64
		version     int64
		leases      []model.RetentionLease
		wantErr     bool
	}{
		{"empty", 1, 0, nil, false},
		{"two leases", 3, 7, []model.RetentionLease{lease("a", 1, 0), lease("b", 2, 0)}, false},
		{"duplicate id", 1, 1, []model.RetentionLease{lease("a", 1, 0), lease("a", 2, 0)}, true},
		{"negative version", 1, -1, nil, true},
		{"negative term", -1, 0, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := model.NewRetentionLeaseCollection(tt.primaryTerm, tt.version, tt.leases)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.primaryTerm, c.PrimaryTerm())
			assert.Equal(t, tt.version, c.Version())
			assert.Equal(t, len(tt.leases), c.Len())
		})
	}
}

func TestWithLeaseAppendsAndReplacesInPlace(t *testing.T) {
	c := model.EmptyRetentionLeases.
		WithLease(1, lease("a", 1, 0)).
		WithLease(1, lease("b", 2, 0)).
		WithLease(1, lease("c", 3, 0))
	require.Equal(t, int64(3), c.Version())

	replaced := c.WithLease(2, lease("b", 10, 50))

	assert.Equal(t, int64(4), replaced.Version())
	assert.Equal(t, int64(2), replaced.PrimaryTerm())
	ids := make([]string, 0, replaced.Len())
	for _, l := range replaced.Leases() {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	got, ok := replaced.Get("b")
	require.True(t, ok)
	assert.Equal(t, int64(10), got.RetainingSequenceNumber)
	assert.Equal(t, int64(50), got.Timestamp)

	// the original is untouched
	old, _ := c.Get("b")
	assert.Equal(t, int64(2), old.RetainingSequenceNumber)
	assert.Equal(t, int64(3), c.Version())
}

func TestWithoutLeasesBumpsVersionOnce(t *testing.T) {
	c := model.EmptyRetentionLeases.
		WithLease(1, lease("a", 1, 0)).
		WithLease(1, lease("b", 2, 0)).
		WithLease(1, lease("c", 3, 0))

	next := c.WithoutLeases(1, "a", "c")

	assert.Equal(t, c.Version()+1, next.Version())
	assert.Equal(t, 1, next.Len())
	assert.True(t, next.Contains("b"))
	assert.False(t, next.Contains("a"))
	assert.Equal(t, 3, c.Len())
}

func TestLeasesReturnsCopy(t *testing.T) {
	c := model.EmptyRetentionLeases.WithLease(1, lease("a", 1, 0))

	leases := c.Leases()
	leases[0].RetainingSequenceNumber = 99

	got, _ := c.Get("a")
	assert.Equal(t, int64(1), got.RetainingSequenceNumber)
}

func TestSupersedes(t *testing.T) {
	mk := func(term, version int64) *model.RetentionLeaseCollection {
		c, err := model.NewRetentionLeaseCollection(term, version, nil)
		require.NoError(t, err)
		return c
	}

	tests := []struct {
		name     string
		a, b     *model.RetentionLeaseCollection
		expected bool
	}{
		{"higher version same term", mk(1, 5), mk(1, 4), true},
		{"lower version same term", mk(1, 4), mk(1, 5), false},
		{"equal", mk(2, 3), mk(2, 3), false},
		{"higher term lower version", mk(3, 1), mk(2, 9), true},
		{"lower term higher version", mk(1, 9), mk(2, 1), false},
		{"against nil", mk(1, 0), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Supersedes(tt.b))
		})
	}
}

func TestMinimumRetainingSequenceNumber(t *testing.T) {
	c := model.EmptyRetentionLeases.
		WithLease(1, lease("a", 42, 0)).
		WithLease(1, lease("b", model.NoOpsPerformed, 0)).
		WithLease(1, lease("c", 7, 0))

	minSeqNo, ok := c.MinimumRetainingSequenceNumber()
	require.True(t, ok)
	assert.Equal(t, model.NoOpsPerformed, minSeqNo)
}

func TestEqualIgnoresOrder(t *testing.T) {
	a, err := model.NewRetentionLeaseCollection(1, 2, []model.RetentionLease{lease("a", 1, 0), lease("b", 2, 0)})
	require.NoError(t, err)
	b, err := model.NewRetentionLeaseCollection(1, 2, []model.RetentionLease{lease("b", 2, 0), lease("a", 1, 0)})
	require.NoError(t, err)
	c, err := model.NewRetentionLeaseCollection(1, 3, []model.RetentionLease{lease("a", 1, 0), lease("b", 2, 0)})
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}
