package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndStripChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte(`{"generation":1}`)},
		{"binary", []byte{0x00, 0x01, 0x02, 0x03, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withChecksum := AppendChecksum(tt.data)
			require.Len(t, withChecksum, len(tt.data)+ChecksumSize)

			stripped, valid := ValidateAndStripChecksum(withChecksum)
			assert.True(t, valid)
			assert.Equal(t, tt.data, stripped)
		})
	}
}

func TestAppendChecksumDoesNotAliasInput(t *testing.T) {
	data := make([]byte, 3, 16)
	copy(data, "abc")

	out := AppendChecksum(data)
	out[0] = 'z'

	assert.Equal(t, byte('a'), data[0])
}

func TestValidateAndStripChecksumDetectsCorruption(t *testing.T) {
	withChecksum := AppendChecksum([]byte("retention leases"))

	corrupted := append([]byte(nil), withChecksum...)
	corrupted[2] ^= 0xFF
	_, valid := ValidateAndStripChecksum(corrupted)
	assert.False(t, valid, "payload corruption")

	corrupted = append([]byte(nil), withChecksum...)
	corrupted[len(corrupted)-1] ^= 0xFF
	_, valid = ValidateAndStripChecksum(corrupted)
	assert.False(t, valid, "trailer corruption")
}

func TestValidateAndStripChecksumTooShort(t *testing.T) {
	_, valid := ValidateAndStripChecksum([]byte{1, 2, 3})
	assert.False(t, valid)
}
