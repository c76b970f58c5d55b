// Package util holds small helpers shared by the storage packages.
package util

import (
	"encoding/binary"
	"hash/crc32"
)

// ChecksumSize is the length of the trailer written by AppendChecksum
const ChecksumSize = 4

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum returns the CRC32-C of data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// AppendChecksum returns data followed by its little-endian CRC32-C
func AppendChecksum(data []byte) []byte {
	out := make([]byte, len(data), len(data)+ChecksumSize)
	copy(out, data)
	return binary.LittleEndian.AppendUint32(out, ComputeChecksum(data))
}

// ValidateAndStripChecksum splits off the trailer written by AppendChecksum
// and reports whether it matches the payload.
func ValidateAndStripChecksum(dataWithChecksum []byte) ([]byte, bool) {
	if len(dataWithChecksum) < ChecksumSize {
		return nil, false
	}
	n := len(dataWithChecksum) - ChecksumSize
	data := dataWithChecksum[:n]
	return data, binary.LittleEndian.Uint32(dataWithChecksum[n:]) == ComputeChecksum(data)
}
