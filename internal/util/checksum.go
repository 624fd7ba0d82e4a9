package util

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Persisted records are sealed as [payload][crc32 little-endian (4 bytes)]

var (
	crc32Table = crc32.MakeTable(crc32.IEEE)

	// ErrChecksumMismatch is returned when a sealed record fails validation
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrRecordTooShort is returned when a sealed record has no room for a checksum
	ErrRecordTooShort = errors.New("record too short")
)

const checksumSize = 4

// ComputeChecksum computes a CRC32 checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// Seal appends a checksum to payload
func Seal(payload []byte) []byte {
	out := make([]byte, len(payload)+checksumSize)
	copy(out, payload)
	binary.LittleEndian.PutUint32(out[len(payload):], ComputeChecksum(payload))
	return out
}

// Open validates and strips the checksum added by Seal
func Open(sealed []byte) ([]byte, error) {
	if len(sealed) < checksumSize {
		return nil, ErrRecordTooShort
	}
	n := len(sealed) - checksumSize
	payload := sealed[:n]
	if binary.LittleEndian.Uint32(sealed[n:]) != ComputeChecksum(payload) {
		return nil, ErrChecksumMismatch
	}
	return payload, nil
}
