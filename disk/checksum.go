package disk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const CCITT_CRC16_POLY = 0x1021
const ATARI_BOOT_CHECKSUM = 0x1234

// ChecksumPolicy is fixed for a parse session and passed by value to every
// decoder.
type ChecksumPolicy int

const (
	ChecksumsEnforced ChecksumPolicy = iota
	ChecksumsIgnored
)

func (p ChecksumPolicy) String() string {
	if p == ChecksumsIgnored {
		return "ignored"
	}
	return "enforced"
}

type ChecksumStatus int

const (
	ChecksumValid ChecksumStatus = iota
	ChecksumInvalid
	ChecksumSkipped
)

func (s ChecksumStatus) String() string {
	switch s {
	case ChecksumValid:
		return "valid"
	case ChecksumInvalid:
		return "invalid"
	case ChecksumSkipped:
		return "skipped"
	}
	return "?"
}

// ChecksumResult keeps "not checked" apart from "checked and matched".
// Expected and Actual are only meaningful when Status is ChecksumInvalid.
type ChecksumResult struct {
	Status   ChecksumStatus
	Expected uint32
	Actual   uint32
}

func (c ChecksumResult) Valid() bool   { return c.Status == ChecksumValid }
func (c ChecksumResult) Invalid() bool { return c.Status == ChecksumInvalid }
func (c ChecksumResult) Skipped() bool { return c.Status == ChecksumSkipped }

func (c ChecksumResult) String() string {
	if c.Status == ChecksumInvalid {
		return fmt.Sprintf("invalid (expected $%X, got $%X)", c.Expected, c.Actual)
	}
	return c.Status.String()
}

// Verify compares a computed checksum with the one stored in the image.
func Verify(computed, expected uint32, policy ChecksumPolicy) ChecksumResult {
	if policy == ChecksumsIgnored {
		return ChecksumResult{Status: ChecksumSkipped}
	}
	if computed == expected {
		return ChecksumResult{Status: ChecksumValid}
	}
	return ChecksumResult{Status: ChecksumInvalid, Expected: expected, Actual: computed}
}

// XORSum is the running XOR used by Apple address and data fields.
func XORSum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum ^= v
	}
	return sum
}

// AddSum is an additive checksum modulo 256.
func AddSum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

func CRC16AddByte(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ CCITT_CRC16_POLY
		} else {
			crc <<= 1
		}
	}
	return crc
}

// CRC16 runs the CCITT CRC over b starting from init (0xFFFF for the WD1772).
func CRC16(init uint16, b []byte) uint16 {
	crc := init
	for _, v := range b {
		crc = CRC16AddByte(crc, v)
	}
	return crc
}

// AtariBootSum sums a boot sector as big-endian words. An executable Atari ST
// boot sector sums to ATARI_BOOT_CHECKSUM.
func AtariBootSum(sector []byte) uint16 {
	var sum uint16
	for i := 0; i+1 < len(sector); i += 2 {
		sum += uint16(sector[i])<<8 | uint16(sector[i+1])
	}
	return sum
}

// Checksum is the content fingerprint used by reports and the scanner.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
