package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Reader reads typed values out of a raw image. It carries no cursor of its
// own: every method takes an offset and returns the advanced one, so the same
// call always gives the same answer.
type Reader struct {
	Data   []byte
	Format Format
}

func (r Reader) need(off, n int, what string) error {
	if off < 0 || n < 0 || off+n > len(r.Data) {
		return truncated(r.Format, off, "%s needs %d bytes, %d remain", what, n, remaining(r.Data, off))
	}
	return nil
}

func remaining(data []byte, off int) int {
	if off < 0 || off > len(data) {
		return 0
	}
	return len(data) - off
}

func (r Reader) U8(off int) (byte, int, error) {
	if err := r.need(off, 1, "u8"); err != nil {
		return 0, off, err
	}
	return r.Data[off], off + 1, nil
}

func (r Reader) U16LE(off int) (uint16, int, error) {
	if err := r.need(off, 2, "u16le"); err != nil {
		return 0, off, err
	}
	return binary.LittleEndian.Uint16(r.Data[off:]), off + 2, nil
}

func (r Reader) U16BE(off int) (uint16, int, error) {
	if err := r.need(off, 2, "u16be"); err != nil {
		return 0, off, err
	}
	return binary.BigEndian.Uint16(r.Data[off:]), off + 2, nil
}

func (r Reader) U32LE(off int) (uint32, int, error) {
	if err := r.need(off, 4, "u32le"); err != nil {
		return 0, off, err
	}
	return binary.LittleEndian.Uint32(r.Data[off:]), off + 4, nil
}

func (r Reader) U32BE(off int) (uint32, int, error) {
	if err := r.need(off, 4, "u32be"); err != nil {
		return 0, off, err
	}
	return binary.BigEndian.Uint32(r.Data[off:]), off + 4, nil
}

// Bytes returns a view of the next n bytes. The slice aliases Data.
func (r Reader) Bytes(off, n int) ([]byte, int, error) {
	if err := r.need(off, n, fmt.Sprintf("%d byte run", n)); err != nil {
		return nil, off, err
	}
	return r.Data[off : off+n : off+n], off + n, nil
}

// Expect succeeds only if pattern appears verbatim at off.
func (r Reader) Expect(off int, pattern []byte) (int, error) {
	b, next, err := r.Bytes(off, len(pattern))
	if err != nil {
		return off, err
	}
	if !bytes.Equal(b, pattern) {
		return off, mismatch(r.Format, off, "expected % X, found % X", pattern, b)
	}
	return next, nil
}

// Odd4And4 decodes one Apple 4-and-4 encoded byte (two disk bytes, odd bits
// first).
func (r Reader) Odd4And4(off int) (byte, int, error) {
	b, next, err := r.Bytes(off, 2)
	if err != nil {
		return 0, off, err
	}
	return ((b[0] << 1) | 1) & b[1], next, nil
}

// FindPattern returns the offset of the first byte-aligned occurrence of
// pattern at or after from.
func FindPattern(data []byte, from int, pattern []byte) (int, error) {
	if from < 0 {
		from = 0
	}
	if from <= len(data) {
		if i := bytes.Index(data[from:], pattern); i >= 0 {
			return from + i, nil
		}
	}
	return -1, failure(KindStructuralMismatch, FormatUnknown, len(data), "pattern not found before end of buffer")
}

// FindSyncPattern scans bit by bit from fromBit for the width-bit pattern
// (MSB first, width at most 32) and returns the bit offset of the first match.
func FindSyncPattern(data []byte, fromBit int, pattern uint32, width int) (int, error) {
	if width <= 0 || width > 32 {
		return -1, failure(KindStructuralMismatch, FormatUnknown, 0, fmt.Sprintf("sync pattern width %d out of range", width))
	}
	if fromBit < 0 {
		fromBit = 0
	}
	total := len(data) * 8
	mask := uint32(1<<uint(width)) - 1
	if width == 32 {
		mask = 0xFFFFFFFF
	}
	pattern &= mask

	var window uint32
	filled := 0
	for bit := fromBit; bit < total; bit++ {
		v := (data[bit>>3] >> (7 - uint(bit&7))) & 1
		window = (window << 1) | uint32(v)
		filled++
		if filled >= width && window&mask == pattern {
			return bit - width + 1, nil
		}
	}
	return -1, failure(KindStructuralMismatch, FormatUnknown, len(data), "pattern not found before end of buffer")
}
