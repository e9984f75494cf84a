package disk

import "bytes"

/*
	2MG wrapper: a 64 byte header in front of a DOS ordered, ProDOS ordered
	or nibble payload.
*/

const PREAMBLE_2MG_SIZE = 0x40

const (
	FORMAT_2MG_DOS    = 0x00
	FORMAT_2MG_PRODOS = 0x01
	FORMAT_2MG_NIB    = 0x02
)

var MAGIC_2MG = []byte{byte('2'), byte('I'), byte('M'), byte('G')}

type Header2MG struct {
	CreatorID     string
	HeaderSize    int
	Version       int
	ImageFormat   int
	Flags         uint32
	ProDOSBlocks  int
	DiskDataStart int
	DiskDataLen   int
}

// Payload is the wrapped image's extent within the file.
func (h *Header2MG) Payload() Extent {
	return Extent{Offset: h.DiskDataStart, Length: h.DiskDataLen}
}

// Order is the sector order the header declares for sector payloads.
func (h *Header2MG) Order() SectorOrder {
	if h.ImageFormat == FORMAT_2MG_PRODOS {
		return SectorOrderProDOS
	}
	return SectorOrderDOS33
}

// Volume returns the DOS volume number when the header carries one.
func (h *Header2MG) Volume() (int, bool) {
	if h.Flags&0x100 == 0 {
		return 0, false
	}
	return int(h.Flags & 0xFF), true
}

// parse2MG reads a 2MG header. ok is false when raw is not 2MG at all; err
// reports a 2MG header whose payload does not fit the file.
func parse2MG(raw []byte, format Format) (h *Header2MG, ok bool, err error) {

	if len(raw) < PREAMBLE_2MG_SIZE || !bytes.Equal(raw[:4], MAGIC_2MG) {
		return nil, false, nil
	}

	r := Reader{Data: raw, Format: format}
	hdr := &Header2MG{CreatorID: string(raw[0x04:0x08])}

	var v16 uint16
	var v32 uint32
	off := 0x08
	v16, off, _ = r.U16LE(off)
	hdr.HeaderSize = int(v16)
	v16, off, _ = r.U16LE(off)
	hdr.Version = int(v16)
	v32, off, _ = r.U32LE(off)
	hdr.ImageFormat = int(v32)
	hdr.Flags, off, _ = r.U32LE(off)
	v32, off, _ = r.U32LE(off)
	hdr.ProDOSBlocks = int(v32)
	v32, off, _ = r.U32LE(off)
	hdr.DiskDataStart = int(v32)
	v32, _, _ = r.U32LE(off)
	hdr.DiskDataLen = int(v32)

	if hdr.DiskDataStart < PREAMBLE_2MG_SIZE {
		hdr.DiskDataStart = PREAMBLE_2MG_SIZE
	}
	if hdr.DiskDataLen == 0 && hdr.ProDOSBlocks > 0 {
		hdr.DiskDataLen = hdr.ProDOSBlocks * 512
	}
	if hdr.DiskDataStart+hdr.DiskDataLen > len(raw) {
		return hdr, true, truncated(format, hdr.DiskDataStart, "2MG payload of %d bytes overruns file of %d", hdr.DiskDataLen, len(raw))
	}

	return hdr, true, nil
}
