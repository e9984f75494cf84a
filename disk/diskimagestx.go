package disk

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

/*
	Pasti STX: a 16 byte file header followed by one record per track. Each
	record declares its own size, so the walk never depends on what a record
	contains.
*/

const STX_HEADER_SIZE = 16
const STX_TRACK_HEADER_SIZE = 16
const STX_SECTOR_HEADER_SIZE = 16
const STX_MAX_TRACKS = 164
const STX_PLAIN_SECTOR_SIZE = 512

const (
	STX_TRACK_SECTOR_HEADERS = 0x01
	STX_TRACK_PROTECTED      = 0x20
	STX_TRACK_IMAGE          = 0x40
	STX_TRACK_IMAGE_SYNC     = 0x80
)

var MAGIC_STX = []byte{'R', 'S', 'Y', 0}

// the ID field CRC covers three A1 sync marks and the FE address mark
var stxIDMarks = []byte{0xA1, 0xA1, 0xA1, 0xFE}

type STXHeader struct {
	Version    int
	Tool       int
	TrackCount int
	Revision   int
}

type STXTrackHeader struct {
	BlockSize    int
	FuzzySize    int
	SectorsCount int
	Flags        int
	MFMSize      int
	TrackNumber  int
	RecordType   int
}

func (h STXTrackHeader) Index() int { return h.TrackNumber & 0x7F }
func (h STXTrackHeader) Side() int  { return h.TrackNumber >> 7 }

// STXSectorHeader is the ID field as the FDC read it, plus Pasti timing.
type STXSectorHeader struct {
	DataOffset  int
	BitPosition int
	ReadTime    int
	Track       byte
	Head        byte
	Sector      byte
	Size        byte
	CRC         uint16
	FDCStatus   byte
}

func (h STXSectorHeader) Bytes() int { return 128 << (h.Size & 3) }

// IDCRC computes the CRC the FDC would have read after this ID field.
func (h STXSectorHeader) IDCRC() uint16 {
	crc := CRC16(0xFFFF, stxIDMarks)
	return CRC16(crc, []byte{h.Track, h.Head, h.Sector, h.Size})
}

// BPB is the FAT12 BIOS parameter block of an Atari ST boot sector.
type BPB struct {
	OEMName           string
	BytesPerSector    int
	SectorsPerCluster int
	ReservedSectors   int
	FATCount          int
	RootEntries       int
	TotalSectors      int
	Media             byte
	SectorsPerFAT     int
	SectorsPerTrack   int
	Heads             int
	Executable        bool
}

type STXDisk struct {
	Header   STXHeader
	Records  []STXTrackHeader
	BPB      *BPB
	Geometry Geometry
}

func (d *STXDisk) String() string {
	s := fmt.Sprintf("Atari ST STX (%d tracks, %d sides, revision %d)", d.Geometry.TrackCount(), d.Geometry.Sides(), d.Header.Revision)
	if d.BPB != nil {
		s += fmt.Sprintf(": %q %d sectors", d.BPB.OEMName, d.BPB.TotalSectors)
		if d.BPB.Executable {
			s += ", bootable"
		}
	}
	return s
}

func decodeSTXImage(raw []byte, opts Options) (*DiskImage, error) {
	d, err := DecodeSTX(raw, opts)
	if err != nil {
		return nil, err
	}
	return &DiskImage{Format: FormatSTX, Raw: raw, STX: d}, nil
}

func DecodeSTX(raw []byte, opts Options) (*STXDisk, error) {

	l := opts.log().WithName("stx")
	r := Reader{Data: raw, Format: FormatSTX}

	if len(raw) < len(MAGIC_STX) {
		return nil, mismatch(FormatSTX, 0, "missing RSY signature")
	}
	if _, err := r.Expect(0, MAGIC_STX); err != nil {
		return nil, err
	}

	hdr, pos, err := readSTXHeader(r)
	if err != nil {
		return nil, err
	}
	if hdr.TrackCount > STX_MAX_TRACKS {
		return nil, mismatch(FormatSTX, 10, "track count %d above %d", hdr.TrackCount, STX_MAX_TRACKS)
	}

	d := &STXDisk{Header: hdr}
	tracks := make([]Track, 0, hdr.TrackCount)
	for i := 0; i < hdr.TrackCount; i++ {
		th, err := readSTXTrackHeader(r, pos)
		if err != nil {
			return nil, err
		}
		if th.BlockSize < STX_TRACK_HEADER_SIZE {
			return nil, mismatch(FormatSTX, pos, "track record of %d bytes is smaller than its header", th.BlockSize)
		}
		if pos+th.BlockSize > len(raw) {
			return nil, truncated(FormatSTX, pos, "track record of %d bytes overruns file of %d", th.BlockSize, len(raw))
		}
		track, err := decodeSTXTrack(r, pos, th, opts.Policy)
		if err != nil {
			return nil, err
		}
		if track.Defect != nil {
			l.V(1).Info("track defect", "track", track.Index, "side", track.Side, "defect", track.Defect.Error())
		}
		d.Records = append(d.Records, th)
		tracks = append(tracks, track)
		pos += th.BlockSize
	}

	g, err := NewGeometry(FormatSTX, 0, tracks)
	if err != nil {
		return nil, err
	}
	d.Geometry = g
	d.BPB = d.readBPB(raw)

	return d, nil
}

func readSTXHeader(r Reader) (STXHeader, int, error) {
	var h STXHeader
	var v16 uint16
	var v8 byte
	var err error

	off := len(MAGIC_STX)
	if v16, off, err = r.U16LE(off); err != nil {
		return h, off, err
	}
	h.Version = int(v16)
	if v16, off, err = r.U16LE(off); err != nil {
		return h, off, err
	}
	h.Tool = int(v16)
	off += 2
	if v8, off, err = r.U8(off); err != nil {
		return h, off, err
	}
	h.TrackCount = int(v8)
	if v8, off, err = r.U8(off); err != nil {
		return h, off, err
	}
	h.Revision = int(v8)
	if _, off, err = r.Bytes(off, 4); err != nil {
		return h, off, err
	}
	return h, off, nil
}

func readSTXTrackHeader(r Reader, off int) (STXTrackHeader, error) {
	var h STXTrackHeader
	b, _, err := r.Bytes(off, STX_TRACK_HEADER_SIZE)
	if err != nil {
		return h, err
	}
	sub := Reader{Data: b, Format: FormatSTX}
	v32, o, _ := sub.U32LE(0)
	h.BlockSize = int(v32)
	v32, o, _ = sub.U32LE(o)
	h.FuzzySize = int(v32)
	v16, o, _ := sub.U16LE(o)
	h.SectorsCount = int(v16)
	v16, o, _ = sub.U16LE(o)
	h.Flags = int(v16)
	v16, o, _ = sub.U16LE(o)
	h.MFMSize = int(v16)
	h.TrackNumber = int(b[o])
	h.RecordType = int(b[o+1])
	return h, nil
}

func readSTXSectorHeader(r Reader, off int) (STXSectorHeader, error) {
	var h STXSectorHeader
	b, _, err := r.Bytes(off, STX_SECTOR_HEADER_SIZE)
	if err != nil {
		return h, err
	}
	sub := Reader{Data: b, Format: FormatSTX}
	v32, o, _ := sub.U32LE(0)
	h.DataOffset = int(v32)
	v16, o, _ := sub.U16LE(o)
	h.BitPosition = int(v16)
	v16, o, _ = sub.U16LE(o)
	h.ReadTime = int(v16)
	h.Track, h.Head, h.Sector, h.Size = b[o], b[o+1], b[o+2], b[o+3]
	h.CRC, o, _ = sub.U16BE(o + 4)
	h.FDCStatus = b[o]
	return h, nil
}

func decodeSTXTrack(r Reader, pos int, th STXTrackHeader, policy ChecksumPolicy) (Track, error) {

	ext := Extent{Offset: pos, Length: th.BlockSize}
	track := Track{
		Index:  th.Index(),
		Side:   th.Side(),
		Extent: ext,
	}

	if th.Flags&STX_TRACK_SECTOR_HEADERS == 0 {
		need := STX_TRACK_HEADER_SIZE + th.SectorsCount*STX_PLAIN_SECTOR_SIZE
		if need > th.BlockSize {
			track.Defect = mismatch(FormatSTX, pos, "plain track needs %d bytes, record declares %d", need, th.BlockSize)
		}
		for i := 0; i < th.SectorsCount; i++ {
			sec := Sector{
				ID:       i + 1,
				Physical: i,
				Extent:   Extent{Offset: pos + STX_TRACK_HEADER_SIZE + i*STX_PLAIN_SECTOR_SIZE, Length: STX_PLAIN_SECTOR_SIZE},
				Size:     STX_PLAIN_SECTOR_SIZE,
			}
			if !ext.Contains(sec.Extent) {
				sec.Data = make([]byte, sec.Size)
				sec.Defect = mismatch(FormatSTX, sec.Extent.Offset, "sector %d outside its track record", sec.ID)
			}
			track.Sectors = append(track.Sectors, sec)
		}
		return track, nil
	}

	headersEnd := pos + STX_TRACK_HEADER_SIZE + th.SectorsCount*STX_SECTOR_HEADER_SIZE
	if headersEnd > ext.End() {
		track.Defect = mismatch(FormatSTX, pos, "%d sector headers do not fit a %d byte record", th.SectorsCount, th.BlockSize)
		return track, nil
	}
	dataBase := headersEnd + th.FuzzySize

	need := dataBase - pos
	for i := 0; i < th.SectorsCount; i++ {
		off := pos + STX_TRACK_HEADER_SIZE + i*STX_SECTOR_HEADER_SIZE
		sh, err := readSTXSectorHeader(r, off)
		if err != nil {
			return track, err
		}
		sec := Sector{
			ID:          int(sh.Sector),
			Physical:    i,
			Extent:      Extent{Offset: dataBase + sh.DataOffset, Length: sh.Bytes()},
			Size:        sh.Bytes(),
			HasChecksum: true,
			Checksum:    Verify(uint32(sh.IDCRC()), uint32(sh.CRC), policy),
		}
		if end := sec.Extent.End() - pos; end > need {
			need = end
		}
		if !ext.Contains(sec.Extent) {
			sec.Data = make([]byte, sec.Size)
			sec.Defect = mismatch(FormatSTX, sec.Extent.Offset, "sector %d data outside its track record", sec.ID)
		}
		track.Sectors = append(track.Sectors, sec)
		track.Markers = append(track.Markers, Marker{
			Kind:     MarkerAddress,
			Offset:   off,
			Prologue: stxIDMarks,
			Sector:   sec.ID,
			Checksum: sec.Checksum,
		})
	}
	if need > th.BlockSize {
		track.Defect = mismatch(FormatSTX, pos, "sectors need %d bytes, record declares %d", need, th.BlockSize)
	}

	return track, nil
}

func (d *STXDisk) firstSector() (*Sector, bool) {
	for _, t := range d.Geometry.Ordered() {
		for _, s := range t.LogicalOrder() {
			return s, true
		}
	}
	return nil, false
}

func (d *STXDisk) readBPB(raw []byte) *BPB {
	s, ok := d.firstSector()
	if !ok || s.Invalid() {
		return nil
	}
	b := s.Payload(raw)
	if len(b) < 0x1C {
		return nil
	}
	u16 := func(o int) int { return int(b[o]) | int(b[o+1])<<8 }

	bpb := &BPB{
		OEMName:           decodeCP437(b[2:8]),
		BytesPerSector:    u16(0x0B),
		SectorsPerCluster: int(b[0x0D]),
		ReservedSectors:   u16(0x0E),
		FATCount:          int(b[0x10]),
		RootEntries:       u16(0x11),
		TotalSectors:      u16(0x13),
		Media:             b[0x15],
		SectorsPerFAT:     u16(0x16),
		SectorsPerTrack:   u16(0x18),
		Heads:             u16(0x1A),
		Executable:        AtariBootSum(b) == ATARI_BOOT_CHECKSUM,
	}
	switch bpb.BytesPerSector {
	case 128, 256, 512, 1024:
	default:
		return nil
	}
	return bpb
}

func decodeCP437(b []byte) string {
	s, err := charmap.CodePage437.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(s), " \x00")
}

func (d *STXDisk) regions() map[string][]sectorRef {
	var all []sectorRef
	for _, t := range d.Geometry.Ordered() {
		for _, s := range t.LogicalOrder() {
			all = append(all, sectorRef{track: t.Index, side: t.Side, sector: s.ID})
		}
	}
	return map[string][]sectorRef{"filesystem": all}
}
