package disk

import (
	"fmt"
	"strings"
)

const D64_BYTES_PER_SECTOR = 256
const D64_STD_TRACKS = 35
const D64_EXT_TRACKS = 40
const D64_STD_SECTORS = 683
const D64_EXT_SECTORS = 768
const D64_STD_BYTES = D64_STD_SECTORS * D64_BYTES_PER_SECTOR
const D64_EXT_BYTES = D64_EXT_SECTORS * D64_BYTES_PER_SECTOR
const D64_DIR_TRACK = 18
const D64_BAM_OFFSET = 0x16500

// D64 error info codes. Both 0 and 1 mean the sector read cleanly.
const (
	D64_ERR_NONE        = 0x01
	D64_ERR_HEADER_MISS = 0x02
	D64_ERR_NO_SYNC     = 0x03
	D64_ERR_DATA_MISS   = 0x04
	D64_ERR_DATA_CSUM   = 0x05
	D64_ERR_HEADER_CSUM = 0x09
	D64_ERR_ID_MISMATCH = 0x0B
)

// d64Zones gives sectors per track for each speed zone, with the first track
// of the zone.
var d64Zones = []struct {
	first   int
	sectors int
}{
	{1, 21},
	{18, 19},
	{25, 18},
	{31, 17},
}

type d64Layout struct {
	tracks     int
	errorBytes bool
}

var d64Layouts = map[int]d64Layout{
	D64_STD_BYTES:                   {D64_STD_TRACKS, false},
	D64_STD_BYTES + D64_STD_SECTORS: {D64_STD_TRACKS, true},
	D64_EXT_BYTES:                   {D64_EXT_TRACKS, false},
	D64_EXT_BYTES + D64_EXT_SECTORS: {D64_EXT_TRACKS, true},
}

// D64Zone returns the speed zone (1-4) of a track.
func D64Zone(track int) int {
	zone := 0
	for i, z := range d64Zones {
		if track >= z.first {
			zone = i + 1
		}
	}
	return zone
}

// D64SectorsPerTrack returns the sector count of a 1-based track.
func D64SectorsPerTrack(track int) int {
	z := D64Zone(track)
	if z == 0 {
		return 0
	}
	return d64Zones[z-1].sectors
}

// D64TotalSectors sums the zone table over the first tracks tracks.
func D64TotalSectors(tracks int) int {
	n := 0
	for t := 1; t <= tracks; t++ {
		n += D64SectorsPerTrack(t)
	}
	return n
}

// D64BAM is the identifying header of track 18 sector 0.
type D64BAM struct {
	DirTrack   int
	DirSector  int
	DOSVersion byte
	DiskName   string
	DiskID     string
	DOSType    string
}

type D64Disk struct {
	Tracks     int
	ErrorBytes bool
	BAM        *D64BAM
	Geometry   Geometry
}

func (d *D64Disk) String() string {
	s := fmt.Sprintf("D64 Disk (%d tracks", d.Tracks)
	if d.ErrorBytes {
		s += ", error info"
	}
	s += ")"
	if d.BAM != nil {
		s += fmt.Sprintf(": %q %s", d.BAM.DiskName, d.BAM.DiskID)
	}
	return s
}

func decodeD64Image(raw []byte, opts Options) (*DiskImage, error) {
	d, err := DecodeD64(raw, opts)
	if err != nil {
		return nil, err
	}
	return &DiskImage{Format: FormatD64, Raw: raw, D64: d}, nil
}

// DecodeD64 derives the geometry purely from the total length.
func DecodeD64(raw []byte, opts Options) (*D64Disk, error) {

	l := opts.log().WithName("d64")

	layout, ok := d64Layouts[len(raw)]
	if !ok {
		if looksTruncated(raw, D64SectorsPerTrack(1)*D64_BYTES_PER_SECTOR, D64_STD_BYTES) {
			return nil, truncated(FormatD64, 0, "%d bytes is shorter than the %d byte 35 track layout", len(raw), D64_STD_BYTES)
		}
		return nil, mismatch(FormatD64, 0, "unrecognized D64 length %d", len(raw))
	}
	if looksNibblized(raw) {
		return nil, mismatch(FormatD64, 0, "unrecognized D64 length %d: content is a nibble stream", len(raw))
	}

	total := D64TotalSectors(layout.tracks)
	errBase := total * D64_BYTES_PER_SECTOR

	tracks := make([]Track, 0, layout.tracks)
	offset := 0
	block := 0
	for t := 1; t <= layout.tracks; t++ {
		spt := D64SectorsPerTrack(t)
		track := Track{
			Index:   t,
			Zone:    D64Zone(t),
			Extent:  Extent{Offset: offset, Length: spt * D64_BYTES_PER_SECTOR},
			Sectors: make([]Sector, spt),
		}
		for s := 0; s < spt; s++ {
			sec := Sector{
				ID:       s,
				Physical: s,
				Extent:   Extent{Offset: offset, Length: D64_BYTES_PER_SECTOR},
				Size:     D64_BYTES_PER_SECTOR,
			}
			if layout.errorBytes {
				code := raw[errBase+block]
				if code == 0 {
					code = D64_ERR_NONE
				}
				sec.HasChecksum = true
				sec.Checksum = Verify(uint32(code), D64_ERR_NONE, opts.Policy)
				if sec.Checksum.Invalid() {
					l.V(1).Info("sector error code", "track", t, "sector", s, "code", code, "meaning", d64ErrorText(code))
				}
			}
			track.Sectors[s] = sec
			offset += D64_BYTES_PER_SECTOR
			block++
		}
		tracks = append(tracks, track)
	}

	g, err := NewGeometry(FormatD64, 1, tracks)
	if err != nil {
		return nil, err
	}

	return &D64Disk{
		Tracks:     layout.tracks,
		ErrorBytes: layout.errorBytes,
		BAM:        parseD64BAM(raw),
		Geometry:   g,
	}, nil
}

// D64Offset returns the byte offset of a 1-based track and 0-based sector.
func D64Offset(track, sector int) (int, error) {
	if track < 1 || track > D64_EXT_TRACKS {
		return 0, fmt.Errorf("invalid track %d", track)
	}
	if sector < 0 || sector >= D64SectorsPerTrack(track) {
		return 0, fmt.Errorf("invalid sector %d on track %d", sector, track)
	}
	return (D64TotalSectors(track-1) + sector) * D64_BYTES_PER_SECTOR, nil
}

func parseD64BAM(raw []byte) *D64BAM {
	if len(raw) < D64_BAM_OFFSET+D64_BYTES_PER_SECTOR {
		return nil
	}
	b := raw[D64_BAM_OFFSET : D64_BAM_OFFSET+D64_BYTES_PER_SECTOR]
	if b[0] != D64_DIR_TRACK || b[2] != 0x41 {
		return nil
	}
	return &D64BAM{
		DirTrack:   int(b[0]),
		DirSector:  int(b[1]),
		DOSVersion: b[2],
		DiskName:   petsciiString(b[0x90:0xA0]),
		DiskID:     petsciiString(b[0xA2:0xA4]),
		DOSType:    petsciiString(b[0xA5:0xA7]),
	}
}

// petsciiString renders a shifted-space padded PETSCII field as ASCII.
func petsciiString(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == 0xA0:
			continue
		case c >= 0x41 && c <= 0x5A:
			sb.WriteByte(c)
		case c >= 0xC1 && c <= 0xDA:
			sb.WriteByte(c - 0x80)
		case c >= 0x20 && c <= 0x40:
			sb.WriteByte(c)
		default:
			sb.WriteByte('?')
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

func d64ErrorText(code byte) string {
	switch code {
	case D64_ERR_NONE:
		return "ok"
	case D64_ERR_HEADER_MISS:
		return "header block not found"
	case D64_ERR_NO_SYNC:
		return "no sync sequence"
	case D64_ERR_DATA_MISS:
		return "data block not found"
	case D64_ERR_DATA_CSUM:
		return "data block checksum error"
	case D64_ERR_HEADER_CSUM:
		return "header block checksum error"
	case D64_ERR_ID_MISMATCH:
		return "disk id mismatch"
	}
	return fmt.Sprintf("error code $%02X", code)
}

func (d *D64Disk) regions() map[string][]sectorRef {
	r := map[string][]sectorRef{}
	t, ok := d.Geometry.Track(D64_DIR_TRACK, 0)
	if !ok {
		return r
	}
	r["bam"] = []sectorRef{{track: D64_DIR_TRACK, sector: 0}}
	dir := make([]sectorRef, 0, len(t.Sectors)-1)
	for s := 1; s < len(t.Sectors); s++ {
		dir = append(dir, sectorRef{track: D64_DIR_TRACK, sector: s})
	}
	r["directory"] = dir
	return r
}
