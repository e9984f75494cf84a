package disk

import (
	"fmt"
	"strings"
)

const STD_BYTES_PER_SECTOR = 256
const STD_TRACKS_PER_DISK = 35
const EXT_TRACKS_PER_DISK = 40
const STD_SECTORS_PER_TRACK = 16
const STD_SECTORS_PER_TRACK_OLD = 13
const STD_DISK_BYTES = STD_TRACKS_PER_DISK * STD_SECTORS_PER_TRACK * STD_BYTES_PER_SECTOR
const STD_DISK_BYTES_OLD = STD_TRACKS_PER_DISK * STD_SECTORS_PER_TRACK_OLD * STD_BYTES_PER_SECTOR
const EXT_DISK_BYTES = EXT_TRACKS_PER_DISK * STD_SECTORS_PER_TRACK * STD_BYTES_PER_SECTOR
const EXT_DISK_BYTES_OLD = EXT_TRACKS_PER_DISK * STD_SECTORS_PER_TRACK_OLD * STD_BYTES_PER_SECTOR
const VTOC_TRACK = 17
const PRODOS_BLOCK_BYTES = 512
const PRODOS_BLOCKS_PER_TRACK = 8
const PRODOS_VDH_BLOCK = 2

type SectorOrder int

const (
	SectorOrderAuto SectorOrder = iota
	SectorOrderDOS33
	SectorOrderDOS32
	SectorOrderProDOS
)

func (so SectorOrder) String() string {
	switch so {
	case SectorOrderAuto:
		return "Auto"
	case SectorOrderDOS32:
		return "DOS 3.2 (linear)"
	case SectorOrderDOS33:
		return "DOS"
	case SectorOrderProDOS:
		return "ProDOS"
	}
	return "Linear"
}

// ParseSectorOrder accepts the names used on the command line.
func ParseSectorOrder(s string) (SectorOrder, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return SectorOrderAuto, nil
	case "dos", "do", "dsk", "dos33":
		return SectorOrderDOS33, nil
	case "dos32", "d13", "linear":
		return SectorOrderDOS32, nil
	case "prodos", "po":
		return SectorOrderProDOS, nil
	}
	return SectorOrderAuto, fmt.Errorf("unknown sector order %q", s)
}

// DOS_33_SECTOR_ORDER maps a physical sector to its DOS 3.3 logical sector.
var DOS_33_SECTOR_ORDER = []int{
	0x00, 0x07, 0x0E, 0x06, 0x0D, 0x05, 0x0C, 0x04,
	0x0B, 0x03, 0x0A, 0x02, 0x09, 0x01, 0x08, 0x0F,
}

// PRODOS_SECTOR_ORDER maps a physical sector to its ProDOS ordered slot.
var PRODOS_SECTOR_ORDER = []int{
	0x00, 0x08, 0x01, 0x09, 0x02, 0x0a, 0x03, 0x0b,
	0x04, 0x0c, 0x05, 0x0d, 0x06, 0x0e, 0x07, 0x0f,
}

var dos33Physical = invert(DOS_33_SECTOR_ORDER)
var prodosPhysical = invert(PRODOS_SECTOR_ORDER)

func invert(order []int) []int {
	out := make([]int, len(order))
	for phys, v := range order {
		out[v] = phys
	}
	return out
}

// slotLogical returns the DOS logical sector and physical sector stored in
// file slot s of a track under the given order.
func slotLogical(order SectorOrder, s int) (logical, physical int) {
	switch order {
	case SectorOrderDOS33:
		return s, dos33Physical[s]
	case SectorOrderProDOS:
		p := prodosPhysical[s]
		return DOS_33_SECTOR_ORDER[p], p
	}
	return s, s
}

// logicalSlot is the inverse of slotLogical.
func logicalSlot(order SectorOrder, logical int) int {
	switch order {
	case SectorOrderDOS33:
		return logical
	case SectorOrderProDOS:
		return PRODOS_SECTOR_ORDER[dos33Physical[logical]]
	}
	return logical
}

// VTOC is the DOS 3.x volume table of contents.
type VTOC struct {
	CatalogTrack    int
	CatalogSector   int
	DOSRelease      int
	Volume          int
	MaxTSPairs      int
	Tracks          int
	SectorsPerTrack int
	BytesPerSector  int
}

func parseVTOC(b []byte) (*VTOC, bool) {
	if len(b) < STD_BYTES_PER_SECTOR {
		return nil, false
	}
	v := &VTOC{
		CatalogTrack:    int(b[0x01]),
		CatalogSector:   int(b[0x02]),
		DOSRelease:      int(b[0x03]),
		Volume:          int(b[0x06]),
		MaxTSPairs:      int(b[0x27]),
		Tracks:          int(b[0x34]),
		SectorsPerTrack: int(b[0x35]),
		BytesPerSector:  int(b[0x36]) | int(b[0x37])<<8,
	}
	if v.Tracks != STD_TRACKS_PER_DISK && v.Tracks != EXT_TRACKS_PER_DISK {
		return nil, false
	}
	if v.SectorsPerTrack != STD_SECTORS_PER_TRACK && v.SectorsPerTrack != STD_SECTORS_PER_TRACK_OLD {
		return nil, false
	}
	if v.CatalogTrack == 0 || v.CatalogTrack >= v.Tracks || v.CatalogSector >= v.SectorsPerTrack {
		return nil, false
	}
	return v, true
}

// ProDOSVolume is the identifying part of the volume directory header.
type ProDOSVolume struct {
	Name        string
	TotalBlocks int
}

func parseProDOSVDH(block []byte) (*ProDOSVolume, bool) {
	if len(block) < PRODOS_BLOCK_BYTES {
		return nil, false
	}
	if block[0] != 0 || block[1] != 0 {
		return nil, false
	}
	e := block[4:]
	if e[0]>>4 != 0xF {
		return nil, false
	}
	n := int(e[0] & 0x0F)
	if n == 0 {
		return nil, false
	}
	name := make([]byte, 0, n)
	for _, c := range e[1 : 1+n] {
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') && c != '.' {
			return nil, false
		}
		name = append(name, c)
	}
	return &ProDOSVolume{
		Name:        string(name),
		TotalBlocks: int(e[37]) | int(e[38])<<8,
	}, true
}

type DSKDisk struct {
	Tracks          int
	SectorsPerTrack int
	Order           SectorOrder
	Wrapper         *Header2MG
	VTOC            *VTOC
	ProDOS          *ProDOSVolume
	Geometry        Geometry
}

func (d *DSKDisk) String() string {
	s := fmt.Sprintf("Apple DSK (%d tracks, %d sectors, %s order)", d.Tracks, d.SectorsPerTrack, d.Order)
	switch {
	case d.VTOC != nil:
		s += fmt.Sprintf(": DOS 3.%d volume %d", d.VTOC.DOSRelease, d.VTOC.Volume)
	case d.ProDOS != nil:
		s += fmt.Sprintf(": ProDOS /%s", d.ProDOS.Name)
	}
	return s
}

func decodeDSKImage(raw []byte, opts Options) (*DiskImage, error) {
	d, err := DecodeDSK(raw, opts)
	if err != nil {
		return nil, err
	}
	return &DiskImage{Format: FormatDSK, Raw: raw, DSK: d}, nil
}

// DecodeDSK accepts 13 and 16 sector dumps of 35 or 40 tracks, bare or
// inside a 2MG wrapper.
func DecodeDSK(raw []byte, opts Options) (*DSKDisk, error) {

	l := opts.log().WithName("dsk")

	payload := Extent{Offset: 0, Length: len(raw)}
	order := opts.Order

	wrapper, is2MG, err := parse2MG(raw, FormatDSK)
	if err != nil {
		return nil, err
	}
	if is2MG {
		if wrapper.ImageFormat == FORMAT_2MG_NIB {
			return nil, mismatch(FormatDSK, 0x0C, "2MG wraps a nibble image")
		}
		payload = wrapper.Payload()
		if order == SectorOrderAuto {
			order = wrapper.Order()
		}
	}

	data := payload.Slice(raw)
	tracks, spt := 0, 0
	switch len(data) {
	case STD_DISK_BYTES:
		tracks, spt = STD_TRACKS_PER_DISK, STD_SECTORS_PER_TRACK
	case EXT_DISK_BYTES:
		tracks, spt = EXT_TRACKS_PER_DISK, STD_SECTORS_PER_TRACK
	case STD_DISK_BYTES_OLD:
		tracks, spt = STD_TRACKS_PER_DISK, STD_SECTORS_PER_TRACK_OLD
	case EXT_DISK_BYTES_OLD:
		tracks, spt = EXT_TRACKS_PER_DISK, STD_SECTORS_PER_TRACK_OLD
	default:
		if looksTruncated(data, STD_SECTORS_PER_TRACK_OLD*STD_BYTES_PER_SECTOR, STD_DISK_BYTES_OLD) {
			return nil, truncated(FormatDSK, 0, "%d bytes is shorter than any DOS 3.x disk", len(data))
		}
		return nil, mismatch(FormatDSK, 0, "length %d is not tracks x sectors x %d for 13 or 16 sectors", len(data), STD_BYTES_PER_SECTOR)
	}
	if looksNibblized(data) {
		return nil, mismatch(FormatDSK, payload.Offset, "content is a nibble stream, not a sector dump")
	}

	d := &DSKDisk{
		Tracks:          tracks,
		SectorsPerTrack: spt,
		Wrapper:         wrapper,
	}

	if spt == STD_SECTORS_PER_TRACK_OLD {
		order = SectorOrderDOS32
	} else if order == SectorOrderAuto || order == SectorOrderDOS32 {
		order = detectSectorOrder(data, tracks)
	}
	d.Order = order
	l.V(1).Info("layout", "tracks", tracks, "sectors", spt, "order", order.String())

	if v, ok := parseVTOC(dskSector(data, spt, order, VTOC_TRACK, 0)); ok {
		d.VTOC = v
	}
	if spt == STD_SECTORS_PER_TRACK {
		if v, ok := parseProDOSVDH(prodosBlock(data, order, PRODOS_VDH_BLOCK)); ok {
			d.ProDOS = v
		}
	}

	trackBytes := spt * STD_BYTES_PER_SECTOR
	list := make([]Track, tracks)
	for t := 0; t < tracks; t++ {
		base := payload.Offset + t*trackBytes
		track := Track{
			Index:   t,
			Extent:  Extent{Offset: base, Length: trackBytes},
			Sectors: make([]Sector, spt),
		}
		for s := 0; s < spt; s++ {
			logical, physical := slotLogical(order, s)
			track.Sectors[s] = Sector{
				ID:       logical,
				Physical: physical,
				Extent:   Extent{Offset: base + s*STD_BYTES_PER_SECTOR, Length: STD_BYTES_PER_SECTOR},
				Size:     STD_BYTES_PER_SECTOR,
			}
		}
		list[t] = track
	}

	g, err := NewGeometry(FormatDSK, 0, list)
	if err != nil {
		return nil, err
	}
	d.Geometry = g

	return d, nil
}

// dskSector returns logical sector s of track t from a sector dump.
func dskSector(data []byte, spt int, order SectorOrder, t, s int) []byte {
	off := (t*spt + logicalSlot(order, s)) * STD_BYTES_PER_SECTOR
	if off+STD_BYTES_PER_SECTOR > len(data) {
		return nil
	}
	return data[off : off+STD_BYTES_PER_SECTOR]
}

// prodosBlock assembles a 512 byte ProDOS block from a 16 sector dump.
func prodosBlock(data []byte, order SectorOrder, block int) []byte {
	t := block / PRODOS_BLOCKS_PER_TRACK
	first := (block % PRODOS_BLOCKS_PER_TRACK) * 2
	out := make([]byte, 0, PRODOS_BLOCK_BYTES)
	for _, slot := range []int{first, first + 1} {
		var off int
		if order == SectorOrderProDOS {
			off = (t*STD_SECTORS_PER_TRACK + slot) * STD_BYTES_PER_SECTOR
		} else {
			logical := DOS_33_SECTOR_ORDER[prodosPhysical[slot]]
			off = (t*STD_SECTORS_PER_TRACK + logical) * STD_BYTES_PER_SECTOR
		}
		if off+STD_BYTES_PER_SECTOR > len(data) {
			return nil
		}
		out = append(out, data[off:off+STD_BYTES_PER_SECTOR]...)
	}
	return out
}

// detectSectorOrder tries each order the way a DOS or ProDOS boot would read
// the disk: a ProDOS volume header at block 2, or a DOS catalog chain from
// the VTOC. DOS order wins when nothing is conclusive.
func detectSectorOrder(data []byte, tracks int) SectorOrder {

	for _, o := range []SectorOrder{SectorOrderProDOS, SectorOrderDOS33} {
		v, ok := parseProDOSVDH(prodosBlock(data, o, PRODOS_VDH_BLOCK))
		if ok && v.TotalBlocks == tracks*PRODOS_BLOCKS_PER_TRACK {
			return o
		}
	}

	for _, o := range []SectorOrder{SectorOrderDOS33, SectorOrderProDOS} {
		if catalogChains(data, o) {
			return o
		}
	}

	return SectorOrderDOS33
}

// catalogChains follows the first catalog links from the VTOC under order and
// reports whether they descend through the catalog track as DOS writes them.
func catalogChains(data []byte, order SectorOrder) bool {
	v, ok := parseVTOC(dskSector(data, STD_SECTORS_PER_TRACK, order, VTOC_TRACK, 0))
	if !ok {
		return false
	}
	t, s := v.CatalogTrack, v.CatalogSector
	for i := 0; i < 3; i++ {
		b := dskSector(data, STD_SECTORS_PER_TRACK, order, t, s)
		if b == nil {
			return false
		}
		nt, ns := int(b[1]), int(b[2])
		if nt == 0 {
			return i > 0
		}
		if nt != t || ns != s-1 {
			return false
		}
		t, s = nt, ns
	}
	return true
}

func (d *DSKDisk) regions() map[string][]sectorRef {
	return dosRegions(d.VTOC, d.SectorsPerTrack)
}

// dosRegions names the DOS 3.x VTOC and catalog track.
func dosRegions(v *VTOC, spt int) map[string][]sectorRef {
	r := map[string][]sectorRef{}
	if v == nil {
		return r
	}
	r["vtoc"] = []sectorRef{{track: VTOC_TRACK, sector: 0}}
	cat := make([]sectorRef, 0, spt-1)
	for s := 1; s < spt; s++ {
		cat = append(cat, sectorRef{track: v.CatalogTrack, sector: s})
	}
	r["catalog"] = cat
	return r
}
