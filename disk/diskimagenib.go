package disk

import (
	"fmt"
)

const TRACK_NIBBLE_LENGTH = 0x1A00
const NIB_MIN_TRACKS = 35
const NIB_MAX_TRACKS = 40
const NIBBLE_DENSITY_PERCENT = 90

// DATA_PROLOGUE_BUDGET is how far past an address field the data prologue
// may start.
const DATA_PROLOGUE_BUDGET = 64

const NIB_62_NIBBLES = 342
const NIB_53_NIBBLES = 410

var ADDRESS_PROLOGUE_16 = []byte{0xD5, 0xAA, 0x96}
var ADDRESS_PROLOGUE_13 = []byte{0xD5, 0xAA, 0xB5}
var DATA_PROLOGUE = []byte{0xD5, 0xAA, 0xAD}
var FIELD_EPILOGUE = []byte{0xDE, 0xAA, 0xEB}

var NIBBLE_62 = []byte{
	0x96, 0x97, 0x9a, 0x9b, 0x9d, 0x9e, 0x9f, 0xa6,
	0xa7, 0xab, 0xac, 0xad, 0xae, 0xaf, 0xb2, 0xb3,
	0xb4, 0xb5, 0xb6, 0xb7, 0xb9, 0xba, 0xbb, 0xbc,
	0xbd, 0xbe, 0xbf, 0xcb, 0xcd, 0xce, 0xcf, 0xd3,
	0xd6, 0xd7, 0xd9, 0xda, 0xdb, 0xdc, 0xdd, 0xde,
	0xdf, 0xe5, 0xe6, 0xe7, 0xe9, 0xea, 0xeb, 0xec,
	0xed, 0xee, 0xef, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6,
	0xf7, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff}

var NIBBLE_53 = []byte{
	0xab, 0xad, 0xae, 0xaf, 0xb5, 0xb6, 0xb7, 0xba,
	0xbb, 0xbd, 0xbe, 0xbf, 0xd6, 0xd7, 0xda, 0xdb,
	0xdd, 0xde, 0xdf, 0xea, 0xeb, 0xed, 0xee, 0xef,
	0xf5, 0xf6, 0xf7, 0xfa, 0xfb, 0xfd, 0xfe, 0xff,
}

// read tables: disk byte to 6 or 5 bit value, -1 for untranslatable
var nibbleRead62 = readTable(NIBBLE_62)
var nibbleRead53 = readTable(NIBBLE_53)

// the two low bits of each byte are stored swapped in the 6-and-2 aux area
var swapBits = [4]byte{0, 2, 1, 3}

func readTable(write []byte) [256]int {
	var t [256]int
	for i := range t {
		t[i] = -1
	}
	for v, b := range write {
		t[b] = v
	}
	return t
}

type NIBDisk struct {
	Tracks          int
	SectorsPerTrack int
	Volume          int
	VTOC            *VTOC
	Wrapper         *Header2MG
	Geometry        Geometry
}

func (d *NIBDisk) String() string {
	s := fmt.Sprintf("Apple NIB (%d tracks, %d sectors, volume %d)", d.Tracks, d.SectorsPerTrack, d.Volume)
	if d.VTOC != nil {
		s += fmt.Sprintf(": DOS 3.%d", d.VTOC.DOSRelease)
	}
	return s
}

func decodeNIBImage(raw []byte, opts Options) (*DiskImage, error) {
	d, err := DecodeNIB(raw, opts)
	if err != nil {
		return nil, err
	}
	return &DiskImage{Format: FormatNIB, Raw: raw, NIB: d}, nil
}

// DecodeNIB decodes a raw nibble dump of fixed length tracks. Bad address
// or data fields become per sector defects; missing sectors become a track
// defect.
func DecodeNIB(raw []byte, opts Options) (*NIBDisk, error) {

	l := opts.log().WithName("nib")

	payload := Extent{Offset: 0, Length: len(raw)}
	wrapper, is2MG, err := parse2MG(raw, FormatNIB)
	if err != nil {
		return nil, err
	}
	if is2MG {
		if wrapper.ImageFormat != FORMAT_2MG_NIB {
			return nil, mismatch(FormatNIB, 0x0C, "2MG wraps a sector image")
		}
		payload = wrapper.Payload()
	}
	data := payload.Slice(raw)
	at := payload.Offset

	if !looksNibblized(data) {
		return nil, mismatch(FormatNIB, at, "no address prologue in a high bit nibble stream")
	}

	tracks := len(data) / TRACK_NIBBLE_LENGTH
	if tracks < NIB_MIN_TRACKS {
		return nil, truncated(FormatNIB, at+len(data), "%d tracks of %d nibbles need %d bytes", NIB_MIN_TRACKS, TRACK_NIBBLE_LENGTH, NIB_MIN_TRACKS*TRACK_NIBBLE_LENGTH)
	}
	if tracks > NIB_MAX_TRACKS {
		return nil, mismatch(FormatNIB, at+NIB_MAX_TRACKS*TRACK_NIBBLE_LENGTH, "more than %d tracks", NIB_MAX_TRACKS)
	}
	if len(data)%TRACK_NIBBLE_LENGTH != 0 {
		return nil, mismatch(FormatNIB, at+tracks*TRACK_NIBBLE_LENGTH, "%d trailing bytes after the last track", len(data)%TRACK_NIBBLE_LENGTH)
	}

	first := data[:TRACK_NIBBLE_LENGTH]
	spt, prologue := STD_SECTORS_PER_TRACK, ADDRESS_PROLOGUE_16
	if _, err := FindPattern(first, 0, ADDRESS_PROLOGUE_16); err != nil {
		spt, prologue = STD_SECTORS_PER_TRACK_OLD, ADDRESS_PROLOGUE_13
	}

	d := &NIBDisk{
		Tracks:          tracks,
		SectorsPerTrack: spt,
		Volume:          -1,
		Wrapper:         wrapper,
	}

	list := make([]Track, tracks)
	for t := 0; t < tracks; t++ {
		list[t] = d.decodeTrack(raw, at, t, prologue, opts)
		if list[t].Defect != nil {
			l.V(1).Info("track defect", "track", t, "defect", list[t].Defect.Error())
		}
	}

	g, err := NewGeometry(FormatNIB, 0, list)
	if err != nil {
		return nil, err
	}
	d.Geometry = g

	if spt == STD_SECTORS_PER_TRACK {
		if tr, ok := g.Track(VTOC_TRACK, 0); ok {
			if s, ok := tr.Sector(0); ok && !s.Invalid() {
				d.VTOC, _ = parseVTOC(s.Data)
			}
		}
	}

	return d, nil
}

func (d *NIBDisk) decodeTrack(raw []byte, origin, index int, prologue []byte, opts Options) Track {

	base := origin + index*TRACK_NIBBLE_LENGTH
	ext := Extent{Offset: base, Length: TRACK_NIBBLE_LENGTH}
	data := ext.Slice(raw)
	track := Track{
		Index:   index,
		Extent:  ext,
		Nibbles: &ext,
	}

	sync := uint32(prologue[0])<<16 | uint32(prologue[1])<<8 | uint32(prologue[2])
	seen := make(map[int]bool)
	bit := 0
	for {
		at, err := FindSyncPattern(data, bit, sync, 24)
		if err != nil {
			break
		}
		bit = at + 1
		if at%8 != 0 {
			continue
		}
		pos := at / 8

		addr, next, err := readAddressField(Reader{Data: data, Format: FormatNIB}, pos+len(prologue), opts.Policy)
		if err != nil {
			break
		}
		track.Markers = append(track.Markers, Marker{
			Kind:     MarkerAddress,
			Offset:   base + pos,
			Prologue: prologue,
			Sector:   addr.sector,
			Checksum: addr.checksum,
		})
		if addr.sector >= d.SectorsPerTrack || seen[addr.sector] {
			continue
		}
		seen[addr.sector] = true
		if d.Volume < 0 && !addr.checksum.Invalid() {
			d.Volume = addr.volume
		}

		sec := d.readDataField(data, base, next, addr, opts.Policy)
		if addr.track != index && sec.Defect == nil && !addr.checksum.Invalid() {
			sec.Defect = mismatch(FormatNIB, base+pos, "address field for sector %d names track %d", addr.sector, addr.track)
		}
		if sec.Extent.Length > 0 {
			track.Markers = append(track.Markers, Marker{
				Kind:     MarkerData,
				Offset:   sec.Extent.Offset,
				Prologue: DATA_PROLOGUE,
				Sector:   addr.sector,
				Checksum: sec.Checksum,
			})
			bit = (sec.Extent.End() - base) * 8
		}
		track.Sectors = append(track.Sectors, sec)
	}

	switch {
	case len(track.Markers) == 0:
		track.Defect = mismatch(FormatNIB, base, "no address field on track %d", index)
	case len(seen) < d.SectorsPerTrack:
		track.Defect = mismatch(FormatNIB, base, "found %d of %d sectors on track %d", len(seen), d.SectorsPerTrack, index)
	}

	return track
}

type addressField struct {
	volume   int
	track    int
	sector   int
	checksum ChecksumResult
}

func readAddressField(r Reader, off int, policy ChecksumPolicy) (addressField, int, error) {
	var f addressField
	var v [4]byte
	var err error
	for i := range v {
		v[i], off, err = r.Odd4And4(off)
		if err != nil {
			return f, off, err
		}
	}
	f.volume, f.track, f.sector = int(v[0]), int(v[1]), int(v[2])
	f.checksum = Verify(uint32(v[0]^v[1]^v[2]), uint32(v[3]), policy)
	return f, off, nil
}

// readDataField finds and decodes the data field following an address field
// that ended at off.
func (d *NIBDisk) readDataField(data []byte, base, off int, addr addressField, policy ChecksumPolicy) Sector {

	size := STD_BYTES_PER_SECTOR
	sec := Sector{
		ID:          addr.sector,
		Physical:    addr.sector,
		Size:        size,
		HasChecksum: true,
		Checksum:    addr.checksum,
	}
	if d.SectorsPerTrack == STD_SECTORS_PER_TRACK {
		sec.ID = DOS_33_SECTOR_ORDER[addr.sector]
	}

	limit := off + DATA_PROLOGUE_BUDGET
	if limit > len(data) {
		limit = len(data)
	}
	at, err := FindPattern(data[:limit], off, DATA_PROLOGUE)
	if err != nil {
		sec.Data = make([]byte, size)
		sec.Defect = mismatch(FormatNIB, base+off, "no data field for sector %d", addr.sector)
		return sec
	}

	start := at + len(DATA_PROLOGUE)
	count := NIB_62_NIBBLES
	if d.SectorsPerTrack == STD_SECTORS_PER_TRACK_OLD {
		count = NIB_53_NIBBLES
	}
	if start+count+1 > len(data) {
		sec.Data = make([]byte, size)
		sec.Defect = truncated(FormatNIB, base+start, "data field for sector %d runs off the track", addr.sector)
		return sec
	}
	sec.Extent = Extent{Offset: base + at, Length: len(DATA_PROLOGUE) + count + 1}

	var out []byte
	var computed, stored byte
	var bad int
	if count == NIB_62_NIBBLES {
		out, computed, stored, bad = decode62(data[start : start+count+1])
	} else {
		out, computed, stored, bad = decode53(data[start : start+count+1])
	}
	if bad >= 0 {
		sec.Data = make([]byte, size)
		sec.Defect = mismatch(FormatNIB, base+start+bad, "untranslatable nibble $%02X in sector %d", data[start+bad], addr.sector)
		return sec
	}
	sec.Data = out

	if !addr.checksum.Invalid() {
		sec.Checksum = Verify(uint32(computed), uint32(stored), policy)
	}
	return sec
}

// decode62 decodes 342 6-and-2 nibbles plus the checksum nibble. bad is the
// index of the first untranslatable nibble, or -1.
func decode62(nibbles []byte) (out []byte, computed, stored byte, bad int) {
	var buf [NIB_62_NIBBLES]byte
	var last byte
	for i := 0; i < NIB_62_NIBBLES; i++ {
		v := nibbleRead62[nibbles[i]]
		if v < 0 {
			return nil, 0, 0, i
		}
		last ^= byte(v)
		if i < 0x56 {
			buf[NIB_62_NIBBLES-1-i] = last
		} else {
			buf[i-0x56] = last
		}
	}
	v := nibbleRead62[nibbles[NIB_62_NIBBLES]]
	if v < 0 {
		return nil, 0, 0, NIB_62_NIBBLES
	}

	out = make([]byte, STD_BYTES_PER_SECTOR)
	for i := range out {
		aux := buf[NIB_62_NIBBLES-1-(i%0x56)] >> (uint(i/0x56) * 2)
		out[i] = buf[i]<<2 | swapBits[aux&3]
	}
	return out, last, byte(v), -1
}

// decode53 decodes 410 5-and-3 nibbles plus the checksum nibble. The 154
// nibbles holding the low three bits come first, in reverse.
func decode53(nibbles []byte) (out []byte, computed, stored byte, bad int) {
	const threes = NIB_53_NIBBLES - STD_BYTES_PER_SECTOR
	var buf [NIB_53_NIBBLES]byte
	var last byte
	for i := 0; i < NIB_53_NIBBLES; i++ {
		v := nibbleRead53[nibbles[i]]
		if v < 0 {
			return nil, 0, 0, i
		}
		last ^= byte(v)
		if i < threes {
			buf[NIB_53_NIBBLES-1-i] = last
		} else {
			buf[i-threes] = last
		}
	}
	v := nibbleRead53[nibbles[NIB_53_NIBBLES]]
	if v < 0 {
		return nil, 0, 0, NIB_53_NIBBLES
	}

	top := buf[:STD_BYTES_PER_SECTOR]
	low := buf[STD_BYTES_PER_SECTOR:]
	out = make([]byte, STD_BYTES_PER_SECTOR)
	for t := 0; t < 255; t++ {
		g, k := t%51, t/51
		a, b, c := low[g], low[g+51], low[g+102]
		var bits byte
		switch k {
		case 0:
			bits = a >> 2
		case 1:
			bits = b >> 2
		case 2:
			bits = c >> 2
		case 3:
			bits = (a>>1&1)<<2 | (b>>1&1)<<1 | c>>1&1
		case 4:
			bits = (a&1)<<2 | (b&1)<<1 | c&1
		}
		out[t] = top[t]<<3 | bits&7
	}
	out[255] = top[255]<<3 | low[153]&7
	return out, last, byte(v), -1
}

func (d *NIBDisk) regions() map[string][]sectorRef {
	return dosRegions(d.VTOC, d.SectorsPerTrack)
}
