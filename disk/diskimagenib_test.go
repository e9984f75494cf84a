package disk

import (
	"bytes"
	"errors"
	"testing"
)

func trackPattern(t, sectors int) []byte {
	var out []byte
	for s := 0; s < sectors; s++ {
		out = append(out, sectorPattern(t, s)...)
	}
	return out
}

func TestNibbleTables(t *testing.T) {
	if len(NIBBLE_62) != 64 || len(NIBBLE_53) != 32 {
		t.Fatalf("table sizes %d %d", len(NIBBLE_62), len(NIBBLE_53))
	}
	for v, b := range NIBBLE_62 {
		if nibbleRead62[b] != v {
			t.Errorf("62 read table: %02X -> %d, want %d", b, nibbleRead62[b], v)
		}
	}
	if nibbleRead62[0xAA] != -1 || nibbleRead53[0xD5] != -1 {
		t.Error("reserved bytes translate")
	}
}

func TestDecode62RoundTrip(t *testing.T) {

	for _, data := range [][]byte{sectorPattern(3, 9), filled(0x00, 256), filled(0xFF, 256)} {
		field := encode62(data)
		nibbles := field[len(DATA_PROLOGUE) : len(DATA_PROLOGUE)+NIB_62_NIBBLES+1]
		out, computed, stored, bad := decode62(nibbles)
		if bad >= 0 {
			t.Fatalf("untranslatable nibble at %d", bad)
		}
		if computed != stored {
			t.Errorf("checksum %02X != %02X", computed, stored)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("6-and-2 round trip failed at byte %d", firstDiff(out, data))
		}
	}
}

func TestDecode53RoundTrip(t *testing.T) {

	for _, data := range [][]byte{sectorPattern(1, 12), filled(0x00, 256), filled(0xFF, 256)} {
		field := encode53(data)
		nibbles := field[len(DATA_PROLOGUE) : len(DATA_PROLOGUE)+NIB_53_NIBBLES+1]
		out, computed, stored, bad := decode53(nibbles)
		if bad >= 0 {
			t.Fatalf("untranslatable nibble at %d", bad)
		}
		if computed != stored {
			t.Errorf("checksum %02X != %02X", computed, stored)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("5-and-3 round trip failed at byte %d", firstDiff(out, data))
		}
	}
}

func firstDiff(a, b []byte) int {
	for i := range a {
		if i >= len(b) || a[i] != b[i] {
			return i
		}
	}
	return len(a)
}

func TestNIBDecode16(t *testing.T) {

	raw := buildNIB(35, nibTrack16)
	if len(raw) != 232960 {
		t.Fatalf("fixture is %d bytes", len(raw))
	}

	d, err := DecodeNIB(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Tracks != 35 || d.SectorsPerTrack != 16 || d.Volume != 254 {
		t.Fatalf("got %s", d)
	}
	g := d.Geometry
	if g.TotalSectors() != 35*16 || g.InvalidCount() != 0 || g.SkippedCount() != 0 {
		t.Fatalf("%d sectors, %d invalid, %d skipped", g.TotalSectors(), g.InvalidCount(), g.SkippedCount())
	}

	tr, _ := g.Track(5, 0)
	if len(tr.Markers) != 32 || tr.Nibbles == nil {
		t.Errorf("track 5: %d markers", len(tr.Markers))
	}
	for _, s := range tr.Sectors {
		if !s.HasChecksum || !s.Checksum.Valid() {
			t.Errorf("sector %d: %s", s.ID, s.Checksum)
		}
	}

	img := &DiskImage{Format: FormatNIB, Raw: raw, NIB: d}
	b, err := Extract(img, SelectTracks(5, 5))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, trackPattern(5, 16)) {
		t.Fatalf("track 5 not in logical order, first difference at %d", firstDiff(b, trackPattern(5, 16)))
	}

	all, err := Extract(img, SelectAll())
	if err != nil || len(all) != 35*16*256 {
		t.Fatalf("whole disk: %d bytes %v", len(all), err)
	}
}

func TestNIBChecksumFlip(t *testing.T) {

	raw := buildNIB(35, nibTrack16)
	at := 3*TRACK_NIBBLE_LENGTH + nibSectorOffset(5) + 15 + 14 + 6 + len(DATA_PROLOGUE) + NIB_62_NIBBLES
	if raw[at] == 0x96 {
		raw[at] = 0x97
	} else {
		raw[at] = 0x96
	}

	d, err := DecodeNIB(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Geometry.InvalidCount() != 1 {
		t.Fatalf("InvalidCount = %d", d.Geometry.InvalidCount())
	}
	tr, _ := d.Geometry.Track(3, 0)
	s, _ := tr.Sector(DOS_33_SECTOR_ORDER[5])
	if !s.Checksum.Invalid() || !errors.Is(s.Err(), ErrChecksumMismatch) {
		t.Fatalf("sector: %s", s.Checksum)
	}

	// the data still decodes and extracts
	img := &DiskImage{Format: FormatNIB, Raw: raw, NIB: d}
	b, err := Extract(img, SelectSectors(3, s.ID))
	if err != nil || !bytes.Equal(b, sectorPattern(3, s.ID)) {
		t.Fatalf("bad sector extract: %v", err)
	}

	d, err = DecodeNIB(raw, Options{Policy: ChecksumsIgnored})
	if err != nil {
		t.Fatal(err)
	}
	if d.Geometry.InvalidCount() != 0 || d.Geometry.SkippedCount() != 35*16 {
		t.Fatalf("ignored: %d invalid %d skipped", d.Geometry.InvalidCount(), d.Geometry.SkippedCount())
	}
}

func TestNIBMissingSector(t *testing.T) {

	raw := buildNIB(35, nibTrack16)
	raw[7*TRACK_NIBBLE_LENGTH+nibSectorOffset(3)+15] = 0xFF

	d, err := DecodeNIB(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	tr, _ := d.Geometry.Track(7, 0)
	if !tr.Invalid() || len(tr.Sectors) != 15 {
		t.Fatalf("track 7: defect %v, %d sectors", tr.Defect, len(tr.Sectors))
	}
	if d.Geometry.InvalidCount() != 1 {
		t.Errorf("InvalidCount = %d", d.Geometry.InvalidCount())
	}

	img := &DiskImage{Format: FormatNIB, Raw: raw, NIB: d}
	missing := DOS_33_SECTOR_ORDER[3]
	if _, err := Extract(img, SelectSectors(7, missing)); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("missing sector selected: %v", err)
	}
	b, err := Extract(img, SelectTracks(7, 7))
	if err != nil || len(b) != 15*256 {
		t.Fatalf("track 7: %d bytes %v", len(b), err)
	}
}

func TestNIBMissingDataField(t *testing.T) {

	raw := buildNIB(35, nibTrack16)
	raw[9*TRACK_NIBBLE_LENGTH+nibSectorOffset(2)+15+14+6] = 0xFF

	d, err := DecodeNIB(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	tr, _ := d.Geometry.Track(9, 0)
	s, ok := tr.Sector(DOS_33_SECTOR_ORDER[2])
	if !ok || !s.Invalid() || len(s.Data) != 256 {
		t.Fatalf("sector without data field: %+v", s)
	}
	if tr.Invalid() {
		t.Errorf("track defect for a sector defect: %v", tr.Defect)
	}
}

func TestNIBDecode13(t *testing.T) {

	raw := buildNIB(35, nibTrack13)
	d, err := DecodeNIB(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if d.SectorsPerTrack != 13 || d.Geometry.InvalidCount() != 0 {
		t.Fatalf("got %s with %d invalid", d, d.Geometry.InvalidCount())
	}

	img := &DiskImage{Format: FormatNIB, Raw: raw, NIB: d}
	b, err := Extract(img, SelectTracks(4, 4))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, trackPattern(4, 13)) {
		t.Fatalf("13 sector track differs at %d", firstDiff(b, trackPattern(4, 13)))
	}
}

func TestNIBLengths(t *testing.T) {

	raw := buildNIB(35, nibTrack16)

	_, err := DecodeNIB(raw[:len(raw)/2], Options{})
	if !errors.Is(err, ErrTruncatedInput) || OffsetOf(err) != len(raw)/2 {
		t.Fatalf("half: %v", err)
	}

	_, err = DecodeNIB(buildNIB(41, nibTrack16), Options{})
	if KindOf(err) != KindStructuralMismatch {
		t.Fatalf("41 tracks: %v", err)
	}

	_, err = DecodeNIB(append(raw, 0xFF), Options{})
	if KindOf(err) != KindStructuralMismatch {
		t.Fatalf("trailing byte: %v", err)
	}

	_, err = DecodeNIB(make([]byte, len(raw)), Options{})
	if KindOf(err) != KindStructuralMismatch || OffsetOf(err) != 0 {
		t.Fatalf("zeros: %v", err)
	}

	if d, err := DecodeNIB(buildNIB(40, nibTrack16), Options{}); err != nil || d.Tracks != 40 {
		t.Fatalf("40 tracks: %v", err)
	}
}

func TestNIBWrongTrack(t *testing.T) {

	// physical sector 3 of track 5 claims to be on track 6
	raw := buildNIB(35, func(track int) []byte {
		out := nibTrack16(track)
		if track == 5 {
			at := nibSectorOffset(3) + 15
			copy(out[at:], nibAddressField(ADDRESS_PROLOGUE_16, 254, 6, 3))
		}
		return out
	})

	d, err := DecodeNIB(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if n := d.Geometry.InvalidCount(); n != 1 {
		t.Fatalf("%d invalid", n)
	}
	tr, _ := d.Geometry.Track(5, 0)
	if tr.Defect != nil {
		t.Fatalf("track defect: %v", tr.Defect)
	}
	for _, s := range tr.Sectors {
		if s.Physical == 3 {
			if KindOf(s.Defect) != KindStructuralMismatch || OffsetOf(s.Defect) != 5*TRACK_NIBBLE_LENGTH+nibSectorOffset(3)+15 {
				t.Fatalf("sector 3: %v", s.Defect)
			}
			if !s.Checksum.Valid() {
				t.Errorf("sector 3 checksum %s", s.Checksum)
			}
		} else if s.Invalid() {
			t.Errorf("sector %d: %v", s.Physical, s.Defect)
		}
	}
}

func TestNIB2MG(t *testing.T) {

	payload := buildNIB(35, nibTrack16)
	raw := build2MG(FORMAT_2MG_NIB, payload)

	img, err := Identify(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if img.Format != FormatNIB || img.NIB.Wrapper == nil || img.NIB.Wrapper.CreatorID != "TEST" {
		t.Fatalf("got %s", img.Format)
	}
	g := img.NIB.Geometry
	if g.TotalSectors() != 35*16 || g.InvalidCount() != 0 {
		t.Fatalf("%d sectors, %d invalid", g.TotalSectors(), g.InvalidCount())
	}
	tr, _ := g.Track(0, 0)
	if tr.Extent.Offset != PREAMBLE_2MG_SIZE {
		t.Errorf("track 0 at %d", tr.Extent.Offset)
	}

	b, err := Extract(img, SelectTracks(7, 7))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, trackPattern(7, 16)) {
		t.Fatalf("track 7 differs at %d", firstDiff(b, trackPattern(7, 16)))
	}

	// a sector payload is not for the nibble decoder
	if _, err := DecodeNIB(build2MG(FORMAT_2MG_DOS, buildDSK(16)), Options{}); KindOf(err) != KindStructuralMismatch || OffsetOf(err) != 0x0C {
		t.Fatalf("2MG sector payload: %v", err)
	}

	if _, err := DecodeNIB(raw[:len(raw)-100], Options{}); !errors.Is(err, ErrTruncatedInput) {
		t.Fatalf("short 2MG: %v", err)
	}
}
