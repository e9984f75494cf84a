package disk

import (
	"bytes"
	"errors"
	"testing"
)

func TestD64Layouts(t *testing.T) {

	if D64_STD_BYTES != 174848 || D64_EXT_BYTES != 196608 {
		t.Fatalf("D64 sizes %d %d", D64_STD_BYTES, D64_EXT_BYTES)
	}

	cases := []struct {
		tracks  int
		errs    bool
		sectors int
	}{
		{35, false, 683},
		{35, true, 683},
		{40, false, 768},
		{40, true, 768},
	}

	for _, c := range cases {
		raw := buildD64(c.tracks, c.errs)
		d, err := DecodeD64(raw, Options{})
		if err != nil {
			t.Fatalf("%d tracks errs=%v: %v", c.tracks, c.errs, err)
		}
		g := d.Geometry
		if g.TotalSectors() != c.sectors || g.TrackCount() != c.tracks || g.Origin != 1 {
			t.Errorf("%d tracks: got %d sectors %d tracks origin %d", c.tracks, g.TotalSectors(), g.TrackCount(), g.Origin)
		}
		if d.ErrorBytes != c.errs {
			t.Errorf("%d tracks: ErrorBytes = %v", c.tracks, d.ErrorBytes)
		}
		if g.InvalidCount() != 0 {
			t.Errorf("%d tracks: %d invalid in a clean image", c.tracks, g.InvalidCount())
		}
	}
}

func TestD64Zones(t *testing.T) {
	want := map[int]int{1: 21, 17: 21, 18: 19, 24: 19, 25: 18, 30: 18, 31: 17, 35: 17, 40: 17}
	for track, spt := range want {
		if got := D64SectorsPerTrack(track); got != spt {
			t.Errorf("track %d: %d sectors, want %d", track, got, spt)
		}
	}
	if off, err := D64Offset(18, 0); err != nil || off != D64_BAM_OFFSET {
		t.Errorf("D64Offset(18, 0) = %X %v", off, err)
	}
	if _, err := D64Offset(1, 21); err == nil {
		t.Error("sector 21 on track 1 accepted")
	}
}

func TestD64ErrorBytes(t *testing.T) {

	raw := buildD64(35, true)
	errBase := D64_STD_SECTORS * D64_BYTES_PER_SECTOR
	raw[errBase+5] = D64_ERR_DATA_CSUM
	raw[errBase+6] = D64_ERR_NONE

	d, err := DecodeD64(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	tr, _ := d.Geometry.Track(1, 0)
	s, _ := tr.Sector(5)
	if !s.Invalid() || !errors.Is(s.Err(), ErrChecksumMismatch) {
		t.Fatalf("sector 5: %+v", s.Checksum)
	}
	if s6, _ := tr.Sector(6); !s6.Checksum.Valid() {
		t.Errorf("code 01 is not valid: %s", s6.Checksum)
	}
	if d.Geometry.InvalidCount() != 1 {
		t.Errorf("InvalidCount = %d", d.Geometry.InvalidCount())
	}

	// the bad sector still extracts
	img := &DiskImage{Format: FormatD64, Raw: raw, D64: d}
	b, err := Extract(img, SelectSectors(1, 5))
	if err != nil || len(b) != 256 || b[0] != 1 || b[1] != 5 {
		t.Fatalf("extract bad sector: %d bytes %v", len(b), err)
	}

	// ignoring checksums leaves every sector unchecked, none invalid
	d, err = DecodeD64(raw, Options{Policy: ChecksumsIgnored})
	if err != nil {
		t.Fatal(err)
	}
	if d.Geometry.InvalidCount() != 0 || d.Geometry.SkippedCount() != D64_STD_SECTORS {
		t.Errorf("ignored: %d invalid %d skipped", d.Geometry.InvalidCount(), d.Geometry.SkippedCount())
	}
}

func TestD64Rejects(t *testing.T) {

	full := buildD64(35, false)

	// any cut between one track and the smallest layout is truncated,
	// sector aligned or not
	for _, raw := range [][]byte{full, buildD64(35, true)} {
		for _, n := range []int{len(raw) / 2, len(raw)/2 &^ 0xFF, 21 * 256, D64_STD_BYTES - 1} {
			_, err := DecodeD64(raw[:n], Options{})
			if !errors.Is(err, ErrTruncatedInput) || OffsetOf(err) != 0 {
				t.Fatalf("%d bytes: %v", n, err)
			}
		}
	}

	// less than a track is foreign data
	_, err := DecodeD64(full[:1000], Options{})
	if !errors.Is(err, ErrStructuralMismatch) {
		t.Fatalf("1000 bytes: %v", err)
	}

	// one byte too many
	_, err = DecodeD64(append(full, 0), Options{})
	if KindOf(err) != KindStructuralMismatch {
		t.Fatalf("oversized: %v", err)
	}
}

func TestD64BAM(t *testing.T) {

	raw := buildD64(35, false)
	bam := raw[D64_BAM_OFFSET : D64_BAM_OFFSET+256]
	bam[0], bam[1], bam[2] = 18, 1, 0x41
	copy(bam[0x90:0xA0], bytes.Repeat([]byte{0xA0}, 16))
	copy(bam[0x90:], "TEST DISK")
	copy(bam[0xA2:], "AB")
	copy(bam[0xA5:], "2A")

	d, err := DecodeD64(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if d.BAM == nil || d.BAM.DiskName != "TEST DISK" || d.BAM.DiskID != "AB" || d.BAM.DOSType != "2A" {
		t.Fatalf("BAM = %+v", d.BAM)
	}

	img := &DiskImage{Format: FormatD64, Raw: raw, D64: d}
	b, err := Extract(img, SelectRegion("bam"))
	if err != nil || !bytes.Equal(b, bam) {
		t.Fatalf("bam region: %v", err)
	}
	dir, err := Extract(img, SelectRegion("directory"))
	if err != nil || len(dir) != 18*256 {
		t.Fatalf("directory region: %d bytes %v", len(dir), err)
	}
}
