package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/jgerrish/image-rider/disk"
)

func testImage(t *testing.T, raw []byte) *disk.DiskImage {
	t.Helper()
	img, err := disk.Identify(raw, disk.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestWriteInfo(t *testing.T) {

	d := newDiskRecord("game.d64", testImage(t, testD64()))

	var b bytes.Buffer
	writeInfo(&b, d)
	out := b.String()
	for _, want := range []string{"Format:   D64", "Geometry: 35 tracks, 1 sides, 683 sectors", "Regions:  [bam directory disk]", "No defects"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	b.Reset()
	if err := writeInfoJSON(&b, d); err != nil {
		t.Fatal(err)
	}
	keys := []string{`"file"`, `"format"`, `"description"`, `"sha256"`, `"tracks"`, `"sides"`, `"sectors"`, `"invalid"`, `"skipped"`, `"regions"`, `"defects"`, `"tracks_detail"`}
	last := -1
	for _, k := range keys {
		i := strings.Index(b.String(), k)
		if i <= last {
			t.Fatalf("key %s out of order", k)
		}
		last = i
	}
	if !strings.Contains(b.String(), `"defects": []`) {
		t.Error("defects is not an empty list")
	}
}

func TestDuplicateReport(t *testing.T) {

	dupes := &DuplicateWholeDiskCollection{}
	dupes.Add("aa", "/a.d64")
	dupes.Add("aa", "/b.d64")
	dupes.Add("bb", "/c.d64")

	var b bytes.Buffer
	dupes.Report(&b)
	out := b.String()
	if !strings.Contains(out, "Checksum aa duplicated 2 times") || strings.Contains(out, "Checksum bb") {
		t.Errorf("report:\n%s", out)
	}
	if !strings.Contains(out, "1 images have duplicates (1 extra copies)") {
		t.Errorf("no summary in:\n%s", out)
	}
}

func TestTrackMapRows(t *testing.T) {

	raw := append(testD64(), make([]byte, disk.D64_STD_SECTORS)...)
	raw[disk.D64_STD_BYTES+2] = disk.D64_ERR_DATA_CSUM

	rows := trackMapRows(testImage(t, raw))
	if len(rows) != 35 || rows[0].label != "01/0" || len(rows[0].cells) != 21 {
		t.Fatalf("%d rows, first %q with %d cells", len(rows), rows[0].label, len(rows[0].cells))
	}
	if rows[0].cells[2] != cellInvalid || rows[0].cells[1] != cellValid {
		t.Errorf("track 1 cells %v", rows[0].cells)
	}

	plain := trackMapRows(testImage(t, testD64()))
	if plain[17].cells[0] != cellPlain {
		t.Errorf("sector without a checksum drawn as %c", plain[17].cells[0].glyph())
	}

	s := tcell.NewSimulationScreen("UTF-8")
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	defer s.Fini()
	s.SetSize(80, 10)

	drawTrackMap(s, "game.d64", rows, 0)
	if r, _, _, _ := s.GetContent(0, 3); r != '0' {
		t.Errorf("first row starts with %q", r)
	}
	if r, _, _, _ := s.GetContent(7+2*2, 3); r != 'X' {
		t.Errorf("bad sector drawn as %q", r)
	}
	if r, _, _, _ := s.GetContent(7, 3); r != '#' {
		t.Errorf("good sector drawn as %q", r)
	}
}
