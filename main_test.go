package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jgerrish/image-rider/disk"
	"github.com/jgerrish/image-rider/loggy"
)

func TestMain(m *testing.M) {
	loggy.SILENT = true
	os.Exit(m.Run())
}

// testD64 is a 35 track D64 whose sectors start with their track and
// sector numbers.
func testD64() []byte {
	raw := make([]byte, disk.D64_STD_BYTES)
	off := 0
	for t := 1; t <= 35; t++ {
		for s := 0; s < disk.D64SectorsPerTrack(t); s++ {
			raw[off], raw[off+1] = byte(t), byte(s)
			off += disk.D64_BYTES_PER_SECTOR
		}
	}
	return raw
}

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestIdentifyFiles(t *testing.T) {

	dir := t.TempDir()
	good := writeTemp(t, dir, "game.d64", testD64())
	bad := writeTemp(t, dir, "junk.dsk", make([]byte, 1000))

	var out stringsBuilder
	failed := identifyFiles(defaultConfig(), &out, []string{good, bad, filepath.Join(dir, "missing.d64")}, true)
	if failed != 2 {
		t.Fatalf("%d failed, output:\n%s", failed, out.String())
	}
	if !out.contains("game.d64: D64, 35 tracks, 1 sides, 683 sectors") {
		t.Errorf("no identify line in:\n%s", out.String())
	}
	if !out.contains("unknown format") || !out.contains("rejected") {
		t.Errorf("no attempt detail in:\n%s", out.String())
	}
}

func TestReadLines(t *testing.T) {
	p := writeTemp(t, t.TempDir(), "script", []byte("open a.d64\ninfo\n"))
	lines, err := readLines(p)
	if err != nil || len(lines) != 3 || lines[1] != "info" {
		t.Fatalf("readLines = %q %v", lines, err)
	}
}
