package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jgerrish/image-rider/disk"
	"github.com/jgerrish/image-rider/loggy"
	"github.com/klauspost/compress/zstd"
)

const zstdExt = ".zst"

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Disk is the summary record kept for one decoded image.
type Disk struct {
	FullPath    string
	Filename    string
	SHA256      string
	Format      disk.Format
	Description string
	Tracks      int
	Sides       int
	Sectors     int
	Invalid     int
	Skipped     int
	Regions     []string
	Defects     []string
	Image       *disk.DiskImage `json:"-"`
}

func newDiskRecord(filename string, img *disk.DiskImage) *Disk {
	d := &Disk{
		Filename: path.Base(filename),
		FullPath: filename,
	}
	if abspath, e := filepath.Abs(filename); e == nil {
		d.FullPath = path.Clean(abspath)
	}
	if img == nil {
		d.Format = disk.FormatUnknown
		return d
	}

	g := img.Geometry()
	d.Image = img
	d.SHA256 = disk.Checksum(img.Raw)
	d.Format = img.Format
	d.Description = img.String()
	d.Tracks = g.TrackCount()
	d.Sides = g.Sides()
	d.Sectors = g.TotalSectors()
	d.Invalid = g.InvalidCount()
	d.Skipped = g.SkippedCount()
	d.Regions = img.Regions()
	for _, e := range g.Defects() {
		d.Defects = append(d.Defects, e.Error())
	}
	return d
}

// LogBitmap writes one line per track to the log, marking invalid sectors.
func (d *Disk) LogBitmap(id int) {

	l := loggy.Get(id)
	if d.Image == nil {
		return
	}

	for _, t := range d.Image.Geometry().Ordered() {
		line := fmt.Sprintf("Track %.2d/%d: ", t.Index, t.Side)
		for _, s := range t.LogicalOrder() {
			if s.Invalid() {
				line += "XX "
			} else {
				line += fmt.Sprintf("%.2x ", s.ID)
			}
		}
		if t.Invalid() {
			line += "(track defect)"
		}
		l.Logf("%s", line)
	}
}

// loadImage reads a disk image, transparently decompressing .zst files.
func loadImage(filename string) ([]byte, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(filename), zstdExt) && !bytes.HasPrefix(b, zstdMagic) {
		return b, nil
	}
	dec, err := zstd.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return out, nil
}

// saveImage writes data, compressing when filename ends in .zst. "-" is
// stdout.
func saveImage(filename string, data []byte) error {

	l := loggy.Get(0)

	if filename == "-" {
		if err := writeImage(os.Stdout, filename, data); err != nil {
			return err
		}
	} else {
		if dir := filepath.Dir(filename); dir != "" {
			_ = os.MkdirAll(dir, 0755)
		}
		f, err := os.Create(filename)
		if err != nil {
			return err
		}
		if err := writeAndClose(f, filename, data); err != nil {
			return err
		}
	}

	l.Logf("Wrote %d bytes to %s", len(data), filename)
	return nil
}

// writeAndClose writes data and closes wc. A failed close is a failed write.
func writeAndClose(wc io.WriteCloser, filename string, data []byte) error {
	err := writeImage(wc, filename, data)
	if cerr := wc.Close(); err == nil {
		err = cerr
	}
	return err
}

// writeImage writes data to w, zstd compressed when filename ends in .zst.
func writeImage(w io.Writer, filename string, data []byte) error {
	if !strings.HasSuffix(strings.ToLower(filename), zstdExt) {
		_, err := w.Write(data)
		return err
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
