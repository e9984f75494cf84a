package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/Velocidex/ordereddict"
	"github.com/jgerrish/image-rider/disk"
)

type DuplicateWholeDiskCollection struct {
	data map[string][]string
}

func (dfc *DuplicateWholeDiskCollection) Add(checksum string, fullpath string) {
	if dfc.data == nil {
		dfc.data = make(map[string][]string)
	}
	dfc.data[checksum] = append(dfc.data[checksum], fullpath)
}

func (dfc *DuplicateWholeDiskCollection) Report(w io.Writer) {

	var disksWithDupes, extras int

	sums := make([]string, 0, len(dfc.data))
	for sha256 := range dfc.data {
		sums = append(sums, sha256)
	}
	sort.Strings(sums)

	for _, sha256 := range sums {
		list := dfc.data[sha256]
		if len(list) < 2 {
			continue
		}
		disksWithDupes++
		extras += len(list) - 1
		fmt.Fprintf(w, "\nChecksum %s duplicated %d times:\n", sha256, len(list))
		for i, v := range list {
			fmt.Fprintf(w, " %d) %s\n", i, v)
		}
	}

	if disksWithDupes > 0 {
		fmt.Fprintf(w, "\n%d images have duplicates (%d extra copies)\n", disksWithDupes, extras)
	}
}

// identifyLine is the one line summary printed by identify.
func identifyLine(d *Disk) string {
	s := fmt.Sprintf("%s: %s, %d tracks, %d sides, %d sectors", d.Filename, d.Format, d.Tracks, d.Sides, d.Sectors)
	if d.Invalid > 0 {
		s += fmt.Sprintf(", %d invalid", d.Invalid)
	}
	if d.Skipped > 0 {
		s += fmt.Sprintf(", %d unchecked", d.Skipped)
	}
	return s
}

func writeInfo(w io.Writer, d *Disk) {

	fmt.Fprintf(w, "File:     %s\n", d.FullPath)
	fmt.Fprintf(w, "Format:   %s\n", d.Format)
	fmt.Fprintf(w, "Image:    %s\n", d.Description)
	fmt.Fprintf(w, "SHA256:   %s\n", d.SHA256)
	fmt.Fprintf(w, "Geometry: %d tracks, %d sides, %d sectors\n", d.Tracks, d.Sides, d.Sectors)
	fmt.Fprintf(w, "Regions:  %v\n", d.Regions)

	if d.Image != nil {
		writeMetadata(w, d.Image)
	}

	if d.Skipped > 0 {
		fmt.Fprintf(w, "Checksums were not verified for %d sectors\n", d.Skipped)
	}
	if len(d.Defects) == 0 {
		fmt.Fprintln(w, "No defects")
		return
	}
	fmt.Fprintf(w, "%d defects:\n", len(d.Defects))
	for _, e := range d.Defects {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func writeMetadata(w io.Writer, img *disk.DiskImage) {
	switch img.Format {
	case disk.FormatD64:
		if b := img.D64.BAM; b != nil {
			fmt.Fprintf(w, "Disk:     %q id %s dos %s\n", b.DiskName, b.DiskID, b.DOSType)
		}
	case disk.FormatDSK:
		d := img.DSK
		fmt.Fprintf(w, "Order:    %s\n", d.Order)
		if d.Wrapper != nil {
			fmt.Fprintf(w, "2MG:      creator %q, payload %s\n", d.Wrapper.CreatorID, d.Wrapper.Payload())
		}
		if d.VTOC != nil {
			fmt.Fprintf(w, "VTOC:     DOS 3.%d volume %d, catalog %d/%d\n", d.VTOC.DOSRelease, d.VTOC.Volume, d.VTOC.CatalogTrack, d.VTOC.CatalogSector)
		}
		if d.ProDOS != nil {
			fmt.Fprintf(w, "ProDOS:   /%s, %d blocks\n", d.ProDOS.Name, d.ProDOS.TotalBlocks)
		}
	case disk.FormatNIB:
		d := img.NIB
		fmt.Fprintf(w, "Volume:   %d, %d sectors per track\n", d.Volume, d.SectorsPerTrack)
		if d.Wrapper != nil {
			fmt.Fprintf(w, "2MG:      creator %q, payload %s\n", d.Wrapper.CreatorID, d.Wrapper.Payload())
		}
	case disk.FormatSTX:
		d := img.STX
		fmt.Fprintf(w, "Pasti:    version %d, tool $%04X, revision %d\n", d.Header.Version, d.Header.Tool, d.Header.Revision)
		if b := d.BPB; b != nil {
			fmt.Fprintf(w, "BPB:      %q %d bytes/sector, %d sectors, %d/track, %d heads, executable %v\n",
				b.OEMName, b.BytesPerSector, b.TotalSectors, b.SectorsPerTrack, b.Heads, b.Executable)
		}
	}
}

// infoDict renders a record with a fixed key order.
func infoDict(d *Disk) *ordereddict.Dict {
	out := ordereddict.NewDict().
		Set("file", d.FullPath).
		Set("format", d.Format.String()).
		Set("description", d.Description).
		Set("sha256", d.SHA256).
		Set("tracks", d.Tracks).
		Set("sides", d.Sides).
		Set("sectors", d.Sectors).
		Set("invalid", d.Invalid).
		Set("skipped", d.Skipped).
		Set("regions", d.Regions)

	defects := d.Defects
	if defects == nil {
		defects = []string{}
	}
	out.Set("defects", defects)

	if d.Image != nil {
		out.Set("tracks_detail", trackList(d.Image))
	}
	return out
}

func trackList(img *disk.DiskImage) []*ordereddict.Dict {
	var list []*ordereddict.Dict
	for _, t := range img.Geometry().Ordered() {
		var sectors []*ordereddict.Dict
		for _, s := range t.LogicalOrder() {
			sd := ordereddict.NewDict().
				Set("id", s.ID).
				Set("physical", s.Physical).
				Set("offset", s.Extent.Offset).
				Set("size", s.Size)
			if s.HasChecksum {
				sd.Set("checksum", s.Checksum.Status.String())
			}
			if err := s.Err(); err != nil {
				sd.Set("defect", err.Error())
			}
			sectors = append(sectors, sd)
		}
		td := ordereddict.NewDict().
			Set("index", t.Index).
			Set("side", t.Side).
			Set("offset", t.Extent.Offset).
			Set("length", t.Extent.Length).
			Set("sectors", sectors)
		if t.Defect != nil {
			td.Set("defect", t.Defect.Error())
		}
		list = append(list, td)
	}
	return list
}

func writeInfoJSON(w io.Writer, d *Disk) error {
	b, err := json.MarshalIndent(infoDict(d), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
