package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jgerrish/image-rider/disk"
	"github.com/spf13/pflag"
)

// selectionFlags are shared by extract and sum.
type selectionFlags struct {
	tracks  string
	track   int
	side    int
	sectors string
	region  string
}

func (f *selectionFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.tracks, "tracks", "", "track range a-b, or a single track")
	fs.IntVar(&f.track, "track", -1, "track for --sectors")
	fs.IntVar(&f.side, "side", -1, "restrict to one side")
	fs.StringVar(&f.sectors, "sectors", "", "comma separated logical sector ids on --track")
	fs.StringVar(&f.region, "region", "", "named region (see info)")
}

func (f *selectionFlags) selection() (disk.Selection, error) {
	set := 0
	for _, b := range []bool{f.tracks != "", f.sectors != "", f.region != ""} {
		if b {
			set++
		}
	}
	if set > 1 {
		return disk.Selection{}, fmt.Errorf("choose at most one of --tracks, --sectors or --region")
	}

	var sel disk.Selection
	switch {
	case f.tracks != "":
		first, last, err := parseRange(f.tracks)
		if err != nil {
			return sel, err
		}
		sel = disk.SelectTracks(first, last)
	case f.sectors != "":
		if f.track < 0 {
			return sel, fmt.Errorf("--sectors needs --track")
		}
		ids, err := parseList(f.sectors)
		if err != nil {
			return sel, err
		}
		sel = disk.SelectSectors(f.track, ids...)
	case f.region != "":
		return disk.SelectRegion(f.region), nil
	default:
		return disk.SelectAll(), nil
	}
	if f.side >= 0 {
		sel = sel.OnSide(f.side)
	}
	return sel, nil
}

// parseRange accepts "a-b" or "a".
func parseRange(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	first, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad track range %q", s)
	}
	if len(parts) == 1 {
		return first, first, nil
	}
	last, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad track range %q", s)
	}
	return first, last, nil
}

// parseList accepts comma separated ids; "$" prefixes hex.
func parseList(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		base := 10
		if strings.HasPrefix(p, "$") {
			p, base = p[1:], 16
		}
		v, err := strconv.ParseInt(p, base, 32)
		if err != nil {
			return nil, fmt.Errorf("bad sector id %q", p)
		}
		out = append(out, int(v))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sector ids in %q", s)
	}
	return out, nil
}

// checksum computes the sum command's digest of b.
func checksum(algo string, b []byte) (string, error) {
	switch strings.ToLower(algo) {
	case "xor":
		return fmt.Sprintf("$%02X", disk.XORSum(b)), nil
	case "add":
		return fmt.Sprintf("$%02X", disk.AddSum(b)), nil
	case "crc16":
		return fmt.Sprintf("$%04X", disk.CRC16(0xFFFF, b)), nil
	case "sha256":
		return disk.Checksum(b), nil
	}
	return "", fmt.Errorf("unknown algorithm %q (xor|add|crc16|sha256)", algo)
}
