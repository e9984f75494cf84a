package disk

import (
	"fmt"
	"sort"
)

// Extent is a borrowed view into the raw image.
type Extent struct {
	Offset int
	Length int
}

func (e Extent) End() int { return e.Offset + e.Length }

func (e Extent) Contains(o Extent) bool {
	return o.Offset >= e.Offset && o.End() <= e.End()
}

func (e Extent) Overlaps(o Extent) bool {
	return e.Offset < o.End() && o.Offset < e.End()
}

func (e Extent) Slice(raw []byte) []byte {
	if e.Offset < 0 || e.End() > len(raw) || e.Length < 0 {
		return nil
	}
	return raw[e.Offset:e.End()]
}

func (e Extent) String() string {
	return fmt.Sprintf("$%05X+%d", e.Offset, e.Length)
}

// Sector is one addressable unit. ID is the logical sector number used for
// extraction ordering; Physical is where it sits on the track (or in the
// file, for sector-dump formats).
type Sector struct {
	ID          int
	Physical    int
	Extent      Extent
	Size        int
	Data        []byte
	HasChecksum bool
	Checksum    ChecksumResult
	Defect      error
}

// Payload returns the sector bytes: decoded Data when the format needed
// decoding, otherwise the view into raw.
func (s *Sector) Payload(raw []byte) []byte {
	if s.Data != nil {
		return s.Data
	}
	return s.Extent.Slice(raw)
}

// Invalid reports whether the sector carries an Invalid marker.
func (s *Sector) Invalid() bool {
	return s.Defect != nil || (s.HasChecksum && s.Checksum.Invalid())
}

// Err describes the sector's defect, if any.
func (s *Sector) Err() error {
	if s.Defect != nil {
		return s.Defect
	}
	if s.HasChecksum && s.Checksum.Invalid() {
		return fmt.Errorf("sector %d: %w: %s", s.ID, ErrChecksumMismatch, s.Checksum)
	}
	return nil
}

type MarkerKind int

const (
	MarkerAddress MarkerKind = iota
	MarkerData
)

func (m MarkerKind) String() string {
	if m == MarkerData {
		return "data"
	}
	return "address"
}

// Marker is a field located in a bitstream track by sync search.
type Marker struct {
	Kind     MarkerKind
	Offset   int
	Prologue []byte
	Sector   int
	Checksum ChecksumResult
}

type Track struct {
	Index   int
	Side    int
	Zone    int
	Extent  Extent
	Sectors []Sector
	Nibbles *Extent
	Markers []Marker
	Defect  error
}

func (t *Track) Sector(id int) (*Sector, bool) {
	for i := range t.Sectors {
		if t.Sectors[i].ID == id {
			return &t.Sectors[i], true
		}
	}
	return nil, false
}

// LogicalOrder returns the track's sectors sorted by ID. Duplicate IDs keep
// only their first occurrence.
func (t *Track) LogicalOrder() []*Sector {
	out := make([]*Sector, 0, len(t.Sectors))
	seen := make(map[int]bool, len(t.Sectors))
	for i := range t.Sectors {
		s := &t.Sectors[i]
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Track) Invalid() bool {
	return t.Defect != nil
}

// Geometry is the decoded layout of an image. Build it with NewGeometry.
type Geometry struct {
	Origin int
	Tracks []Track
}

// NewGeometry checks the layout invariants: track indices run from origin
// without gaps (sides may share an index) and each track's sector extents
// stay inside the track and do not overlap.
func NewGeometry(format Format, origin int, tracks []Track) (Geometry, error) {

	seen := make(map[int]bool)
	last := origin - 1
	for i := range tracks {
		t := &tracks[i]
		if t.Index < origin {
			return Geometry{}, mismatch(format, t.Extent.Offset, "track %d below origin %d", t.Index, origin)
		}
		seen[t.Index] = true
		if t.Index > last {
			last = t.Index
		}

		for j := range t.Sectors {
			s := &t.Sectors[j]
			if s.Data != nil {
				continue
			}
			if !t.Extent.Contains(s.Extent) {
				return Geometry{}, mismatch(format, s.Extent.Offset, "track %d sector %d %s outside track %s", t.Index, s.ID, s.Extent, t.Extent)
			}
		}
		for j := range t.Sectors {
			a := &t.Sectors[j]
			if a.Data != nil {
				continue
			}
			for k := j + 1; k < len(t.Sectors); k++ {
				b := &t.Sectors[k]
				if b.Data != nil {
					continue
				}
				if a.Extent.Overlaps(b.Extent) {
					return Geometry{}, mismatch(format, b.Extent.Offset, "track %d sectors %d and %d overlap", t.Index, a.ID, b.ID)
				}
			}
		}
	}
	for i := origin; i <= last; i++ {
		if !seen[i] {
			return Geometry{}, mismatch(format, 0, "track %d missing between %d and %d", i, origin, last)
		}
	}

	return Geometry{Origin: origin, Tracks: tracks}, nil
}

func (g Geometry) TrackCount() int {
	seen := make(map[int]bool)
	for _, t := range g.Tracks {
		seen[t.Index] = true
	}
	return len(seen)
}

func (g Geometry) Sides() int {
	sides := 1
	for _, t := range g.Tracks {
		if t.Side+1 > sides {
			sides = t.Side + 1
		}
	}
	return sides
}

func (g Geometry) TotalSectors() int {
	n := 0
	for _, t := range g.Tracks {
		n += len(t.Sectors)
	}
	return n
}

// InvalidCount counts sectors and tracks carrying an Invalid marker.
func (g Geometry) InvalidCount() int {
	n := 0
	for i := range g.Tracks {
		t := &g.Tracks[i]
		if t.Invalid() {
			n++
		}
		for j := range t.Sectors {
			if t.Sectors[j].Invalid() {
				n++
			}
		}
	}
	return n
}

// SkippedCount counts sectors whose checksum was not verified because of the
// policy.
func (g Geometry) SkippedCount() int {
	n := 0
	for _, t := range g.Tracks {
		for _, s := range t.Sectors {
			if s.HasChecksum && s.Checksum.Skipped() {
				n++
			}
		}
	}
	return n
}

// Track finds a track by index and side.
func (g Geometry) Track(index, side int) (*Track, bool) {
	for i := range g.Tracks {
		if g.Tracks[i].Index == index && g.Tracks[i].Side == side {
			return &g.Tracks[i], true
		}
	}
	return nil, false
}

// Ordered returns the tracks sorted by index then side.
func (g Geometry) Ordered() []*Track {
	out := make([]*Track, len(g.Tracks))
	for i := range g.Tracks {
		out[i] = &g.Tracks[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// Defects lists every per-unit Invalid marker in track order.
func (g Geometry) Defects() []error {
	var out []error
	for _, t := range g.Ordered() {
		if t.Defect != nil {
			out = append(out, fmt.Errorf("track %d side %d: %w", t.Index, t.Side, t.Defect))
		}
		for i := range t.Sectors {
			if err := t.Sectors[i].Err(); err != nil {
				out = append(out, fmt.Errorf("track %d side %d: %w", t.Index, t.Side, err))
			}
		}
	}
	return out
}
