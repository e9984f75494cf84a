package disk

import (
	"bytes"
	"fmt"
	"sort"
)

type SelectionKind int

const (
	SelectAllKind SelectionKind = iota
	SelectTrackRange
	SelectSectorList
	SelectNamedRegion
)

// Selection names the sectors Extract serializes.
type Selection struct {
	Kind    SelectionKind
	First   int
	Last    int
	Side    int
	Track   int
	Sectors []int
	Region  string
}

func SelectAll() Selection {
	return Selection{Kind: SelectAllKind}
}

// SelectTracks selects every side of tracks first..last inclusive.
func SelectTracks(first, last int) Selection {
	return Selection{Kind: SelectTrackRange, First: first, Last: last, Side: -1}
}

// SelectSectors selects sectors by logical id on side 0 of a track.
func SelectSectors(track int, ids ...int) Selection {
	return Selection{Kind: SelectSectorList, Track: track, Sectors: ids}
}

func SelectRegion(name string) Selection {
	return Selection{Kind: SelectNamedRegion, Region: name}
}

// OnSide restricts a track or sector selection to one side.
func (s Selection) OnSide(side int) Selection {
	s.Side = side
	return s
}

func (s Selection) String() string {
	switch s.Kind {
	case SelectAllKind:
		return "all"
	case SelectTrackRange:
		return fmt.Sprintf("tracks %d-%d", s.First, s.Last)
	case SelectSectorList:
		return fmt.Sprintf("track %d side %d sectors %v", s.Track, s.Side, s.Sectors)
	case SelectNamedRegion:
		return "region " + s.Region
	}
	return "?"
}

type sectorRef struct {
	track  int
	side   int
	sector int
}

func invalidSelection(format Format, what string, v ...interface{}) *ParseFailure {
	return &ParseFailure{
		Kind:     KindInvalidSelection,
		Format:   format,
		Offset:   -1,
		Expected: "selection references unknown track/sector",
		Err:      fmt.Errorf(what, v...),
	}
}

// Regions lists the named regions of the image, sorted. Every image has
// "disk".
func (d *DiskImage) Regions() []string {
	names := []string{"disk"}
	for n := range d.regions() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d *DiskImage) regions() map[string][]sectorRef {
	switch d.Format {
	case FormatD64:
		return d.D64.regions()
	case FormatDSK:
		return d.DSK.regions()
	case FormatNIB:
		return d.NIB.regions()
	case FormatSTX:
		return d.STX.regions()
	}
	return nil
}

// Extract concatenates the payloads of the selected sectors in ascending
// (track, side) order and ascending logical id within each track. Sectors
// carrying an Invalid marker are still emitted.
func Extract(img *DiskImage, sel Selection) ([]byte, error) {
	refs, err := resolve(img, sel)
	if err != nil {
		return nil, err
	}
	g := img.Geometry()
	var out bytes.Buffer
	for _, ref := range refs {
		t, _ := g.Track(ref.track, ref.side)
		s, _ := t.Sector(ref.sector)
		out.Write(s.Payload(img.Raw))
	}
	return out.Bytes(), nil
}

// resolve expands a selection into the sectors it names, in output order.
func resolve(img *DiskImage, sel Selection) ([]sectorRef, error) {

	g := img.Geometry()

	var refs []sectorRef
	switch sel.Kind {
	case SelectAllKind:
		refs = allRefs(g)

	case SelectTrackRange:
		if sel.First > sel.Last {
			return nil, invalidSelection(img.Format, "track range %d-%d is empty", sel.First, sel.Last)
		}
		for i := sel.First; i <= sel.Last; i++ {
			found := false
			for _, t := range g.Ordered() {
				if t.Index != i || (sel.Side >= 0 && t.Side != sel.Side) {
					continue
				}
				found = true
				for _, s := range t.LogicalOrder() {
					refs = append(refs, sectorRef{track: t.Index, side: t.Side, sector: s.ID})
				}
			}
			if !found {
				return nil, invalidSelection(img.Format, "no track %d", i)
			}
		}

	case SelectSectorList:
		t, ok := g.Track(sel.Track, sel.Side)
		if !ok {
			return nil, invalidSelection(img.Format, "no track %d side %d", sel.Track, sel.Side)
		}
		ids := append([]int(nil), sel.Sectors...)
		sort.Ints(ids)
		for i, id := range ids {
			if i > 0 && ids[i-1] == id {
				continue
			}
			if _, ok := t.Sector(id); !ok {
				return nil, invalidSelection(img.Format, "no sector %d on track %d side %d", id, sel.Track, sel.Side)
			}
			refs = append(refs, sectorRef{track: sel.Track, side: sel.Side, sector: id})
		}

	case SelectNamedRegion:
		if sel.Region == "disk" {
			refs = allRefs(g)
			break
		}
		r, ok := img.regions()[sel.Region]
		if !ok {
			return nil, invalidSelection(img.Format, "no region %q", sel.Region)
		}
		for _, ref := range r {
			t, ok := g.Track(ref.track, ref.side)
			if !ok {
				return nil, invalidSelection(img.Format, "region %q: no track %d", sel.Region, ref.track)
			}
			if _, ok := t.Sector(ref.sector); !ok {
				return nil, invalidSelection(img.Format, "region %q: no sector %d on track %d", sel.Region, ref.sector, ref.track)
			}
		}
		refs = append(refs, r...)
		sort.SliceStable(refs, func(i, j int) bool {
			a, b := refs[i], refs[j]
			if a.track != b.track {
				return a.track < b.track
			}
			if a.side != b.side {
				return a.side < b.side
			}
			return a.sector < b.sector
		})

	default:
		return nil, invalidSelection(img.Format, "unknown selection kind %d", sel.Kind)
	}

	return refs, nil
}

func allRefs(g Geometry) []sectorRef {
	var refs []sectorRef
	for _, t := range g.Ordered() {
		for _, s := range t.LogicalOrder() {
			refs = append(refs, sectorRef{track: t.Index, side: t.Side, sector: s.ID})
		}
	}
	return refs
}
