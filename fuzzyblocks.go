package main

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/jgerrish/image-rider/disk"
)

// DiskSector is the fingerprint of one decoded sector.
type DiskSector struct {
	Track  int
	Side   int
	Sector int
	SHA256 string
}

type DiskSectors []*DiskSector

func isEmptySector(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// GetDiskSectors fingerprints every non-empty sector of img.
func GetDiskSectors(img *disk.DiskImage) DiskSectors {
	var out DiskSectors
	for _, t := range img.Geometry().Ordered() {
		for _, s := range t.LogicalOrder() {
			data := s.Payload(img.Raw)
			if isEmptySector(data) {
				continue
			}
			out = append(out, &DiskSector{
				Track:  t.Index,
				Side:   t.Side,
				Sector: s.ID,
				SHA256: disk.Checksum(data),
			})
		}
	}
	return out
}

func GetSectorMap(d DiskSectors) map[string]*DiskSector {
	out := make(map[string]*DiskSector)
	for _, v := range d {
		out[fmt.Sprintf("T%d,H%d,S%d", v.Track, v.Side, v.Sector)] = v
	}
	return out
}

// SectorOverlapRecord holds, per other image, how many sector positions hold
// the same content, hold different content, are missing from it or are extra
// in it.
type SectorOverlapRecord struct {
	same    map[string]int
	differ  map[string]int
	percent map[string]float64
	missing map[string]int
	extras  map[string]int
}

func newSectorOverlapRecord() *SectorOverlapRecord {
	return &SectorOverlapRecord{
		same:    make(map[string]int),
		differ:  make(map[string]int),
		percent: make(map[string]float64),
		missing: make(map[string]int),
		extras:  make(map[string]int),
	}
}

func (f *SectorOverlapRecord) Remove(key string) {
	delete(f.same, key)
	delete(f.differ, key)
	delete(f.percent, key)
	delete(f.missing, key)
	delete(f.extras, key)
}

// IsSubsetOf: every sector we have is in filename, which has more.
func (f *SectorOverlapRecord) IsSubsetOf(filename string) bool {
	if _, ok := f.same[filename]; !ok {
		return false
	}
	return f.extras[filename] > 0 && f.missing[filename] == 0 && f.differ[filename] == 0
}

func (f *SectorOverlapRecord) IsSupersetOf(filename string) bool {
	if _, ok := f.same[filename]; !ok {
		return false
	}
	return f.extras[filename] == 0 && f.missing[filename] > 0 && f.differ[filename] == 0
}

// CompareSectors records the overlap of d against b under key and returns
// the fraction of sector positions holding identical content.
func CompareSectors(d, b DiskSectors, r *SectorOverlapRecord, key string) float64 {

	var sameSectors, differSectors, missingSectors, extraSectors int

	dmap := GetSectorMap(d)
	bmap := GetSectorMap(b)

	for pos, info := range dmap {
		binfo, ok := bmap[pos]
		switch {
		case !ok:
			missingSectors++
		case info.SHA256 == binfo.SHA256:
			sameSectors++
		default:
			differSectors++
		}
	}
	for pos := range bmap {
		if _, ok := dmap[pos]; !ok {
			extraSectors++
		}
	}

	r.same[key] = sameSectors
	r.differ[key] = differSectors
	r.missing[key] = missingSectors
	r.extras[key] = extraSectors

	total := sameSectors + differSectors + extraSectors + missingSectors
	if total == 0 {
		return 0
	}
	return float64(sameSectors) / float64(total)
}

// CollectSectorOverlapsAboveThreshold compares every image with every other
// and keeps the pairs at or above t.
func CollectSectorOverlapsAboveThreshold(t float64, records []*Disk, workers int) map[string]*SectorOverlapRecord {

	prints := make(map[string]DiskSectors, len(records))
	for _, d := range records {
		if d.Image != nil {
			prints[d.FullPath] = GetDiskSectors(d.Image)
		}
	}

	results := make(map[string]*SectorOverlapRecord)

	if workers < 1 {
		workers = 1
	}
	workchan := make(chan string, 100)
	var wg sync.WaitGroup
	var s sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range workchan {
				v := newSectorOverlapRecord()
				d := prints[m]
				for k, b := range prints {
					if k == m {
						continue
					}
					if closeness := CompareSectors(d, b, v, k); closeness < t {
						v.Remove(k)
					} else {
						v.percent[k] = closeness
					}
				}
				if len(v.percent) > 0 {
					s.Lock()
					results[m] = v
					s.Unlock()
				}
			}
		}()
	}

	for k := range prints {
		workchan <- k
	}
	close(workchan)
	wg.Wait()

	return results
}

func overlapReport(w io.Writer, t float64, results map[string]*SectorOverlapRecord) {

	if len(results) == 0 {
		fmt.Fprintf(w, "\nNo images share %.0f%% of their sectors\n", t*100)
		return
	}

	names := make([]string, 0, len(results))
	for k := range results {
		names = append(names, k)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "\nSector overlaps of %.0f%% or more:\n", t*100)
	for _, n := range names {
		r := results[n]
		fmt.Fprintf(w, "\n%s\n", n)

		others := make([]string, 0, len(r.percent))
		for k := range r.percent {
			others = append(others, k)
		}
		sort.Slice(others, func(i, j int) bool {
			if r.percent[others[i]] != r.percent[others[j]] {
				return r.percent[others[i]] > r.percent[others[j]]
			}
			return others[i] < others[j]
		})

		for _, k := range others {
			note := ""
			switch {
			case r.IsSubsetOf(k):
				note = " (subset)"
			case r.IsSupersetOf(k):
				note = " (superset)"
			}
			fmt.Fprintf(w, "  %5.1f%% %s: %d same, %d different, %d missing, %d extra%s\n",
				r.percent[k]*100, k, r.same[k], r.differ[k], r.missing[k], r.extras[k], note)
		}
	}
}
