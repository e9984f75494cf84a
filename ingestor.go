package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jgerrish/image-rider/disk"
	"github.com/jgerrish/image-rider/loggy"
)

var diskRegex = regexp.MustCompile(`(?i)[.](d64|dsk|do|po|d13|2mg|nib|stx)([.]zst)?$`)

const loaderWorkers = 8

// unknownFormat collects images no decoder accepted.
const unknownFormat = disk.FormatUnknown

// scanner decodes every image under a directory with a pool of workers and
// counts what went in and what came out per format.
type scanner struct {
	cfg Config

	cm      sync.Mutex
	indisk  map[disk.Format]int
	outdisk map[disk.Format]int

	processed  int
	errorcount int
	results    []*Disk
	failures   map[string]error
}

func newScanner(cfg Config) *scanner {
	return &scanner{
		cfg:      cfg,
		indisk:   make(map[disk.Format]int),
		outdisk:  make(map[disk.Format]int),
		failures: make(map[string]error),
	}
}

func (s *scanner) in(f disk.Format) {
	s.cm.Lock()
	s.indisk[f] = s.indisk[f] + 1
	s.cm.Unlock()
}

func (s *scanner) out(f disk.Format) {
	s.cm.Lock()
	s.outdisk[f] = s.outdisk[f] + 1
	s.cm.Unlock()
}

// guessFormat is the format a file's extension claims, for the in counters.
func guessFormat(filename string) disk.Format {
	m := diskRegex.FindStringSubmatch(filename)
	if m == nil {
		return unknownFormat
	}
	ext := strings.ToLower(m[1])
	if ext == "2mg" {
		return disk.FormatDSK
	}
	f, err := disk.ParseFormat(ext)
	if err != nil {
		return unknownFormat
	}
	return f
}

func (s *scanner) walk(dir string, progress io.Writer) error {

	start := time.Now()

	workers := s.cfg.Workers
	if workers < 1 {
		workers = loaderWorkers
	}

	incoming := make(chan string, 16)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			id := 1 + i
			l := loggy.Get(id)

			for filename := range incoming {
				s.process(id, l, filename)
			}
		}(i)
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			loggy.Get(0).Errorf("%s", err.Error())
			return nil
		}
		if info.IsDir() || !diskRegex.MatchString(path) {
			return nil
		}
		incoming <- path
		s.cm.Lock()
		n := s.processed
		s.cm.Unlock()
		fmt.Fprintf(progress, "\rScanned: %d volumes ...", n)
		return nil
	})

	close(incoming)
	wg.Wait()

	fmt.Fprintf(progress, "\rScanned: %d volumes ...\n", s.processed)

	sort.Slice(s.results, func(i, j int) bool { return s.results[i].FullPath < s.results[j].FullPath })

	loggy.Get(0).Logf("Scan of %s took %v with %d workers", dir, time.Since(start), workers)
	return err
}

// process decodes one file. A panic in a decoder is logged and counted as
// an error rather than stopping the scan.
func (s *scanner) process(id int, l *loggy.Logger, filename string) {

	s.in(guessFormat(filename))

	defer func() {
		if r := recover(); r != nil {
			l.Errorf("Error processing volume: %s: %v", filename, r)
			l.Errorf("%s", string(debug.Stack()))
			s.cm.Lock()
			s.errorcount++
			s.failures[filename] = fmt.Errorf("panic: %v", r)
			s.cm.Unlock()
		}
	}()

	d, err := analyze(id, filename, s.cfg)

	if err != nil {
		s.cm.Lock()
		s.errorcount++
		s.failures[filename] = err
		s.cm.Unlock()
		return
	}

	s.out(d.Format)
	s.cm.Lock()
	s.processed++
	s.results = append(s.results, d)
	s.cm.Unlock()
}

func analyze(id int, filename string, cfg Config) (*Disk, error) {

	l := loggy.Get(id)

	l.Logf("Reading disk image from file source %s", filename)

	raw, err := loadImage(filename)
	if err != nil {
		l.Errorf("Disk read failed: %s", err)
		return nil, err
	}

	opts, err := cfg.Options(id)
	if err != nil {
		return nil, err
	}

	img, err := cfg.decode(raw, opts)
	if err != nil {
		l.Errorf("Decode failed: %s", err)
		return nil, err
	}

	d := newDiskRecord(filename, img)
	l.Logf("Format is %s", d.Format)
	l.Logf("SHA256 is %s", d.SHA256)
	if d.Invalid > 0 {
		l.Logf("%d invalid units", d.Invalid)
		d.LogBitmap(id)
	}

	return d, nil
}

func (s *scanner) report(w io.Writer, duration time.Duration) {

	fmt.Fprintln(w, "=============================================================")
	fmt.Fprintf(w, " image-rider scan report (%d workers, %v)\n", s.cfg.Workers, duration)
	fmt.Fprintln(w, "=============================================================")

	tin, tout := 0, 0

	formats := append(disk.Formats(), unknownFormat)
	for _, f := range formats {
		count, outcount := s.indisk[f], s.outdisk[f]
		if count == 0 && outcount == 0 {
			continue
		}
		fmt.Fprintf(w, "%-30s %6d in %6d out\n", f.String(), count, outcount)
		tin += count
		tout += outcount
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-30s %6d in %6d out\n", "Total", tin, tout)
	fmt.Fprintln(w)

	if n := s.processed + s.errorcount; n > 0 {
		fmt.Fprintf(w, "%v average time spent per disk.\n", duration/time.Duration(n))
	}

	if len(s.failures) > 0 {
		names := make([]string, 0, len(s.failures))
		for k := range s.failures {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "\n%d images failed:\n", len(names))
		for _, n := range names {
			fmt.Fprintf(w, " %s: %s\n", n, s.failures[n])
		}
	}

	dupes := &DuplicateWholeDiskCollection{}
	for _, d := range s.results {
		dupes.Add(d.SHA256, d.FullPath)
	}
	dupes.Report(w)
}
