package disk

import (
	"bytes"
	"fmt"

	"github.com/go-logr/logr"
)

type Format int

const (
	FormatUnknown Format = iota - 1
	FormatD64
	FormatDSK
	FormatSTX
	FormatNIB
	formatCount
)

func (f Format) String() string {
	switch f {
	case FormatD64:
		return "D64"
	case FormatDSK:
		return "DSK"
	case FormatSTX:
		return "STX"
	case FormatNIB:
		return "NIB"
	}
	return "Unrecognized"
}

// ParseFormat maps a name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "d64", "D64":
		return FormatD64, nil
	case "dsk", "DSK", "do", "DO", "po", "PO", "d13", "D13":
		return FormatDSK, nil
	case "stx", "STX":
		return FormatSTX, nil
	case "nib", "NIB":
		return FormatNIB, nil
	}
	return FormatUnknown, fmt.Errorf("unknown format %q", s)
}

// Options is the per-session parse configuration. The zero value enforces
// checksums, auto-detects sector order and discards log output.
type Options struct {
	Policy ChecksumPolicy
	Order  SectorOrder
	Logger logr.Logger
}

func (o Options) log() logr.Logger {
	if o.Logger.GetSink() == nil {
		return logr.Discard()
	}
	return o.Logger
}

// DiskImage holds exactly one decoded variant, selected by Format.
type DiskImage struct {
	Format Format
	Raw    []byte
	D64    *D64Disk
	DSK    *DSKDisk
	NIB    *NIBDisk
	STX    *STXDisk
}

func (d *DiskImage) Geometry() Geometry {
	switch d.Format {
	case FormatD64:
		return d.D64.Geometry
	case FormatDSK:
		return d.DSK.Geometry
	case FormatNIB:
		return d.NIB.Geometry
	case FormatSTX:
		return d.STX.Geometry
	}
	return Geometry{}
}

func (d *DiskImage) String() string {
	switch d.Format {
	case FormatD64:
		return d.D64.String()
	case FormatDSK:
		return d.DSK.String()
	case FormatNIB:
		return d.NIB.String()
	case FormatSTX:
		return d.STX.String()
	}
	return "Unrecognized"
}

type decoderFunc func(raw []byte, opts Options) (*DiskImage, error)

// decoders maps each Format to its decoder. priority is the order Identify
// tries them: exact lengths first, then header magic, then the nibble scan.
var decoders = [...]decoderFunc{
	FormatD64: decodeD64Image,
	FormatDSK: decodeDSKImage,
	FormatSTX: decodeSTXImage,
	FormatNIB: decodeNIBImage,
}

var priority = [...]Format{FormatD64, FormatDSK, FormatSTX, FormatNIB}

// Adding a Format without registering it fails to compile here.
var _ = [1]struct{}{}[int(formatCount)-len(decoders)]
var _ = [1]struct{}{}[int(formatCount)-len(priority)]

func init() {
	for f, d := range decoders {
		if d == nil {
			panic(fmt.Sprintf("disk: no decoder registered for %s", Format(f)))
		}
	}
}

// Formats lists the registered formats in dispatch order.
func Formats() []Format {
	return append([]Format(nil), priority[:]...)
}

type AttemptState int

const (
	NotAttempted AttemptState = iota
	Validating
	Decoded
	Rejected
)

func (s AttemptState) String() string {
	switch s {
	case NotAttempted:
		return "not attempted"
	case Validating:
		return "validating"
	case Decoded:
		return "decoded"
	case Rejected:
		return "rejected"
	}
	return "?"
}

// Attempt records what one decoder made of the input.
type Attempt struct {
	Format Format
	State  AttemptState
	Err    error
}

// Decode runs a single decoder.
func Decode(format Format, raw []byte, opts Options) (*DiskImage, error) {
	if format < 0 || format >= formatCount {
		return nil, failure(KindUnknownFormat, format, 0, "no decoder for format")
	}
	return decoders[format](raw, opts)
}

// Identify returns the first image a registered decoder accepts.
func Identify(raw []byte, opts Options) (*DiskImage, error) {
	img, _, err := IdentifyAttempts(raw, opts)
	return img, err
}

// IdentifyAttempts is Identify plus the per-decoder outcome. When nothing
// decodes, the failure that got furthest into the input is reported: as is
// if it is a truncation, otherwise wrapped in an UnknownFormat failure.
func IdentifyAttempts(raw []byte, opts Options) (*DiskImage, []Attempt, error) {

	l := opts.log()

	attempts := make([]Attempt, len(priority))
	for i, f := range priority {
		attempts[i] = Attempt{Format: f, State: NotAttempted}
	}

	var closest error
	for i, f := range priority {
		attempts[i].State = Validating
		img, err := decoders[f](raw, opts)
		if err == nil {
			attempts[i].State = Decoded
			l.V(1).Info("decoded", "format", f.String(), "bytes", len(raw))
			return img, attempts, nil
		}
		attempts[i].State = Rejected
		attempts[i].Err = err
		l.V(1).Info("rejected", "format", f.String(), "reason", err.Error())
		if closest == nil || OffsetOf(err) > OffsetOf(closest) {
			closest = err
		}
	}

	if KindOf(closest) == KindTruncatedInput {
		return nil, attempts, closest
	}

	return nil, attempts, &ParseFailure{
		Kind:     KindUnknownFormat,
		Format:   FormatUnknown,
		Offset:   OffsetOf(closest),
		Expected: "no known format matched",
		Err:      closest,
	}
}

// looksNibblized reports whether data reads like a raw Apple nibble stream:
// nearly every byte has its high bit set and an address prologue is present.
func looksNibblized(data []byte) bool {
	n := len(data)
	if n > TRACK_NIBBLE_LENGTH {
		n = TRACK_NIBBLE_LENGTH
	}
	if n < 64 {
		return false
	}
	high := 0
	for _, b := range data[:n] {
		if b&0x80 != 0 {
			high++
		}
	}
	if high*100 < n*NIBBLE_DENSITY_PERCENT {
		return false
	}
	_, e16 := FindPattern(data[:n], 0, ADDRESS_PROLOGUE_16)
	_, e13 := FindPattern(data[:n], 0, ADDRESS_PROLOGUE_13)
	return e16 == nil || e13 == nil
}

// looksTruncated reports whether data, shorter than every layout of a sector
// dump format, reads as a cut-short image of it: at least one track long, not
// a nibble stream and not another container.
func looksTruncated(data []byte, trackBytes, smallest int) bool {
	if len(data) < trackBytes || len(data) >= smallest {
		return false
	}
	if bytes.HasPrefix(data, MAGIC_STX) || bytes.HasPrefix(data, MAGIC_2MG) {
		return false
	}
	return !looksNibblized(data)
}
