package disk

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a ParseFailure.
type ErrorKind int

const (
	KindStructuralMismatch ErrorKind = iota + 1
	KindTruncatedInput
	KindChecksumMismatch
	KindUnknownFormat
	KindInvalidSelection
)

var (
	ErrStructuralMismatch = errors.New("disk: structural mismatch")
	ErrTruncatedInput     = errors.New("disk: truncated input")
	ErrChecksumMismatch   = errors.New("disk: checksum mismatch")
	ErrUnknownFormat      = errors.New("disk: no known format matched")
	ErrInvalidSelection   = errors.New("disk: selection references unknown track/sector")
)

func (k ErrorKind) String() string {
	switch k {
	case KindStructuralMismatch:
		return "structural mismatch"
	case KindTruncatedInput:
		return "truncated input"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindUnknownFormat:
		return "unknown format"
	case KindInvalidSelection:
		return "invalid selection"
	}
	return "unknown error"
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindStructuralMismatch:
		return ErrStructuralMismatch
	case KindTruncatedInput:
		return ErrTruncatedInput
	case KindChecksumMismatch:
		return ErrChecksumMismatch
	case KindUnknownFormat:
		return ErrUnknownFormat
	case KindInvalidSelection:
		return ErrInvalidSelection
	}
	return nil
}

// ParseFailure is the error value returned by every decoder, the dispatcher
// and the extraction pipeline. Offset is the byte position in the raw image
// where the expected feature was looked for.
type ParseFailure struct {
	Kind     ErrorKind
	Format   Format
	Offset   int
	Expected string
	Err      error
}

func (e *ParseFailure) Error() string {
	s := fmt.Sprintf("%s: %s", e.Format, e.Kind)
	if e.Offset >= 0 {
		s += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Expected != "" {
		s += ": " + e.Expected
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels, so errors.Is(err, ErrTruncatedInput) works
// through any amount of wrapping.
func (e *ParseFailure) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func failure(kind ErrorKind, format Format, offset int, expected string) *ParseFailure {
	return &ParseFailure{
		Kind:     kind,
		Format:   format,
		Offset:   offset,
		Expected: expected,
	}
}

func mismatch(format Format, offset int, expected string, v ...interface{}) *ParseFailure {
	return failure(KindStructuralMismatch, format, offset, fmt.Sprintf(expected, v...))
}

func truncated(format Format, offset int, expected string, v ...interface{}) *ParseFailure {
	return failure(KindTruncatedInput, format, offset, fmt.Sprintf(expected, v...))
}

// KindOf returns the kind of a ParseFailure anywhere in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var pf *ParseFailure
	if errors.As(err, &pf) {
		return pf.Kind
	}
	return 0
}

// OffsetOf returns the offset of a ParseFailure in err's chain, or -1.
func OffsetOf(err error) int {
	var pf *ParseFailure
	if errors.As(err, &pf) {
		return pf.Offset
	}
	return -1
}
