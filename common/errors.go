package common

import "errors"

// Kind classifies a Status into one of the error kinds from the design's
// error handling policy: OK, NotFound, Corruption, InvalidArgument,
// IOError, NotSupported.
type Kind int

const (
	KindOK Kind = iota
	KindNotFound
	KindCorruption
	KindInvalidArgument
	KindIOError
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindNotFound:
		return "NotFound"
	case KindCorruption:
		return "Corruption"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindIOError:
		return "IOError"
	case KindNotSupported:
		return "NotSupported"
	default:
		return "Unknown"
	}
}

// Status is a kinded error carrying the reason, matching the design's
// policy: codec/framing/CRC/magic failures surface as Corruption, bad
// options as InvalidArgument, Env failures as IOError.
type Status struct {
	Kind Kind
	Msg  string
}

func (s *Status) Error() string {
	if s.Msg == "" {
		return s.Kind.String()
	}
	return s.Kind.String() + ": " + s.Msg
}

func NewStatus(kind Kind, msg string) error {
	if kind == KindOK {
		return nil
	}
	return &Status{Kind: kind, Msg: msg}
}

func Corruption(msg string) error      { return NewStatus(KindCorruption, msg) }
func InvalidArgument(msg string) error { return NewStatus(KindInvalidArgument, msg) }
func IOError(msg string) error         { return NewStatus(KindIOError, msg) }
func NotSupported(msg string) error    { return NewStatus(KindNotSupported, msg) }

// StatusKind extracts the Kind of err, defaulting to KindIOError for
// errors not produced by this package (e.g. raw os errors bubbling up
// from an Env implementation).
func StatusKind(err error) Kind {
	if err == nil {
		return KindOK
	}
	var st *Status
	if errors.As(err, &st) {
		return st.Kind
	}
	if errors.Is(err, ErrKeyNotFound) {
		return KindNotFound
	}
	return KindIOError
}

var (
	// ErrKeyNotFound is returned by Get when the key is absent, or masked
	// by a Deletion tombstone at the requested version.
	ErrKeyNotFound = errors.New("key not found")
	ErrDiskFull    = errors.New("disk full")
	ErrClosed      = errors.New("storage engine closed")
	ErrKeyEmpty    = errors.New("key cannot be empty")

	// ErrNotSupported is returned by operations the design declares
	// unsupported by construction, e.g. Prev on a low-level LSM table
	// iterator (upper layers provide it via the merging iterator).
	ErrNotSupported = errors.New("operation not supported on this iterator")
)
