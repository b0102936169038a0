package merkle

import "github.com/pkg/errors"

// ErrorKind classifies a failure from the tree's public surface. It
// replaces the source implementation's per-method checked exceptions
// with a single sum type, per the Design Notes.
type ErrorKind int

const (
	// InvalidArgument: empty key/value, same old/new leaf hash.
	InvalidArgument ErrorKind = iota
	// NotFound: a node lookup by hash yielded nothing when the
	// algorithm required it to exist, including an unknown leaf hash
	// passed to updateLeaf.
	NotFound
	// TreeClosed: any operation other than Close/IsClosed after Close.
	TreeClosed
	// Conflict: a second instance of an already-open tree name, or a
	// clone targeting a name that is already open.
	Conflict
	// IoFailure: the underlying KV engine or filesystem returned an
	// error.
	IoFailure
	// Interrupted: the tree was closed while the caller was waiting on
	// the pending-processed latch.
	Interrupted
	// CorruptState: a node failed to decode, or (in the adjunct
	// wrapper) an H224 digest mismatched, or the commit worker
	// poisoned the tree after a failed dequeued item.
	CorruptState
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case TreeClosed:
		return "TreeClosed"
	case Conflict:
		return "Conflict"
	case IoFailure:
		return "IoFailure"
	case Interrupted:
		return "Interrupted"
	case CorruptState:
		return "CorruptState"
	default:
		return "Unknown"
	}
}

// Error is the single error type returned across the tree's public
// surface.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// newErr builds an *Error, wrapping err with a stack trace when it
// isn't already an *Error (IO/filesystem faults benefit from the
// trace; our own sentinel errors don't need one added twice).
func newErr(kind ErrorKind, err error) *Error {
	if err == nil {
		return &Error{Kind: kind}
	}
	if _, ok := err.(*Error); !ok {
		err = errors.WithStack(err)
	}
	return &Error{Kind: kind, Err: err}
}

// Is supports errors.Is(err, InvalidArgument) and friends via a
// typed-kind sentinel comparison.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// KindOf returns the ErrorKind of err if it (or something it wraps) is
// an *Error, and false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return 0, false
}
