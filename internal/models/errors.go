package models

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how far they propagate
type Kind int

const (
	// KindConfiguration covers invalid run parameters. Fatal for the run.
	KindConfiguration Kind = iota + 1
	// KindLoad covers unreadable or inconsistent input. Fatal for one image.
	KindLoad
	// KindNumericDegeneracy covers undefined statistics such as zero variance.
	KindNumericDegeneracy
	// KindIOWrite covers output that could not be written. Fatal for one artifact.
	KindIOWrite
	// KindResourceLifecycle covers the loader failing to start or stop.
	KindResourceLifecycle
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindLoad:
		return "load"
	case KindNumericDegeneracy:
		return "numeric degeneracy"
	case KindIOWrite:
		return "io write"
	case KindResourceLifecycle:
		return "resource lifecycle"
	default:
		return "unknown"
	}
}

// Error is a classified error
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error from a format string
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's
// chain, or zero if there is none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
