// Package errs defines the error taxonomy shared by every assocminer package.
//
// Four sentinel kinds exist. Callers classify with errors.Is against the
// sentinels and never by inspecting messages:
//
//   - ErrStorage:  image storage unreadable, uncreatable or corrupt (fatal)
//   - ErrOrder:    malformed bin boundary or antecedent ordering (invalid)
//   - ErrCapacity: scratch image or buffer growth failure (fatal)
//   - ErrNotFound: a referenced image or workspace does not exist
//
// Example:
//
//	img, err := cache.Open("ev1", false)
//	if errors.Is(err, errs.ErrNotFound) {
//		// best-effort lookup, safe to skip
//	}
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrStorage  = errors.New("storage error")
	ErrOrder    = errors.New("order error")
	ErrCapacity = errors.New("capacity error")
	ErrNotFound = errors.New("not found")
)

// Class tells the caller what to do with an error.
type Class int

const (
	// ClassInvalid rejects the single offending definition.
	ClassInvalid Class = iota
	// ClassFatal aborts the run.
	ClassFatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its class and the operation that
// produced it.
type ClassifiedError struct {
	Class Class
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Storage wraps err as a fatal storage error.
func Storage(op string, err error) error {
	return &ClassifiedError{Class: ClassFatal, Op: op, Err: fmt.Errorf("%w: %w", ErrStorage, err)}
}

// Capacity wraps err as a fatal capacity error.
func Capacity(op string, err error) error {
	return &ClassifiedError{Class: ClassFatal, Op: op, Err: fmt.Errorf("%w: %w", ErrCapacity, err)}
}

// Order reports a malformed ordering.
func Order(op, format string, args ...any) error {
	return &ClassifiedError{Class: ClassInvalid, Op: op, Err: fmt.Errorf("%w: %s", ErrOrder, fmt.Sprintf(format, args...))}
}

// NotFound reports a missing named object. It is classed invalid; setup code
// that requires the object decides to abort.
func NotFound(op, name string) error {
	return &ClassifiedError{Class: ClassInvalid, Op: op, Err: fmt.Errorf("%w: %q", ErrNotFound, name)}
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassFatal
	}
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrCapacity)
}
