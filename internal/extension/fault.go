// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"errors"
	"fmt"
)

var (
	// ErrFault marks errors that should rot the extension that returned them.
	ErrFault = errors.New("extension fault")

	// ErrRotten is returned when calling an extension that was unloaded.
	ErrRotten = errors.New("extension unloaded")

	// ErrMissingIdentity rejects extensions without a name, author, or version.
	ErrMissingIdentity = errors.New("extension lacks identity metadata")

	// ErrDuplicate rejects an extension that collides with an earlier one.
	ErrDuplicate = errors.New("duplicate extension")
)

// FaultError is an unexpected failure inside extension code.
type FaultError struct {
	Extension string
	Op        string
	// Panic holds the recovered value when the fault was a panic.
	Panic any
	Cause error
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	switch {
	case e.Panic != nil:
		return fmt.Sprintf("%s: %s panicked: %v", e.Extension, e.Op, e.Panic)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Extension, e.Op, e.Cause)
	default:
		return fmt.Sprintf("%s: %s failed", e.Extension, e.Op)
	}
}

// Unwrap exposes both ErrFault and the cause.
func (e *FaultError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrFault, e.Cause}
	}
	return []error{ErrFault}
}

// Fault wraps cause as a FaultError for extension authors.
func Fault(op string, cause error) error {
	return &FaultError{Op: op, Cause: cause}
}

func isFault(err error) bool {
	return errors.Is(err, ErrFault)
}

func asFault(err error) (*FaultError, bool) {
	var fe *FaultError
	ok := errors.As(err, &fe)
	return fe, ok
}
