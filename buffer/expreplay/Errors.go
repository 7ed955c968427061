package expreplay

import "errors"

// BufferError implements errors unique to an experience buffer. Op
// names the buffer operation that failed and Err is the underlying
// cause, which can be inspected with the Is* functions in this package.
type BufferError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *BufferError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause of the error
func (e *BufferError) Unwrap() error {
	return e.Err
}

var errInsufficientSamples = errors.New("too few samples for successor " +
	"lookup")

var errShapeMismatch = errors.New("data shape does not match buffer layout")

var errWrongPhase = errors.New("operation not allowed in current phase")

var errInvalidLayout = errors.New("invalid buffer layout")

// IsInsufficientSamples returns whether or not an error reports that
// there are too few visible samples in the buffer to sample from it.
// Off-policy sampling needs at least two visible entries since the
// successor of a state is the entry following it.
func IsInsufficientSamples(err error) bool {
	return errors.Is(err, errInsufficientSamples)
}

// IsShapeMismatch returns whether or not an error reports that data
// appended to the buffer did not match the buffer's layout.
func IsShapeMismatch(err error) bool {
	return errors.Is(err, errShapeMismatch)
}

// IsWrongPhase returns whether or not an error reports that an
// operation was called outside of the phase it is allowed in, for
// example sampling before the visible length was refreshed.
func IsWrongPhase(err error) bool {
	return errors.Is(err, errWrongPhase)
}

// IsInvalidLayout returns whether or not an error reports that a
// buffer could not be constructed with the requested layout.
func IsInvalidLayout(err error) bool {
	return errors.Is(err, errInvalidLayout)
}
