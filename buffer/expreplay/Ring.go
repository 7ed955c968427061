// Package expreplay implements fixed-capacity experience buffers. A
// buffer stores a contiguous stream of interaction data in two parallel
// ring arrays: one holding states and one holding packed per-step
// fields (reward, continuation mask, action and, for on-policy data,
// the exploration noise).
//
// Buffers are written to only while exploring and read from only while
// updating. The visible length of a buffer, the number of entries
// sampling can see, is refreshed exactly once at the boundary between
// the two phases by calling RefreshVisibleLength().
package expreplay

import (
	"fmt"
)

// State is the fill state of a buffer
type State int

const (
	// Filling denotes a buffer whose write cursor has not yet wrapped
	Filling State = iota

	// Full denotes a buffer that has wrapped at least once. Every slot
	// holds data and new entries overwrite the oldest ones.
	Full
)

// String implements the fmt.Stringer interface
func (s State) String() string {
	switch s {
	case Full:
		return "Full"
	default:
		return "Filling"
	}
}

// phase tracks which side of the explore/update boundary the buffer
// is on
type phase int

const (
	writing phase = iota
	reading
)

// ring implements the storage shared by all buffers. States and
// packed fields are stored row-major in flat slices.
type ring struct {
	states []float64
	fields []float64

	capacity   int
	stateDim   int
	fieldWidth int

	cursor  int
	state   State
	visible int
	phase   phase
}

// newRing returns a new, empty ring with the given layout
func newRing(capacity, stateDim, fieldWidth int) (*ring, error) {
	if capacity < 1 {
		return nil, &BufferError{
			Op:  "new",
			Err: fmt.Errorf("%w: capacity must be positive\n\thave(%v)", errInvalidLayout, capacity),
		}
	}
	if stateDim < 1 {
		return nil, &BufferError{
			Op:  "new",
			Err: fmt.Errorf("%w: state dimension must be positive\n\thave(%v)", errInvalidLayout, stateDim),
		}
	}

	return &ring{
		states:     make([]float64, capacity*stateDim),
		fields:     make([]float64, capacity*fieldWidth),
		capacity:   capacity,
		stateDim:   stateDim,
		fieldWidth: fieldWidth,
		state:      Filling,
		phase:      writing,
	}, nil
}

// append writes a state and its packed fields at the write cursor and
// advances the cursor, transitioning Filling -> Full on wraparound.
func (r *ring) append(state, fields []float64) error {
	if len(state) != r.stateDim {
		return &BufferError{
			Op: "append",
			Err: fmt.Errorf("%w: invalid state size\n\twant(%v)\n\thave(%v)",
				errShapeMismatch, r.stateDim, len(state)),
		}
	}
	if len(fields) != r.fieldWidth {
		return &BufferError{
			Op: "append",
			Err: fmt.Errorf("%w: invalid field width\n\twant(%v)\n\thave(%v)",
				errShapeMismatch, r.fieldWidth, len(fields)),
		}
	}

	// Appending opens a new exploration phase
	r.phase = writing

	copy(r.states[r.cursor*r.stateDim:(r.cursor+1)*r.stateDim], state)
	copy(r.fields[r.cursor*r.fieldWidth:(r.cursor+1)*r.fieldWidth], fields)

	r.cursor++
	if r.cursor == r.capacity {
		r.cursor = 0
		r.state = Full
	}
	return nil
}

// RefreshVisibleLength makes everything appended during the last
// exploration phase visible to sampling. It must be called exactly
// once between the end of an exploration phase and the start of a
// sampling phase, calling it twice without appending in between
// returns an error.
func (r *ring) RefreshVisibleLength() error {
	if r.phase == reading {
		return &BufferError{
			Op:  "refreshvisiblelength",
			Err: fmt.Errorf("%w: already refreshed since last append", errWrongPhase),
		}
	}

	if r.state == Full {
		r.visible = r.capacity
	} else {
		r.visible = r.cursor
	}
	r.phase = reading
	return nil
}

// Len returns the visible length of the buffer, as computed by the
// last call to RefreshVisibleLength()
func (r *ring) Len() int {
	return r.visible
}

// Capacity returns the maximum number of entries the buffer holds
func (r *ring) Capacity() int {
	return r.capacity
}

// Cursor returns the index at which the next entry will be written
func (r *ring) Cursor() int {
	return r.cursor
}

// State returns the fill state of the buffer
func (r *ring) State() State {
	return r.state
}

// StateDim returns the size of a single stored state
func (r *ring) StateDim() int {
	return r.stateDim
}

// FieldWidth returns the number of packed fields stored per entry
func (r *ring) FieldWidth() int {
	return r.fieldWidth
}

// Bytes returns the memory held by the buffer's storage
func (r *ring) Bytes() uint64 {
	return uint64(8 * (len(r.states) + len(r.fields)))
}

// clear empties the ring without releasing its storage
func (r *ring) clear() {
	r.cursor = 0
	r.visible = 0
	r.state = Filling
	r.phase = writing
}

// ordered returns the storage indices of the visible entries in
// insertion order, oldest first
func (r *ring) ordered() []int {
	indices := make([]int, r.visible)
	start := 0
	if r.state == Full && r.visible == r.capacity {
		start = r.cursor
	}
	for i := range indices {
		indices[i] = (start + i) % r.capacity
	}
	return indices
}

// stateAt returns the stored state at storage index i
func (r *ring) stateAt(i int) []float64 {
	return r.states[i*r.stateDim : (i+1)*r.stateDim]
}

// fieldsAt returns the stored packed fields at storage index i
func (r *ring) fieldsAt(i int) []float64 {
	return r.fields[i*r.fieldWidth : (i+1)*r.fieldWidth]
}
