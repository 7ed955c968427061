package expreplay

import (
	"fmt"
)

// Batch is a batch of transitions sampled from a Replay buffer. All
// slices are row-major: row i of Action holds ActionDim values and row
// i of State and NextState hold StateDim values.
type Batch struct {
	Size      int
	StateDim  int
	ActionDim int

	Reward    []float64
	Mask      []float64
	Action    []float64
	State     []float64
	NextState []float64
}

// Replay implements an off-policy experience replay buffer. Each entry
// packs (reward, mask, action...) beside its state. Successor states
// are not stored: the successor of entry i is entry i+1 of the
// contiguous stream.
type Replay struct {
	*ring
	actionDim int
	sampler   Selector
}

// NewReplay returns a new off-policy Replay buffer with the given
// capacity that stores states of size stateDim and actions of size
// actionDim. Discrete actions are stored as a single index, so
// actionDim should be 1 in that case. The seed determines the
// sampling order.
func NewReplay(capacity, stateDim, actionDim int, seed uint64) (*Replay,
	error) {
	if actionDim < 1 {
		return nil, &BufferError{
			Op: "newreplay",
			Err: fmt.Errorf("%w: action dimension must be positive"+
				"\n\thave(%v)", errInvalidLayout, actionDim),
		}
	}

	r, err := newRing(capacity, stateDim, 2+actionDim)
	if err != nil {
		return nil, err
	}

	return &Replay{
		ring:      r,
		actionDim: actionDim,
		sampler:   NewUniformSelector(seed),
	}, nil
}

// ActionDim returns the size of a single stored action
func (r *Replay) ActionDim() int {
	return r.actionDim
}

// Append adds a transition to the buffer at the write cursor. The
// mask should be 0 if the episode ended at this step and the discount
// factor otherwise.
func (r *Replay) Append(state []float64, reward, mask float64,
	action []float64) error {
	if len(action) != r.actionDim {
		return &BufferError{
			Op: "append",
			Err: fmt.Errorf("%w: invalid action size\n\twant(%v)\n\thave(%v)",
				errShapeMismatch, r.actionDim, len(action)),
		}
	}

	fields := make([]float64, 0, r.fieldWidth)
	fields = append(fields, reward, mask)
	fields = append(fields, action...)

	return r.append(state, fields)
}

// Sample draws batchSize transitions uniformly with replacement from
// the indices [0, Len() - 2] so that the successor of each sampled
// state is a visible entry. Once the buffer is Full, the newest entry
// is never drawn since its successor slot holds the oldest entry of
// the stream.
func (r *Replay) Sample(batchSize int) (Batch, error) {
	if r.phase != reading {
		return Batch{}, &BufferError{
			Op:  "sample",
			Err: fmt.Errorf("%w: visible length not refreshed", errWrongPhase),
		}
	}
	if r.visible < 2 {
		return Batch{}, &BufferError{
			Op: "sample",
			Err: fmt.Errorf("%w\n\twant(>= 2)\n\thave(%v)",
				errInsufficientSamples, r.visible),
		}
	}
	if batchSize < 1 {
		return Batch{}, &BufferError{
			Op:  "sample",
			Err: fmt.Errorf("%w: batch size must be positive", errShapeMismatch),
		}
	}

	skip := -1
	if r.state == Full && r.visible > 2 {
		skip = (r.cursor - 1 + r.capacity) % r.capacity
	}
	indices := r.sampler.choose(batchSize, r.visible-1, skip)

	batch := Batch{
		Size:      batchSize,
		StateDim:  r.stateDim,
		ActionDim: r.actionDim,
		Reward:    make([]float64, batchSize),
		Mask:      make([]float64, batchSize),
		Action:    make([]float64, batchSize*r.actionDim),
		State:     make([]float64, batchSize*r.stateDim),
		NextState: make([]float64, batchSize*r.stateDim),
	}

	for i, index := range indices {
		fields := r.fieldsAt(index)
		batch.Reward[i] = fields[0]
		batch.Mask[i] = fields[1]
		copy(batch.Action[i*r.actionDim:(i+1)*r.actionDim], fields[2:])

		copy(batch.State[i*r.stateDim:(i+1)*r.stateDim], r.stateAt(index))
		copy(batch.NextState[i*r.stateDim:(i+1)*r.stateDim],
			r.stateAt(index+1))
	}

	return batch, nil
}
