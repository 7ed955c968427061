package expreplay

import (
	"fmt"
)

// Rollout holds the entire visible contents of a Trajectory buffer in
// temporal order. Slices are row-major as in Batch, Noise has the same
// layout as Action.
type Rollout struct {
	Size      int
	StateDim  int
	ActionDim int

	Reward []float64
	Mask   []float64
	Action []float64
	Noise  []float64
	State  []float64
}

// Trajectory implements an on-policy buffer. Each entry packs
// (reward, mask, action..., noise...) beside its state, where noise is
// the exploration perturbation that produced the action. Trajectories
// cannot be partially reused between updates, so the buffer is Reset()
// at the start of each exploration phase.
type Trajectory struct {
	*ring
	actionDim int
}

// NewTrajectory returns a new on-policy Trajectory buffer
func NewTrajectory(capacity, stateDim, actionDim int) (*Trajectory, error) {
	if actionDim < 1 {
		return nil, &BufferError{
			Op: "newtrajectory",
			Err: fmt.Errorf("%w: action dimension must be positive"+
				"\n\thave(%v)", errInvalidLayout, actionDim),
		}
	}

	r, err := newRing(capacity, stateDim, 2+2*actionDim)
	if err != nil {
		return nil, err
	}

	return &Trajectory{ring: r, actionDim: actionDim}, nil
}

// ActionDim returns the size of a single stored action
func (t *Trajectory) ActionDim() int {
	return t.actionDim
}

// Append adds a step to the trajectory at the write cursor
func (t *Trajectory) Append(state []float64, reward, mask float64, action,
	noise []float64) error {
	if len(action) != t.actionDim {
		return &BufferError{
			Op: "append",
			Err: fmt.Errorf("%w: invalid action size\n\twant(%v)\n\thave(%v)",
				errShapeMismatch, t.actionDim, len(action)),
		}
	}
	if len(noise) != t.actionDim {
		return &BufferError{
			Op: "append",
			Err: fmt.Errorf("%w: invalid noise size\n\twant(%v)\n\thave(%v)",
				errShapeMismatch, t.actionDim, len(noise)),
		}
	}

	fields := make([]float64, 0, t.fieldWidth)
	fields = append(fields, reward, mask)
	fields = append(fields, action...)
	fields = append(fields, noise...)

	return t.append(state, fields)
}

// SampleAll returns the entire visible contents of the buffer,
// preserving the order in which it was appended
func (t *Trajectory) SampleAll() (Rollout, error) {
	if t.phase != reading {
		return Rollout{}, &BufferError{
			Op:  "sampleall",
			Err: fmt.Errorf("%w: visible length not refreshed", errWrongPhase),
		}
	}

	n := t.visible
	out := Rollout{
		Size:      n,
		StateDim:  t.stateDim,
		ActionDim: t.actionDim,
		Reward:    make([]float64, n),
		Mask:      make([]float64, n),
		Action:    make([]float64, n*t.actionDim),
		Noise:     make([]float64, n*t.actionDim),
		State:     make([]float64, n*t.stateDim),
	}

	a := t.actionDim
	for i, index := range t.ordered() {
		fields := t.fieldsAt(index)
		out.Reward[i] = fields[0]
		out.Mask[i] = fields[1]
		copy(out.Action[i*a:(i+1)*a], fields[2:2+a])
		copy(out.Noise[i*a:(i+1)*a], fields[2+a:])
		copy(out.State[i*t.stateDim:(i+1)*t.stateDim], t.stateAt(index))
	}

	return out, nil
}

// Reset empties the buffer
func (t *Trajectory) Reset() {
	t.clear()
}
