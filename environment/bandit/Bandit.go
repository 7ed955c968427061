// Package bandit implements a deterministic two-armed bandit
package bandit

import (
	"fmt"

	"github.com/samuelfneumann/drlcore/environment"
	"github.com/samuelfneumann/drlcore/timestep"
	"gonum.org/v1/gonum/mat"
)

// Rewards of each arm
const (
	GoodReward float64 = 1.0
	BadReward  float64 = -1.0
)

// Bandit implements a single-state environment with two actions.
// Action 0 yields GoodReward and action 1 yields BadReward. Each
// episode lasts a single step, after which the episode ends with a
// terminal state.
//
// The single state is the constant vector of StateDims ones.
type Bandit struct {
	stateDims int
	lastStep  timestep.TimeStep
}

// New returns a new Bandit with stateDims state features
func New(stateDims int) (*Bandit, error) {
	if stateDims < 1 {
		return nil, fmt.Errorf("new: state must have at least one feature"+
			"\n\thave(%v)", stateDims)
	}
	return &Bandit{stateDims: stateDims}, nil
}

func (b *Bandit) state() *mat.VecDense {
	state := make([]float64, b.stateDims)
	for i := range state {
		state[i] = 1
	}
	return mat.NewVecDense(b.stateDims, state)
}

// Reset starts a new episode
func (b *Bandit) Reset() (timestep.TimeStep, error) {
	b.lastStep = timestep.New(timestep.First, 0, b.state(), 0)
	return b.lastStep, nil
}

// Step pulls the arm indexed by action
func (b *Bandit) Step(action *mat.VecDense) (timestep.TimeStep, bool,
	error) {
	if action.Len() != 1 {
		return timestep.TimeStep{}, false, fmt.Errorf("step: invalid "+
			"action dimensions\n\twant(1)\n\thave(%v)", action.Len())
	}

	var reward float64
	switch action.AtVec(0) {
	case 0:
		reward = GoodReward
	case 1:
		reward = BadReward
	default:
		return timestep.TimeStep{}, false, fmt.Errorf("step: illegal "+
			"action %v ∉ (0, 1)", action.AtVec(0))
	}

	next := timestep.New(timestep.Mid, reward, b.state(),
		b.lastStep.Number+1)
	next.SetEnd(timestep.TerminalStateReached)
	b.lastStep = next

	return next, true, nil
}

// ObservationSpec returns the observation specification of the
// environment
func (b *Bandit) ObservationSpec() environment.Spec {
	shape := mat.NewVecDense(b.stateDims, nil)
	return environment.NewSpec(shape, environment.Observation, b.state(),
		b.state(), environment.Continuous)
}

// ActionSpec returns the action specification of the environment
func (b *Bandit) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{0})
	upperBound := mat.NewVecDense(1, []float64{1})

	return environment.NewSpec(shape, environment.Action, lowerBound,
		upperBound, environment.Discrete)
}

// TargetReward returns the return above which the bandit is considered
// solved, which only the good arm achieves
func (b *Bandit) TargetReward() float64 {
	return 0.5
}

// MaxEpisodeSteps returns the length of each episode
func (b *Bandit) MaxEpisodeSteps() int {
	return 1
}
