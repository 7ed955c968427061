// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either  first
// environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// EndType describes why an episode ended
type EndType int

const (
	// Unended denotes a TimeStep that does not end an episode
	Unended EndType = iota

	// TerminalStateReached denotes an episode ended by the environment
	// dynamics, for example a pole falling over
	TerminalStateReached

	// Timeout denotes an episode ended by a step limit
	Timeout
)

func (e EndType) String() string {
	switch e {
	case TerminalStateReached:
		return "TerminalStateReached"
	case Timeout:
		return "Timeout"
	default:
		return "Unended"
	}
}

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	StepType
	Reward      float64
	Observation *mat.VecDense
	Number      int

	endType EndType
}

// New returns a new TimeStep
func New(t StepType, r float64, o *mat.VecDense, n int) TimeStep {
	return TimeStep{StepType: t, Reward: r, Observation: o, Number: n}
}

// First returns whether a TimeStep is the first in an environment
func (t *TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an environment
func (t *TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an environment
func (t *TimeStep) Last() bool {
	return t.StepType == Last
}

// SetEnd marks the TimeStep as the last step of an episode that ended
// for reason e
func (t *TimeStep) SetEnd(e EndType) {
	t.StepType = Last
	t.endType = e
}

// EndType returns the reason the episode ended at this TimeStep, or
// Unended if the TimeStep is not the last of its episode
func (t *TimeStep) EndType() EndType {
	return t.endType
}

// State returns a copy of the observation as a slice
func (t *TimeStep) State() []float64 {
	if t.Observation == nil {
		return nil
	}
	state := make([]float64, t.Observation.Len())
	for i := range state {
		state[i] = t.Observation.AtVec(i)
	}
	return state
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  End: %v  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.StepType, t.Reward, t.endType, t.Number)
}
