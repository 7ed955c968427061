// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"fmt"

	"github.com/samuelfneumann/drlcore/timestep"
	"gonum.org/v1/gonum/mat"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() *mat.VecDense
}

// Ender determines when episodes should be ended. If the episode
// should end, End marks the TimeStep as the last step of its episode.
type Ender interface {
	End(*timestep.TimeStep) bool
}

// Environment implements a simulated environment.
//
// For discrete action spaces the action passed to Step is a
// 1-dimensional vector holding the action index. For continuous action
// spaces Step expects ActionSpec().Shape.Len() values.
type Environment interface {
	Reset() (timestep.TimeStep, error)
	Step(action *mat.VecDense) (timestep.TimeStep, bool, error)
	ObservationSpec() Spec
	ActionSpec() Spec

	// TargetReward returns the average episodic return above which the
	// environment is considered solved
	TargetReward() float64
}

// MaxStepper is an Environment that caps the length of its episodes
type MaxStepper interface {
	MaxEpisodeSteps() int
}

// EpisodeReturner is an Environment that does its own return
// accounting. EpisodeReturn reports the return of the last completed
// episode and is used instead of the summed rewards.
type EpisodeReturner interface {
	EpisodeReturn() float64
}

// StateDim returns the number of state features of the environment
func StateDim(e Environment) int {
	return e.ObservationSpec().Shape.Len()
}

// IsDiscrete returns whether the environment has a discrete action
// space
func IsDiscrete(e Environment) bool {
	return e.ActionSpec().Cardinality == Discrete
}

// ActionDim returns the number of actions of a discrete environment or
// the number of action dimensions of a continuous environment
func ActionDim(e Environment) int {
	spec := e.ActionSpec()
	if spec.Cardinality == Discrete {
		return int(spec.UpperBound.AtVec(0)-spec.LowerBound.AtVec(0)) + 1
	}
	return spec.Shape.Len()
}

// Validate returns an error if the environment's specifications are
// inconsistent
func Validate(e Environment) error {
	obs := e.ObservationSpec()
	if obs.Type != Observation {
		return fmt.Errorf("validate: observation spec has type %v", obs.Type)
	}
	if obs.Shape.Len() < 1 {
		return fmt.Errorf("validate: observations must have at least one " +
			"feature")
	}

	action := e.ActionSpec()
	if action.Type != Action {
		return fmt.Errorf("validate: action spec has type %v", action.Type)
	}
	switch action.Cardinality {
	case Discrete:
		if action.Shape.Len() != 1 {
			return fmt.Errorf("validate: discrete actions must be a single "+
				"index\n\twant(1)\n\thave(%v)", action.Shape.Len())
		}
		if action.LowerBound.AtVec(0) != 0 || action.UpperBound.AtVec(0) < 1 {
			return fmt.Errorf("validate: discrete actions must be indexed "+
				"from 0 with at least 2 actions\n\thave([%v, %v])",
				action.LowerBound.AtVec(0), action.UpperBound.AtVec(0))
		}

	case Continuous:
		if action.Shape.Len() < 1 {
			return fmt.Errorf("validate: continuous actions must have at " +
				"least one dimension")
		}

	default:
		return fmt.Errorf("validate: unknown action cardinality %q",
			action.Cardinality)
	}
	return nil
}

// CheckState returns an error if a state does not have the number of
// features given by the observation specification
func CheckState(e Environment, step timestep.TimeStep) error {
	want := e.ObservationSpec().Shape.Len()
	if step.Observation == nil || step.Observation.Len() != want {
		have := 0
		if step.Observation != nil {
			have = step.Observation.Len()
		}
		return fmt.Errorf("checkstate: invalid number of state features"+
			"\n\twant(%v)\n\thave(%v)", want, have)
	}
	return nil
}
