// Package cartpole implements the Cartpole classic control environment
package cartpole

import (
	"fmt"
	"math"

	env "github.com/samuelfneumann/drlcore/environment"
	ts "github.com/samuelfneumann/drlcore/timestep"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	// Physical constants
	Gravity        float64 = 9.8
	CartMass       float64 = 1.0
	PoleMass       float64 = 0.1
	TotalMass      float64 = CartMass + PoleMass
	HalfPoleLength float64 = 0.5  // half of pole length
	ForceMag       float64 = 10.0 // Magnification of force applied
	Dt             float64 = 0.02 // seconds between state updates

	// Failure thresholds (+/-)
	PositionThreshold float64 = 2.4
	AngleThreshold    float64 = 12 * 2 * math.Pi / 360

	// Discrete Actions
	MinDiscreteAction int = 0
	MaxDiscreteAction int = 1

	ObservationDims int = 4

	// EpisodeSteps is the default episode length
	EpisodeSteps int = 200

	// TargetReward is the average episodic return above which the
	// environment is considered solved
	TargetReward float64 = 195.0
)

// Cartpole implements the classic control environment Cartpole. In
// this environment, a pole is attached to a cart, which can move
// horizontally. The agent must keep the pole upright for as long as
// possible.
//
// The state features are continuous and consist of the cart's x
// position and speed, as well as the pole's angle from the positive
// y-axis and the pole's angular velocity. The episode ends with a
// terminal state when the cart leaves [-PositionThreshold,
// PositionThreshold] or the pole leaves [-AngleThreshold,
// AngleThreshold], and with a timeout after the episode step limit.
// A reward of 1 is given on every step.
//
// Actions are discrete and consist of the force applied to the cart:
//
//	Action	Meaning
//	  0		Accelerate left
//	  1		Accelerate right
type Cartpole struct {
	env.Starter
	failure env.IntervalLimit
	timeout env.StepLimit

	lastStep ts.TimeStep
}

// New constructs a new Cartpole environment. Starting states have all
// features drawn uniformly from [-0.05, 0.05].
func New(seed uint64, episodeSteps int) (*Cartpole, error) {
	if episodeSteps < 1 {
		return nil, fmt.Errorf("new: episode steps must be positive"+
			"\n\thave(%v)", episodeSteps)
	}

	bounds := make([]r1.Interval, ObservationDims)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -0.05, Max: 0.05}
	}

	failure := env.NewIntervalLimit(
		[]r1.Interval{
			{Min: -PositionThreshold, Max: PositionThreshold},
			{Min: -AngleThreshold, Max: AngleThreshold},
		},
		[]int{0, 2},
	)

	return &Cartpole{
		Starter: env.NewUniformStarter(bounds, seed),
		failure: failure,
		timeout: env.NewStepLimit(episodeSteps),
	}, nil
}

// Reset resets the environment and returns a starting state drawn from
// the environment Starter
func (c *Cartpole) Reset() (ts.TimeStep, error) {
	c.lastStep = ts.New(ts.First, 0, c.Start(), 0)
	return c.lastStep, nil
}

// ActionSpec returns the action specification of the environment
func (c *Cartpole) ActionSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{float64(MinDiscreteAction)})
	upperBound := mat.NewVecDense(1, []float64{float64(MaxDiscreteAction)})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound,
		env.Discrete)
}

// ObservationSpec returns the observation specification of the
// environment
func (c *Cartpole) ObservationSpec() env.Spec {
	shape := mat.NewVecDense(ObservationDims, nil)

	lower := []float64{-PositionThreshold, math.Inf(-1), -AngleThreshold,
		math.Inf(-1)}
	upper := []float64{PositionThreshold, math.Inf(1), AngleThreshold,
		math.Inf(1)}

	return env.NewSpec(shape, env.Observation,
		mat.NewVecDense(ObservationDims, lower),
		mat.NewVecDense(ObservationDims, upper), env.Continuous)
}

// TargetReward returns the return above which the environment is
// considered solved
func (c *Cartpole) TargetReward() float64 {
	return TargetReward
}

// MaxEpisodeSteps returns the episode step limit
func (c *Cartpole) MaxEpisodeSteps() int {
	return c.timeout.EpisodeSteps()
}

// Step takes one environmental step given action a and returns the next
// state as a timestep.TimeStep and a bool indicating whether or not the
// episode has ended
func (c *Cartpole) Step(a *mat.VecDense) (ts.TimeStep, bool, error) {
	if a.Len() != 1 {
		return ts.TimeStep{}, false, fmt.Errorf("step: invalid action "+
			"dimensions\n\twant(1)\n\thave(%v)", a.Len())
	}
	action := int(a.AtVec(0))
	if action < MinDiscreteAction || action > MaxDiscreteAction {
		return ts.TimeStep{}, false, fmt.Errorf("step: illegal action %v "+
			"∉ (0, 1)", a.AtVec(0))
	}

	// Get state variables
	state := c.lastStep.Observation
	x, xDot := state.AtVec(0), state.AtVec(1)
	th, thDot := state.AtVec(2), state.AtVec(3)

	force := ForceMag
	if action == 0 {
		force = -ForceMag
	}

	// Calculate physical variables to determine next state
	cosTheta := math.Cos(th)
	sinTheta := math.Sin(th)
	poleMassLength := PoleMass * HalfPoleLength

	temp := (force + poleMassLength*thDot*thDot*sinTheta) / TotalMass
	thAcc := (Gravity*sinTheta - cosTheta*temp) / (HalfPoleLength *
		(4.0/3.0 - PoleMass*cosTheta*cosTheta/TotalMass))
	xAcc := temp - poleMassLength*thAcc*cosTheta/TotalMass

	// Update state variables using Euler kinematic integration
	x += Dt * xDot
	xDot += Dt * xAcc
	th += Dt * thDot
	thDot += Dt * thAcc

	newState := mat.NewVecDense(ObservationDims, []float64{x, xDot, th,
		thDot})
	nextStep := ts.New(ts.Mid, 1.0, newState, c.lastStep.Number+1)

	// Failure takes precedence over the step limit
	if !c.failure.End(&nextStep) {
		c.timeout.End(&nextStep)
	}

	c.lastStep = nextStep
	return nextStep, nextStep.Last(), nil
}

func (c *Cartpole) String() string {
	msg := "Cartpole  |  Position: %v  | Speed: %v  |  Angle: %v" +
		"  |  Angular Velocity: %v"

	state := c.lastStep.Observation
	position, speed := state.AtVec(0), state.AtVec(1)
	angle, velocity := state.AtVec(2), state.AtVec(3)

	return fmt.Sprintf(msg, position, speed, angle, velocity)
}
