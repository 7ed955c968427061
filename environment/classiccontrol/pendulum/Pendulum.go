// Package pendulum implements the pendulum swing-up classic control
// environment
package pendulum

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/drlcore/environment"
	"github.com/samuelfneumann/drlcore/timestep"
	"github.com/samuelfneumann/drlcore/utils/floatutils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

// default physical constants
const (
	AngleBound  float64 = math.Pi // +/- Angle bounds
	SpeedBound  float64 = 8.0     // +/- Speed bounds
	TorqueBound float64 = 2.0     // +/- Torque bounds

	dt              float64 = 0.05
	Gravity         float64 = 10.0
	Mass            float64 = 1.0
	Length          float64 = 1.0
	ActionDims      int     = 1
	ObservationDims int     = 3

	// EpisodeSteps is the default episode length
	EpisodeSteps int = 200

	// TargetReward is the average episodic return above which the
	// swing-up is considered solved
	TargetReward float64 = -200.0
)

// Pendulum implements the classic control environment Pendulum. In this
// environment, a pendulum is attached to a fixed base. An agent can
// swing the pendulum back and forth, but the swinging force/torque is
// underpowered. In order to be able to swing the pendulum straight up,
// it must first be rocked back and forth, using the momentum to
// gradually climb higher until the pendulum can point straight up.
//
// Observations are (cos θ, sin θ, θ̇) where θ is the angle of the
// pendulum from the positive y-axis, normalized to [-π, π), and θ̇ is
// the angular velocity, clipped to [-SpeedBound, SpeedBound].
//
// Actions are continuous and 1-dimensional in [-1, 1]. They are scaled
// to a torque in [-TorqueBound, TorqueBound] applied at the fixed
// base. Actions outside of [-1, 1] are clipped.
//
// The reward on each step is -(θ² + 0.1 θ̇² + 0.001 τ²) for applied
// torque τ, so the best return is achieved by swinging the pendulum up
// quickly and holding it still.
type Pendulum struct {
	environment.Starter
	ender environment.StepLimit

	th, thdot    float64
	speedBounds  r1.Interval
	torqueBounds r1.Interval
	lastStep     timestep.TimeStep
}

// New creates and returns a new Pendulum whose starting angle and
// angular velocity are drawn uniformly from [-π, π] and [-1, 1]
func New(seed uint64, episodeSteps int) (*Pendulum, error) {
	if episodeSteps < 1 {
		return nil, fmt.Errorf("new: episode steps must be positive"+
			"\n\thave(%v)", episodeSteps)
	}

	starter := environment.NewUniformStarter([]r1.Interval{
		{Min: -AngleBound, Max: AngleBound},
		{Min: -1, Max: 1},
	}, seed)

	return &Pendulum{
		Starter:      starter,
		ender:        environment.NewStepLimit(episodeSteps),
		speedBounds:  r1.Interval{Min: -SpeedBound, Max: SpeedBound},
		torqueBounds: r1.Interval{Min: -TorqueBound, Max: TorqueBound},
	}, nil
}

// Reset resets the environment and returns a starting state drawn from
// the Starter
func (p *Pendulum) Reset() (timestep.TimeStep, error) {
	start := p.Start()
	p.th, p.thdot = start.AtVec(0), start.AtVec(1)

	p.lastStep = timestep.New(timestep.First, 0, p.observation(), 0)
	return p.lastStep, nil
}

// Step takes one environmental step given action a and returns the next
// timestep as a timestep.TimeStep and a bool indicating whether or not
// the episode has ended.
func (p *Pendulum) Step(action *mat.VecDense) (timestep.TimeStep, bool,
	error) {
	if action.Len() != ActionDims {
		return timestep.TimeStep{}, false, fmt.Errorf("step: invalid "+
			"action dimensions\n\twant(%v)\n\thave(%v)", ActionDims,
			action.Len())
	}

	torque := floatutils.Clip(action.AtVec(0), -1, 1) * p.torqueBounds.Max

	angle := normalizeAngle(p.th)
	reward := -(angle*angle + 0.1*p.thdot*p.thdot + 0.001*torque*torque)

	newthdot := p.thdot + (-3*Gravity/(2*Length)*math.Sin(p.th+math.Pi)+
		3.0/(Mass*Length*Length)*torque)*dt
	newthdot = floatutils.ClipInterval(newthdot, p.speedBounds)

	p.th = normalizeAngle(p.th + newthdot*dt)
	p.thdot = newthdot

	nextStep := timestep.New(timestep.Mid, reward, p.observation(),
		p.lastStep.Number+1)
	p.ender.End(&nextStep)

	p.lastStep = nextStep
	return nextStep, nextStep.Last(), nil
}

// observation returns the observation of the current state
func (p *Pendulum) observation() *mat.VecDense {
	return mat.NewVecDense(ObservationDims, []float64{math.Cos(p.th),
		math.Sin(p.th), p.thdot})
}

// ObservationSpec returns the observation specification of the environment
func (p *Pendulum) ObservationSpec() environment.Spec {
	shape := mat.NewVecDense(ObservationDims, nil)

	lowerBound := mat.NewVecDense(ObservationDims, []float64{-1, -1,
		p.speedBounds.Min})
	upperBound := mat.NewVecDense(ObservationDims, []float64{1, 1,
		p.speedBounds.Max})

	return environment.NewSpec(shape, environment.Observation, lowerBound,
		upperBound, environment.Continuous)
}

// ActionSpec returns the action specification of the environment
func (p *Pendulum) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(ActionDims, nil)
	lowerBound := mat.NewVecDense(ActionDims, []float64{-1})
	upperBound := mat.NewVecDense(ActionDims, []float64{1})

	return environment.NewSpec(shape, environment.Action, lowerBound,
		upperBound, environment.Continuous)
}

// TargetReward returns the return above which the environment is
// considered solved
func (p *Pendulum) TargetReward() float64 {
	return TargetReward
}

// MaxEpisodeSteps returns the episode step limit
func (p *Pendulum) MaxEpisodeSteps() int {
	return p.ender.EpisodeSteps()
}

// String converts the environment to a string representation
func (p *Pendulum) String() string {
	return fmt.Sprintf("Pendulum  |  theta: %v  |  theta dot: %v", p.th,
		p.thdot)
}

// normalizeAngle normalizes an angle to [-π, π)
func normalizeAngle(th float64) float64 {
	return math.Mod(math.Mod(th+math.Pi, 2*math.Pi)+2*math.Pi,
		2*math.Pi) - math.Pi
}
