// Package trackers implements Trackers of episode statistics
package trackers

import (
	"fmt"

	"github.com/samuelfneumann/drlcore/experiment/tracker"
	ts "github.com/samuelfneumann/drlcore/timestep"
)

// Return tracks the episodic return of the episodes whose TimeSteps it
// is given. When an environment returns a TimeStep, this Tracker will
// extract the reward and accumulate the return for each episode.
//
// Note: An episode must finish for its return to be recorded. If the
// last episode tracked does not finish, its return is not recorded.
type Return struct {
	lastTimeStep   int
	currentReturn  float64
	episodeReturns []float64
}

// NewReturn creates and returns a new *Return Tracker
func NewReturn() *Return {
	return &Return{lastTimeStep: -1}
}

// Track tracks the rewards seen on a timestep. By calling this method
// on every timestep, the Tracker accumulates the return of the
// episode, and records it when the episode ends. The first TimeStep of
// an episode carries no reward.
//
// Track panics if it is called for non-sequential timesteps
func (r *Return) Track(step ts.TimeStep) {
	if r.lastTimeStep+1 != step.Number {
		msg := fmt.Sprintf("track: last two timesteps tracked are not "+
			"sequential: timestep %v --> timestep %v were tracked",
			r.lastTimeStep, step.Number)
		panic(msg)
	}

	r.currentReturn += step.Reward
	if !step.Last() {
		r.lastTimeStep = step.Number
		return
	}

	// Episode has ended, record the return and begin tracking the
	// return of the next episode
	r.episodeReturns = append(r.episodeReturns, r.currentReturn)
	r.currentReturn = 0.0
	r.lastTimeStep = -1
}

// Returns returns the returns of the finished episodes tracked
func (r *Return) Returns() []float64 {
	return append([]float64(nil), r.episodeReturns...)
}

// Reset forgets all tracked episodes
func (r *Return) Reset() {
	r.lastTimeStep = -1
	r.currentReturn = 0
	r.episodeReturns = r.episodeReturns[:0]
}

var _ tracker.Tracker = &Return{}
