package trackers

import (
	"github.com/samuelfneumann/drlcore/experiment/tracker"
	"github.com/samuelfneumann/drlcore/timestep"
)

// EpisodeLength tracks the lengths of episodes.
// Note that an episode must finish for its length to be recorded.
type EpisodeLength struct {
	episodeLengths []int
}

// NewEpisodeLength returns a new EpisodeLength Tracker
func NewEpisodeLength() *EpisodeLength {
	return &EpisodeLength{}
}

// Track records the episode length if the timestep passed to it is the
// last timestep in its episode
func (e *EpisodeLength) Track(t timestep.TimeStep) {
	if t.Last() {
		e.episodeLengths = append(e.episodeLengths, t.Number)
	}
}

// Lengths returns the lengths of the finished episodes tracked
func (e *EpisodeLength) Lengths() []int {
	return append([]int(nil), e.episodeLengths...)
}

// Mean returns the mean length of the finished episodes tracked, or 0
// if no episode finished
func (e *EpisodeLength) Mean() float64 {
	if len(e.episodeLengths) == 0 {
		return 0
	}
	var sum int
	for _, l := range e.episodeLengths {
		sum += l
	}
	return float64(sum) / float64(len(e.episodeLengths))
}

// Reset forgets all tracked episodes
func (e *EpisodeLength) Reset() {
	e.episodeLengths = e.episodeLengths[:0]
}

var _ tracker.Tracker = &EpisodeLength{}
