package trackers

import (
	"testing"

	ts "github.com/samuelfneumann/drlcore/timestep"
)

// episode returns the TimeSteps of an episode with the given rewards
func episode(rewards ...float64) []ts.TimeStep {
	steps := []ts.TimeStep{ts.New(ts.First, 0, nil, 0)}
	for i, r := range rewards {
		step := ts.New(ts.Mid, r, nil, i+1)
		if i == len(rewards)-1 {
			step.SetEnd(ts.Timeout)
		}
		steps = append(steps, step)
	}
	return steps
}

func TestReturnAndLength(t *testing.T) {
	r := NewReturn()
	l := NewEpisodeLength()

	for _, ep := range [][]float64{{1, 2, 3}, {-1}} {
		for _, step := range episode(ep...) {
			r.Track(step)
			l.Track(step)
		}
	}

	returns := r.Returns()
	if len(returns) != 2 || returns[0] != 6 || returns[1] != -1 {
		t.Errorf("returns: want([6 -1]) have(%v)", returns)
	}
	lengths := l.Lengths()
	if len(lengths) != 2 || lengths[0] != 3 || lengths[1] != 1 {
		t.Errorf("lengths: want([3 1]) have(%v)", lengths)
	}
	if l.Mean() != 2 {
		t.Errorf("mean length: want(2) have(%v)", l.Mean())
	}

	r.Reset()
	l.Reset()
	if len(r.Returns()) != 0 || len(l.Lengths()) != 0 || l.Mean() != 0 {
		t.Error("reset did not forget episodes")
	}
}

func TestReturnPanicsOnGap(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("non-sequential timesteps did not panic")
		}
	}()
	r := NewReturn()
	r.Track(ts.New(ts.First, 0, nil, 0))
	r.Track(ts.New(ts.Mid, 1, nil, 2))
}
