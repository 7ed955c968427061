package cartpole

import (
	"testing"

	"github.com/samuelfneumann/drlcore/environment"
	"github.com/samuelfneumann/drlcore/timestep"
	"gonum.org/v1/gonum/mat"
)

func TestSpecs(t *testing.T) {
	c, err := New(0, 200)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := environment.Validate(c); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !environment.IsDiscrete(c) || environment.ActionDim(c) != 2 {
		t.Errorf("want 2 discrete actions")
	}
	if environment.StateDim(c) != ObservationDims {
		t.Errorf("want(%v) have(%v)", ObservationDims,
			environment.StateDim(c))
	}
}

func TestPoleFalls(t *testing.T) {
	c, _ := New(3, 1000)
	if _, err := c.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// Always pushing right drops the pole well before 1000 steps
	right := mat.NewVecDense(1, []float64{1})
	for i := 0; i < 1000; i++ {
		step, done, err := c.Step(right)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if step.Reward != 1 {
			t.Fatalf("want reward 1 have(%v)", step.Reward)
		}
		if done {
			if step.EndType() != timestep.TerminalStateReached {
				t.Errorf("want(%v) have(%v)", timestep.TerminalStateReached,
					step.EndType())
			}
			return
		}
	}
	t.Errorf("pole never fell")
}

func TestIllegalAction(t *testing.T) {
	c, _ := New(0, 10)
	c.Reset()
	if _, _, err := c.Step(mat.NewVecDense(1, []float64{2})); err == nil {
		t.Errorf("want error for illegal action")
	}
}
