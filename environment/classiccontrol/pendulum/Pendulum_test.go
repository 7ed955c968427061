package pendulum

import (
	"math"
	"testing"

	"github.com/samuelfneumann/drlcore/environment"
	"gonum.org/v1/gonum/mat"
)

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi / 2, math.Pi / 2},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
	}

	for _, test := range tests {
		if have := normalizeAngle(test.in); math.Abs(have-test.want) > 1e-9 {
			t.Errorf("normalizeAngle(%v): want(%v) have(%v)", test.in,
				test.want, have)
		}
	}
}

func TestEpisodeLimit(t *testing.T) {
	p, err := New(1, 5)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := environment.Validate(p); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := p.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	action := mat.NewVecDense(1, []float64{0.5})
	for i := 1; i <= 5; i++ {
		step, done, err := p.Step(action)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if step.Reward > 0 {
			t.Errorf("reward should never be positive: have(%v)",
				step.Reward)
		}
		if done != (i == 5) {
			t.Fatalf("step %d: want done(%v) have(%v)", i, i == 5, done)
		}
	}
}

func TestInvalidAction(t *testing.T) {
	p, _ := New(1, 5)
	p.Reset()
	if _, _, err := p.Step(mat.NewVecDense(2, nil)); err == nil {
		t.Errorf("want error for 2-dimensional action")
	}
}
