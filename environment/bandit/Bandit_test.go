package bandit

import (
	"testing"

	"github.com/samuelfneumann/drlcore/environment"
	"gonum.org/v1/gonum/mat"
)

func TestRewards(t *testing.T) {
	b, err := New(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := environment.Validate(b); err != nil {
		t.Fatalf("validate: %v", err)
	}

	tests := []struct {
		action float64
		reward float64
	}{
		{0, GoodReward},
		{1, BadReward},
	}
	for _, test := range tests {
		b.Reset()
		step, done, err := b.Step(mat.NewVecDense(1, []float64{test.action}))
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if !done {
			t.Errorf("episodes should last a single step")
		}
		if step.Reward != test.reward {
			t.Errorf("action %v: want(%v) have(%v)", test.action,
				test.reward, step.Reward)
		}
	}

	if _, _, err := b.Step(mat.NewVecDense(1, []float64{3})); err == nil {
		t.Errorf("want error for illegal action")
	}
}
