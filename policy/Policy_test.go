package policy

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestGreedyTies(t *testing.T) {
	if a := Greedy([]float64{1, 3, 3, 0}); a != 1 {
		t.Errorf("want(1) have(%v)", a)
	}
}

func TestEGreedy(t *testing.T) {
	greedy, err := NewEGreedy(0, 1)
	if err != nil {
		t.Fatalf("newegreedy: %v", err)
	}
	for i := 0; i < 100; i++ {
		if a := greedy.SelectAction([]float64{0.1, 0.9, 0.3}); a != 1 {
			t.Fatalf("epsilon 0 must be greedy: have(%v)", a)
		}
	}

	random, _ := NewEGreedy(1, 1)
	counts := make([]int, 3)
	for i := 0; i < 3000; i++ {
		counts[random.SelectAction([]float64{0.1, 0.9, 0.3})]++
	}
	for i, c := range counts {
		if c < 800 {
			t.Errorf("action %d selected %d of 3000 times", i, c)
		}
	}

	if _, err := NewEGreedy(1.5, 0); err == nil {
		t.Errorf("want error for epsilon > 1")
	}
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1000, 1000})
	if math.Abs(probs[0]-0.5) > 1e-12 || math.Abs(probs[1]-0.5) > 1e-12 {
		t.Errorf("softmax of large equal values: have(%v)", probs)
	}

	probs = Softmax([]float64{0, math.Log(3)})
	if math.Abs(probs[1]-0.75) > 1e-12 {
		t.Errorf("want(0.75) have(%v)", probs[1])
	}
	if math.Abs(floats.Sum(probs)-1) > 1e-12 {
		t.Errorf("probabilities should sum to 1")
	}
}

func TestSoftmaxSamplerFavoursLargeValues(t *testing.T) {
	s, err := NewSoftmaxSampler(1, 3)
	if err != nil {
		t.Fatalf("newsoftmaxsampler: %v", err)
	}
	counts := make([]int, 2)
	for i := 0; i < 2000; i++ {
		counts[s.SelectAction([]float64{0, 3})]++
	}
	if counts[1] < counts[0] {
		t.Errorf("softmax sampling should favour action 1: have(%v)", counts)
	}
}

func TestClampedNoise(t *testing.T) {
	c, err := NewClampedNoise(10, 0.5, 7)
	if err != nil {
		t.Fatalf("newclampednoise: %v", err)
	}
	for i := 0; i < 100; i++ {
		actions := []float64{0.9, -0.9, 0}
		c.Perturb(actions)
		for _, a := range actions {
			if a < -1 || a > 1 {
				t.Fatalf("action %v outside [-1, 1]", a)
			}
		}
		if actions[2] < -0.5 || actions[2] > 0.5 {
			t.Fatalf("noise not clipped to 0.5: have(%v)", actions[2])
		}
	}
}

func TestDiagGaussianLogProb(t *testing.T) {
	d := NewDiagGaussian(11)
	mean := []float64{0.5, -0.2}
	logStd := []float64{-0.5, -0.5}

	action, noise, err := d.Sample(mean, logStd)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	var want float64
	for i := range action {
		std := math.Exp(logStd[i])
		z := (action[i] - mean[i]) / std
		want += -z*z/2 - math.Log(std) - LogSqrt2Pi
	}
	if have := NoiseLogProb(noise, logStd); math.Abs(have-want) > 1e-9 {
		t.Errorf("want(%v) have(%v)", want, have)
	}
}

func TestSquash(t *testing.T) {
	action, logProb := Squash([]float64{0}, []float64{5}, []float64{0})
	if action[0] != 0 {
		t.Errorf("want(0) have(%v)", action[0])
	}

	// logStd is clamped to MaxLogStd
	want := -MaxLogStd - LogSqrt2Pi - math.Log(1+1e-6)
	if math.Abs(logProb-want) > 1e-12 {
		t.Errorf("want(%v) have(%v)", want, logProb)
	}

	s := NewSquashedGaussian(5)
	for i := 0; i < 100; i++ {
		a, _, err := s.Sample([]float64{3, -3}, []float64{1, 1})
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		for _, v := range a {
			if v < -1 || v > 1 {
				t.Fatalf("squashed action %v outside [-1, 1]", v)
			}
		}
	}
}

func TestUniform(t *testing.T) {
	u := NewUniform(2)
	for i := 0; i < 100; i++ {
		if a := u.Discrete(3); a < 0 || a >= 3 {
			t.Fatalf("discrete action %v outside [0, 3)", a)
		}
		for _, a := range u.Continuous(2) {
			if a < -1 || a > 1 {
				t.Fatalf("continuous action %v outside [-1, 1]", a)
			}
		}
	}
}
