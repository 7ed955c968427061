// Package policy implements the exploration rules that agents use to
// turn network outputs into actions. Policies work on plain slices of
// network outputs, so they can be shared by any agent regardless of
// how its networks are built.
//
// All policies draw random numbers from a source seeded at
// construction so that runs are reproducible.
package policy

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/drlcore/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Greedy returns the index of the largest action value. Ties are
// broken in favour of the lowest index.
func Greedy(values []float64) int {
	return floatutils.Argmax(values)
}

// EGreedy implements an ε-greedy policy over action values
type EGreedy struct {
	epsilon float64
	rng     *rand.Rand
}

// NewEGreedy returns a new ε-greedy policy which selects a uniformly
// random action with probability epsilon and the greedy action
// otherwise
func NewEGreedy(epsilon float64, seed uint64) (*EGreedy, error) {
	if epsilon < 0 || epsilon > 1 {
		return nil, fmt.Errorf("newegreedy: epsilon must be in [0, 1]"+
			"\n\thave(%v)", epsilon)
	}
	return &EGreedy{epsilon, rand.New(rand.NewSource(seed))}, nil
}

// SelectAction selects an action given the action values
func (e *EGreedy) SelectAction(values []float64) int {
	if e.rng.Float64() < e.epsilon {
		return e.rng.Intn(len(values))
	}
	return Greedy(values)
}

// Epsilon returns the exploration probability
func (e *EGreedy) Epsilon() float64 {
	return e.epsilon
}

// SoftmaxSampler implements a policy that, with some probability,
// samples an action from the softmax distribution over action values
// and otherwise acts greedily. Unlike ε-greedy, exploratory actions
// favour actions with higher values.
type SoftmaxSampler struct {
	prob float64
	src  rand.Source
	rng  *rand.Rand
}

// NewSoftmaxSampler returns a new SoftmaxSampler that samples from the
// softmax distribution with probability prob
func NewSoftmaxSampler(prob float64, seed uint64) (*SoftmaxSampler,
	error) {
	if prob < 0 || prob > 1 {
		return nil, fmt.Errorf("newsoftmaxsampler: probability must be in "+
			"[0, 1]\n\thave(%v)", prob)
	}
	src := rand.NewSource(seed)
	return &SoftmaxSampler{prob: prob, src: src, rng: rand.New(src)}, nil
}

// SelectAction selects an action given the action values
func (s *SoftmaxSampler) SelectAction(values []float64) int {
	if s.rng.Float64() < s.prob {
		dist := distuv.NewCategorical(Softmax(values), s.src)
		return int(dist.Rand())
	}
	return Greedy(values)
}

// Softmax returns the softmax distribution over values
func Softmax(values []float64) []float64 {
	out := make([]float64, len(values))
	max := floats.Max(values)
	for i, v := range values {
		out[i] = math.Exp(v - max)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}
