package policy

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Uniform implements a uniform random policy, used to fill a buffer
// before any learning takes place
type Uniform struct {
	rng  *rand.Rand
	dist distuv.Uniform
}

// NewUniform returns a new uniform random policy. Continuous actions
// are drawn from [-1, 1] in each dimension.
func NewUniform(seed uint64) *Uniform {
	src := rand.NewSource(seed)
	return &Uniform{
		rng:  rand.New(src),
		dist: distuv.Uniform{Min: -1, Max: 1, Src: src},
	}
}

// Discrete returns an action index drawn uniformly from [0, actions)
func (u *Uniform) Discrete(actions int) int {
	return u.rng.Intn(actions)
}

// Continuous returns an action with dims dimensions drawn uniformly
// from [-1, 1]
func (u *Uniform) Continuous(dims int) []float64 {
	action := make([]float64, dims)
	for i := range action {
		action[i] = u.dist.Rand()
	}
	return action
}
