package expreplay

import (
	"golang.org/x/exp/rand"
)

// Selector chooses the indices at which data is sampled from a buffer
type Selector interface {
	// choose selects n indices uniformly from [0, limit), excluding the
	// index skip. A negative skip excludes nothing.
	choose(n, limit, skip int) []int
}

// uniformSelector is a Selector which selects data from an experience
// buffer uniformly randomly with replacement
type uniformSelector struct {
	rng *rand.Rand
}

// NewUniformSelector returns a new Selector which selects data
// uniformly randomly from an experience buffer
func NewUniformSelector(seed uint64) Selector {
	source := rand.NewSource(seed)
	rng := rand.New(source)

	return &uniformSelector{rng: rng}
}

// choose selects a number of indices at which to draw data from the
// buffer
func (u *uniformSelector) choose(n, limit, skip int) []int {
	selected := make([]int, n)
	for i := range selected {
		index := u.rng.Intn(limit)
		for index == skip {
			index = u.rng.Intn(limit)
		}
		selected[i] = index
	}
	return selected
}
