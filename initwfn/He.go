package initwfn

import (
	"math"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// HeUConfig implements a configuration of the He uniform
// initialization algorithm.
type HeUConfig struct {
	Gain float64
}

// NewHeU returns a new He Uniform weight initializer
func NewHeU(gain float64) (*InitWFn, error) {
	config := HeUConfig{
		Gain: gain,
	}

	return newInitWFn(config)
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (h HeUConfig) Type() Type {
	return HeU
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (h HeUConfig) Create(rng *rand.Rand) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		in, _ := fans(s)
		limit := h.Gain * math.Sqrt(6.0/float64(in))
		return fill(dt, s, func() float64 {
			return limit * (2*rng.Float64() - 1)
		})
	}
}

// HeNConfig implements a configuration of the He normal
// initialization algorithm.
type HeNConfig struct {
	Gain float64
}

// NewHeN returns a new He Normal weight initializer
func NewHeN(gain float64) (*InitWFn, error) {
	config := HeNConfig{
		Gain: gain,
	}

	return newInitWFn(config)
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (h HeNConfig) Type() Type {
	return HeN
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (h HeNConfig) Create(rng *rand.Rand) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		in, _ := fans(s)
		stddev := h.Gain * math.Sqrt(2.0/float64(in))
		return fill(dt, s, func() float64 {
			return stddev * rng.NormFloat64()
		})
	}
}
