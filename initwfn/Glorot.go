package initwfn

import (
	"math"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// GlorotUConfig implements a configuration of the Glorot Uniform
// initialization algorithm.
type GlorotUConfig struct {
	Gain float64
}

// NewGlorotU returns a new Glorot Uniform weight initializer
func NewGlorotU(gain float64) (*InitWFn, error) {
	config := GlorotUConfig{
		Gain: gain,
	}

	return newInitWFn(config)
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (g GlorotUConfig) Type() Type {
	return GlorotU
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (g GlorotUConfig) Create(rng *rand.Rand) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		in, out := fans(s)
		limit := g.Gain * math.Sqrt(6.0/float64(in+out))
		return fill(dt, s, func() float64 {
			return limit * (2*rng.Float64() - 1)
		})
	}
}

// GlorotNConfig implements a configuration of the Glorot Normal
// initialization algorithm.
type GlorotNConfig struct {
	Gain float64
}

// NewGlorotN returns a new Glorot Normal weight initializer.
func NewGlorotN(gain float64) (*InitWFn, error) {
	config := GlorotNConfig{
		Gain: gain,
	}

	return newInitWFn(config)
}

// Type returns the type of initialization algorithm described by the
// configuration.
func (g GlorotNConfig) Type() Type {
	return GlorotN
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (g GlorotNConfig) Create(rng *rand.Rand) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		in, out := fans(s)
		stddev := g.Gain * math.Sqrt(2.0/float64(in+out))
		return fill(dt, s, func() float64 {
			return stddev * rng.NormFloat64()
		})
	}
}
