package initwfn

import (
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ZeroesConfig implements a configuration of a zero weight initializer
type ZeroesConfig struct{}

// NewZeroes returns a new zeroes weight intializer
func NewZeroes() (*InitWFn, error) {
	return newInitWFn(ZeroesConfig{})
}

// Type returns the type of the weight initializer created using this
// config
func (z ZeroesConfig) Type() Type {
	return Zeroes
}

// Create creates the Gorgonia weight initializer from this
// initializer config
func (z ZeroesConfig) Create(*rand.Rand) G.InitWFn {
	return ConstantConfig{0}.Create(nil)
}

// OnesConfig implements a configuration of a weight initializer that
// initializes all weights to 1.
type OnesConfig struct{}

// NewOnes returns a new ones weight intializer
func NewOnes() (*InitWFn, error) {
	return newInitWFn(OnesConfig{})
}

// Type returns the type of the weight initializer created using this
// config
func (o OnesConfig) Type() Type {
	return Ones
}

// Create creates the Gorgonia weight initializer from this
// initializer config
func (o OnesConfig) Create(*rand.Rand) G.InitWFn {
	return ConstantConfig{1}.Create(nil)
}

// ConstantConfig implements a configuration of a weight initializer
// that initializes all weights to a constant value.
type ConstantConfig struct {
	Value float64
}

// NewConstant returns a new constant weight intializer
func NewConstant(value float64) (*InitWFn, error) {
	return newInitWFn(ConstantConfig{value})
}

// Type returns the type of the weight initializer created using this
// config
func (c ConstantConfig) Type() Type {
	return Constant
}

// Create creates the Gorgonia weight initializer from this
// initializer config
func (c ConstantConfig) Create(*rand.Rand) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		return fill(dt, s, func() float64 { return c.Value })
	}
}

// GaussianConfig implements a configuration of a weight initializer
// that draws weights from a gaussian distribution
type GaussianConfig struct {
	Mean, StdDev float64
}

// NewGaussian returns a new gaussian weight initializer
func NewGaussian(mean, stddev float64) (*InitWFn, error) {
	return newInitWFn(GaussianConfig{Mean: mean, StdDev: stddev})
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (g GaussianConfig) Type() Type {
	return Gaussian
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (g GaussianConfig) Create(rng *rand.Rand) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		return fill(dt, s, func() float64 {
			return g.Mean + g.StdDev*rng.NormFloat64()
		})
	}
}
