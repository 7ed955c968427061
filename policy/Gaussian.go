package policy

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/drlcore/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// LogSqrt2Pi is log(√(2π)), the normalising constant of the standard
// normal log density
var LogSqrt2Pi = math.Log(math.Sqrt(2 * math.Pi))

// Normal draws vectors of independent standard normal noise
type Normal struct {
	dist distuv.Normal
}

// NewNormal returns a new standard normal noise source
func NewNormal(seed uint64) *Normal {
	return &Normal{distuv.Normal{Mu: 0, Sigma: 1,
		Src: rand.NewSource(seed)}}
}

// Sample returns n independent draws from the standard normal
func (n *Normal) Sample(size int) []float64 {
	noise := make([]float64, size)
	for i := range noise {
		noise[i] = n.dist.Rand()
	}
	return noise
}

// ClampedNoise implements additive Gaussian exploration for
// deterministic policies. Actions are perturbed with zero-mean Gaussian
// noise, optionally clipped, and the result is clamped to [-1, 1].
type ClampedNoise struct {
	std       float64
	noiseClip float64
	normal    *Normal
}

// NewClampedNoise returns a new ClampedNoise with noise standard
// deviation std. If noiseClip > 0, each noise sample is clipped to
// [-noiseClip, noiseClip] before being added.
func NewClampedNoise(std, noiseClip float64, seed uint64) (*ClampedNoise,
	error) {
	if std < 0 {
		return nil, fmt.Errorf("newclampednoise: standard deviation must "+
			"be non-negative\n\thave(%v)", std)
	}
	return &ClampedNoise{std, noiseClip, NewNormal(seed)}, nil
}

// Perturb adds noise to each element of actions in place and clamps
// the result to [-1, 1]
func (c *ClampedNoise) Perturb(actions []float64) {
	noise := c.normal.Sample(len(actions))
	for i := range actions {
		n := noise[i] * c.std
		if c.noiseClip > 0 {
			n = floatutils.Clip(n, -c.noiseClip, c.noiseClip)
		}
		actions[i] = floatutils.Clip(actions[i]+n, -1, 1)
	}
}

// DiagGaussian implements a diagonal Gaussian policy that records the
// standard normal noise used to draw each action. The recorded noise
// determines the log probability of the action under the policy that
// drew it, which is needed after the policy has changed.
type DiagGaussian struct {
	normal *Normal
}

// NewDiagGaussian returns a new DiagGaussian policy
func NewDiagGaussian(seed uint64) *DiagGaussian {
	return &DiagGaussian{NewNormal(seed)}
}

// Sample draws an action mean + exp(logStd) * noise, returning the
// action and the noise
func (d *DiagGaussian) Sample(mean, logStd []float64) ([]float64,
	[]float64, error) {
	if len(mean) != len(logStd) {
		return nil, nil, fmt.Errorf("sample: mean and log standard "+
			"deviation must match\n\twant(%v)\n\thave(%v)", len(mean),
			len(logStd))
	}

	noise := d.normal.Sample(len(mean))
	action := make([]float64, len(mean))
	for i := range action {
		action[i] = mean[i] + math.Exp(logStd[i])*noise[i]
	}
	return action, noise, nil
}

// NoiseLogProb returns the log density of an action drawn with the
// given standard normal noise and log standard deviation:
//
//	-Σ_i [ noise_i² / 2 + logStd_i + log(√(2π)) ]
func NoiseLogProb(noise, logStd []float64) float64 {
	var logProb float64
	for i := range noise {
		logProb -= noise[i]*noise[i]/2 + logStd[i] + LogSqrt2Pi
	}
	return logProb
}

// Bounds on the log standard deviation of squashed Gaussian policies
const (
	MinLogStd float64 = -20
	MaxLogStd float64 = 2
)

// SquashedGaussian implements a Gaussian policy whose samples are
// squashed into (-1, 1) by tanh
type SquashedGaussian struct {
	normal *Normal
}

// NewSquashedGaussian returns a new SquashedGaussian
func NewSquashedGaussian(seed uint64) *SquashedGaussian {
	return &SquashedGaussian{NewNormal(seed)}
}

// Noise returns size draws of the standard normal noise the policy
// uses, for graphs that compute the squashed sample themselves
func (s *SquashedGaussian) Noise(size int) []float64 {
	return s.normal.Sample(size)
}

// Sample draws tanh(mean + exp(logStd) * noise) with logStd clamped to
// [MinLogStd, MaxLogStd] and returns the action with its log density
func (s *SquashedGaussian) Sample(mean, logStd []float64) ([]float64,
	float64, error) {
	if len(mean) != len(logStd) {
		return nil, 0, fmt.Errorf("sample: mean and log standard "+
			"deviation must match\n\twant(%v)\n\thave(%v)", len(mean),
			len(logStd))
	}

	noise := s.Noise(len(mean))
	action, logProb := Squash(mean, logStd, noise)
	return action, logProb, nil
}

// Squash returns tanh(mean + exp(logStd) * noise) and its log density
// under the squashed Gaussian:
//
//	Σ_i [ -noise_i² / 2 - logStd_i - log(√(2π)) - log(1 - a_i² + 1e-6) ]
//
// logStd is clamped to [MinLogStd, MaxLogStd].
func Squash(mean, logStd, noise []float64) ([]float64, float64) {
	action := make([]float64, len(mean))
	var logProb float64
	for i := range mean {
		ls := floatutils.Clip(logStd[i], MinLogStd, MaxLogStd)
		a := math.Tanh(mean[i] + math.Exp(ls)*noise[i])
		action[i] = a
		logProb += -noise[i]*noise[i]/2 - ls - LogSqrt2Pi -
			math.Log(1-a*a+1e-6)
	}
	return action, logProb
}
