package agent

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/samuelfneumann/drlcore/initwfn"
	"github.com/samuelfneumann/drlcore/network"
	"github.com/samuelfneumann/drlcore/solver"
)

// PolicyKind selects the target construction and loss construction
// routines an Agent uses
type PolicyKind string

const (
	// Value-based
	DQN       PolicyKind = "DQN"
	DoubleDQN PolicyKind = "DoubleDQN"
	D3QN      PolicyKind = "D3QN"

	// Deterministic actor-critic
	DDPG PolicyKind = "DDPG"
	TD3  PolicyKind = "TD3"

	// Trust-region policy gradient
	PPO    PolicyKind = "PPO"
	GaePPO PolicyKind = "GaePPO"

	// Maximum entropy
	SAC    PolicyKind = "SAC"
	ModSAC PolicyKind = "ModSAC"
)

// OnPolicy returns whether agents of this kind learn from whole
// trajectories collected under the current policy
func (p PolicyKind) OnPolicy() bool {
	return p == PPO || p == GaePPO
}

// Discrete returns whether agents of this kind act in discrete action
// spaces
func (p PolicyKind) Discrete() bool {
	return p == DQN || p == DoubleDQN || p == D3QN
}

// Valid returns whether the kind names a known strategy
func (p PolicyKind) Valid() bool {
	_, ok := strategies[p]
	return ok
}

// Config describes an Agent. Fields that a PolicyKind does not use are
// ignored.
type Config struct {
	Kind PolicyKind

	// Hidden layer sizes and activation shared by every network
	HiddenSizes []int
	Activation  string

	// Solver is a factory: each network receives its own solver
	Solver  *solver.Solver
	InitWFn *initwfn.InitWFn

	Gamma       float64 // Discount factor
	Tau         float64 // Polyak constant for soft target updates
	BatchSize   int
	RepeatTimes float64 // Gradient steps per environment step

	// Exploration
	Epsilon      float64 // DQN ε-greedy
	SoftmaxProb  float64 // DoubleDQN, D3QN softmax sampling probability
	ExploreNoise float64 // DDPG, TD3 action noise

	// TD3
	PolicyNoise float64
	NoiseClip   float64
	UpdateFreq  int // Gradient steps between target updates

	// PPO
	ClipRatio   float64
	LambdaGAE   float64
	EntropyCoef float64
	InitLogStd  float64

	Seed uint64
}

// DefaultConfig returns the default configuration of an agent of the
// given kind
func DefaultConfig(kind PolicyKind) (Config, error) {
	if !kind.Valid() {
		return Config{}, fmt.Errorf("defaultconfig: unknown policy kind %q",
			kind)
	}

	width, batch, repeat := 1<<8, 1<<7, 1.0
	if kind.OnPolicy() {
		width, batch, repeat = 1<<9, 1<<8, 1<<4
	}

	s, err := solver.NewDefaultAdam(1e-4, 1)
	if err != nil {
		return Config{}, fmt.Errorf("defaultconfig: %v", err)
	}
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return Config{}, fmt.Errorf("defaultconfig: %v", err)
	}

	c := Config{
		Kind:        kind,
		HiddenSizes: []int{width, width},
		Activation:  "relu",
		Solver:      s,
		InitWFn:     init,
		Gamma:       0.99,
		Tau:         5e-3,
		BatchSize:   batch,
		RepeatTimes: repeat,
		UpdateFreq:  1,
		Seed:        0,
	}

	switch kind {
	case DQN:
		c.Epsilon = 0.1
	case DoubleDQN, D3QN:
		c.SoftmaxProb = 0.25
	case DDPG:
		c.ExploreNoise = 0.05
	case TD3:
		c.ExploreNoise = 0.1
		c.PolicyNoise = 0.2
		c.NoiseClip = 0.5
		c.UpdateFreq = 2
	case PPO:
		c.ClipRatio = 0.25
		c.InitLogStd = -0.5
	case GaePPO:
		c.ClipRatio = 0.25
		c.LambdaGAE = 0.98
		c.EntropyCoef = 0.01
		c.InitLogStd = -0.5
	}
	return c, nil
}

// DefaultCapacity returns the default buffer capacity for agents of
// the given kind
func DefaultCapacity(kind PolicyKind) int {
	if kind.OnPolicy() {
		return 1 << 12
	}
	return 1 << 17
}

// Validate returns an error if the configuration is illegal
func (c Config) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("validate: unknown policy kind %q", c.Kind)
	}
	for i, size := range c.HiddenSizes {
		if size < 1 {
			return fmt.Errorf("validate: hidden layer %d must have positive "+
				"size\n\thave(%v)", i, size)
		}
	}
	if _, err := network.ActivationByName(c.Activation); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver")
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma must be in [0, 1]\n\thave(%v)",
			c.Gamma)
	}
	if c.Tau < 0 || c.Tau > 1 {
		return fmt.Errorf("validate: tau must be in [0, 1]\n\thave(%v)",
			c.Tau)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive"+
			"\n\thave(%v)", c.BatchSize)
	}
	if c.RepeatTimes <= 0 {
		return fmt.Errorf("validate: repeat times must be positive"+
			"\n\thave(%v)", c.RepeatTimes)
	}

	switch c.Kind {
	case DQN:
		if c.Epsilon < 0 || c.Epsilon > 1 {
			return fmt.Errorf("validate: epsilon must be in [0, 1]"+
				"\n\thave(%v)", c.Epsilon)
		}
	case DoubleDQN, D3QN:
		if c.SoftmaxProb < 0 || c.SoftmaxProb > 1 {
			return fmt.Errorf("validate: softmax probability must be in "+
				"[0, 1]\n\thave(%v)", c.SoftmaxProb)
		}
	case DDPG, TD3:
		if c.ExploreNoise < 0 || c.PolicyNoise < 0 || c.NoiseClip < 0 {
			return fmt.Errorf("validate: noise parameters must be "+
				"non-negative\n\thave(%v, %v, %v)", c.ExploreNoise,
				c.PolicyNoise, c.NoiseClip)
		}
		if c.UpdateFreq < 1 {
			return fmt.Errorf("validate: update frequency must be positive"+
				"\n\thave(%v)", c.UpdateFreq)
		}
	case PPO, GaePPO:
		if c.ClipRatio <= 0 || c.ClipRatio >= 1 {
			return fmt.Errorf("validate: clip ratio must be in (0, 1)"+
				"\n\thave(%v)", c.ClipRatio)
		}
		if c.Kind == GaePPO && (c.LambdaGAE < 0 || c.LambdaGAE > 1) {
			return fmt.Errorf("validate: GAE lambda must be in [0, 1]"+
				"\n\thave(%v)", c.LambdaGAE)
		}
	}
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface. Fields
// missing from the JSON keep the defaults of the configured Kind.
func (c *Config) UnmarshalJSON(data []byte) error {
	var kind struct{ Kind PolicyKind }
	if err := json.Unmarshal(data, &kind); err != nil {
		return err
	}

	defaults, err := DefaultConfig(kind.Kind)
	if err != nil {
		return fmt.Errorf("unmarshaljson: %v", err)
	}

	// Decode into an alias type to avoid recursing into this method
	type config Config
	decoded := config(defaults)
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = Config(decoded)
	return nil
}

// initialObjC is the critic diagnostic before any update, chosen so
// that ModSAC's gate starts at exp(-initialObjC²) = 0.5
var initialObjC = math.Sqrt(-math.Log(0.5))
