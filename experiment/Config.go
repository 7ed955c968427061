package experiment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samuelfneumann/drlcore/agent"
	"github.com/samuelfneumann/drlcore/environment"
	"github.com/samuelfneumann/drlcore/environment/bandit"
	"github.com/samuelfneumann/drlcore/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/drlcore/environment/classiccontrol/pendulum"
)

// EnvConfig describes the environment an experiment is run on
type EnvConfig struct {
	Name         string // One of "bandit", "pendulum", "cartpole"
	Seed         uint64
	EpisodeSteps int // Step limit of episodes
	StateDims    int // Number of state features of the bandit
}

// CreateEnv returns a new environment described by the config. The
// offset is added to the seed so that evaluation environments follow
// a different stream than training environments.
func (e EnvConfig) CreateEnv(offset uint64) (environment.Environment,
	error) {
	switch e.Name {
	case "bandit":
		dims := e.StateDims
		if dims == 0 {
			dims = 1
		}
		return bandit.New(dims)

	case "pendulum":
		return pendulum.New(e.Seed+offset, e.EpisodeSteps)

	case "cartpole":
		return cartpole.New(e.Seed+offset, e.EpisodeSteps)
	}
	return nil, fmt.Errorf("createenv: no such environment %q", e.Name)
}

// Config represents the configuration of a training run
type Config struct {
	Agent agent.Config
	Env   EnvConfig

	MaxMemory   int     // Buffer capacity, 0 selects agent.DefaultCapacity
	MaxStep     int     // Environment steps per exploration phase
	RewardScale float64 // Scale applied to rewards before storage

	BreakStep    int  // Total step budget
	IfBreakEarly bool // Stop once the evaluator reports the policy solved

	EvalTimes int     // Evaluation episodes per evaluation
	ShowGap   float64 // Minimum seconds between evaluation log rows

	// CheckpointEvery is the number of steps between numbered actor
	// snapshots, 0 disables them. The best actor is always saved.
	CheckpointEvery int

	Dir       string // Run directory: snapshots and stop file
	Store     string // Evaluation record store: "memory" or "sqlite"
	StorePath string
}

// DefaultConfig returns the default configuration of a run of an
// agent of the given kind
func DefaultConfig(kind agent.PolicyKind) (Config, error) {
	a, err := agent.DefaultConfig(kind)
	if err != nil {
		return Config{}, fmt.Errorf("defaultconfig: %v", err)
	}
	return Config{
		Agent:        a,
		Env:          EnvConfig{Name: "pendulum", EpisodeSteps: 200},
		MaxStep:      1 << 10,
		RewardScale:  1,
		BreakStep:    1 << 20,
		IfBreakEarly: true,
		EvalTimes:    1 << 3,
		ShowGap:      1 << 8,
		Dir:          "run",
		Store:        "memory",
	}, nil
}

// Capacity returns the capacity of the run's buffer
func (c Config) Capacity() int {
	if c.MaxMemory > 0 {
		return c.MaxMemory
	}
	return agent.DefaultCapacity(c.Agent.Kind)
}

// ShowGapDuration returns ShowGap as a time.Duration
func (c Config) ShowGapDuration() time.Duration {
	return time.Duration(c.ShowGap * float64(time.Second))
}

// Validate returns an error if the configuration is illegal
func (c Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("validate: agent: %v", err)
	}
	if c.MaxStep < 1 {
		return fmt.Errorf("validate: max step must be positive\n\thave(%v)",
			c.MaxStep)
	}
	if c.Agent.Kind.OnPolicy() && c.Capacity() <= c.MaxStep {
		return fmt.Errorf("validate: on-policy buffer capacity must exceed "+
			"max step\n\twant(> %v)\n\thave(%v)", c.MaxStep, c.Capacity())
	}
	if c.BreakStep < 0 {
		return fmt.Errorf("validate: break step must be non-negative"+
			"\n\thave(%v)", c.BreakStep)
	}
	if c.EvalTimes < 1 {
		return fmt.Errorf("validate: eval times must be positive"+
			"\n\thave(%v)", c.EvalTimes)
	}
	if c.ShowGap < 0 {
		return fmt.Errorf("validate: show gap must be non-negative"+
			"\n\thave(%v)", c.ShowGap)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("validate: checkpoint interval must be "+
			"non-negative\n\thave(%v)", c.CheckpointEvery)
	}
	if c.Dir == "" {
		return fmt.Errorf("validate: no run directory")
	}
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface. Fields
// missing from the JSON keep the defaults of the configured agent
// Kind.
func (c *Config) UnmarshalJSON(data []byte) error {
	var kind struct{ Agent struct{ Kind agent.PolicyKind } }
	if err := json.Unmarshal(data, &kind); err != nil {
		return err
	}

	defaults, err := DefaultConfig(kind.Agent.Kind)
	if err != nil {
		return fmt.Errorf("unmarshaljson: %v", err)
	}

	type config Config
	decoded := config(defaults)
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = Config(decoded)
	return nil
}
