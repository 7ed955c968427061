// Package agent implements deep reinforcement learning agents. A single
// Agent type drives interaction with an environment and updates its
// networks from an experience buffer; the PolicyKind in its Config
// selects how update targets and losses are constructed:
//
//	DQN, DoubleDQN, D3QN    value-based Q-learning
//	DDPG, TD3               deterministic actor-critic
//	PPO, GaePPO             clipped surrogate policy gradient
//	SAC, ModSAC             maximum entropy actor-critic
//
// Agents act in continuous action spaces with actions in [-1, 1] and in
// discrete action spaces with actions indexed from 0.
package agent

import (
	"fmt"

	"github.com/samuelfneumann/drlcore/buffer/expreplay"
	"github.com/samuelfneumann/drlcore/environment"
	"github.com/samuelfneumann/drlcore/network"
	"github.com/samuelfneumann/drlcore/policy"
	"github.com/samuelfneumann/drlcore/timestep"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// Buffer is an experience buffer an Agent collects into and updates
// from. Off-policy agents use *expreplay.Replay buffers and on-policy
// agents use *expreplay.Trajectory buffers, see Agent.NewBuffer().
type Buffer interface {
	RefreshVisibleLength() error
	Len() int
	Capacity() int
	Bytes() uint64
}

// strategy implements the action selection and updates of one
// PolicyKind
type strategy interface {
	// explore returns the action sent to the environment, the action
	// stored in the buffer and the exploration noise that produced it,
	// which is nil unless the strategy learns from recorded noise
	explore(state []float64) (envAction, stored, noise []float64,
		err error)

	// exploit returns the deterministic action for a state
	exploit(state []float64) ([]float64, error)

	// update performs the gradient steps of one update phase
	update(buf Buffer, stepBudget int, diag *diagnostics) error

	// syncTargets sets the target networks to the online networks
	syncTargets() error

	// actor returns the online actor, or Q-network for value-based
	// kinds, with a batch size of 1
	actor() *network.MLP

	close() error
}

// diagnostics holds the running actor and critic objectives
type diagnostics struct {
	objA float64
	objC float64
}

type strategyFn func(c Config, stateDim, actionDim int) (strategy, error)

// strategies maps each PolicyKind to the constructor of its strategy
var strategies map[PolicyKind]strategyFn

func init() {
	strategies = map[PolicyKind]strategyFn{
		DQN:       newValueBased,
		DoubleDQN: newValueBased,
		D3QN:      newValueBased,
		DDPG:      newDeterministic,
		TD3:       newDeterministic,
		PPO:       newPPO,
		GaePPO:    newPPO,
		SAC:       newSAC,
		ModSAC:    newSAC,
	}
}

// Agent is a deep reinforcement learning agent
type Agent struct {
	config    Config
	stateDim  int
	actionDim int // Number of actions for discrete action spaces
	strategy  strategy
	random    *policy.Uniform // Warmup policy

	// Off-policy collection continues episodes across calls to Collect.
	// state is nil when a new episode must be started.
	state []float64

	eval bool
	diagnostics
}

// New returns a new Agent acting in env
func New(env environment.Environment, c Config) (*Agent, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := environment.Validate(env); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if environment.IsDiscrete(env) != c.Kind.Discrete() {
		return nil, fmt.Errorf("new: %v agents cannot act in environments "+
			"with %v actions", c.Kind, env.ActionSpec().Cardinality)
	}

	stateDim := environment.StateDim(env)
	actionDim := environment.ActionDim(env)
	s, err := strategies[c.Kind](c, stateDim, actionDim)
	if err != nil {
		return nil, fmt.Errorf("new: could not construct %v strategy: %v",
			c.Kind, err)
	}

	return &Agent{
		config:      c,
		stateDim:    stateDim,
		actionDim:   actionDim,
		strategy:    s,
		random:      policy.NewUniform(c.Seed + seedWarmup),
		diagnostics: diagnostics{objA: 0, objC: initialObjC},
	}, nil
}

// Kind returns the PolicyKind of the agent
func (a *Agent) Kind() PolicyKind {
	return a.config.Kind
}

// Config returns the configuration of the agent
func (a *Agent) Config() Config {
	return a.config
}

// Eval sets the agent to evaluation mode, in which actions are selected
// deterministically without exploration
func (a *Agent) Eval() {
	a.eval = true
}

// Train sets the agent to training mode
func (a *Agent) Train() {
	a.eval = false
}

// SelectAction returns the action to take in state. For discrete
// action spaces the action holds a single action index.
func (a *Agent) SelectAction(state []float64) ([]float64, error) {
	if len(state) != a.stateDim {
		return nil, fmt.Errorf("selectaction: invalid state size"+
			"\n\twant(%v)\n\thave(%v)", a.stateDim, len(state))
	}
	if a.eval {
		return a.strategy.exploit(state)
	}
	action, _, _, err := a.strategy.explore(state)
	return action, err
}

// SelectActions returns one action per state of a batch of states
func (a *Agent) SelectActions(states [][]float64) ([][]float64, error) {
	actions := make([][]float64, len(states))
	for i := range states {
		action, err := a.SelectAction(states[i])
		if err != nil {
			return nil, fmt.Errorf("selectactions: state %d: %v", i, err)
		}
		actions[i] = action
	}
	return actions, nil
}

// NewBuffer returns a new, empty buffer of the type the agent collects
// into and updates from
func (a *Agent) NewBuffer(capacity int) (Buffer, error) {
	if a.config.Kind.OnPolicy() {
		traj, err := expreplay.NewTrajectory(capacity, a.stateDim,
			a.actionDim)
		if err != nil {
			return nil, fmt.Errorf("newbuffer: %w", err)
		}
		return traj, nil
	}

	replay, err := expreplay.NewReplay(capacity, a.stateDim,
		a.storedActionDim(), a.config.Seed+seedReplay)
	if err != nil {
		return nil, fmt.Errorf("newbuffer: %w", err)
	}
	return replay, nil
}

// storedActionDim returns the number of values stored per action
func (a *Agent) storedActionDim() int {
	if a.config.Kind.Discrete() {
		return 1
	}
	return a.actionDim
}

// Collect drives interaction with env and appends the experience to
// buf, returning the number of environment steps taken. Rewards are
// scaled by rewardScale before being stored.
//
// Off-policy agents take exactly stepBudget steps, resetting env when
// episodes end and continuing unfinished episodes on the next call.
// On-policy agents empty buf and then run whole episodes of at most
// stepBudget steps until buf holds at least Capacity() - stepBudget
// steps.
func (a *Agent) Collect(env environment.Environment, buf Buffer,
	stepBudget int, rewardScale float64) (int, error) {
	if stepBudget < 1 {
		return 0, fmt.Errorf("collect: step budget must be positive"+
			"\n\thave(%v)", stepBudget)
	}
	if a.config.Kind.OnPolicy() {
		return a.collectTrajectories(env, buf, stepBudget, rewardScale)
	}

	replay, ok := buf.(*expreplay.Replay)
	if !ok {
		return 0, fmt.Errorf("collect: %v agents need a replay buffer"+
			"\n\thave(%T)", a.config.Kind, buf)
	}
	return a.collectTransitions(env, stepBudget,
		func(state []float64) ([]float64, []float64, error) {
			envAction, stored, _, err := a.strategy.explore(state)
			return envAction, stored, err
		},
		func(state []float64, reward, mask float64, action []float64) error {
			return replay.Append(state, reward*rewardScale, mask, action)
		})
}

// Warmup fills buf with steps transitions taken by a uniform random
// policy: uniformly random action indices for discrete action spaces
// and uniformly random actions in [-1, 1] otherwise. Only off-policy
// agents warm up.
func (a *Agent) Warmup(env environment.Environment, buf Buffer, steps int,
	rewardScale float64) (int, error) {
	if a.config.Kind.OnPolicy() {
		return 0, fmt.Errorf("warmup: %v agents are on-policy",
			a.config.Kind)
	}
	replay, ok := buf.(*expreplay.Replay)
	if !ok {
		return 0, fmt.Errorf("warmup: %v agents need a replay buffer"+
			"\n\thave(%T)", a.config.Kind, buf)
	}

	return a.collectTransitions(env, steps,
		func([]float64) ([]float64, []float64, error) {
			if a.config.Kind.Discrete() {
				action := []float64{float64(a.random.Discrete(a.actionDim))}
				return action, action, nil
			}
			action := a.random.Continuous(a.actionDim)
			return action, action, nil
		},
		func(state []float64, reward, mask float64, action []float64) error {
			return replay.Append(state, reward*rewardScale, mask, action)
		})
}

// collectTransitions takes steps environment steps, continuing the
// current episode if there is one
func (a *Agent) collectTransitions(env environment.Environment, steps int,
	act func([]float64) ([]float64, []float64, error),
	store func([]float64, float64, float64, []float64) error) (int, error) {
	for i := 0; i < steps; i++ {
		if a.state == nil {
			state, err := reset(env)
			if err != nil {
				return i, fmt.Errorf("collect: %v", err)
			}
			a.state = state
		}

		envAction, stored, err := act(a.state)
		if err != nil {
			return i, fmt.Errorf("collect: %v", err)
		}
		next, done, err := step(env, envAction)
		if err != nil {
			return i, fmt.Errorf("collect: %v", err)
		}

		mask := a.config.Gamma
		if done {
			mask = 0
		}
		if err := store(a.state, next.Reward, mask, stored); err != nil {
			return i, fmt.Errorf("collect: %v", err)
		}

		if done {
			a.state = nil
		} else {
			a.state = next.State()
		}
	}
	return steps, nil
}

// collectTrajectories collects whole episodes into an emptied
// trajectory buffer. The environment receives tanh of the sampled
// actions, while the buffer stores the raw actions and the noise that
// produced them. An episode cut off at stepBudget steps is stored as if
// it terminated.
func (a *Agent) collectTrajectories(env environment.Environment,
	buf Buffer, stepBudget int, rewardScale float64) (int, error) {
	traj, ok := buf.(*expreplay.Trajectory)
	if !ok {
		return 0, fmt.Errorf("collect: %v agents need a trajectory buffer"+
			"\n\thave(%T)", a.config.Kind, buf)
	}
	target := traj.Capacity() - stepBudget
	if target < 1 {
		return 0, fmt.Errorf("collect: buffer capacity must exceed the "+
			"step budget\n\twant(> %v)\n\thave(%v)", stepBudget,
			traj.Capacity())
	}

	traj.Reset()
	a.state = nil

	steps := 0
	for steps < target {
		state, err := reset(env)
		if err != nil {
			return steps, fmt.Errorf("collect: %v", err)
		}

		for t := 0; t < stepBudget; t++ {
			envAction, stored, noise, err := a.strategy.explore(state)
			if err != nil {
				return steps, fmt.Errorf("collect: %v", err)
			}
			next, done, err := step(env, envAction)
			if err != nil {
				return steps, fmt.Errorf("collect: %v", err)
			}
			steps++

			mask := a.config.Gamma
			if done || t == stepBudget-1 {
				mask = 0
			}
			err = traj.Append(state, next.Reward*rewardScale, mask, stored,
				noise)
			if err != nil {
				return steps, fmt.Errorf("collect: %v", err)
			}

			if done {
				break
			}
			state = next.State()
		}
	}
	return steps, nil
}

// reset starts a new episode of env and returns its first state
func reset(env environment.Environment) ([]float64, error) {
	first, err := env.Reset()
	if err != nil {
		return nil, fmt.Errorf("could not reset environment: %v", err)
	}
	if err := environment.CheckState(env, first); err != nil {
		return nil, err
	}
	return first.State(), nil
}

// step takes an action in env
func step(env environment.Environment, action []float64) (timestep.TimeStep,
	bool, error) {
	next, done, err := env.Step(mat.NewVecDense(len(action), action))
	if err != nil {
		return timestep.TimeStep{}, false, fmt.Errorf("could not step "+
			"environment: %v", err)
	}
	if err := environment.CheckState(env, next); err != nil {
		return timestep.TimeStep{}, false, err
	}
	return next, done, nil
}

// UpdatePolicy performs the gradient steps of one update phase using
// the experience in buf and returns the actor and critic objectives.
// The visible length of buf must have been refreshed since the last
// collection.
//
// Off-policy agents take stepBudget * RepeatTimes gradient steps, ModSAC
// scales this by how full buf is. On-policy agents take
// RepeatTimes * Len() / BatchSize gradient steps.
func (a *Agent) UpdatePolicy(buf Buffer, stepBudget int) (float64, float64,
	error) {
	if stepBudget < 1 {
		return 0, 0, fmt.Errorf("updatepolicy: step budget must be "+
			"positive\n\thave(%v)", stepBudget)
	}
	if err := a.strategy.update(buf, stepBudget, &a.diagnostics); err != nil {
		return a.objA, a.objC, fmt.Errorf("updatepolicy: %v", err)
	}
	return a.objA, a.objC, nil
}

// SyncTargets sets the parameters of every target network to those of
// its online network
func (a *Agent) SyncTargets() error {
	if err := a.strategy.syncTargets(); err != nil {
		return fmt.Errorf("synctargets: %v", err)
	}
	return nil
}

// Objectives returns the actor and critic objectives of the last
// update phase
func (a *Agent) Objectives() (float64, float64) {
	return a.objA, a.objC
}

// Actor returns the online actor network of the agent. For value-based
// agents this is the online Q-network. The network is owned by the
// agent and changes with each update phase; it can be gob encoded to
// snapshot the current policy.
func (a *Agent) Actor() *network.MLP {
	return a.strategy.actor()
}

// Close releases the VMs of the agent
func (a *Agent) Close() error {
	return a.strategy.close()
}

// Seed offsets so that each random component of an agent draws from
// its own stream
const (
	seedWarmup uint64 = iota + 1
	seedReplay
	seedExplore
	seedTargetNoise
	seedSampler
	seedInit
)

// newNet returns a new MLP for the agent described by c. Weights are
// initialized from a stream determined by c.Seed and offset.
func newNet(c Config, name string, g *G.ExprGraph, inputSizes []int,
	batch, outputs int, outputAct *network.Activation,
	offset uint64) (*network.MLP, error) {
	act, err := network.ActivationByName(c.Activation)
	if err != nil {
		return nil, err
	}
	activations := make([]*network.Activation, len(c.HiddenSizes))
	for i := range activations {
		activations[i] = act
	}

	init := c.InitWFn.InitWFn(c.Seed + seedInit + offset)
	return network.NewMLP(name, g, inputSizes, batch, outputs,
		c.HiddenSizes, activations, outputAct, init)
}
