// Package experiment implements the training of agents: a TrainingLoop
// alternates exploration and update phases of an agent and evaluates
// the agent after each update phase
package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samuelfneumann/drlcore/agent"
	"github.com/samuelfneumann/drlcore/environment"
	"github.com/samuelfneumann/drlcore/experiment/checkpointer"
	"github.com/samuelfneumann/drlcore/experiment/tracker"
)

// StopFile is the name of the file whose presence in the run directory
// stops training
const StopFile = "stop"

// ActorFile is the name of the best actor snapshot in the run directory
const ActorFile = "actor.gob"

// Phase is a phase of a TrainingLoop
type Phase int

const (
	// Initialized denotes a loop that has not started running
	Initialized Phase = iota

	// WarmingUp fills the buffer of an off-policy agent with uniformly
	// random actions before any update
	WarmingUp

	// Exploring collects experience into the buffer
	Exploring

	// Updating updates the agent from the buffer and evaluates it
	Updating

	// Terminated denotes a loop that has stopped
	Terminated
)

func (p Phase) String() string {
	switch p {
	case WarmingUp:
		return "WarmingUp"
	case Exploring:
		return "Exploring"
	case Updating:
		return "Updating"
	case Terminated:
		return "Terminated"
	default:
		return "Initialized"
	}
}

// TrainingLoop trains an agent by alternating exploration phases,
// which only write to the buffer, and update phases, which only read
// from it. The buffer's visible length is refreshed exactly once at
// each boundary between the two.
//
// Termination is checked only after an exploration phase. The loop
// stops when the evaluator reports the policy solved (if IfBreakEarly
// is set), when more than BreakStep steps have been taken, when a file
// named StopFile exists in the run directory or when the context
// passed to Run is cancelled.
type TrainingLoop struct {
	config    Config
	agent     *agent.Agent
	env       environment.Environment
	buffer    agent.Buffer
	evaluator *Evaluator
	snapshots checkpointer.Checkpointer // nil if disabled
	runID     string
	logger    zerolog.Logger

	phase     Phase
	totalStep int
}

// NewTrainingLoop returns a new TrainingLoop for the run described by
// c. Evaluations are recorded in store, which must be initialized.
func NewTrainingLoop(c Config, store tracker.Store,
	logger zerolog.Logger) (*TrainingLoop, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newtrainingloop: %v", err)
	}

	env, err := c.Env.CreateEnv(0)
	if err != nil {
		return nil, fmt.Errorf("newtrainingloop: %v", err)
	}
	evalEnv, err := c.Env.CreateEnv(1)
	if err != nil {
		return nil, fmt.Errorf("newtrainingloop: %v", err)
	}

	a, err := agent.New(env, c.Agent)
	if err != nil {
		return nil, fmt.Errorf("newtrainingloop: %v", err)
	}
	buf, err := a.NewBuffer(c.Capacity())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("newtrainingloop: %v", err)
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("newtrainingloop: could not create run "+
			"directory: %v", err)
	}

	runID := uuid.NewString()
	logger = logger.With().Str("run_id", runID).Logger()
	evaluator, err := NewEvaluator(evalEnv, EvaluatorConfig{
		EvalTimes:    c.EvalTimes,
		ShowGap:      c.ShowGapDuration(),
		Checkpointer: checkpointer.NewBest(c.Dir, ActorFile),
		Store:        store,
		RunID:        runID,
		Logger:       logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("newtrainingloop: %v", err)
	}

	var snapshots checkpointer.Checkpointer
	if c.CheckpointEvery > 0 {
		snapshots = checkpointer.NewNStep(c.CheckpointEvery,
			checkpointer.Enumerate(filepath.Join(c.Dir, "actor-"), ".gob"))
	}

	return &TrainingLoop{
		config:    c,
		agent:     a,
		env:       env,
		buffer:    buf,
		evaluator: evaluator,
		snapshots: snapshots,
		runID:     runID,
		logger:    logger.With().Str("component", "training_loop").Logger(),
		phase:     Initialized,
	}, nil
}

// Run runs the loop until it terminates. A terminated loop cannot be
// run again.
func (l *TrainingLoop) Run(ctx context.Context) error {
	if l.phase != Initialized {
		return fmt.Errorf("run: loop is %v", l.phase)
	}

	l.logger.Info().
		Str("kind", string(l.config.Agent.Kind)).
		Str("environment", l.config.Env.Name).
		Int("capacity", l.buffer.Capacity()).
		Str("buffer_size",
			datasize.ByteSize(l.buffer.Bytes()).HumanReadable()).
		Msg("starting training")

	if !l.config.Agent.Kind.OnPolicy() {
		if err := l.warmup(); err != nil {
			l.setPhase(Terminated)
			return fmt.Errorf("run: %v", err)
		}
	}

	for {
		l.setPhase(Exploring)
		steps, err := l.agent.Collect(l.env, l.buffer, l.config.MaxStep,
			l.config.RewardScale)
		if err != nil {
			l.setPhase(Terminated)
			return fmt.Errorf("run: %v", err)
		}
		l.totalStep += steps
		if err := l.buffer.RefreshVisibleLength(); err != nil {
			l.setPhase(Terminated)
			return fmt.Errorf("run: %v", err)
		}

		if reason := l.stopReason(ctx); reason != "" {
			l.setPhase(Terminated)
			l.logger.Info().
				Int("total_step", l.totalStep).
				Float64("r_max", l.evaluator.RMax()).
				Str("reason", reason).
				Msg("training terminated")
			return nil
		}

		l.setPhase(Updating)
		if err := l.update(ctx); err != nil {
			l.setPhase(Terminated)
			return fmt.Errorf("run: %v", err)
		}
	}
}

// warmup fills the buffer with uniformly random actions, updates the
// agent once and hard-copies the online networks into their targets
func (l *TrainingLoop) warmup() error {
	l.setPhase(WarmingUp)
	steps, err := l.agent.Warmup(l.env, l.buffer, l.config.MaxStep,
		l.config.RewardScale)
	if err != nil {
		return err
	}
	l.totalStep += steps

	if err := l.buffer.RefreshVisibleLength(); err != nil {
		return err
	}
	if _, _, err := l.agent.UpdatePolicy(l.buffer,
		l.config.MaxStep); err != nil {
		return err
	}
	return l.agent.SyncTargets()
}

// update runs an update phase and evaluates the updated agent. The
// phase runs to completion even if ctx is cancelled, cancellation is
// only observed at the next phase boundary.
func (l *TrainingLoop) update(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	objA, objC, err := l.agent.UpdatePolicy(l.buffer, l.config.MaxStep)
	if err != nil {
		return err
	}

	l.agent.Eval()
	defer l.agent.Train()
	if _, err := l.evaluator.EvaluateAndSave(ctx, l.agent, l.totalStep,
		objA, objC); err != nil {
		return err
	}

	if l.snapshots != nil {
		return l.snapshots.Checkpoint(l.totalStep, l.agent.Actor())
	}
	return nil
}

// stopReason returns why the loop should stop, or the empty string if
// it should continue
func (l *TrainingLoop) stopReason(ctx context.Context) string {
	if err := ctx.Err(); err != nil {
		return err.Error()
	}
	if _, err := os.Stat(filepath.Join(l.config.Dir, StopFile)); err == nil {
		return "stop file"
	} else if !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn().Err(err).Msg("could not check for stop file")
	}
	if l.config.IfBreakEarly && l.evaluator.Solved() {
		return "solved"
	}
	if l.totalStep > l.config.BreakStep {
		return "step budget exhausted"
	}
	return ""
}

func (l *TrainingLoop) setPhase(p Phase) {
	l.logger.Debug().
		Stringer("from", l.phase).
		Stringer("to", p).
		Int("total_step", l.totalStep).
		Msg("phase transition")
	l.phase = p
}

// Phase returns the current phase of the loop
func (l *TrainingLoop) Phase() Phase {
	return l.phase
}

// TotalStep returns the number of environment steps taken
func (l *TrainingLoop) TotalStep() int {
	return l.totalStep
}

// RunID returns the identifier of the run's evaluation records
func (l *TrainingLoop) RunID() string {
	return l.runID
}

// Agent returns the agent being trained
func (l *TrainingLoop) Agent() *agent.Agent {
	return l.agent
}

// Evaluator returns the evaluator of the loop
func (l *TrainingLoop) Evaluator() *Evaluator {
	return l.evaluator
}

// Close releases the resources of the agent
func (l *TrainingLoop) Close() error {
	return l.agent.Close()
}
