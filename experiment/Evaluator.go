package experiment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/drlcore/environment"
	"github.com/samuelfneumann/drlcore/experiment/checkpointer"
	"github.com/samuelfneumann/drlcore/experiment/tracker"
	"github.com/samuelfneumann/drlcore/experiment/trackers"
	"github.com/samuelfneumann/drlcore/network"
	"github.com/samuelfneumann/drlcore/timestep"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultMaxEpisodeSteps caps evaluation episodes of environments that
// do not implement environment.MaxStepper
const DefaultMaxEpisodeSteps = 1 << 10

// Policy is a policy that can be evaluated. SelectAction must select
// actions without exploration, and Actor returns the network to
// snapshot when the policy improves.
type Policy interface {
	SelectAction(state []float64) ([]float64, error)
	Actor() *network.MLP
}

// EvaluatorConfig configures an Evaluator
type EvaluatorConfig struct {
	EvalTimes int           // Episodes per evaluation
	ShowGap   time.Duration // Minimum time between evaluation log rows

	// Checkpointer receives the actor whenever the average evaluation
	// return strictly improves
	Checkpointer checkpointer.Checkpointer

	Store  tracker.Store
	RunID  string
	Logger zerolog.Logger
}

// Evaluator scores policies by their average return over a number of
// evaluation episodes, records each evaluation and keeps a snapshot of
// the best policy seen
type Evaluator struct {
	env          environment.Environment
	maxSteps     int
	targetReward float64
	config       EvaluatorConfig
	logger       zerolog.Logger

	returns *trackers.Return
	lengths *trackers.EpisodeLength

	rMax      float64
	solved    bool
	start     time.Time
	lastPrint time.Time
	usedTime  time.Duration
	now       func() time.Time
}

// NewEvaluator returns a new Evaluator that evaluates policies on env.
// The env must not be used for training.
func NewEvaluator(env environment.Environment,
	c EvaluatorConfig) (*Evaluator, error) {
	if c.EvalTimes < 1 {
		return nil, fmt.Errorf("newevaluator: eval times must be positive"+
			"\n\thave(%v)", c.EvalTimes)
	}
	if c.Checkpointer == nil {
		return nil, fmt.Errorf("newevaluator: no checkpointer")
	}
	if c.Store == nil {
		return nil, fmt.Errorf("newevaluator: no store")
	}

	maxSteps := DefaultMaxEpisodeSteps
	if m, ok := env.(environment.MaxStepper); ok {
		maxSteps = m.MaxEpisodeSteps()
	}

	now := time.Now()
	return &Evaluator{
		env:          env,
		maxSteps:     maxSteps,
		targetReward: env.TargetReward(),
		config:       c,
		logger:       c.Logger.With().Str("component", "evaluator").Logger(),
		returns:      trackers.NewReturn(),
		lengths:      trackers.NewEpisodeLength(),
		rMax:         math.Inf(-1),
		start:        now,
		lastPrint:    now,
		now:          time.Now,
	}, nil
}

// EvaluateAndSave evaluates p and records the evaluation at totalStep
// with the given actor and critic objectives. If the average return
// strictly improves on the best seen so far, the actor of p is
// checkpointed and true is returned. On error the best return is left
// unchanged.
func (e *Evaluator) EvaluateAndSave(ctx context.Context, p Policy,
	totalStep int, objA, objC float64) (bool, error) {
	e.returns.Reset()
	e.lengths.Reset()

	episodeReturns := make([]float64, e.config.EvalTimes)
	for i := range episodeReturns {
		r, err := e.episodeReturn(p)
		if err != nil {
			return false, fmt.Errorf("evaluateandsave: %v", err)
		}
		episodeReturns[i] = r
	}

	rAvg, rStd := popMeanStdDev(episodeReturns)
	improved := rAvg > e.rMax

	record := tracker.Record{
		TotalStep: totalStep,
		RAvg:      rAvg,
		RStd:      rStd,
		ObjA:      objA,
		ObjC:      objC,
	}
	if err := e.config.Store.SaveRecord(ctx, e.config.RunID,
		record); err != nil {
		return false, fmt.Errorf("evaluateandsave: could not save record: "+
			"%v", err)
	}

	// The best return only advances once its snapshot is on disk
	if improved {
		if err := e.config.Checkpointer.Checkpoint(totalStep,
			p.Actor()); err != nil {
			return false, fmt.Errorf("evaluateandsave: could not save "+
				"actor: %v", err)
		}
		e.rMax = rAvg
		e.logger.Info().
			Int("total_step", totalStep).
			Float64("r_max", e.rMax).
			Msg("saved actor")
	}

	if e.rMax > e.targetReward && !e.solved {
		e.solved = true
		e.usedTime = e.now().Sub(e.start)
		e.logger.Info().
			Int("total_step", totalStep).
			Float64("target_reward", e.targetReward).
			Float64("r_avg", rAvg).
			Float64("r_std", rStd).
			Dur("used_time", e.usedTime).
			Msg("solved")
	}

	if now := e.now(); now.Sub(e.lastPrint) > e.config.ShowGap {
		e.lastPrint = now
		e.logger.Info().
			Int("total_step", totalStep).
			Float64("r_max", e.rMax).
			Float64("r_avg", rAvg).
			Float64("r_std", rStd).
			Float64("obj_a", objA).
			Float64("obj_c", objC).
			Float64("episode_length", e.lengths.Mean()).
			Msg("evaluation")
	}
	return improved, nil
}

// episodeReturn runs a single evaluation episode of at most maxSteps
// steps and returns its return
func (e *Evaluator) episodeReturn(p Policy) (float64, error) {
	step, err := e.env.Reset()
	if err != nil {
		return 0, fmt.Errorf("could not reset environment: %v", err)
	}
	e.track(step)

	for t := 0; t < e.maxSteps; t++ {
		action, err := p.SelectAction(step.State())
		if err != nil {
			return 0, err
		}
		next, done, err := e.env.Step(mat.NewVecDense(len(action), action))
		if err != nil {
			return 0, fmt.Errorf("could not step environment: %v", err)
		}

		switch {
		case done && !next.Last():
			next.SetEnd(timestep.TerminalStateReached)
		case !done && t == e.maxSteps-1:
			next.SetEnd(timestep.Timeout)
		}
		e.track(next)

		if next.Last() {
			break
		}
		step = next
	}

	if r, ok := e.env.(environment.EpisodeReturner); ok {
		return r.EpisodeReturn(), nil
	}
	returns := e.returns.Returns()
	return returns[len(returns)-1], nil
}

// track sends a TimeStep to each Tracker
func (e *Evaluator) track(step timestep.TimeStep) {
	e.returns.Track(step)
	e.lengths.Track(step)
}

// Solved returns whether the best average return has exceeded the
// environment's target reward
func (e *Evaluator) Solved() bool {
	return e.solved
}

// RMax returns the best average evaluation return seen
func (e *Evaluator) RMax() float64 {
	return e.rMax
}

// popMeanStdDev returns the mean and population standard deviation of
// x
func popMeanStdDev(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	mean, std := stat.MeanStdDev(x, nil)
	n := float64(len(x))
	return mean, std * math.Sqrt((n-1)/n)
}
