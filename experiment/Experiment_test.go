package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/drlcore/agent"
	"github.com/samuelfneumann/drlcore/environment/bandit"
	"github.com/samuelfneumann/drlcore/experiment/checkpointer"
	"github.com/samuelfneumann/drlcore/experiment/tracker"
	"github.com/samuelfneumann/drlcore/network"
	"github.com/samuelfneumann/drlcore/solver"
)

// fixedPolicy always selects the same action
type fixedPolicy struct {
	action float64
	actor  *network.MLP
}

func (f *fixedPolicy) SelectAction([]float64) ([]float64, error) {
	return []float64{f.action}, nil
}

func (f *fixedPolicy) Actor() *network.MLP {
	return f.actor
}

// countingCheckpointer counts its successful checkpoints and fails
// with err if it is set
type countingCheckpointer struct {
	n   int
	err error
}

func (c *countingCheckpointer) Checkpoint(int,
	checkpointer.Serializable) error {
	if c.err != nil {
		return c.err
	}
	c.n++
	return nil
}

func newStore(t *testing.T) tracker.Store {
	t.Helper()
	store := tracker.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestEvaluatorSavesOnStrictImprovement(t *testing.T) {
	ctx := context.Background()
	env, err := bandit.New(1)
	if err != nil {
		t.Fatal(err)
	}
	store := newStore(t)
	check := &countingCheckpointer{}
	e, err := NewEvaluator(env, EvaluatorConfig{
		EvalTimes:    3,
		ShowGap:      time.Hour,
		Checkpointer: check,
		Store:        store,
		RunID:        "run",
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("newevaluator: %v", err)
	}

	bad := &fixedPolicy{action: 1}
	good := &fixedPolicy{action: 0}

	steps := []struct {
		policy   Policy
		improved bool
		solved   bool
	}{
		{bad, true, false}, // Any return improves on -∞
		{bad, false, false},
		{good, true, true},
		{good, false, true}, // Equal return is not an improvement
		{bad, false, true},
	}

	for i, step := range steps {
		improved, err := e.EvaluateAndSave(ctx, step.policy, 10*(i+1), 1, 2)
		if err != nil {
			t.Fatalf("evaluation %d: %v", i, err)
		}
		if improved != step.improved {
			t.Errorf("evaluation %d: improved want(%v) have(%v)", i,
				step.improved, improved)
		}
		if e.Solved() != step.solved {
			t.Errorf("evaluation %d: solved want(%v) have(%v)", i,
				step.solved, e.Solved())
		}
	}

	if check.n != 2 {
		t.Errorf("checkpoints: want(2) have(%v)", check.n)
	}
	if e.RMax() != bandit.GoodReward {
		t.Errorf("r_max: want(%v) have(%v)", bandit.GoodReward, e.RMax())
	}

	records, ok, err := store.Records(ctx, "run")
	if err != nil || !ok {
		t.Fatalf("records: %v %v", ok, err)
	}
	if len(records) != len(steps) {
		t.Fatalf("records: want(%v) have(%v)", len(steps), len(records))
	}
	want := tracker.Record{TotalStep: 30, RAvg: 1, RStd: 0, ObjA: 1, ObjC: 2}
	if records[2] != want {
		t.Errorf("record: want(%+v) have(%+v)", want, records[2])
	}
}

func TestEvaluatorKeepsBestOnFailedCheckpoint(t *testing.T) {
	ctx := context.Background()
	env, err := bandit.New(1)
	if err != nil {
		t.Fatal(err)
	}
	check := &countingCheckpointer{err: errors.New("disk full")}
	e, err := NewEvaluator(env, EvaluatorConfig{
		EvalTimes:    1,
		ShowGap:      time.Hour,
		Checkpointer: check,
		Store:        newStore(t),
		RunID:        "run",
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("newevaluator: %v", err)
	}

	good := &fixedPolicy{action: 0}
	if _, err := e.EvaluateAndSave(ctx, good, 1, 0, 0); err == nil {
		t.Fatal("failed checkpoint not reported")
	}
	if !math.IsInf(e.RMax(), -1) || e.Solved() {
		t.Errorf("best return advanced without a snapshot: r_max(%v) "+
			"solved(%v)", e.RMax(), e.Solved())
	}

	// The same return is an improvement once the snapshot succeeds
	check.err = nil
	improved, err := e.EvaluateAndSave(ctx, good, 2, 0, 0)
	if err != nil {
		t.Fatalf("evaluateandsave: %v", err)
	}
	if !improved || check.n != 1 || e.RMax() != bandit.GoodReward {
		t.Errorf("improved(%v) checkpoints(%v) r_max(%v)", improved,
			check.n, e.RMax())
	}
}

func TestPopMeanStdDev(t *testing.T) {
	mean, std := popMeanStdDev([]float64{1, 3})
	if mean != 2 || math.Abs(std-1) > 1e-12 {
		t.Errorf("want(2, 1) have(%v, %v)", mean, std)
	}
	mean, std = popMeanStdDev([]float64{5})
	if mean != 5 || std != 0 {
		t.Errorf("want(5, 0) have(%v, %v)", mean, std)
	}
}

func TestConfigJSON(t *testing.T) {
	var c Config
	data := []byte(`{
		"Agent": {"Kind": "PPO", "BatchSize": 16},
		"Env": {"Name": "cartpole", "EpisodeSteps": 50},
		"MaxStep": 64
	}`)
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if c.Agent.Kind != agent.PPO || c.Agent.BatchSize != 16 {
		t.Errorf("agent config not decoded: %+v", c.Agent)
	}
	if c.Agent.ClipRatio != 0.25 {
		t.Errorf("agent defaults not kept: clip %v", c.Agent.ClipRatio)
	}
	if c.MaxStep != 64 || c.EvalTimes != 8 || !c.IfBreakEarly {
		t.Errorf("run defaults not kept: %+v", c)
	}
	if c.Capacity() != agent.DefaultCapacity(agent.PPO) {
		t.Errorf("capacity: want(%v) have(%v)",
			agent.DefaultCapacity(agent.PPO), c.Capacity())
	}
	if err := c.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}

	c.MaxMemory = 32
	if err := c.Validate(); err == nil {
		t.Error("on-policy capacity below max step accepted")
	}
}

func TestCreateEnv(t *testing.T) {
	for _, name := range []string{"bandit", "pendulum", "cartpole"} {
		env, err := EnvConfig{Name: name, EpisodeSteps: 10}.CreateEnv(0)
		if err != nil || env == nil {
			t.Errorf("%v: %v", name, err)
		}
	}
	if _, err := (EnvConfig{Name: "mountaincar"}).CreateEnv(0); err == nil {
		t.Error("unknown environment created")
	}
}

// banditConfig returns a small DQN run on a bandit
func banditConfig(t *testing.T) Config {
	t.Helper()
	c, err := DefaultConfig(agent.DQN)
	if err != nil {
		t.Fatal(err)
	}
	s, err := solver.NewDefaultAdam(1e-3, 1)
	if err != nil {
		t.Fatal(err)
	}
	c.Agent.Solver = s
	c.Agent.HiddenSizes = []int{8}
	c.Agent.BatchSize = 8
	c.Agent.Gamma = 0
	c.Env = EnvConfig{Name: "bandit", StateDims: 2}
	c.MaxMemory = 256
	c.MaxStep = 16
	c.BreakStep = 64
	c.IfBreakEarly = false
	c.EvalTimes = 2
	c.ShowGap = 0
	c.Dir = t.TempDir()
	return c
}

func TestTrainingLoopStepBudget(t *testing.T) {
	c := banditConfig(t)
	store := newStore(t)
	l, err := NewTrainingLoop(c, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("newtrainingloop: %v", err)
	}
	defer l.Close()

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if l.Phase() != Terminated {
		t.Errorf("phase: want(Terminated) have(%v)", l.Phase())
	}
	if l.TotalStep() <= c.BreakStep {
		t.Errorf("stopped at %v steps before exceeding %v", l.TotalStep(),
			c.BreakStep)
	}

	// Warmup, then one evaluation per collection up to the budget
	records, ok, err := store.Records(context.Background(), l.RunID())
	if err != nil || !ok {
		t.Fatalf("records: %v %v", ok, err)
	}
	if want := c.BreakStep/c.MaxStep - 1; len(records) != want {
		t.Errorf("records: want(%v) have(%v)", want, len(records))
	}

	var actor network.MLP
	err = checkpointer.Load(filepath.Join(c.Dir, ActorFile), &actor)
	if err != nil {
		t.Fatalf("load actor: %v", err)
	}

	if err := l.Run(context.Background()); err == nil {
		t.Error("terminated loop ran again")
	}
}

func TestTrainingLoopStopSignals(t *testing.T) {
	t.Run("StopFile", func(t *testing.T) {
		c := banditConfig(t)
		stop := filepath.Join(c.Dir, StopFile)
		if err := os.WriteFile(stop, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		l, err := NewTrainingLoop(c, newStore(t), zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		defer l.Close()

		if err := l.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		if want := 2 * c.MaxStep; l.TotalStep() != want {
			t.Errorf("total steps: want(%v) have(%v)", want, l.TotalStep())
		}
	})

	t.Run("CancelledDuringUpdate", func(t *testing.T) {
		c := banditConfig(t)
		store := tracker.NewSQLiteStore(filepath.Join(c.Dir, "records.db"))
		defer store.Close()
		if err := store.Init(context.Background()); err != nil {
			t.Fatalf("init: %v", err)
		}
		l, err := NewTrainingLoop(c, store, zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		defer l.Close()

		if err := l.warmup(); err != nil {
			t.Fatalf("warmup: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := l.update(ctx); err != nil {
			t.Fatalf("update interrupted by cancellation: %v", err)
		}

		records, ok, err := store.Records(context.Background(), l.RunID())
		if err != nil || !ok || len(records) != 1 {
			t.Fatalf("records: want(1) have(%v) %v %v", len(records), ok,
				err)
		}
		var actor network.MLP
		err = checkpointer.Load(filepath.Join(c.Dir, ActorFile), &actor)
		if err != nil {
			t.Errorf("best actor not saved: %v", err)
		}
		if l.stopReason(ctx) == "" {
			t.Error("cancellation not observed at the phase boundary")
		}
	})

	t.Run("Context", func(t *testing.T) {
		c := banditConfig(t)
		c.BreakStep = 1 << 20
		l, err := NewTrainingLoop(c, newStore(t), zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		defer l.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := l.Run(ctx); err != nil {
			t.Fatalf("run: %v", err)
		}
		if l.Phase() != Terminated {
			t.Errorf("phase: want(Terminated) have(%v)", l.Phase())
		}
		if !errors.Is(ctx.Err(), context.Canceled) {
			t.Fatal("context not cancelled")
		}
	})
}
