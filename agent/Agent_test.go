package agent

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"math"
	"testing"

	"github.com/samuelfneumann/drlcore/environment"
	"github.com/samuelfneumann/drlcore/environment/bandit"
	"github.com/samuelfneumann/drlcore/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/drlcore/network"
	"github.com/samuelfneumann/drlcore/solver"
)

var allKinds = []PolicyKind{DQN, DoubleDQN, D3QN, DDPG, TD3, PPO, GaePPO,
	SAC, ModSAC}

// smallConfig returns a configuration of kind with small networks
func smallConfig(t *testing.T, kind PolicyKind) Config {
	t.Helper()
	c, err := DefaultConfig(kind)
	if err != nil {
		t.Fatalf("defaultconfig: %v", err)
	}
	s, err := solver.NewDefaultAdam(1e-3, 1)
	if err != nil {
		t.Fatalf("newdefaultadam: %v", err)
	}
	c.Solver = s
	c.HiddenSizes = []int{16}
	c.BatchSize = 8
	c.Seed = 7
	if kind.OnPolicy() {
		c.RepeatTimes = 2
	}
	return c
}

// testEnv returns an environment matching the action space of kind
func testEnv(t *testing.T, kind PolicyKind) environment.Environment {
	t.Helper()
	if kind.Discrete() {
		env, err := bandit.New(3)
		if err != nil {
			t.Fatalf("bandit: %v", err)
		}
		return env
	}
	env, err := pendulum.New(1, 16)
	if err != nil {
		t.Fatalf("pendulum: %v", err)
	}
	return env
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func TestNewRejectsMismatchedActionSpace(t *testing.T) {
	discrete, err := bandit.New(2)
	if err != nil {
		t.Fatal(err)
	}
	continuous, err := pendulum.New(1, 16)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := New(discrete, smallConfig(t, DDPG)); err == nil {
		t.Error("DDPG agent accepted a discrete environment")
	}
	if _, err := New(continuous, smallConfig(t, DQN)); err == nil {
		t.Error("DQN agent accepted a continuous environment")
	}
}

func TestNewInitialObjectives(t *testing.T) {
	a, err := New(testEnv(t, DQN), smallConfig(t, DQN))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	objA, objC := a.Objectives()
	if objA != 0 {
		t.Errorf("objA: want(0) have(%v)", objA)
	}
	if want := math.Sqrt(-math.Log(0.5)); math.Abs(objC-want) > 1e-12 {
		t.Errorf("objC: want(%v) have(%v)", want, objC)
	}
}

func TestNewBufferType(t *testing.T) {
	for _, kind := range []PolicyKind{DQN, PPO, SAC} {
		a, err := New(testEnv(t, kind), smallConfig(t, kind))
		if err != nil {
			t.Fatalf("%v: new: %v", kind, err)
		}
		buf, err := a.NewBuffer(64)
		if err != nil {
			t.Fatalf("%v: newbuffer: %v", kind, err)
		}
		if buf.Capacity() != 64 {
			t.Errorf("%v: capacity: want(64) have(%v)", kind, buf.Capacity())
		}
		if buf.Len() != 0 {
			t.Errorf("%v: new buffer has length %v", kind, buf.Len())
		}
		a.Close()
	}
}

// TestUpdatePolicyEveryKind runs one warmup, collection and update
// phase for every kind
func TestUpdatePolicyEveryKind(t *testing.T) {
	const stepBudget = 16

	for _, kind := range allKinds {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			env := testEnv(t, kind)
			a, err := New(env, smallConfig(t, kind))
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer a.Close()

			capacity := 256
			if kind.OnPolicy() {
				capacity = 4 * stepBudget
			}
			buf, err := a.NewBuffer(capacity)
			if err != nil {
				t.Fatalf("newbuffer: %v", err)
			}

			if !kind.OnPolicy() {
				n, err := a.Warmup(env, buf, 32, 1)
				if err != nil {
					t.Fatalf("warmup: %v", err)
				}
				if n != 32 {
					t.Fatalf("warmup steps: want(32) have(%v)", n)
				}
				if err := buf.RefreshVisibleLength(); err != nil {
					t.Fatalf("refresh: %v", err)
				}
				if _, _, err := a.UpdatePolicy(buf, stepBudget); err != nil {
					t.Fatalf("update after warmup: %v", err)
				}
				if err := a.SyncTargets(); err != nil {
					t.Fatalf("synctargets: %v", err)
				}
			}

			steps, err := a.Collect(env, buf, stepBudget, 1)
			if err != nil {
				t.Fatalf("collect: %v", err)
			}
			if kind.OnPolicy() {
				if steps < capacity-stepBudget {
					t.Errorf("collected %v steps, want at least %v", steps,
						capacity-stepBudget)
				}
			} else if steps != stepBudget {
				t.Errorf("collected %v steps, want %v", steps, stepBudget)
			}
			if err := buf.RefreshVisibleLength(); err != nil {
				t.Fatalf("refresh: %v", err)
			}

			objA, objC, err := a.UpdatePolicy(buf, stepBudget)
			if err != nil {
				t.Fatalf("updatepolicy: %v", err)
			}
			if !finite(objA) || !finite(objC) {
				t.Errorf("objectives are not finite: (%v, %v)", objA, objC)
			}

			state, err := reset(env)
			if err != nil {
				t.Fatal(err)
			}
			a.Eval()
			action, err := a.SelectAction(state)
			if err != nil {
				t.Fatalf("selectaction: %v", err)
			}
			checkAction(t, kind, action)
			a.Train()
			action, err = a.SelectAction(state)
			if err != nil {
				t.Fatalf("selectaction: %v", err)
			}
			checkAction(t, kind, action)
		})
	}
}

func checkAction(t *testing.T, kind PolicyKind, action []float64) {
	t.Helper()
	if kind.Discrete() {
		if len(action) != 1 || (action[0] != 0 && action[0] != 1) {
			t.Errorf("illegal discrete action %v", action)
		}
		return
	}
	for _, a := range action {
		if a < -1 || a > 1 {
			t.Errorf("action %v outside of [-1, 1]", action)
		}
	}
}

func TestUpdatePolicyWrongBuffer(t *testing.T) {
	dqn, err := New(testEnv(t, DQN), smallConfig(t, DQN))
	if err != nil {
		t.Fatal(err)
	}
	defer dqn.Close()
	ppo, err := New(testEnv(t, PPO), smallConfig(t, PPO))
	if err != nil {
		t.Fatal(err)
	}
	defer ppo.Close()

	traj, err := ppo.NewBuffer(64)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := dqn.UpdatePolicy(traj, 4); err == nil {
		t.Error("DQN agent updated from a trajectory buffer")
	}
	if _, err := ppo.Warmup(testEnv(t, PPO), traj, 4, 1); err == nil {
		t.Error("PPO agent warmed up")
	}
}

// TestDQNBandit checks that a DQN agent learns the better arm of a
// bandit
func TestDQNBandit(t *testing.T) {
	env := testEnv(t, DQN)
	c := smallConfig(t, DQN)
	c.Gamma = 0
	a, err := New(env, c)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	buf, err := a.NewBuffer(512)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Warmup(env, buf, 64, 1); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if err := buf.RefreshVisibleLength(); err != nil {
		t.Fatal(err)
	}
	if err := a.SyncTargets(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		if _, _, err := a.UpdatePolicy(buf, 16); err != nil {
			t.Fatalf("updatepolicy: %v", err)
		}
		if _, err := a.Collect(env, buf, 16, 1); err != nil {
			t.Fatalf("collect: %v", err)
		}
		if err := buf.RefreshVisibleLength(); err != nil {
			t.Fatal(err)
		}
	}

	a.Eval()
	action, err := a.SelectAction([]float64{1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if action[0] != 0 {
		t.Errorf("greedy action: want(0) have(%v)", action[0])
	}
}

func TestActorSnapshot(t *testing.T) {
	a, err := New(testEnv(t, TD3), smallConfig(t, TD3))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a.Actor()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var restored network.MLP
	if err := gob.NewDecoder(&buf).Decode(&restored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := a.Actor().Learnables()
	have := restored.Learnables()
	if len(want) != len(have) {
		t.Fatalf("parameters: want(%v) have(%v)", len(want), len(have))
	}
	for i := range want {
		w := want[i].Value().Data().([]float64)
		h := have[i].Value().Data().([]float64)
		for j := range w {
			if w[j] != h[j] {
				t.Fatalf("parameter %d differs after decoding", i)
			}
		}
	}
}

func TestConfigJSONDefaults(t *testing.T) {
	var c Config
	if err := json.Unmarshal([]byte(`{"Kind": "TD3", "Gamma": 0.9}`),
		&c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Gamma != 0.9 {
		t.Errorf("gamma: want(0.9) have(%v)", c.Gamma)
	}
	if c.UpdateFreq != 2 {
		t.Errorf("update frequency: want(2) have(%v)", c.UpdateFreq)
	}
	if c.Solver == nil || c.InitWFn == nil {
		t.Error("defaults not filled")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}

	if err := json.Unmarshal([]byte(`{"Kind": "A3C"}`), &c); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestValidate(t *testing.T) {
	c := smallConfig(t, SAC)
	c.Gamma = 1.5
	if err := c.Validate(); err == nil {
		t.Error("gamma 1.5 accepted")
	}

	c = smallConfig(t, DQN)
	c.Epsilon = -0.1
	if err := c.Validate(); err == nil {
		t.Error("negative epsilon accepted")
	}
}
