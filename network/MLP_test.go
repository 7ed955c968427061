package network

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
)

func newTestMLP(t *testing.T, name string, batch int) *MLP {
	t.Helper()
	net, err := NewMLP(name, G.NewGraph(), []int{3, 1}, batch, 2,
		[]int{8, 8}, []*Activation{ReLU(), TanH()}, Identity(),
		G.GlorotU(1.0))
	if err != nil {
		t.Fatalf("newmlp: %v", err)
	}
	return net
}

func forward(t *testing.T, net *MLP, inputs ...[]float64) []float64 {
	t.Helper()
	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()

	if err := net.SetInput(inputs...); err != nil {
		t.Fatalf("setinput: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("runall: %v", err)
	}
	return net.Output()
}

func params(net Parameterized) [][]float64 {
	var out [][]float64
	for _, node := range net.Learnables() {
		data := node.Value().Data().([]float64)
		out = append(out, append([]float64(nil), data...))
	}
	return out
}

func TestPolyak(t *testing.T) {
	online := newTestMLP(t, "online", 1)
	target := newTestMLP(t, "target", 1)

	before := params(target)
	if err := Polyak(target, online, 0); err != nil {
		t.Fatalf("polyak: %v", err)
	}
	for i, p := range params(target) {
		for j := range p {
			if p[j] != before[i][j] {
				t.Fatalf("tau = 0 changed parameter %d", i)
			}
		}
	}

	tau := 0.3
	if err := Polyak(target, online, tau); err != nil {
		t.Fatalf("polyak: %v", err)
	}
	onlineParams := params(online)
	for i, p := range params(target) {
		for j := range p {
			want := tau*onlineParams[i][j] + (1-tau)*before[i][j]
			if math.Abs(p[j]-want) > 1e-12 {
				t.Fatalf("tau = %v parameter %d[%d]: want(%v) have(%v)", tau,
					i, j, want, p[j])
			}
		}
	}

	if err := Polyak(target, online, 1); err != nil {
		t.Fatalf("polyak: %v", err)
	}
	for i, p := range params(target) {
		for j := range p {
			if p[j] != onlineParams[i][j] {
				t.Fatalf("tau = 1 did not copy parameter %d", i)
			}
		}
	}

	if err := Polyak(target, online, 1.5); err == nil {
		t.Errorf("want error for tau outside [0, 1]")
	}
}

func TestCloneWithBatch(t *testing.T) {
	net := newTestMLP(t, "actor", 1)
	clone, err := net.CloneWithBatch(2)
	if err != nil {
		t.Fatalf("clonewithbatch: %v", err)
	}
	if clone.BatchSize() != 2 || clone.Features() != 4 || clone.Outputs() != 2 {
		t.Fatalf("clone shape: have(%v, %v, %v)", clone.BatchSize(),
			clone.Features(), clone.Outputs())
	}

	single := forward(t, net, []float64{0.1, -0.2, 0.3}, []float64{0.5})
	batch := forward(t, clone, []float64{0.1, -0.2, 0.3, 1, 1, 1},
		[]float64{0.5, -1})
	for i := range single {
		if math.Abs(single[i]-batch[i]) > 1e-12 {
			t.Errorf("output %d: want(%v) have(%v)", i, single[i], batch[i])
		}
	}

	// Clones own their parameters
	clone.Learnables()[0].Value().Data().([]float64)[0] += 1
	if net.Learnables()[0].Value().Data().([]float64)[0] ==
		clone.Learnables()[0].Value().Data().([]float64)[0] {
		t.Errorf("clone shares parameters with its source")
	}
}

func TestGobRoundTrip(t *testing.T) {
	net := newTestMLP(t, "actor", 1)
	state := []float64{0.7, 0.1, -0.4}
	action := []float64{-0.3}
	want := forward(t, net, state, action)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(net); err != nil {
		t.Fatalf("encode: %v", err)
	}

	restored := &MLP{}
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	have := forward(t, restored, state, action)
	for i := range want {
		if math.Float64bits(want[i]) != math.Float64bits(have[i]) {
			t.Errorf("output %d not bit-identical: want(%v) have(%v)", i,
				want[i], have[i])
		}
	}
}

func TestSetInputValidation(t *testing.T) {
	net := newTestMLP(t, "critic", 2)
	if err := net.SetInput([]float64{1, 2, 3}); err == nil {
		t.Errorf("want error for missing input")
	}
	if err := net.SetInput(make([]float64, 5), make([]float64, 2)); err == nil {
		t.Errorf("want error for wrong input size")
	}
}

func TestActivationByName(t *testing.T) {
	for _, name := range []string{"relu", "tanh", "identity"} {
		act, err := ActivationByName(name)
		if err != nil {
			t.Fatalf("activationbyname(%q): %v", name, err)
		}
		if act.String() != name {
			t.Errorf("want(%v) have(%v)", name, act.String())
		}
	}
	if _, err := ActivationByName("softsign"); err == nil {
		t.Errorf("want error for unknown activation")
	}
}
