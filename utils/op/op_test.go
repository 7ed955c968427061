package op

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// matrix returns a new (rows, cols) matrix node holding data
func matrix(g *G.ExprGraph, name string, rows, cols int,
	data []float64) *G.Node {
	backing := append([]float64(nil), data...)
	return G.NewMatrix(g, tensor.Float64, G.WithShape(rows, cols),
		G.WithName(name), G.WithValue(tensor.New(tensor.WithShape(rows, cols),
			tensor.WithBacking(backing))))
}

// run runs the graph of out, computing gradients of the bound nodes,
// and returns the values of out
func run(t *testing.T, out *G.Node, bound ...*G.Node) []float64 {
	t.Helper()
	var vm G.VM
	if len(bound) > 0 {
		vm = G.NewTapeMachine(out.Graph(), G.BindDualValues(bound...))
	} else {
		vm = G.NewTapeMachine(out.Graph())
	}
	t.Cleanup(func() { vm.Close() })

	if err := vm.RunAll(); err != nil {
		t.Fatalf("runall: %v", err)
	}
	switch v := out.Value().Data().(type) {
	case float64:
		return []float64{v}
	case []float64:
		return append([]float64(nil), v...)
	}
	t.Fatalf("node %v holds %T", out.Name(), out.Value().Data())
	return nil
}

// grad returns the gradient held by n after a run
func grad(t *testing.T, n *G.Node) []float64 {
	t.Helper()
	g, err := n.Grad()
	if err != nil {
		t.Fatalf("grad: %v", err)
	}
	return g.Data().([]float64)
}

func equal(t *testing.T, name string, want, have []float64) {
	t.Helper()
	if len(want) != len(have) {
		t.Fatalf("%v: want(%v) have(%v)", name, want, have)
	}
	for i := range want {
		if math.Abs(want[i]-have[i]) > 1e-9 {
			t.Errorf("%v: want(%v) have(%v)", name, want, have)
			return
		}
	}
}

func TestElementwise(t *testing.T) {
	a := []float64{1, 5, 3, -2}
	b := []float64{2, 4, 3, -1}

	tests := []struct {
		name string
		fn   func(a, b *G.Node) (*G.Node, error)
		want []float64
	}{
		{"Min", Min, []float64{1, 4, 3, -2}},
		{"Max", Max, []float64{2, 5, 3, -1}},
	}

	for _, test := range tests {
		g := G.NewGraph()
		out, err := test.fn(matrix(g, "a", 2, 2, a), matrix(g, "b", 2, 2, b))
		if err != nil {
			t.Fatalf("%v: %v", test.name, err)
		}
		equal(t, test.name, test.want, run(t, out))
	}
}

func TestMinGradient(t *testing.T) {
	g := G.NewGraph()
	a := matrix(g, "a", 1, 3, []float64{1, 5, 3})
	b := matrix(g, "b", 1, 3, []float64{2, 4, 3})
	min, err := Min(a, b)
	if err != nil {
		t.Fatal(err)
	}
	loss := G.Must(G.Sum(min))
	if _, err := G.Grad(loss, a, b); err != nil {
		t.Fatal(err)
	}
	run(t, loss, a, b)

	// Ties pass the gradient to the first node
	equal(t, "grad a", []float64{1, 0, 1}, grad(t, a))
	equal(t, "grad b", []float64{0, 1, 0}, grad(t, b))
}

func TestClamp(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 1, 5, []float64{-3, -1, -0.5, 0.5, 3})
	clamped, err := Clamp(x, -1, 1)
	if err != nil {
		t.Fatal(err)
	}
	loss := G.Must(G.Sum(clamped))
	if _, err := G.Grad(loss, x); err != nil {
		t.Fatal(err)
	}
	run(t, loss, x)

	equal(t, "clamp", []float64{-1, -1, -0.5, 0.5, 1},
		clamped.Value().Data().([]float64))
	equal(t, "grad", []float64{0, 1, 1, 1, 0}, grad(t, x))

	if _, err := Clamp(x, 1, -1); err == nil {
		t.Error("clamp with min above max accepted")
	}
}

func TestSmoothL1(t *testing.T) {
	g := G.NewGraph()
	d := matrix(g, "d", 1, 5, []float64{-3, -0.5, 0, 0.5, 2})
	out, err := SmoothL1(d)
	if err != nil {
		t.Fatal(err)
	}
	equal(t, "smoothl1", []float64{2.5, 0.125, 0, 0.125, 1.5}, run(t, out))
}

func TestLosses(t *testing.T) {
	pred := []float64{1, 2}
	target := []float64{0, 4}

	tests := []struct {
		name string
		fn   func(pred, target *G.Node) (*G.Node, error)
		want float64
	}{
		{"MSE", MSE, 2.5},
		{"MeanSmoothL1", MeanSmoothL1, 1},
	}

	for _, test := range tests {
		g := G.NewGraph()
		out, err := test.fn(matrix(g, "pred", 1, 2, pred),
			matrix(g, "target", 1, 2, target))
		if err != nil {
			t.Fatalf("%v: %v", test.name, err)
		}
		equal(t, test.name, []float64{test.want}, run(t, out))
	}
}

func TestColumns(t *testing.T) {
	data := []float64{
		1, 2, 3,
		4, 5, 6,
	}

	g := G.NewGraph()
	x := matrix(g, "x", 2, 3, data)
	cols, err := Columns(x, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	loss := G.Must(G.Sum(cols))
	if _, err := G.Grad(loss, x); err != nil {
		t.Fatal(err)
	}
	run(t, loss, x)
	equal(t, "columns", []float64{2, 3, 5, 6},
		cols.Value().Data().([]float64))
	equal(t, "grad", []float64{0, 1, 1, 0, 1, 1}, grad(t, x))

	g = G.NewGraph()
	col, err := Column(matrix(g, "x", 2, 3, data), 2)
	if err != nil {
		t.Fatal(err)
	}
	equal(t, "column", []float64{3, 6}, run(t, col))

	for _, sel := range [][2]int{{-1, 1}, {2, 2}, {0, 0}} {
		if _, err := Columns(x, sel[0], sel[1]); err == nil {
			t.Errorf("selection %v of 3 columns accepted", sel)
		}
	}
	vec := G.NewVector(g, tensor.Float64, G.WithShape(3), G.WithName("v"))
	if _, err := Columns(vec, 0, 1); err == nil {
		t.Error("column selection of a vector accepted")
	}
}

func TestBroadcast(t *testing.T) {
	g := G.NewGraph()
	row := matrix(g, "row", 1, 2, []float64{1, 2})
	out, err := Broadcast(row, 3)
	if err != nil {
		t.Fatal(err)
	}
	equal(t, "broadcast", []float64{1, 2, 1, 2, 1, 2}, run(t, out))

	if _, err := Broadcast(matrix(g, "m", 2, 2, make([]float64, 4)),
		3); err == nil {
		t.Error("broadcast of a non-row matrix accepted")
	}
}

func TestDiagGaussianLogProb(t *testing.T) {
	c := math.Log(math.Sqrt(2 * math.Pi))

	g := G.NewGraph()
	mean := matrix(g, "mean", 2, 2, []float64{0, 0, 1, 0})
	logStd := matrix(g, "logstd", 2, 2, []float64{0, 0, math.Log(2), 0})
	actions := matrix(g, "actions", 2, 2, []float64{0, 0, 3, 1})
	out, err := DiagGaussianLogProb(mean, logStd, actions)
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{
		-2 * c,
		-(math.Log(2) + c + 0.5) - (c + 0.5),
	}
	equal(t, "logprob", want, run(t, out))
}
