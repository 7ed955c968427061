package agent

import (
	"fmt"

	"github.com/samuelfneumann/drlcore/network"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// learner adapts the parameters of a network using a loss computed in
// the network's graph. Each learner owns its solver, so that solver
// state such as Adam's moment estimates is never shared between
// networks.
type learner struct {
	vm     G.VM
	solver G.Solver
	model  []G.ValueGrad
	loss   *G.Node
}

// newLearner computes the gradient of loss with respect to learnables
// and compiles the loss's graph
func newLearner(loss *G.Node, solver G.Solver,
	learnables G.Nodes) (*learner, error) {
	if _, err := G.Grad(loss, learnables...); err != nil {
		return nil, fmt.Errorf("newlearner: could not compute gradient: %v",
			err)
	}

	model := make([]G.ValueGrad, len(learnables))
	for i := range learnables {
		model[i] = learnables[i]
	}

	vm := G.NewTapeMachine(loss.Graph(), G.BindDualValues(learnables...))
	return &learner{vm: vm, solver: solver, model: model, loss: loss}, nil
}

// forward computes the loss and its gradients. Node values can be read
// until the next call to step or skip.
func (l *learner) forward() (float64, error) {
	if err := l.vm.RunAll(); err != nil {
		l.vm.Reset()
		return 0, fmt.Errorf("forward: %v", err)
	}
	return scalar(l.loss)
}

// step applies the gradients computed by the last forward pass
func (l *learner) step() error {
	defer l.vm.Reset()
	if err := l.solver.Step(l.model); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	return nil
}

// skip discards the gradients computed by the last forward pass
func (l *learner) skip() {
	l.vm.Reset()
}

// update performs a forward pass followed by a gradient step and
// returns the loss
func (l *learner) update() (float64, error) {
	loss, err := l.forward()
	if err != nil {
		return 0, err
	}
	return loss, l.step()
}

func (l *learner) close() error {
	return l.vm.Close()
}

// predictor runs the forward pass of a network that is never trained
// directly, such as a behaviour or target network
type predictor struct {
	net *network.MLP
	vm  G.VM
}

func newPredictor(net *network.MLP) *predictor {
	return &predictor{net: net, vm: G.NewTapeMachine(net.Graph())}
}

// run sets the inputs of the network and runs its graph. Node values
// can be read until the next call to run.
func (p *predictor) run(inputs ...[]float64) error {
	p.vm.Reset()
	if err := p.net.SetInput(inputs...); err != nil {
		return err
	}
	if err := p.vm.RunAll(); err != nil {
		return fmt.Errorf("run: %v", err)
	}
	return nil
}

// predict returns the output of the network on the inputs
func (p *predictor) predict(inputs ...[]float64) ([]float64, error) {
	if err := p.run(inputs...); err != nil {
		return nil, err
	}
	return p.net.Output(), nil
}

func (p *predictor) close() error {
	return p.vm.Close()
}

// scalar returns the value of a node holding a single float64
func scalar(n *G.Node) (float64, error) {
	switch v := n.Value().(type) {
	case *G.F64:
		return float64(*v), nil

	case tensor.Tensor:
		switch data := v.Data().(type) {
		case float64:
			return data, nil
		case []float64:
			if len(data) == 1 {
				return data[0], nil
			}
		}
	}
	return 0, fmt.Errorf("scalar: node %v does not hold a float64 scalar",
		n.Name())
}

// values returns a copy of the float64 values held by a node
func values(n *G.Node) ([]float64, error) {
	if n.Value() == nil {
		return nil, fmt.Errorf("values: node %v has no value", n.Name())
	}
	data, ok := n.Value().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("values: node %v does not hold float64 "+
			"values", n.Name())
	}
	return append([]float64(nil), data...), nil
}

// let sets the value of an input node to a copy of data
func let(n *G.Node, data []float64) error {
	if len(data) != n.Shape().TotalSize() {
		return fmt.Errorf("let: invalid size for node %v\n\twant(%v)"+
			"\n\thave(%v)", n.Name(), n.Shape().TotalSize(), len(data))
	}
	backing := make([]float64, len(data))
	copy(backing, data)
	t := tensor.New(
		tensor.WithBacking(backing),
		tensor.WithShape(n.Shape().Clone()...),
	)
	return G.Let(n, t)
}

// newInput returns a zero-initialized matrix input node of shape
// (rows, cols), or a vector input node if cols is 0
func newInput(g *G.ExprGraph, name string, rows, cols int) *G.Node {
	if cols == 0 {
		return G.NewVector(g, tensor.Float64, G.WithShape(rows),
			G.WithName(name), G.WithInit(G.Zeroes()))
	}
	return G.NewMatrix(g, tensor.Float64, G.WithShape(rows, cols),
		G.WithName(name), G.WithInit(G.Zeroes()))
}

// fill returns a slice of n copies of v
func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// closeAll closes every closer, returning the first error
func closeAll(closers ...interface{ close() error }) error {
	var first error
	for _, c := range closers {
		if err := c.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
