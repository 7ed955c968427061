package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newfcLayer adds the parameters of a fully connected layer mapping in
// features to out features to the graph g
func newfcLayer(g *G.ExprGraph, name string, in, out int, bias bool,
	act *Activation, init G.InitWFn) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithName(name+"_W"),
		G.WithInit(init),
	)

	var b *G.Node
	if bias {
		b = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(1, out),
			G.WithName(name+"_b"),
			G.WithInit(G.Zeroes()),
		)
	}

	return &fcLayer{weights: weights, bias: b, act: act}
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	x, err := G.Mul(x, f.weights)
	if err != nil {
		return nil, err
	}
	if f.bias != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x, err = G.BroadcastAdd(x, f.bias, nil, []byte{0})
		if err != nil {
			return nil, err
		}
	}
	if f.act == nil {
		return x, nil
	}
	return f.act.fwd(x)
}

// cloneTo clones an fcLayer to a new computational graph under a new
// name. Parameter values are deep copied.
func (f *fcLayer) cloneTo(g *G.ExprGraph, name string) *fcLayer {
	var newBias *G.Node
	if f.bias != nil {
		newBias = copyNode(g, f.bias, name+"_b")
	}

	return &fcLayer{
		weights: copyNode(g, f.weights, name+"_W"),
		bias:    newBias,
		act:     f.act,
	}
}

// copyNode returns a new matrix node in g holding a copy of the value
// of node
func copyNode(g *G.ExprGraph, node *G.Node, name string) *G.Node {
	data := node.Value().Data().([]float64)
	backing := make([]float64, len(data))
	copy(backing, data)

	value := tensor.New(
		tensor.WithShape(node.Shape().Clone()...),
		tensor.WithBacking(backing),
	)
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(node.Shape().Clone()...),
		G.WithName(name),
		G.WithValue(value),
	)
}

// layerName returns the name of layer i of a network
func layerName(network string, i int) string {
	return fmt.Sprintf("%s_L%d", network, i)
}
