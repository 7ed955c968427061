// Package network implements gorgonia function approximators and the
// routines that synchronize target networks with online networks.
package network

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
)

// Parameterized is anything that exposes an ordered list of learnable
// parameter nodes. Two Parameterized values with the same architecture
// list their parameters in the same order with the same shapes.
type Parameterized interface {
	Learnables() G.Nodes
}

// NeuralNet is a function approximator built on a gorgonia graph
type NeuralNet interface {
	Parameterized
	Graph() *G.ExprGraph
	BatchSize() int
	Features() int
	Outputs() int
	SetInput(...[]float64) error
	Model() []G.ValueGrad
	Prediction() *G.Node
	Output() []float64
}

// Set sets the parameters of dst to be equal to the parameters of src.
// It is equivalent to Polyak(dst, src, 1).
func Set(dst, src Parameterized) error {
	dstNodes, srcNodes, err := pair(dst, src)
	if err != nil {
		return fmt.Errorf("set: %v", err)
	}

	for i := range dstNodes {
		copy(dstNodes[i], srcNodes[i])
	}
	return nil
}

// Polyak blends the parameters of dst toward the parameters of src:
//
//	dst ← tau * src + (1 - tau) * dst
//
// applied elementwise to every parameter pair. A tau of 0 leaves dst
// unchanged and a tau of 1 copies src exactly.
func Polyak(dst, src Parameterized, tau float64) error {
	if tau < 0 || tau > 1 {
		return fmt.Errorf("polyak: tau must be in [0, 1]\n\thave(%v)", tau)
	}
	if tau == 1 {
		return Set(dst, src)
	}

	dstNodes, srcNodes, err := pair(dst, src)
	if err != nil {
		return fmt.Errorf("polyak: %v", err)
	}
	if tau == 0 {
		return nil
	}

	for i := range dstNodes {
		floats.Scale(1-tau, dstNodes[i])
		floats.AddScaled(dstNodes[i], tau, srcNodes[i])
	}
	return nil
}

// pair returns the backing data of matching parameters of dst and src
func pair(dst, src Parameterized) ([][]float64, [][]float64, error) {
	dstLearnables := dst.Learnables()
	srcLearnables := src.Learnables()
	if len(dstLearnables) != len(srcLearnables) {
		return nil, nil, fmt.Errorf("invalid number of parameters"+
			"\n\twant(%v)\n\thave(%v)", len(dstLearnables),
			len(srcLearnables))
	}

	dstData := make([][]float64, len(dstLearnables))
	srcData := make([][]float64, len(srcLearnables))
	for i := range dstLearnables {
		if !dstLearnables[i].Shape().Eq(srcLearnables[i].Shape()) {
			return nil, nil, fmt.Errorf("invalid shape for parameter %v"+
				"\n\twant(%v)\n\thave(%v)", i, dstLearnables[i].Shape(),
				srcLearnables[i].Shape())
		}
		dstData[i] = dstLearnables[i].Value().Data().([]float64)
		srcData[i] = srcLearnables[i].Value().Data().([]float64)
	}
	return dstData, srcData, nil
}
