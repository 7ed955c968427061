// Package op provides extended Gorgonia graph operations.
//
// Min and Max are adapted from aunum/gold on GitHub
package op

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Min returns the elementwise min value between the nodes. If values
// are equal the first value is returned. Either node may be a scalar.
func Min(a *G.Node, b *G.Node) (retVal *G.Node, err error) {
	aMask, err := G.Lte(a, b, true)
	if err != nil {
		return nil, err
	}
	aVal, err := G.HadamardProd(a, aMask)
	if err != nil {
		return nil, err
	}

	bMask, err := G.Lt(b, a, true)
	if err != nil {
		return nil, err
	}
	bVal, err := G.HadamardProd(b, bMask)
	if err != nil {
		return nil, err
	}
	return G.Add(aVal, bVal)
}

// Max returns the elementwise max value between the nodes. If values
// are equal the first value is returned. Either node may be a scalar.
func Max(a *G.Node, b *G.Node) (retVal *G.Node, err error) {
	aMask, err := G.Gte(a, b, true)
	if err != nil {
		return nil, err
	}
	aVal, err := G.HadamardProd(a, aMask)
	if err != nil {
		return nil, err
	}

	bMask, err := G.Gt(b, a, true)
	if err != nil {
		return nil, err
	}
	bVal, err := G.HadamardProd(b, bMask)
	if err != nil {
		return nil, err
	}
	return G.Add(aVal, bVal)
}

// Clamp clamps each element of value to [min, max]. Values equal to a
// bound are kept.
func Clamp(value *G.Node, min, max float64) (*G.Node, error) {
	if min > max {
		return nil, fmt.Errorf("clamp: min must not exceed max\n\t"+
			"want(<= %v)\n\thave(%v)", max, min)
	}

	upper, err := Min(value, G.NewConstant(max))
	if err != nil {
		return nil, fmt.Errorf("clamp: %v", err)
	}
	return Max(upper, G.NewConstant(min))
}

// SmoothL1 returns the elementwise Huber loss with threshold 1 of a
// difference node:
//
//	0.5 * d^2     if |d| < 1
//	|d| - 0.5     otherwise
func SmoothL1(diff *G.Node) (*G.Node, error) {
	abs, err := G.Abs(diff)
	if err != nil {
		return nil, err
	}
	quad, err := Min(abs, G.NewConstant(1.0))
	if err != nil {
		return nil, err
	}

	sq := G.Must(G.Square(quad))
	sq = G.Must(G.HadamardProd(sq, G.NewConstant(0.5)))
	lin := G.Must(G.Sub(abs, quad))

	return G.Add(sq, lin)
}

// MSE returns the mean squared error between two nodes of the same
// shape
func MSE(pred, target *G.Node) (*G.Node, error) {
	diff, err := G.Sub(pred, target)
	if err != nil {
		return nil, err
	}
	return G.Mean(G.Must(G.Square(diff)))
}

// MeanSmoothL1 returns the mean Huber loss between two nodes of the
// same shape
func MeanSmoothL1(pred, target *G.Node) (*G.Node, error) {
	diff, err := G.Sub(pred, target)
	if err != nil {
		return nil, err
	}
	loss, err := SmoothL1(diff)
	if err != nil {
		return nil, err
	}
	return G.Mean(loss)
}

// Columns selects width consecutive columns starting at column start
// of a matrix node, returning a (rows, width) matrix. Selection is a
// product with a constant 0/1 matrix so that gradients flow back to
// the selected columns only.
func Columns(x *G.Node, start, width int) (*G.Node, error) {
	if !x.IsMatrix() {
		return nil, fmt.Errorf("columns: input must be a matrix")
	}
	cols := x.Shape()[1]
	if start < 0 || width < 1 || start+width > cols {
		return nil, fmt.Errorf("columns: invalid selection [%v, %v) of %v "+
			"columns", start, start+width, cols)
	}

	backing := make([]float64, cols*width)
	for j := 0; j < width; j++ {
		backing[(start+j)*width+j] = 1
	}
	selector := G.NewConstant(
		tensor.New(tensor.WithShape(cols, width), tensor.WithBacking(backing)),
		G.WithName(fmt.Sprintf("select_%d_%d_of_%d", start, width, cols)),
	)
	return G.Mul(x, selector)
}

// Column selects a single column of a matrix node and returns it as a
// vector
func Column(x *G.Node, col int) (*G.Node, error) {
	selected, err := Columns(x, col, 1)
	if err != nil {
		return nil, err
	}
	return G.Sum(selected, 1)
}

// Broadcast returns the (rows, n) matrix formed by repeating the
// (1, n) row matrix row over rows rows
func Broadcast(row *G.Node, rows int) (*G.Node, error) {
	if !row.IsMatrix() || row.Shape()[0] != 1 {
		return nil, fmt.Errorf("broadcast: input must be a row matrix")
	}

	ones := make([]float64, rows)
	for i := range ones {
		ones[i] = 1
	}
	column := G.NewConstant(
		tensor.New(tensor.WithShape(rows, 1), tensor.WithBacking(ones)),
		G.WithName(fmt.Sprintf("ones_%d", rows)),
	)
	return G.Mul(column, row)
}

// DiagGaussianLogProb returns the log density of actions under a
// diagonal Gaussian with the given mean and log standard deviation,
// summed over the action dimensions. All arguments must be
// (batch, actionDims) matrices and the result is a batch vector:
//
//	-Σ_j [ logStd_j + log(√(2π)) + ½ ((a_j - μ_j) / exp(logStd_j))² ]
func DiagGaussianLogProb(mean, logStd, actions *G.Node) (*G.Node, error) {
	std, err := G.Exp(logStd)
	if err != nil {
		return nil, err
	}
	z := G.Must(G.Sub(actions, mean))
	z = G.Must(G.HadamardDiv(z, std))
	z = G.Must(G.Square(z))
	z = G.Must(G.HadamardProd(z, G.NewConstant(0.5)))

	terms := G.Must(G.Add(logStd, z))
	terms = G.Must(G.Add(terms, G.NewConstant(math.Log(math.Sqrt(2*math.Pi)))))

	sum, err := G.Sum(terms, 1)
	if err != nil {
		return nil, err
	}
	return G.Neg(sum)
}
