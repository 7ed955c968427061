// Package gae implements return and advantage estimation over ordered
// trajectories: plain discounted returns and generalized advantage
// estimates, GAE(λ), following https://arxiv.org/abs/1506.02438.
//
// Trajectories are given as parallel slices of rewards and
// continuation masks. A mask is 0 on the step that ended an episode
// and the discount factor ℽ otherwise, so the recursions below reset
// at episode boundaries without tracking episode identity.
package gae

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Epsilon is added to the standard deviation when normalizing
// advantages
const Epsilon = 1e-5

// Discounted returns the discounted return of each step of a
// trajectory, computed with the backward recursion:
//
//	R[n-1] = r[n-1]
//	R[i]   = r[i] + mask[i] * R[i+1]
func Discounted(rewards, masks []float64) ([]float64, error) {
	if len(rewards) != len(masks) {
		return nil, fmt.Errorf("discounted: rewards and masks must have "+
			"the same length\n\twant(%v)\n\thave(%v)", len(rewards),
			len(masks))
	}

	returns := make([]float64, len(rewards))
	next := 0.0
	for i := len(rewards) - 1; i >= 0; i-- {
		returns[i] = rewards[i] + masks[i]*next
		next = returns[i]
	}
	return returns, nil
}

// GAE computes both the discounted return of each step and its
// GAE(λ) advantage given a value estimate per step. The advantage
// recursion is seeded with a zero value beyond the last step:
//
//	A[i]     = r[i] + mask[i] * prevGAE - V[i]
//	prevGAE  = V[i] + λ * A[i]
//
// With λ = 1 the advantage is R[i] - V[i]. With λ = 0 it is the
// one-step temporal difference error r[i] + mask[i] * V[i+1] - V[i].
// Advantages are returned unnormalized.
func GAE(rewards, masks, values []float64, lambda float64) (returns,
	advantages []float64, err error) {
	if len(rewards) != len(values) {
		return nil, nil, fmt.Errorf("gae: rewards and values must have "+
			"the same length\n\twant(%v)\n\thave(%v)", len(rewards),
			len(values))
	}

	returns, err = Discounted(rewards, masks)
	if err != nil {
		return nil, nil, fmt.Errorf("gae: %v", err)
	}

	advantages = make([]float64, len(rewards))
	prevGAE := 0.0
	for i := len(rewards) - 1; i >= 0; i-- {
		advantages[i] = rewards[i] + masks[i]*prevGAE - values[i]
		prevGAE = values[i] + advantages[i]*lambda
	}
	return returns, advantages, nil
}

// Advantage returns the plain full-trajectory advantage R[i] - V[i]
func Advantage(returns, values []float64) ([]float64, error) {
	if len(returns) != len(values) {
		return nil, fmt.Errorf("advantage: returns and values must have "+
			"the same length\n\twant(%v)\n\thave(%v)", len(returns),
			len(values))
	}

	adv := make([]float64, len(returns))
	floats.SubTo(adv, returns, values)
	return adv, nil
}

// Normalize returns the advantages divided by their standard
// deviation plus Epsilon. Advantages are not centered.
func Normalize(advantages []float64) []float64 {
	out := make([]float64, len(advantages))
	copy(out, advantages)
	if len(out) < 2 {
		return out
	}

	std := stat.StdDev(out, nil)
	floats.Scale(1/(std+Epsilon), out)
	return out
}
