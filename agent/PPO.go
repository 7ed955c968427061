package agent

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/drlcore/buffer/expreplay"
	"github.com/samuelfneumann/drlcore/buffer/gae"
	"github.com/samuelfneumann/drlcore/network"
	"github.com/samuelfneumann/drlcore/policy"
	"github.com/samuelfneumann/drlcore/utils/floatutils"
	"github.com/samuelfneumann/drlcore/utils/op"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ppo implements the PPO and GaePPO strategies. The policy is a
// diagonal Gaussian whose mean is computed by the actor network and
// whose log standard deviation is a learned, state independent vector.
// The actor minimizes the clipped surrogate objective
//
//	-mean[ min(ratio * A, clip(ratio, 1 - ε, 1 + ε) * A) ]
//
// where ratio = exp(log π(a|s) - log π_old(a|s)). Plain PPO uses the
// full-trajectory advantage R - V and GaePPO uses GAE(λ) advantages
// plus an entropy term. Advantages are normalized by their standard
// deviation. The critic regresses the discounted return with a
// smooth L1 loss scaled by 1 / std(returns).
type ppo struct {
	kind        PolicyKind
	actionDim   int
	stateDim    int
	batchSize   int
	repeat      float64
	lambda      float64
	entropyCoef float64

	rng      *rand.Rand
	gaussian *policy.DiagGaussian

	behaviour *predictor // Mean network selecting single actions
	logStd    *G.Node    // Learned (1, actionDim) log standard deviation

	actorNet     *network.MLP
	actorLearner *learner
	actions      *G.Node
	advantages   *G.Node
	oldLogProbs  *G.Node

	criticNet     *network.MLP
	criticLearner *learner
	returns       *G.Node
	weights       *G.Node // Per-sample scale of the critic loss

	// criticEval computes state values over whole trajectories
	criticEval *predictor
}

// newPPO returns a new PPO strategy
func newPPO(c Config, stateDim, actionDim int) (strategy, error) {
	batch := c.BatchSize

	behaviourNet, err := newNet(c, "actor", G.NewGraph(), []int{stateDim},
		1, actionDim, network.Identity(), 0)
	if err != nil {
		return nil, fmt.Errorf("could not create actor: %v", err)
	}
	criticNet, err := newNet(c, "critic", G.NewGraph(), []int{stateDim},
		batch, 1, network.Identity(), 1)
	if err != nil {
		return nil, fmt.Errorf("could not create critic: %v", err)
	}
	criticEval, err := criticNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create critic: %v", err)
	}

	// Actor loss
	actorNet, err := behaviourNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create training actor: %v", err)
	}
	gActor := actorNet.Graph()
	logStd := G.NewMatrix(
		gActor,
		tensor.Float64,
		G.WithShape(1, actionDim),
		G.WithName("actor_logStd"),
		G.WithValue(tensor.New(
			tensor.WithShape(1, actionDim),
			tensor.WithBacking(fill(actionDim, c.InitLogStd)),
		)),
	)
	actions := newInput(gActor, "actions", batch, actionDim)
	advantages := newInput(gActor, "advantages", batch, 0)
	oldLogProbs := newInput(gActor, "oldLogProbs", batch, 0)

	logStdBatch, err := op.Broadcast(logStd, batch)
	if err != nil {
		return nil, err
	}
	logProbs, err := op.DiagGaussianLogProb(actorNet.Prediction(),
		logStdBatch, actions)
	if err != nil {
		return nil, fmt.Errorf("could not compute log probabilities: %v",
			err)
	}
	actorLoss, err := clippedSurrogate(logProbs, oldLogProbs, advantages,
		c.ClipRatio)
	if err != nil {
		return nil, fmt.Errorf("could not compute surrogate: %v", err)
	}

	entropyCoef := 0.0
	if c.Kind == GaePPO {
		entropyCoef = c.EntropyCoef
	}
	if entropyCoef != 0 {
		// mean[π(a|s) log π(a|s)]
		entropy := G.Must(G.HadamardProd(G.Must(G.Exp(logProbs)), logProbs))
		entropy = G.Must(G.Mean(entropy))
		entropy = G.Must(G.Mul(entropy, G.NewConstant(entropyCoef)))
		actorLoss = G.Must(G.Add(actorLoss, entropy))
	}

	learnables := append(G.Nodes{}, actorNet.Learnables()...)
	learnables = append(learnables, logStd)
	actor, err := newLearner(actorLoss, c.Solver.Create(), learnables)
	if err != nil {
		return nil, err
	}

	// Critic loss
	gCritic := criticNet.Graph()
	returns := newInput(gCritic, "returns", batch, 0)
	weights := newInput(gCritic, "criticWeights", batch, 0)
	value, err := op.Column(criticNet.Prediction(), 0)
	if err != nil {
		return nil, err
	}
	criticLoss, err := op.SmoothL1(G.Must(G.Sub(value, returns)))
	if err != nil {
		return nil, fmt.Errorf("could not compute critic loss: %v", err)
	}
	criticLoss = G.Must(G.Mean(G.Must(G.HadamardProd(criticLoss, weights))))
	critic, err := newLearner(criticLoss, c.Solver.Create(),
		criticNet.Learnables())
	if err != nil {
		return nil, err
	}

	return &ppo{
		kind:          c.Kind,
		actionDim:     actionDim,
		stateDim:      stateDim,
		batchSize:     batch,
		repeat:        c.RepeatTimes,
		lambda:        c.LambdaGAE,
		entropyCoef:   entropyCoef,
		rng:           rand.New(rand.NewSource(c.Seed + seedSampler)),
		gaussian:      policy.NewDiagGaussian(c.Seed + seedExplore),
		behaviour:     newPredictor(behaviourNet),
		logStd:        logStd,
		actorNet:      actorNet,
		actorLearner:  actor,
		actions:       actions,
		advantages:    advantages,
		oldLogProbs:   oldLogProbs,
		criticNet:     criticNet,
		criticLearner: critic,
		returns:       returns,
		weights:       weights,
		criticEval:    newPredictor(criticEval),
	}, nil
}

// clippedSurrogate returns the negated clipped surrogate objective
//
//	-mean[ min(ratio * A, clip(ratio, 1 - ε, 1 + ε) * A) ]
func clippedSurrogate(logProbs, oldLogProbs, advantages *G.Node,
	clip float64) (*G.Node, error) {
	ratio, err := G.Exp(G.Must(G.Sub(logProbs, oldLogProbs)))
	if err != nil {
		return nil, err
	}
	surrogate1, err := G.HadamardProd(advantages, ratio)
	if err != nil {
		return nil, err
	}
	clipped, err := op.Clamp(ratio, 1-clip, 1+clip)
	if err != nil {
		return nil, err
	}
	surrogate2, err := G.HadamardProd(advantages, clipped)
	if err != nil {
		return nil, err
	}
	surrogate, err := op.Min(surrogate1, surrogate2)
	if err != nil {
		return nil, err
	}
	return G.Neg(G.Must(G.Mean(surrogate)))
}

// ClippedSurrogate returns the clipped surrogate term of a single
// sample, min(ratio * A, clip(ratio, 1 - ε, 1 + ε) * A), which the PPO
// actor maximizes
func ClippedSurrogate(ratio, advantage, clip float64) float64 {
	clipped := floatutils.Clip(ratio, 1-clip, 1+clip)
	return math.Min(ratio*advantage, clipped*advantage)
}

// currentLogStd returns the current log standard deviation of the
// policy
func (p *ppo) currentLogStd() ([]float64, error) {
	return values(p.logStd)
}

func (p *ppo) explore(state []float64) ([]float64, []float64, []float64,
	error) {
	mean, err := p.behaviour.predict(state)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("explore: %v", err)
	}
	logStd, err := p.currentLogStd()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("explore: %v", err)
	}
	action, noise, err := p.gaussian.Sample(mean, logStd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("explore: %v", err)
	}

	envAction := append([]float64(nil), action...)
	floatutils.Tanh(envAction)
	return envAction, action, noise, nil
}

func (p *ppo) exploit(state []float64) ([]float64, error) {
	mean, err := p.behaviour.predict(state)
	if err != nil {
		return nil, fmt.Errorf("exploit: %v", err)
	}
	floatutils.Tanh(mean)
	return mean, nil
}

// stateValues returns the critic's value of each of the n row-major
// states, evaluated batchSize states at a time
func (p *ppo) stateValues(states []float64, n int) ([]float64, error) {
	out := make([]float64, 0, n)
	chunk := make([]float64, p.batchSize*p.stateDim)
	for start := 0; start < n; start += p.batchSize {
		rows := p.batchSize
		if start+rows > n {
			rows = n - start
		}
		for i := range chunk {
			chunk[i] = 0
		}
		copy(chunk, states[start*p.stateDim:(start+rows)*p.stateDim])

		v, err := p.criticEval.predict(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, v[:rows]...)
	}
	return out, nil
}

func (p *ppo) update(buf Buffer, _ int, diag *diagnostics) error {
	traj, ok := buf.(*expreplay.Trajectory)
	if !ok {
		return fmt.Errorf("update: %v agents need a trajectory buffer"+
			"\n\thave(%T)", p.kind, buf)
	}
	rollout, err := traj.SampleAll()
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	n := rollout.Size
	if n == 0 {
		return nil
	}

	// Returns, advantages and the log probabilities of the actions
	// under the policy that selected them
	stateValues, err := p.stateValues(rollout.State, n)
	if err != nil {
		return fmt.Errorf("update: could not compute state values: %v", err)
	}
	var returns, advantages []float64
	if p.kind == GaePPO {
		returns, advantages, err = gae.GAE(rollout.Reward, rollout.Mask,
			stateValues, p.lambda)
	} else {
		returns, err = gae.Discounted(rollout.Reward, rollout.Mask)
		if err == nil {
			advantages, err = gae.Advantage(returns, stateValues)
		}
	}
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}
	advantages = gae.Normalize(advantages)

	logStd, err := p.currentLogStd()
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}
	a := p.actionDim
	oldLogProbs := make([]float64, n)
	for i := range oldLogProbs {
		oldLogProbs[i] = policy.NoiseLogProb(rollout.Noise[i*a:(i+1)*a],
			logStd)
	}

	b := p.batchSize
	s := p.stateDim
	states := make([]float64, b*s)
	actions := make([]float64, b*a)
	batchAdv := make([]float64, b)
	batchReturns := make([]float64, b)
	batchLogProbs := make([]float64, b)

	updates := int(p.repeat * float64(n) / float64(b))
	for u := 0; u < updates; u++ {
		for j := 0; j < b; j++ {
			i := p.rng.Intn(n)
			copy(states[j*s:(j+1)*s], rollout.State[i*s:(i+1)*s])
			copy(actions[j*a:(j+1)*a], rollout.Action[i*a:(i+1)*a])
			batchAdv[j] = advantages[i]
			batchReturns[j] = returns[i]
			batchLogProbs[j] = oldLogProbs[i]
		}

		// Actor step
		if err := let(p.actions, actions); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := let(p.advantages, batchAdv); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := let(p.oldLogProbs, batchLogProbs); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := p.actorNet.SetInput(states); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		actorLoss, err := p.actorLearner.update()
		if err != nil {
			return fmt.Errorf("update: actor: %v", err)
		}

		// Critic step
		scale := 1 / (returnStdDev(batchReturns) + gae.Epsilon)
		if err := let(p.returns, batchReturns); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := let(p.weights, fill(b, scale)); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := p.criticNet.SetInput(states); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		criticLoss, err := p.criticLearner.update()
		if err != nil {
			return fmt.Errorf("update: critic: %v", err)
		}

		diag.objA = actorLoss
		diag.objC = criticLoss / scale
	}

	if err := network.Set(p.criticEval.net, p.criticNet); err != nil {
		return fmt.Errorf("update: %v", err)
	}
	return network.Set(p.behaviour.net, p.actorNet)
}

// returnStdDev returns the sample standard deviation of returns, or 0
// if there are fewer than two returns
func returnStdDev(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// syncTargets keeps the behaviour network in step with the actor, PPO
// has no target networks
func (p *ppo) syncTargets() error {
	return network.Set(p.behaviour.net, p.actorNet)
}

func (p *ppo) actor() *network.MLP {
	return p.behaviour.net
}

func (p *ppo) close() error {
	return closeAll(p.behaviour, p.criticEval, p.actorLearner,
		p.criticLearner)
}
