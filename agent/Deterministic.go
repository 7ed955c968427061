package agent

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/drlcore/buffer/expreplay"
	"github.com/samuelfneumann/drlcore/network"
	"github.com/samuelfneumann/drlcore/policy"
	"github.com/samuelfneumann/drlcore/utils/op"
	G "gorgonia.org/gorgonia"
)

// deterministic implements the DDPG and TD3 strategies. The critic is
// trained toward
//
//	r + mask * Q_target(s', π_target(s'))
//
// and the actor maximizes the target critic's value of its actions.
// TD3 uses twin critic heads, bootstraps from the minimum of the two
// and perturbs the target action with clipped noise.
type deterministic struct {
	kind       PolicyKind
	actionDim  int
	batchSize  int
	repeat     float64
	tau        float64
	updateFreq int
	heads      int

	behaviour   *predictor
	noise       *policy.ClampedNoise
	targetNoise *policy.ClampedNoise // nil for DDPG

	actorTarget  *predictor
	criticTarget *predictor

	criticNet     *network.MLP
	criticLearner *learner
	labels        *G.Node

	actorNet     *network.MLP
	actorLearner *learner

	// criticPG is a copy of the target critic evaluating the actions of
	// actorNet, through which the policy gradient flows
	criticPG *network.MLP
}

// newDeterministic returns a new deterministic actor-critic strategy
func newDeterministic(c Config, stateDim, actionDim int) (strategy, error) {
	batch := c.BatchSize
	heads := 1
	if c.Kind == TD3 {
		heads = 2
	}

	behaviourNet, err := newNet(c, "actor", G.NewGraph(), []int{stateDim},
		1, actionDim, network.TanH(), 0)
	if err != nil {
		return nil, fmt.Errorf("could not create actor: %v", err)
	}
	criticNet, err := newNet(c, "critic", G.NewGraph(),
		[]int{stateDim, actionDim}, batch, heads, network.Identity(), 1)
	if err != nil {
		return nil, fmt.Errorf("could not create critic: %v", err)
	}

	// Target networks
	actorTarget, err := behaviourNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create target actor: %v", err)
	}
	criticTarget, err := criticNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create target critic: %v", err)
	}

	// Critic loss: squared error of every head
	labels := newInput(criticNet.Graph(), "qLabel", batch, 0)
	var criticLoss *G.Node
	for k := 0; k < heads; k++ {
		q, err := op.Column(criticNet.Prediction(), k)
		if err != nil {
			return nil, err
		}
		loss, err := op.MSE(q, labels)
		if err != nil {
			return nil, fmt.Errorf("could not compute critic loss: %v", err)
		}
		if criticLoss == nil {
			criticLoss = loss
		} else {
			criticLoss = G.Must(G.Add(criticLoss, loss))
		}
	}
	critic, err := newLearner(criticLoss, c.Solver.Create(),
		criticNet.Learnables())
	if err != nil {
		return nil, err
	}

	// Actor loss: -mean Q_target(s, π(s)) using the first head
	actorNet, err := behaviourNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create training actor: %v", err)
	}
	criticPG, err := criticTarget.CloneOnto("critic_pg",
		actorNet.Inputs()[0], actorNet.Prediction())
	if err != nil {
		return nil, fmt.Errorf("could not attach critic to actor: %v", err)
	}
	q, err := op.Column(criticPG.Prediction(), 0)
	if err != nil {
		return nil, err
	}
	actorLoss := G.Must(G.Neg(G.Must(G.Mean(q))))
	actor, err := newLearner(actorLoss, c.Solver.Create(),
		actorNet.Learnables())
	if err != nil {
		return nil, err
	}

	noise, err := policy.NewClampedNoise(c.ExploreNoise, 0,
		c.Seed+seedExplore)
	if err != nil {
		return nil, err
	}
	var targetNoise *policy.ClampedNoise
	if c.Kind == TD3 {
		targetNoise, err = policy.NewClampedNoise(c.PolicyNoise, c.NoiseClip,
			c.Seed+seedTargetNoise)
		if err != nil {
			return nil, err
		}
	}

	updateFreq := c.UpdateFreq
	if c.Kind == DDPG {
		updateFreq = 1
	}

	return &deterministic{
		kind:          c.Kind,
		actionDim:     actionDim,
		batchSize:     batch,
		repeat:        c.RepeatTimes,
		tau:           c.Tau,
		updateFreq:    updateFreq,
		heads:         heads,
		behaviour:     newPredictor(behaviourNet),
		noise:         noise,
		targetNoise:   targetNoise,
		actorTarget:   newPredictor(actorTarget),
		criticTarget:  newPredictor(criticTarget),
		criticNet:     criticNet,
		criticLearner: critic,
		labels:        labels,
		actorNet:      actorNet,
		actorLearner:  actor,
		criticPG:      criticPG,
	}, nil
}

func (d *deterministic) explore(state []float64) ([]float64, []float64,
	[]float64, error) {
	action, err := d.exploit(state)
	if err != nil {
		return nil, nil, nil, err
	}
	d.noise.Perturb(action)
	return action, action, nil, nil
}

func (d *deterministic) exploit(state []float64) ([]float64, error) {
	action, err := d.behaviour.predict(state)
	if err != nil {
		return nil, fmt.Errorf("exploit: %v", err)
	}
	return action, nil
}

func (d *deterministic) update(buf Buffer, stepBudget int,
	diag *diagnostics) error {
	replay, ok := buf.(*expreplay.Replay)
	if !ok {
		return fmt.Errorf("update: %v agents need a replay buffer"+
			"\n\thave(%T)", d.kind, buf)
	}

	steps := int(float64(stepBudget) * d.repeat)
	for i := 0; i < steps; i++ {
		batch, err := replay.Sample(d.batchSize)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}

		labels, err := d.labelBatch(batch)
		if err != nil {
			return fmt.Errorf("update: %v", err)
		}

		// Critic step
		if err := let(d.labels, labels); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := d.criticNet.SetInput(batch.State, batch.Action); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		criticLoss, err := d.criticLearner.update()
		if err != nil {
			return fmt.Errorf("update: critic: %v", err)
		}

		// Actor step
		if err := d.actorNet.SetInput(batch.State); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		actorLoss, err := d.actorLearner.update()
		if err != nil {
			return fmt.Errorf("update: actor: %v", err)
		}

		if i%d.updateFreq == 0 {
			if err := d.softUpdate(); err != nil {
				return fmt.Errorf("update: %v", err)
			}
		}

		diag.objA = actorLoss
		diag.objC = criticLoss
	}

	return network.Set(d.behaviour.net, d.actorNet)
}

// labelBatch returns the critic update targets of a batch, bootstrapping
// from the minimum over critic heads at the target actor's action
func (d *deterministic) labelBatch(batch expreplay.Batch) ([]float64,
	error) {
	nextActions, err := d.actorTarget.predict(batch.NextState)
	if err != nil {
		return nil, fmt.Errorf("could not run target actor: %v", err)
	}
	if d.targetNoise != nil {
		d.targetNoise.Perturb(nextActions)
	}
	nextQ, err := d.criticTarget.predict(batch.NextState, nextActions)
	if err != nil {
		return nil, fmt.Errorf("could not run target critic: %v", err)
	}

	labels := make([]float64, d.batchSize)
	for j := range labels {
		next := nextQ[j*d.heads]
		for k := 1; k < d.heads; k++ {
			next = math.Min(next, nextQ[j*d.heads+k])
		}
		labels[j] = batch.Reward[j] + batch.Mask[j]*next
	}
	return labels, nil
}

// softUpdate moves the target networks toward the online networks
func (d *deterministic) softUpdate() error {
	if err := network.Polyak(d.criticTarget.net, d.criticNet, d.tau); err != nil {
		return err
	}
	if err := network.Polyak(d.actorTarget.net, d.actorNet, d.tau); err != nil {
		return err
	}
	return network.Set(d.criticPG, d.criticTarget.net)
}

func (d *deterministic) syncTargets() error {
	if err := network.Set(d.criticTarget.net, d.criticNet); err != nil {
		return err
	}
	if err := network.Set(d.actorTarget.net, d.actorNet); err != nil {
		return err
	}
	if err := network.Set(d.criticPG, d.criticNet); err != nil {
		return err
	}
	return network.Set(d.behaviour.net, d.actorNet)
}

func (d *deterministic) actor() *network.MLP {
	return d.behaviour.net
}

func (d *deterministic) close() error {
	return closeAll(d.behaviour, d.actorTarget, d.criticTarget,
		d.criticLearner, d.actorLearner)
}
