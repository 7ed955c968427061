package agent

import (
	"fmt"

	"github.com/samuelfneumann/drlcore/buffer/expreplay"
	"github.com/samuelfneumann/drlcore/network"
	"github.com/samuelfneumann/drlcore/policy"
	"github.com/samuelfneumann/drlcore/utils/op"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// valueBased implements the DQN, DoubleDQN and D3QN strategies.
//
// DoubleDQN and D3QN networks have two Q-value heads trained toward the
// same update target, D3QN heads are dueling heads. Actions are
// selected and bootstrapped with the first head only. The update
// target is
//
//	r + mask * max_a' Q_target(s', a')
//
// computed by a target network that follows the online network by
// Polyak averaging after every gradient step.
type valueBased struct {
	kind       PolicyKind
	numActions int
	batchSize  int
	repeat     float64
	tau        float64

	// Behaviour network selecting single actions
	behaviour  *predictor
	behaviourQ *G.Node

	// Target network providing the update target for a batch
	target     *predictor
	targetNext *G.Node // max_a' Q_target(s', a') for each next state

	// Online network whose weights are learned
	trainNet *network.MLP
	train    *learner
	actions  *G.Node // One-hot actions taken in the sampled states
	labels   *G.Node

	egreedy *policy.EGreedy
	softmax *policy.SoftmaxSampler
}

// newValueBased returns a new value-based strategy
func newValueBased(c Config, stateDim, numActions int) (strategy, error) {
	batch := c.BatchSize
	outputs := qOutputs(c.Kind, numActions)

	behaviourNet, err := newNet(c, "q", G.NewGraph(), []int{stateDim}, 1,
		outputs, network.Identity(), 0)
	if err != nil {
		return nil, fmt.Errorf("could not create behaviour network: %v", err)
	}
	behaviourHeads, err := qHeads(c.Kind, behaviourNet.Prediction(),
		numActions)
	if err != nil {
		return nil, err
	}

	// Target network
	targetNet, err := behaviourNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create target network: %v", err)
	}
	targetHeads, err := qHeads(c.Kind, targetNet.Prediction(), numActions)
	if err != nil {
		return nil, err
	}
	targetNext, err := G.Max(targetHeads[0], 1)
	if err != nil {
		return nil, fmt.Errorf("could not compute bootstrap value: %v", err)
	}

	// Training network
	trainNet, err := behaviourNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create training network: %v", err)
	}
	gTrain := trainNet.Graph()
	trainHeads, err := qHeads(c.Kind, trainNet.Prediction(), numActions)
	if err != nil {
		return nil, err
	}
	actions := newInput(gTrain, "actionSelected", batch, numActions)
	labels := newInput(gTrain, "qLabel", batch, 0)

	var loss *G.Node
	for _, head := range trainHeads {
		selected := G.Must(G.HadamardProd(head, actions))
		selected = G.Must(G.Sum(selected, 1))

		var headLoss *G.Node
		if c.Kind == D3QN {
			headLoss, err = op.MeanSmoothL1(selected, labels)
		} else {
			headLoss, err = op.MSE(selected, labels)
		}
		if err != nil {
			return nil, fmt.Errorf("could not compute loss: %v", err)
		}

		if loss == nil {
			loss = headLoss
		} else {
			loss = G.Must(G.Add(loss, headLoss))
		}
	}

	train, err := newLearner(loss, c.Solver.Create(), trainNet.Learnables())
	if err != nil {
		return nil, err
	}

	v := &valueBased{
		kind:       c.Kind,
		numActions: numActions,
		batchSize:  batch,
		repeat:     c.RepeatTimes,
		tau:        c.Tau,
		behaviour:  newPredictor(behaviourNet),
		behaviourQ: behaviourHeads[0],
		target:     newPredictor(targetNet),
		targetNext: targetNext,
		trainNet:   trainNet,
		train:      train,
		actions:    actions,
		labels:     labels,
	}

	if c.Kind == DQN {
		v.egreedy, err = policy.NewEGreedy(c.Epsilon, c.Seed+seedExplore)
	} else {
		v.softmax, err = policy.NewSoftmaxSampler(c.SoftmaxProb,
			c.Seed+seedExplore)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// qOutputs returns the number of outputs of the Q-network of a kind
func qOutputs(kind PolicyKind, numActions int) int {
	switch kind {
	case DoubleDQN:
		return 2 * numActions
	case D3QN:
		return 2 * (numActions + 1)
	default:
		return numActions
	}
}

// qHeads returns the (batch, numActions) Q-value heads computed from
// the output of a Q-network.
//
// D3QN outputs hold (advantages, value) per head and each head
// combines them as
//
//	Q(s, a) = V(s) + A(s, a) - mean_a' A(s, a')
func qHeads(kind PolicyKind, pred *G.Node, numActions int) ([]*G.Node,
	error) {
	switch kind {
	case DoubleDQN:
		q1, err := op.Columns(pred, 0, numActions)
		if err != nil {
			return nil, err
		}
		q2, err := op.Columns(pred, numActions, numActions)
		if err != nil {
			return nil, err
		}
		return []*G.Node{q1, q2}, nil

	case D3QN:
		centre := make([]float64, numActions*numActions)
		for i := 0; i < numActions; i++ {
			for j := 0; j < numActions; j++ {
				centre[i*numActions+j] = -1 / float64(numActions)
				if i == j {
					centre[i*numActions+j]++
				}
			}
		}
		centreNode := G.NewConstant(
			tensor.New(tensor.WithShape(numActions, numActions),
				tensor.WithBacking(centre)),
			G.WithName(fmt.Sprintf("dueling_centre_%d", numActions)),
		)
		spreadNode := G.NewConstant(
			tensor.New(tensor.WithShape(1, numActions),
				tensor.WithBacking(fill(numActions, 1))),
			G.WithName(fmt.Sprintf("dueling_spread_%d", numActions)),
		)

		heads := make([]*G.Node, 2)
		for k := range heads {
			start := k * (numActions + 1)
			adv, err := op.Columns(pred, start, numActions)
			if err != nil {
				return nil, err
			}
			value, err := op.Columns(pred, start+numActions, 1)
			if err != nil {
				return nil, err
			}
			centred := G.Must(G.Mul(adv, centreNode))
			spread := G.Must(G.Mul(value, spreadNode))
			heads[k] = G.Must(G.Add(spread, centred))
		}
		return heads, nil

	default:
		return []*G.Node{pred}, nil
	}
}

// actionValues returns the first-head action values in state
func (v *valueBased) actionValues(state []float64) ([]float64, error) {
	if err := v.behaviour.run(state); err != nil {
		return nil, fmt.Errorf("actionvalues: %v", err)
	}
	return values(v.behaviourQ)
}

func (v *valueBased) explore(state []float64) ([]float64, []float64,
	[]float64, error) {
	q, err := v.actionValues(state)
	if err != nil {
		return nil, nil, nil, err
	}

	var action int
	if v.egreedy != nil {
		action = v.egreedy.SelectAction(q)
	} else {
		action = v.softmax.SelectAction(q)
	}
	a := []float64{float64(action)}
	return a, a, nil, nil
}

func (v *valueBased) exploit(state []float64) ([]float64, error) {
	q, err := v.actionValues(state)
	if err != nil {
		return nil, err
	}
	return []float64{float64(policy.Greedy(q))}, nil
}

func (v *valueBased) update(buf Buffer, stepBudget int,
	diag *diagnostics) error {
	replay, ok := buf.(*expreplay.Replay)
	if !ok {
		return fmt.Errorf("update: %v agents need a replay buffer"+
			"\n\thave(%T)", v.kind, buf)
	}

	steps := int(float64(stepBudget) * v.repeat)
	for i := 0; i < steps; i++ {
		batch, err := replay.Sample(v.batchSize)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}

		// Compute the update target: r + mask * max[Q(s', a')]
		if err := v.target.run(batch.NextState); err != nil {
			return fmt.Errorf("update: could not run target network: %v",
				err)
		}
		next, err := values(v.targetNext)
		if err != nil {
			return fmt.Errorf("update: %v", err)
		}
		labels := make([]float64, v.batchSize)
		for j := range labels {
			labels[j] = batch.Reward[j] + batch.Mask[j]*next[j]
		}

		oneHot, err := v.oneHot(batch.Action)
		if err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := let(v.actions, oneHot); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := let(v.labels, labels); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := v.trainNet.SetInput(batch.State); err != nil {
			return fmt.Errorf("update: %v", err)
		}

		loss, err := v.train.update()
		if err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := network.Polyak(v.target.net, v.trainNet, v.tau); err != nil {
			return fmt.Errorf("update: %v", err)
		}

		diag.objA = stat.Mean(next, nil)
		diag.objC = loss
		if v.kind != DQN {
			diag.objC /= 2
		}
	}

	return network.Set(v.behaviour.net, v.trainNet)
}

// oneHot converts stored action indices to one-hot rows
func (v *valueBased) oneHot(actions []float64) ([]float64, error) {
	out := make([]float64, len(actions)*v.numActions)
	for i, a := range actions {
		index := int(a)
		if index < 0 || index >= v.numActions || float64(index) != a {
			return nil, fmt.Errorf("illegal action %v for %v actions", a,
				v.numActions)
		}
		out[i*v.numActions+index] = 1
	}
	return out, nil
}

func (v *valueBased) syncTargets() error {
	if err := network.Set(v.target.net, v.trainNet); err != nil {
		return err
	}
	return network.Set(v.behaviour.net, v.trainNet)
}

func (v *valueBased) actor() *network.MLP {
	return v.behaviour.net
}

func (v *valueBased) close() error {
	return closeAll(v.behaviour, v.target, v.train)
}
