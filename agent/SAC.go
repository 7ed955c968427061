package agent

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/drlcore/buffer/expreplay"
	"github.com/samuelfneumann/drlcore/network"
	"github.com/samuelfneumann/drlcore/policy"
	"github.com/samuelfneumann/drlcore/utils/floatutils"
	"github.com/samuelfneumann/drlcore/utils/op"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Bounds of the log entropy temperature under ModSAC
const (
	minAlphaLog = -16.0
	maxAlphaLog = 2.0
)

// sac implements the SAC and ModSAC strategies. The actor outputs the
// mean and log standard deviation of a Gaussian whose samples are
// squashed by tanh. Twin critic heads are trained toward
//
//	r + mask * (min_k Q_target,k(s', a') - α log π(a'|s'))
//
// with a' drawn from the target actor, and the actor minimizes
//
//	mean[α log π(a|s) - min_k Q_k(s, a)]
//
// The temperature α = exp(alphaLog) is learned so that the policy's
// entropy tracks log(actionDim).
//
// ModSAC scales the number of gradient steps by how full the buffer is
// and gates actor updates with a Controller.
type sac struct {
	kind          PolicyKind
	actionDim     int
	batchSize     int
	repeat        float64
	tau           float64
	targetEntropy float64
	alpha         float64 // Temperature of the update target

	sampler *policy.SquashedGaussian

	behaviour *predictor

	actorTarget    *predictor
	targetNoise    *G.Node
	targetActions  *G.Node
	targetLogProbs *G.Node
	criticTarget   *predictor

	criticNet     *network.MLP
	criticLearner *learner
	labels        *G.Node

	actorNet      *network.MLP
	actorLearner  *learner
	actorNoise    *G.Node
	actorAlpha    *G.Node // α for each sample
	actorLogProbs *G.Node

	// criticPG is a copy of the target critic evaluating the actions of
	// actorNet, through which the policy gradient flows
	criticPG *network.MLP

	alphaLog     *G.Node
	alphaLearner *learner
	entropyGap   *G.Node

	controller *Controller // nil for SAC
}

// newSAC returns a new maximum entropy actor-critic strategy
func newSAC(c Config, stateDim, actionDim int) (strategy, error) {
	batch := c.BatchSize

	behaviourNet, err := newNet(c, "actor", G.NewGraph(), []int{stateDim},
		1, 2*actionDim, network.Identity(), 0)
	if err != nil {
		return nil, fmt.Errorf("could not create actor: %v", err)
	}
	criticNet, err := newNet(c, "critic", G.NewGraph(),
		[]int{stateDim, actionDim}, batch, 2, network.Identity(), 1)
	if err != nil {
		return nil, fmt.Errorf("could not create critic: %v", err)
	}

	// Target networks
	actorTarget, err := behaviourNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create target actor: %v", err)
	}
	targetNoise := newInput(actorTarget.Graph(), "targetNoise", batch,
		actionDim)
	targetActions, targetLogProbs, err := squash(actorTarget.Prediction(),
		targetNoise, actionDim)
	if err != nil {
		return nil, fmt.Errorf("could not create target actor: %v", err)
	}
	criticTarget, err := criticNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create target critic: %v", err)
	}

	// Critic loss
	labels := newInput(criticNet.Graph(), "qLabel", batch, 0)
	var criticLoss *G.Node
	for k := 0; k < 2; k++ {
		q, err := op.Column(criticNet.Prediction(), k)
		if err != nil {
			return nil, err
		}
		var loss *G.Node
		if c.Kind == ModSAC {
			loss, err = op.MeanSmoothL1(q, labels)
		} else {
			loss, err = op.MSE(q, labels)
		}
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

	// Actor loss
	actorNet, err := behaviourNet.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("could not create training actor: %v", err)
	}
	gActor := actorNet.Graph()
	actorNoise := newInput(gActor, "actorNoise", batch, actionDim)
	actorAlpha := newInput(gActor, "alpha", batch, 0)
	actions, logProbs, err := squash(actorNet.Prediction(), actorNoise,
		actionDim)
	if err != nil {
		return nil, err
	}
	criticPG, err := criticTarget.CloneOnto("critic_pg",
		actorNet.Inputs()[0], actions)
	if err != nil {
		return nil, fmt.Errorf("could not attach critic to actor: %v", err)
	}
	q1, err := op.Column(criticPG.Prediction(), 0)
	if err != nil {
		return nil, err
	}
	q2, err := op.Column(criticPG.Prediction(), 1)
	if err != nil {
		return nil, err
	}
	minQ, err := op.Min(q1, q2)
	if err != nil {
		return nil, err
	}
	actorLoss := G.Must(G.HadamardProd(actorAlpha, logProbs))
	actorLoss = G.Must(G.Mean(G.Must(G.Sub(actorLoss, minQ))))
	actor, err := newLearner(actorLoss, c.Solver.Create(),
		actorNet.Learnables())
	if err != nil {
		return nil, err
	}

	// Temperature loss
	gAlpha := G.NewGraph()
	initAlphaLog := -math.Log(float64(actionDim)) * math.E
	alphaLog := G.NewVector(
		gAlpha,
		tensor.Float64,
		G.WithShape(1),
		G.WithName("alphaLog"),
		G.WithValue(tensor.New(
			tensor.WithShape(1),
			tensor.WithBacking([]float64{initAlphaLog}),
		)),
	)
	entropyGap := newInput(gAlpha, "entropyGap", 1, 0)
	alphaLoss := G.Must(G.Mean(G.Must(G.HadamardProd(alphaLog, entropyGap))))
	alphaLearner, err := newLearner(alphaLoss, c.Solver.Create(),
		G.Nodes{alphaLog})
	if err != nil {
		return nil, err
	}

	var controller *Controller
	if c.Kind == ModSAC {
		controller = NewController(0, initialObjC)
	}

	return &sac{
		kind:           c.Kind,
		actionDim:      actionDim,
		batchSize:      batch,
		repeat:         c.RepeatTimes,
		tau:            c.Tau,
		targetEntropy:  math.Log(float64(actionDim)),
		alpha:          math.Exp(initAlphaLog),
		sampler:        policy.NewSquashedGaussian(c.Seed + seedExplore),
		behaviour:      newPredictor(behaviourNet),
		actorTarget:    newPredictor(actorTarget),
		targetNoise:    targetNoise,
		targetActions:  targetActions,
		targetLogProbs: targetLogProbs,
		criticTarget:   newPredictor(criticTarget),
		criticNet:      criticNet,
		criticLearner:  critic,
		labels:         labels,
		actorNet:       actorNet,
		actorLearner:   actor,
		actorNoise:     actorNoise,
		actorAlpha:     actorAlpha,
		actorLogProbs:  logProbs,
		criticPG:       criticPG,
		alphaLog:       alphaLog,
		alphaLearner:   alphaLearner,
		entropyGap:     entropyGap,
		controller:     controller,
	}, nil
}

// squash returns the squashed Gaussian actions
//
//	tanh(mean + exp(logStd) ⊙ noise)
//
// and their log densities, where pred holds the mean and log standard
// deviation side by side and noise is standard normal
func squash(pred, noise *G.Node, actionDim int) (*G.Node, *G.Node, error) {
	mean, err := op.Columns(pred, 0, actionDim)
	if err != nil {
		return nil, nil, err
	}
	logStd, err := op.Columns(pred, actionDim, actionDim)
	if err != nil {
		return nil, nil, err
	}
	logStd, err = op.Clamp(logStd, policy.MinLogStd, policy.MaxLogStd)
	if err != nil {
		return nil, nil, err
	}

	scaled := G.Must(G.HadamardProd(G.Must(G.Exp(logStd)), noise))
	actions, err := G.Tanh(G.Must(G.Add(mean, scaled)))
	if err != nil {
		return nil, nil, err
	}

	// log(1 - a² + 1e-6)
	correction := G.Must(G.Neg(G.Must(G.Square(actions))))
	correction = G.Must(G.Add(correction, G.NewConstant(1+1e-6)))
	correction = G.Must(G.Log(correction))

	terms := G.Must(G.Square(noise))
	terms = G.Must(G.HadamardProd(terms, G.NewConstant(0.5)))
	terms = G.Must(G.Add(terms, logStd))
	terms = G.Must(G.Add(terms, G.NewConstant(policy.LogSqrt2Pi)))
	terms = G.Must(G.Add(terms, correction))

	logProbs, err := G.Sum(terms, 1)
	if err != nil {
		return nil, nil, err
	}
	logProbs, err = G.Neg(logProbs)
	if err != nil {
		return nil, nil, err
	}
	return actions, logProbs, nil
}

func (s *sac) explore(state []float64) ([]float64, []float64, []float64,
	error) {
	pred, err := s.behaviour.predict(state)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("explore: %v", err)
	}
	action, _, err := s.sampler.Sample(pred[:s.actionDim],
		pred[s.actionDim:])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("explore: %v", err)
	}
	return action, action, nil, nil
}

func (s *sac) exploit(state []float64) ([]float64, error) {
	pred, err := s.behaviour.predict(state)
	if err != nil {
		return nil, fmt.Errorf("exploit: %v", err)
	}
	action := append([]float64(nil), pred[:s.actionDim]...)
	floatutils.Tanh(action)
	return action, nil
}

// temperature returns exp(alphaLog)
func (s *sac) temperature() float64 {
	return math.Exp(s.alphaLog.Value().Data().([]float64)[0])
}

// clampAlphaLog clamps alphaLog to [minAlphaLog, maxAlphaLog]
func (s *sac) clampAlphaLog() {
	data := s.alphaLog.Value().Data().([]float64)
	data[0] = floatutils.Clip(data[0], minAlphaLog, maxAlphaLog)
}

func (s *sac) update(buf Buffer, stepBudget int, diag *diagnostics) error {
	replay, ok := buf.(*expreplay.Replay)
	if !ok {
		return fmt.Errorf("update: %v agents need a replay buffer"+
			"\n\thave(%T)", s.kind, buf)
	}

	start, steps := 0, int(float64(stepBudget)*s.repeat)
	if s.kind == ModSAC {
		k := 1 + float64(replay.Len())/float64(replay.Capacity())
		start, steps = 1, int(float64(stepBudget)*k*s.repeat)
	}

	for i := start; i < steps; i++ {
		batch, err := replay.Sample(s.batchSize)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}

		labels, err := s.labelBatch(batch)
		if err != nil {
			return fmt.Errorf("update: %v", err)
		}

		// Critic step
		if err := let(s.labels, labels); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := s.criticNet.SetInput(batch.State, batch.Action); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		criticLoss, err := s.criticLearner.update()
		if err != nil {
			return fmt.Errorf("update: critic: %v", err)
		}
		if s.controller != nil {
			s.controller.ObserveCritic(criticLoss)
		}
		if err := s.softUpdateCritic(); err != nil {
			return fmt.Errorf("update: %v", err)
		}

		// The gate and the actor's temperature are read before the
		// temperature step of this iteration
		updateActor := true
		if s.controller != nil {
			updateActor = s.controller.UpdateActor(i)
			if updateActor {
				s.clampAlphaLog()
				s.alpha = s.temperature()
			}
		} else {
			s.alpha = s.temperature()
		}

		// Temperature step from the log densities of fresh actions
		if err := let(s.actorNoise,
			s.sampler.Noise(s.batchSize*s.actionDim)); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := s.actorNet.SetInput(batch.State); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		if err := let(s.actorAlpha, fill(s.batchSize, s.alpha)); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		actorLoss, err := s.actorLearner.forward()
		if err != nil {
			return fmt.Errorf("update: actor: %v", err)
		}
		logProbs, err := values(s.actorLogProbs)
		if err != nil {
			s.actorLearner.skip()
			return fmt.Errorf("update: %v", err)
		}
		gap := -stat.Mean(logProbs, nil) - s.targetEntropy
		if err := let(s.entropyGap, []float64{gap}); err != nil {
			s.actorLearner.skip()
			return fmt.Errorf("update: %v", err)
		}
		if _, err := s.alphaLearner.update(); err != nil {
			s.actorLearner.skip()
			return fmt.Errorf("update: temperature: %v", err)
		}

		// Actor step
		if !updateActor {
			s.actorLearner.skip()
			diag.objA, diag.objC = s.controller.Objectives()
			continue
		}
		if err := s.actorLearner.step(); err != nil {
			return fmt.Errorf("update: actor: %v", err)
		}
		if err := network.Polyak(s.actorTarget.net, s.actorNet,
			s.tau); err != nil {
			return fmt.Errorf("update: %v", err)
		}

		if s.controller != nil {
			s.controller.ObserveActor(stat.Mean(labels, nil))
			diag.objA, diag.objC = s.controller.Objectives()
		} else {
			diag.objA = actorLoss
			diag.objC = criticLoss
		}
	}

	return network.Set(s.behaviour.net, s.actorNet)
}

// labelBatch returns the critic update targets of a batch using the
// target actor and target critic
func (s *sac) labelBatch(batch expreplay.Batch) ([]float64, error) {
	if err := let(s.targetNoise,
		s.sampler.Noise(s.batchSize*s.actionDim)); err != nil {
		return nil, err
	}
	if err := s.actorTarget.run(batch.NextState); err != nil {
		return nil, fmt.Errorf("could not run target actor: %v", err)
	}
	nextActions, err := values(s.targetActions)
	if err != nil {
		return nil, err
	}
	nextLogProbs, err := values(s.targetLogProbs)
	if err != nil {
		return nil, err
	}
	nextQ, err := s.criticTarget.predict(batch.NextState, nextActions)
	if err != nil {
		return nil, fmt.Errorf("could not run target critic: %v", err)
	}

	labels := make([]float64, s.batchSize)
	for j := range labels {
		next := math.Min(nextQ[2*j], nextQ[2*j+1]) - s.alpha*nextLogProbs[j]
		labels[j] = batch.Reward[j] + batch.Mask[j]*next
	}
	return labels, nil
}

// softUpdateCritic moves the target critic toward the online critic
func (s *sac) softUpdateCritic() error {
	if err := network.Polyak(s.criticTarget.net, s.criticNet,
		s.tau); err != nil {
		return err
	}
	return network.Set(s.criticPG, s.criticTarget.net)
}

func (s *sac) syncTargets() error {
	if err := network.Set(s.criticTarget.net, s.criticNet); err != nil {
		return err
	}
	if err := network.Set(s.actorTarget.net, s.actorNet); err != nil {
		return err
	}
	if err := network.Set(s.criticPG, s.criticNet); err != nil {
		return err
	}
	return network.Set(s.behaviour.net, s.actorNet)
}

func (s *sac) actor() *network.MLP {
	return s.behaviour.net
}

func (s *sac) close() error {
	return closeAll(s.behaviour, s.actorTarget, s.criticTarget,
		s.criticLearner, s.actorLearner, s.alphaLearner)
}
