package ram

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/ram/ramnet"
)

// trainOneEpoch runs one pass over the training set. Per batch it plays an
// episode with the forward-only stepper, assembles rewards and advantages,
// then runs the unrolled training graph and steps the solver.
func (r *RAM) trainOneEpoch(train Loader) (loss, acc, vae float32, err error) {
	var losses, accs, vaeLosses Meter
	b := r.NNConf.BatchSize
	T := r.NNConf.NumGlimpses

	for i := 0; i < train.Batches(); i++ {
		x, y := train.Batch(i)

		// episode rollout under the current weights
		if err = r.step.LoadFrom(r.net); err != nil {
			return 0, 0, 0, err
		}
		traj, err := r.roll.Run(x, r.std)
		if err != nil {
			return 0, 0, 0, err
		}

		predicted := Predictions(traj.Terminal())
		R := TerminalReward(predicted, y, T)
		if r.Reward == RewardLogProb {
			ShapeByEntropy(R, traj.ClassLogProbs, r.NumClasses)
		}
		rtg := ReturnToGo(R)

		var adv *tensor.Dense
		switch r.NNConf.Mode {
		case ramnet.AC2:
			adv = AdvantageAC2(R, traj.Baselines)
		default:
			adv = AdvantageDefault(rtg, traj.Baselines)
		}

		in := ramnet.TrainInputs{
			Phis:    traj.Phis,
			InitLoc: traj.InitLoc,
			Locs:    traj.Locs,
			Actions: traj.Samples,
			Hiddens: traj.Hiddens,
			Eps:     traj.Eps,
			Adv:     PerStep(adv),
			Rtg:     PerStep(rtg),
			Targets: OneHot(y, r.NumClasses),
			Recon:   flatten(x),
			Std:     r.std,
			VAEOn:   r.epoch >= r.VAEWarmup,
		}
		if r.NNConf.PartialVAE {
			in.Masks = traj.Masks
		}

		if err = r.net.Run(in); err != nil {
			return 0, 0, 0, errors.Wrapf(err, "epoch %d batch %d", r.epoch, i)
		}
		total, _, _, _, vaeLoss := r.net.Costs()
		if math32.IsNaN(total) || math32.IsInf(total, 0) {
			return 0, 0, 0, errors.Errorf("ram: non-finite loss %v at epoch %d batch %d", total, r.epoch, i)
		}

		model := G.NodesToValueGrads(r.net.Model())
		if err = r.solver.Step(model); err != nil {
			return 0, 0, 0, errors.WithStack(err)
		}

		batchAcc := accuracy(predicted, y)
		losses.Update(total, b)
		accs.Update(batchAcc, b)
		if r.epoch >= r.VAEWarmup {
			vaeLosses.Update(vaeLoss, b)
		}

		if i == 0 && r.out != nil {
			if err = r.out.Encode(EpisodeSnapshot{
				Epoch:  r.epoch,
				Images: x,
				Locs:   traj.Locs,
				Recons: traj.Recons,
				Acc:    batchAcc,
			}); err != nil {
				return 0, 0, 0, err
			}
		}
	}
	return losses.Avg, accs.Avg, vaeLosses.Avg, nil
}

// validate evaluates on the validation set: each batch is repeated M times,
// the predictions, baselines and log-probabilities are averaged over the M
// samples, and the loss uses the fixed weights (1, 1, 0.01) with the plain
// correctness reward at every timestep.
func (r *RAM) validate(valid Loader) (loss, acc float32, err error) {
	if err = r.ensureValStepper(); err != nil {
		return 0, 0, err
	}
	if err = r.valStep.LoadFrom(r.net); err != nil {
		return 0, 0, err
	}

	var losses, accs Meter
	rep := r.NNConf.BatchSize * r.M // episodes played per batch
	T := r.NNConf.NumGlimpses

	for i := 0; i < valid.Batches(); i++ {
		x, y := valid.Batch(i)
		xm := repeatBatch(x, r.M)

		traj, err := r.valRoll.Run(xm, r.std)
		if err != nil {
			return 0, 0, err
		}

		logProbs := averageOverSamples(traj.Terminal(), r.M)
		baselines := averageOverSamples(traj.Baselines, r.M)
		logPi := averageOverSamples(traj.LogPi, r.M)

		predicted := Predictions(logProbs)
		R := RepeatedReward(predicted, y, T)

		lossAction := nllLoss(logProbs, y)
		lossBaseline := mseLoss(baselines, R)
		adjusted := AdvantageDefault(R, baselines)
		lossReinforce := reinforceLoss(logPi, adjusted)

		batchLoss := lossAction + lossBaseline + 0.01*lossReinforce
		losses.Update(batchLoss, rep)
		accs.Update(accuracy(predicted, y), rep)
	}
	return losses.Avg, accs.Avg, nil
}

// Test evaluates accuracy on a held-out set and reports the per-glimpse
// reconstruction error diagnostic (mean squared norm of the residual at
// each timestep, averaged over batches).
func (r *RAM) Test(test Loader) (acc float32, recErr []float32, err error) {
	if err = r.ensureValStepper(); err != nil {
		return 0, nil, err
	}
	if err = r.valStep.LoadFrom(r.net); err != nil {
		return 0, nil, err
	}

	T := r.NNConf.NumGlimpses
	recErr = make([]float32, T)
	var correct, total int

	for i := 0; i < test.Batches(); i++ {
		x, y := test.Batch(i)
		xm := repeatBatch(x, r.M)

		traj, err := r.valRoll.Run(xm, r.std)
		if err != nil {
			return 0, nil, err
		}

		logProbs := averageOverSamples(traj.Terminal(), r.M)
		predicted := Predictions(logProbs)
		for j := range predicted {
			if predicted[j] == y[j] {
				correct++
			}
		}
		total += len(y)

		xFlat := flatten(xm)
		for t := 0; t < T; t++ {
			recErr[t] += sqNormError(traj.Recons[t], xFlat)
		}
	}

	for t := range recErr {
		recErr[t] /= float32(test.Batches())
	}
	return 100 * float32(correct) / float32(total), recErr, nil
}

func (r *RAM) ensureValStepper() (err error) {
	if r.valStep != nil {
		return nil
	}
	r.valStep, err = ramnet.NewStepper(r.NNConf, r.NNConf.BatchSize*r.M)
	if err != nil {
		return err
	}
	r.valRoll = NewRollout(r.ret, r.valStep, r.Seed+7919)
	return nil
}

func accuracy(predicted, labels []int) float32 {
	var correct int
	for i := range predicted {
		if predicted[i] == labels[i] {
			correct++
		}
	}
	return 100 * float32(correct) / float32(len(predicted))
}

// flatten clones an (B, C, H, W) batch as (B, C*H*W).
func flatten(x *tensor.Dense) *tensor.Dense {
	shp := x.Shape()
	backing := make([]float32, shp.TotalSize())
	copy(backing, x.Data().([]float32))
	return tensor.New(tensor.WithShape(shp[0], shp.TotalSize()/shp[0]), tensor.WithBacking(backing))
}

// sqNormError is the batch-mean squared L2 norm of (recon - target).
func sqNormError(recon, target *tensor.Dense) float32 {
	rs := recon.Data().([]float32)
	ts := target.Data().([]float32)
	b := recon.Shape()[0]
	stride := len(rs) / b
	var sum float32
	for i := 0; i < b; i++ {
		var s float32
		for j := 0; j < stride; j++ {
			d := rs[i*stride+j] - ts[i*stride+j]
			s += d * d
		}
		sum += s
	}
	return sum / float32(b)
}
