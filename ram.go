// Package ram trains a Recurrent Attention Model: a sequential glimpse
// policy over images, optimized with a REINFORCE-style policy gradient, a
// learned baseline, a supervised classification head and an auxiliary
// variational reconstruction decoder.
package ram

import (
	"fmt"
	"log"

	G "gorgonia.org/gorgonia"

	"github.com/gorgonia/ram/ramnet"
	"github.com/gorgonia/ram/retina"
)

// RAM is the top level structure and the entry point of the API. It wraps
// the training network, the forward-only stepper used to play episodes, the
// rollout controller and the optimization schedule.
type RAM struct {
	Config
	Statistics

	net  *ramnet.Net
	step *ramnet.Stepper
	roll *Rollout
	ret  retina.Retina

	// validation machinery, built lazily because its batch size is B*M
	valStep *ramnet.Stepper
	valRoll *Rollout

	solver G.Solver
	lr     float64
	std    float32

	epoch        int
	bestValidAcc float32
	counter      int // epochs since the last improvement
	plateau      int // epochs since the last lr reduction trigger

	out OutputEncoder
}

// New builds a RAM system from a configuration. It panics on an invalid
// configuration, the way a bad network shape is unrecoverable.
func New(conf Config) *RAM {
	if !conf.IsValid() {
		panic("ram: config is not valid. Unable to proceed")
	}

	net := ramnet.NewNet(conf.NNConf)
	if err := net.Init(); err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	step, err := ramnet.NewStepper(conf.NNConf, conf.NNConf.BatchSize)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}

	ret := retina.Retina{
		PatchSize:  conf.PatchSize,
		NumPatches: conf.NumPatches,
		Scale:      conf.GlimpseScale,
	}

	r := &RAM{
		Config:     conf,
		Statistics: makeStatistics(),
		net:        net,
		step:       step,
		ret:        ret,
		roll:       NewRollout(ret, step, conf.Seed),
		lr:         conf.LR,
		std:        conf.Std,
	}
	r.solver = newSolver(r.lr)
	return r
}

func newSolver(lr float64) G.Solver {
	return G.NewAdamSolver(G.WithLearnRate(lr))
}

// SetOutputEncoder registers a plotting collaborator fed one episode
// snapshot per epoch.
func (r *RAM) SetOutputEncoder(enc OutputEncoder) { r.out = enc }

// Net exposes the training network, mainly for serialization and debugging.
func (r *RAM) Net() *ramnet.Net { return r.net }

// Epoch is the next epoch to be trained.
func (r *RAM) Epoch() int { return r.epoch }

// BestValidAcc is the best validation accuracy seen so far.
func (r *RAM) BestValidAcc() float32 { return r.bestValidAcc }

// Close releases the gorgonia VMs.
func (r *RAM) Close() error {
	if err := r.net.Close(); err != nil {
		return err
	}
	if err := r.step.Close(); err != nil {
		return err
	}
	if r.valStep != nil {
		return r.valStep.Close()
	}
	return nil
}

// Train runs the full training schedule: per epoch one pass over train, a
// Monte-Carlo validation pass, plateau-based learning-rate reduction, std
// decay, early stopping and checkpointing.
func (r *RAM) Train(train, valid Loader) error {
	log.Printf("[*] train on %d batches, validate on %d batches", train.Batches(), valid.Batches())

	for ; r.epoch < r.Config.Epochs; r.epoch++ {
		log.Printf("epoch: %d/%d - lr: %.6f - std: %.4f", r.epoch+1, r.Config.Epochs, r.lr, r.std)

		trainLoss, trainAcc, vaeLoss, err := r.trainOneEpoch(train)
		if err != nil {
			return err
		}
		validLoss, validAcc, err := r.validate(valid)
		if err != nil {
			return err
		}
		r.Statistics.update(r.epoch+1, trainLoss, trainAcc, validLoss, validAcc, vaeLoss)

		isBest := validAcc > r.bestValidAcc
		marker := ""
		if isBest {
			r.counter = 0
			r.plateau = 0
			marker = " [*]"
		} else {
			r.counter++
			r.plateau++
		}
		log.Printf("train loss: %.3f - train acc: %.3f - val loss: %.3f - val acc: %.3f - val err: %.3f%s",
			trainLoss, trainAcc, validLoss, validAcc, 100-validAcc, marker)

		if r.plateau > r.LRPatience {
			r.lr *= 0.1
			r.solver = newSolver(r.lr)
			r.plateau = 0
			log.Printf("[!] reducing lr to %.6f", r.lr)
		}
		if r.counter > r.TrainPatience {
			log.Printf("[!] no improvement in a while, stopping training")
			return r.flushOutput()
		}
		if isBest {
			r.bestValidAcc = validAcc
		}
		if r.CkptDir != "" {
			if err := r.SaveCheckpoint(isBest); err != nil {
				return err
			}
		}

		r.std *= r.StdDecay
		train.Shuffle(r.Seed + int64(r.epoch))
	}
	return r.flushOutput()
}

func (r *RAM) flushOutput() error {
	if r.out == nil {
		return nil
	}
	return r.out.Flush()
}
