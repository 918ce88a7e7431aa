package ramnet

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Stepper holds a forward-only single-timestep graph and a VM for it. The
// rollout controller runs it once per glimpse, feeding the hidden state back
// in between calls; validation and test reuse it with a larger batch. By
// keeping the VM around there is no need to create one every step.
type Stepper struct {
	conf Config

	g *G.ExprGraph
	p *params

	phi, loc, hPrev, cPrev, eps *G.Node
	std                         *G.Node

	vm G.VM

	hVal, cVal, muVal              G.Value
	baselineVal, logProbsVal       G.Value
	zMeanVal, zLogVarVal, reconVal G.Value
}

// NewStepper builds a forward-only step graph for the given batch size. The
// weights are freshly initialized; call LoadFrom to adopt a training net's
// values.
func NewStepper(conf Config, batchSize int) (*Stepper, error) {
	conf.FwdOnly = true
	conf.BatchSize = batchSize

	s := &Stepper{conf: conf}
	s.g = G.NewGraph()
	s.p = newParams(s.g, conf)

	b := batchSize
	s.phi = G.NewMatrix(s.g, Float, G.WithShape(b, conf.GlimpseFeatures), G.WithName("Phi"))
	s.loc = G.NewMatrix(s.g, Float, G.WithShape(b, 2), G.WithName("Loc"))
	s.hPrev = G.NewMatrix(s.g, Float, G.WithShape(b, conf.HiddenSize), G.WithName("HPrev"))
	if conf.Core == LSTM {
		s.cPrev = G.NewMatrix(s.g, Float, G.WithShape(b, conf.HiddenSize), G.WithName("CPrev"))
	}
	s.eps = G.NewMatrix(s.g, Float, G.WithShape(b, conf.LatentSize), G.WithName("Eps"))
	s.std = G.NewScalar(s.g, Float, G.WithName("Std"))

	var m maebe
	out := fwdStep(&m, s.p, conf, stepIn{
		phi:   s.phi,
		loc:   s.loc,
		hPrev: s.hPrev,
		cPrev: s.cPrev,
		eps:   s.eps,
		std:   s.std,
	}, nil)
	if m.err != nil {
		return nil, m.err
	}

	G.Read(out.h, &s.hVal)
	if conf.Core == LSTM {
		G.Read(out.c, &s.cVal)
	}
	G.Read(out.mu, &s.muVal)
	G.Read(out.baseline, &s.baselineVal)
	G.Read(out.logProbs, &s.logProbsVal)
	G.Read(out.zMean, &s.zMeanVal)
	G.Read(out.zLogVar, &s.zLogVarVal)
	G.Read(out.recon, &s.reconVal)

	s.vm = G.NewTapeMachine(s.g)
	return s, nil
}

// Conf returns the stepper's (forward-only) configuration.
func (s *Stepper) Conf() Config { return s.conf }

// LoadFrom copies the training net's weight values into the stepper,
// positionally. Both graphs create weights in the same order.
func (s *Stepper) LoadFrom(n *Net) error {
	src := n.Model()
	dst := s.p.nodes(s.conf.Core)
	if len(src) != len(dst) {
		return errors.Errorf("ramnet: model size mismatch: %d vs %d", len(src), len(dst))
	}
	for i, node := range src {
		from := node.Value().Data().([]float32)
		to := dst[i].Value().Data().([]float32)
		copy(to, from)
	}
	return nil
}

// StepValues are the read-outs of one glimpse timestep, cloned out of the VM
// so they survive the next run.
type StepValues struct {
	H, C     *tensor.Dense
	Mu       *tensor.Dense // (B, 2)
	Baseline *tensor.Dense // (B,)
	LogProbs *tensor.Dense // (B, classes)
	ZMean    *tensor.Dense
	ZLogVar  *tensor.Dense
	Recon    *tensor.Dense
}

// Step runs one timestep. cPrev may be nil for the Linear core.
func (s *Stepper) Step(phi, loc, hPrev, cPrev, eps *tensor.Dense, std float32) (StepValues, error) {
	var out StepValues

	s.vm.Reset()
	if err := G.Let(s.phi, phi); err != nil {
		return out, errors.WithStack(err)
	}
	if err := G.Let(s.loc, loc); err != nil {
		return out, errors.WithStack(err)
	}
	if err := G.Let(s.hPrev, hPrev); err != nil {
		return out, errors.WithStack(err)
	}
	if s.conf.Core == LSTM {
		if err := G.Let(s.cPrev, cPrev); err != nil {
			return out, errors.WithStack(err)
		}
	}
	if err := G.Let(s.eps, eps); err != nil {
		return out, errors.WithStack(err)
	}
	if err := G.Let(s.std, std); err != nil {
		return out, errors.WithStack(err)
	}
	if err := s.vm.RunAll(); err != nil {
		return out, errors.WithStack(err)
	}

	out.H = cloneDense(s.hVal)
	if s.conf.Core == LSTM {
		out.C = cloneDense(s.cVal)
	}
	out.Mu = cloneDense(s.muVal)
	out.Baseline = cloneDense(s.baselineVal)
	out.LogProbs = cloneDense(s.logProbsVal)
	out.ZMean = cloneDense(s.zMeanVal)
	out.ZLogVar = cloneDense(s.zLogVarVal)
	out.Recon = cloneDense(s.reconVal)
	return out, nil
}

// Close implements a closer, because a gorgonia VM is a resource.
func (s *Stepper) Close() error { return s.vm.Close() }

func cloneDense(v G.Value) *tensor.Dense {
	return v.(*tensor.Dense).Clone().(*tensor.Dense)
}
