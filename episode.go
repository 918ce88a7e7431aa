package ram

import (
	"github.com/chewxy/math32"
	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"github.com/gorgonia/ram/ramnet"
	"github.com/gorgonia/ram/retina"
	"gorgonia.org/tensor"
)

// rolloutState tracks where the controller is in an episode. Transitions are
// strictly INIT → STEPPING → TERMINAL, fixed length, no early exit.
type rolloutState byte

const (
	stateInit rolloutState = iota
	stateStepping
	stateTerminal
)

// Trajectory collects every per-timestep output of one episode. Each slice
// has exactly NumGlimpses entries; the two (B, T) tensors are batch-major.
type Trajectory struct {
	InitLoc *tensor.Dense // (B, 2) uniform in [-1, 1]

	Phis     []*tensor.Dense // glimpse features per step
	Locs     []*tensor.Dense // clamped locations the glimpses were taken at
	Samples  []*tensor.Dense // raw policy draws, before clamping
	Hiddens  []*tensor.Dense // hidden states per step
	Eps      []*tensor.Dense // reparameterization noise per step
	Masks    []*tensor.Dense // accumulated visited masks per step
	Recons   []*tensor.Dense // decoder outputs per step
	ZMeans   []*tensor.Dense
	ZLogVars []*tensor.Dense

	ClassLogProbs []*tensor.Dense // (B, C) per step; the last is the decision output
	LogPi         *tensor.Dense   // (B, T)
	Baselines     *tensor.Dense   // (B, T)
}

// Terminal returns the decision output of the episode: the classification
// log-probabilities of the last=true step.
func (tr *Trajectory) Terminal() *tensor.Dense {
	return tr.ClassLogProbs[len(tr.ClassLogProbs)-1]
}

// Rollout drives the fixed-length glimpse sequence: retina → stepper per
// timestep, threading hidden state, location and the visited mask forward.
// It owns the episode-scoped mask; the retina gets it by value and hands an
// updated copy back.
type Rollout struct {
	Ret  retina.Retina
	Step *ramnet.Stepper

	gauss *rng.GaussianGenerator
	unif  *rng.UniformGenerator

	state rolloutState
}

// NewRollout builds a controller around a forward-only stepper.
func NewRollout(ret retina.Retina, step *ramnet.Stepper, seed int64) *Rollout {
	return &Rollout{
		Ret:   ret,
		Step:  step,
		gauss: rng.NewGaussianGenerator(seed),
		unif:  rng.NewUniformGenerator(seed + 1),
	}
}

// epsScale is the standard deviation of the reparameterization noise fed to
// the variational decoder.
const epsScale = 0.1

// Run plays one episode over the image batch x with location policy
// standard deviation std. The batch dimension of x must match the stepper's.
func (r *Rollout) Run(x *tensor.Dense, std float32) (*Trajectory, error) {
	conf := r.Step.Conf()
	b, T := conf.BatchSize, conf.NumGlimpses
	if x.Shape()[0] != b {
		return nil, errors.Errorf("ram: rollout batch size %d does not match stepper batch size %d", x.Shape()[0], b)
	}

	// INIT: zero hidden state, uniform random location, cleared mask
	r.state = stateInit
	h := tensor.New(tensor.WithShape(b, conf.HiddenSize), tensor.Of(ramnet.Float))
	var c *tensor.Dense
	if conf.Core == ramnet.LSTM {
		c = tensor.New(tensor.WithShape(b, conf.HiddenSize), tensor.Of(ramnet.Float))
	}
	loc := r.uniformLoc(b)
	mask := tensor.New(tensor.WithShape(b, conf.ReconSize), tensor.Of(ramnet.Float))

	tr := &Trajectory{
		InitLoc:   loc.Clone().(*tensor.Dense),
		LogPi:     tensor.New(tensor.WithShape(b, T), tensor.Of(ramnet.Float)),
		Baselines: tensor.New(tensor.WithShape(b, T), tensor.Of(ramnet.Float)),
	}
	logPi := tr.LogPi.Data().([]float32)
	baselines := tr.Baselines.Data().([]float32)

	r.state = stateStepping
	for t := 0; t < T; t++ {
		last := t == T-1
		if last {
			r.state = stateTerminal
		}

		phi, newMask, err := r.Ret.Extract(x, loc, mask)
		if err != nil {
			return nil, errors.Wrapf(err, "glimpse %d", t)
		}
		mask = newMask

		eps := r.gaussianNoise(b, conf.LatentSize)
		sv, err := r.Step.Step(phi, loc, h, c, eps, std)
		if err != nil {
			return nil, errors.Wrapf(err, "glimpse %d", t)
		}
		h, c = sv.H, sv.C

		// sample the next location and its log-probability; the density is
		// evaluated at the raw draw, and only the clamped copy moves the
		// retina. The raw draw is what the policy gradient differentiates.
		action, raw, lp := r.sample(sv.Mu, std)
		for i := 0; i < b; i++ {
			logPi[i*T+t] = lp[i]
			baselines[i*T+t] = sv.Baseline.Data().([]float32)[i]
		}

		tr.Phis = append(tr.Phis, phi)
		tr.Locs = append(tr.Locs, action)
		tr.Samples = append(tr.Samples, raw)
		tr.Hiddens = append(tr.Hiddens, sv.H)
		tr.Eps = append(tr.Eps, eps)
		tr.Masks = append(tr.Masks, mask)
		tr.Recons = append(tr.Recons, sv.Recon)
		tr.ZMeans = append(tr.ZMeans, sv.ZMean)
		tr.ZLogVars = append(tr.ZLogVars, sv.ZLogVar)
		tr.ClassLogProbs = append(tr.ClassLogProbs, sv.LogProbs)

		loc = action
	}
	return tr, nil
}

// sample draws l ~ Normal(mu, std) per coordinate and evaluates the joint
// log-density of the raw draw. It returns both the clamped location (what
// the retina sees) and the raw draw (what the log-density belongs to).
// Draws outside [-1, 1] are tolerated drift, not errors.
func (r *Rollout) sample(mu *tensor.Dense, std float32) (clamped, raw *tensor.Dense, logPi []float32) {
	b := mu.Shape()[0]
	mus := mu.Data().([]float32)
	cs := make([]float32, b*2)
	rs := make([]float32, b*2)
	logPi = make([]float32, b)
	logStd := math32.Log(std)

	for i := 0; i < b; i++ {
		for j := 0; j < 2; j++ {
			m := mus[i*2+j]
			l := m + std*float32(r.gauss.Gaussian(0, 1))
			d := (l - m) / std
			logPi[i] += -0.5*d*d - logStd - halfLog2Pi
			rs[i*2+j] = l

			if l < -1 {
				l = -1
			} else if l > 1 {
				l = 1
			}
			cs[i*2+j] = l
		}
	}
	clamped = tensor.New(tensor.WithShape(b, 2), tensor.WithBacking(cs))
	raw = tensor.New(tensor.WithShape(b, 2), tensor.WithBacking(rs))
	return clamped, raw, logPi
}

const halfLog2Pi = float32(0.9189385332046727)

func (r *Rollout) uniformLoc(b int) *tensor.Dense {
	backing := make([]float32, b*2)
	for i := range backing {
		backing[i] = r.unif.Float32Range(-1, 1)
	}
	return tensor.New(tensor.WithShape(b, 2), tensor.WithBacking(backing))
}

func (r *Rollout) gaussianNoise(b, n int) *tensor.Dense {
	backing := make([]float32, b*n)
	for i := range backing {
		backing[i] = float32(r.gauss.Gaussian(0, epsScale))
	}
	return tensor.New(tensor.WithShape(b, n), tensor.WithBacking(backing))
}
