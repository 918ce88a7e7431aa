package ramnet

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Net is the training network: the glimpse sequence statically unrolled over
// NumGlimpses timesteps, with the combined objective and its gradients.
//
// Locations, glimpse features and reparameterization noise are produced by
// the rollout phase outside the graph and fed in as leaves; hidden states
// are recomputed in-graph from the same weights so that classification
// gradients can flow through time, while the policy, critic and decoder
// heads read value-fed "detached hidden" leaves.
type Net struct {
	Config

	g *G.ExprGraph
	p *params

	// per-timestep input leaves
	phis    G.Nodes
	locs    G.Nodes // clamped locations, feed the glimpse encoder
	actions G.Nodes // raw samples, feed the policy log-density
	hDets   G.Nodes
	epss    G.Nodes
	maskIns G.Nodes // only when PartialVAE
	advs    G.Nodes
	rtgs    G.Nodes

	initLoc     *G.Node
	h0, c0      *G.Node
	targets     *G.Node // one-hot labels (B, classes)
	reconTarget *G.Node // flattened image (B, reconSize)
	std         *G.Node // scalar
	vaeGate     *G.Node // scalar, 0 or 1

	vm G.VM

	costVal      G.Value
	actionVal    G.Value
	baselineVal  G.Value
	reinforceVal G.Value
	vaeVal       G.Value
}

// NewNet returns a new, uninitialized *Net.
func NewNet(conf Config) *Net {
	return &Net{Config: conf}
}

func (n *Net) Init() error {
	n.reset()
	n.g = G.NewGraph()
	n.p = newParams(n.g, n.Config)

	if err := n.fwd(); err != nil {
		return err
	}
	return nil
}

func (n *Net) fwd() error {
	conf := n.Config
	b, T := conf.BatchSize, conf.NumGlimpses
	var m maebe

	n.initLoc = G.NewMatrix(n.g, Float, G.WithShape(b, 2), G.WithName("InitLoc"))
	n.h0 = G.NewMatrix(n.g, Float, G.WithShape(b, conf.HiddenSize), G.WithName("H0"))
	if conf.Core == LSTM {
		n.c0 = G.NewMatrix(n.g, Float, G.WithShape(b, conf.HiddenSize), G.WithName("C0"))
	}
	n.targets = G.NewMatrix(n.g, Float, G.WithShape(b, conf.NumClasses), G.WithName("Targets"))
	n.reconTarget = G.NewMatrix(n.g, Float, G.WithShape(b, conf.ReconSize), G.WithName("ReconTarget"))
	n.std = G.NewScalar(n.g, Float, G.WithName("Std"))
	n.vaeGate = G.NewScalar(n.g, Float, G.WithName("VAEGate"))

	for t := 0; t < T; t++ {
		n.phis = append(n.phis, G.NewMatrix(n.g, Float, G.WithShape(b, conf.GlimpseFeatures), G.WithName(nameT("Phi", t))))
		n.locs = append(n.locs, G.NewMatrix(n.g, Float, G.WithShape(b, 2), G.WithName(nameT("Loc", t))))
		n.actions = append(n.actions, G.NewMatrix(n.g, Float, G.WithShape(b, 2), G.WithName(nameT("Action", t))))
		n.hDets = append(n.hDets, G.NewMatrix(n.g, Float, G.WithShape(b, conf.HiddenSize), G.WithName(nameT("HDet", t))))
		n.epss = append(n.epss, G.NewMatrix(n.g, Float, G.WithShape(b, conf.LatentSize), G.WithName(nameT("Eps", t))))
		if conf.PartialVAE {
			n.maskIns = append(n.maskIns, G.NewMatrix(n.g, Float, G.WithShape(b, conf.ReconSize), G.WithName(nameT("Mask", t))))
		}
		n.advs = append(n.advs, G.NewVector(n.g, Float, G.WithShape(b), G.WithName(nameT("Adv", t))))
		n.rtgs = append(n.rtgs, G.NewVector(n.g, Float, G.WithShape(b), G.WithName(nameT("Rtg", t))))
	}

	hPrev, cPrev := n.h0, n.c0
	var seSum, piAdvSum, vaeSum *G.Node
	var lastLogProbs *G.Node

	for t := 0; t < T; t++ {
		loc := n.initLoc
		if t > 0 {
			loc = n.locs[t-1]
		}
		out := fwdStep(&m, n.p, conf, stepIn{
			phi:    n.phis[t],
			loc:    loc,
			hPrev:  hPrev,
			cPrev:  cPrev,
			action: n.actions[t],
			eps:    n.epss[t],
			std:    n.std,
		}, n.hDets[t])
		hPrev, cPrev = out.h, out.c
		lastLogProbs = out.logProbs

		// baseline regression to return-to-go, squared errors accumulated
		se := m.sum(m.square(m.sub(out.baseline, n.rtgs[t])))
		seSum = m.accum(seSum, se)

		// policy-gradient term: advantages come in detached, per timestep
		piAdvSum = m.accum(piAdvSum, m.hadamard(out.logPi, n.advs[t]))

		// variational reconstruction loss
		recon, target := out.recon, n.reconTarget
		if conf.PartialVAE {
			recon = m.hadamard(recon, n.maskIns[t])
			target = m.hadamard(target, n.maskIns[t])
		}
		vaeSum = m.accum(vaeSum, m.add(m.bce(recon, target), m.kl(out.zMean, out.zLogVar)))
	}

	// terminal-step classification NLL
	lossAction := m.neg(m.mean(m.sum(m.hadamard(n.targets, lastLogProbs), 1)))
	lossBaseline := m.scale(seSum, 1/float32(b*T))
	lossReinforce := m.mean(m.neg(piAdvSum))

	hybrid := m.add(lossAction, m.scale(lossBaseline, conf.CriticWeight))
	hybrid = m.add(hybrid, m.scale(lossReinforce, conf.ActorWeight))
	cost := m.add(hybrid, m.mul(n.vaeGate, vaeSum))

	if m.err != nil {
		return m.err
	}

	G.Read(cost, &n.costVal)
	G.Read(lossAction, &n.actionVal)
	G.Read(lossBaseline, &n.baselineVal)
	G.Read(lossReinforce, &n.reinforceVal)
	G.Read(vaeSum, &n.vaeVal)

	if _, err := G.Grad(cost, n.Model()...); err != nil {
		return errors.WithStack(err)
	}

	n.vm = G.NewTapeMachine(n.g, G.BindDualValues(n.Model()...))
	return nil
}

// accum chains sums without special-casing the first term at every call site.
func (m *maebe) accum(acc, v *G.Node) *G.Node {
	if acc == nil {
		return v
	}
	return m.add(acc, v)
}

func nameT(prefix string, t int) string {
	return fmt.Sprintf("%s_%d", prefix, t)
}

// Model returns the learnable weights, in creation order.
func (n *Net) Model() G.Nodes { return n.p.nodes(n.Core) }

// Graph exposes the expression graph, mostly for debugging dumps.
func (n *Net) Graph() *G.ExprGraph { return n.g }

// TrainInputs carries one batch worth of leaves for the training graph. All
// per-timestep slices must have exactly NumGlimpses entries with a constant
// batch dimension.
type TrainInputs struct {
	Phis    []*tensor.Dense // glimpse features per step
	InitLoc *tensor.Dense   // initial random location
	Locs    []*tensor.Dense // clamped locations the glimpses were taken at
	Actions []*tensor.Dense // raw location samples, before clamping
	Hiddens []*tensor.Dense // rollout hidden states (detached head inputs)
	Eps     []*tensor.Dense // reparameterization noise per step
	Masks   []*tensor.Dense // visited masks per step; used when PartialVAE
	Adv     []*tensor.Dense // advantages per step (B,)
	Rtg     []*tensor.Dense // returns-to-go per step (B,)
	Targets *tensor.Dense   // one-hot labels
	Recon   *tensor.Dense   // flattened reconstruction target
	Std     float32
	VAEOn   bool
}

// Run feeds one batch and executes a forward+backward pass. Gradients are
// left bound to the model nodes for the solver to consume.
func (n *Net) Run(in TrainInputs) error {
	T := n.NumGlimpses
	if len(in.Phis) != T || len(in.Locs) != T || len(in.Actions) != T || len(in.Hiddens) != T ||
		len(in.Eps) != T || len(in.Adv) != T || len(in.Rtg) != T {
		return errors.Errorf("ramnet: expected %d timesteps of inputs, got %d/%d/%d/%d/%d/%d/%d",
			T, len(in.Phis), len(in.Locs), len(in.Actions), len(in.Hiddens), len(in.Eps), len(in.Adv), len(in.Rtg))
	}
	if n.PartialVAE && len(in.Masks) != T {
		return errors.Errorf("ramnet: partial VAE requires %d masks, got %d", T, len(in.Masks))
	}

	zeros := tensor.New(tensor.WithShape(n.BatchSize, n.HiddenSize), tensor.Of(Float))
	if err := G.Let(n.h0, zeros); err != nil {
		return errors.WithStack(err)
	}
	if n.Core == LSTM {
		czeros := tensor.New(tensor.WithShape(n.BatchSize, n.HiddenSize), tensor.Of(Float))
		if err := G.Let(n.c0, czeros); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := G.Let(n.initLoc, in.InitLoc); err != nil {
		return errors.WithStack(err)
	}
	if err := G.Let(n.targets, in.Targets); err != nil {
		return errors.WithStack(err)
	}
	if err := G.Let(n.reconTarget, in.Recon); err != nil {
		return errors.WithStack(err)
	}
	if err := G.Let(n.std, in.Std); err != nil {
		return errors.WithStack(err)
	}
	gate := float32(0)
	if in.VAEOn {
		gate = 1
	}
	if err := G.Let(n.vaeGate, gate); err != nil {
		return errors.WithStack(err)
	}
	for t := 0; t < T; t++ {
		pairs := []struct {
			n *G.Node
			v *tensor.Dense
		}{
			{n.phis[t], in.Phis[t]},
			{n.locs[t], in.Locs[t]},
			{n.actions[t], in.Actions[t]},
			{n.hDets[t], in.Hiddens[t]},
			{n.epss[t], in.Eps[t]},
			{n.advs[t], in.Adv[t]},
			{n.rtgs[t], in.Rtg[t]},
		}
		if n.PartialVAE {
			pairs = append(pairs, struct {
				n *G.Node
				v *tensor.Dense
			}{n.maskIns[t], in.Masks[t]})
		}
		for _, p := range pairs {
			if err := G.Let(p.n, p.v); err != nil {
				return errors.Wrapf(err, "binding %v at t=%d", p.n.Name(), t)
			}
		}
	}

	n.vm.Reset()
	if err := n.vm.RunAll(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Costs reports the scalar losses of the last Run.
func (n *Net) Costs() (total, action, baseline, reinforce, vae float32) {
	return scalarOf(n.costVal), scalarOf(n.actionVal), scalarOf(n.baselineVal),
		scalarOf(n.reinforceVal), scalarOf(n.vaeVal)
}

func scalarOf(v G.Value) float32 {
	if v == nil {
		return 0
	}
	switch d := v.Data().(type) {
	case float32:
		return d
	case []float32:
		if len(d) > 0 {
			return d[0]
		}
	}
	return 0
}

// Close releases the tape machine.
func (n *Net) Close() error {
	if n.vm == nil {
		return nil
	}
	return n.vm.Close()
}

func (n *Net) reset() {
	n.g = nil
	n.p = nil
	n.phis, n.locs, n.actions, n.hDets, n.epss, n.maskIns, n.advs, n.rtgs = nil, nil, nil, nil, nil, nil, nil, nil
	n.initLoc, n.h0, n.c0, n.targets, n.reconTarget, n.std, n.vaeGate = nil, nil, nil, nil, nil, nil, nil
	n.vm = nil
}

func (n *Net) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	for _, node := range n.Model() {
		v := node.Value()
		if err := enc.Encode(&v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (n *Net) GobDecode(p []byte) error {
	if err := n.Close(); err != nil {
		return err
	}
	if err := n.Init(); err != nil {
		return err
	}

	buf := bytes.NewBuffer(p)
	dec := gob.NewDecoder(buf)
	for _, node := range n.Model() {
		var v G.Value
		if err := dec.Decode(&v); err != nil {
			return errors.Wrapf(err, "decoding %v", node.Name())
		}
		if err := G.Let(node, v); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
