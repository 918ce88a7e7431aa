package ramnet

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type stepIn struct {
	phi    *G.Node // glimpse features (B, k*g*g*c)
	loc    *G.Node // location the glimpse was taken at (B, 2)
	hPrev  *G.Node
	cPrev  *G.Node // LSTM core only
	action *G.Node // raw sampled next location; unused in forward-only graphs
	eps    *G.Node // reparameterization noise (B, latent)
	std    *G.Node // scalar policy standard deviation
}

type stepOut struct {
	h, c           *G.Node
	mu             *G.Node // policy mean (B, 2)
	logPi          *G.Node // (B,); nil in forward-only graphs
	baseline       *G.Node // (B,)
	logProbs       *G.Node // (B, classes)
	zMean, zLogVar *G.Node // (B, latent)
	recon          *G.Node // (B, reconSize)
}

// fwdStep wires one glimpse timestep.
//
// The classifier reads the freshly computed hidden state, so classification
// gradients flow through the recurrent core and the glimpse encoder
// (usesSharedGradient=true). The policy, critic and decoder read `detached`
// instead: in the training graph that is a value-fed leaf carrying the same
// hidden state, which makes the no-gradients-into-the-core contract
// structural rather than incidental. Passing nil (forward-only graphs)
// points the heads at the computed hidden state directly.
func fwdStep(m *maebe, p *params, conf Config, in stepIn, detached *G.Node) (out stepOut) {
	// glimpse encoder
	what := m.fc(m.rectify(m.fc(in.phi, p.fcPix)), p.what)
	where := m.fc(m.rectify(m.fc(in.loc, p.fcLoc)), p.where)
	gt := m.rectify(m.add(what, where))

	// recurrent core
	switch conf.Core {
	case Linear:
		out.h = m.rectify(m.add(m.fc(gt, p.i2h), m.fc(in.hPrev, p.h2h)))
	case LSTM:
		x := m.fc(gt, p.i2h)
		i := m.sigmoid(m.gated(x, in.hPrev, p.gi))
		f := m.sigmoid(m.gated(x, in.hPrev, p.gf))
		o := m.sigmoid(m.gated(x, in.hPrev, p.go_))
		cand := m.tanh(m.gated(x, in.hPrev, p.gg))
		out.c = m.add(m.hadamard(f, in.cPrev), m.hadamard(i, cand))
		out.h = m.hadamard(o, m.tanh(out.c))
	}

	headH := detached
	if headH == nil {
		headH = out.h
	}

	// location policy
	feat := m.rectify(m.fc(headH, p.policyHid))
	out.mu = m.tanh(m.fc(feat, p.policyOut))
	if !conf.FwdOnly {
		out.logPi = m.normalLogProb(in.action, out.mu, in.std)
	}

	// critic
	out.baseline = m.reshape(m.fc(headH, p.critic), tensor.Shape{conf.BatchSize})

	// classifier
	out.logProbs = m.logSoftMax(m.fc(out.h, p.classifier))

	// variational decoder
	out.zMean = m.rectify(m.fc(headH, p.latentMean))
	out.zLogVar = m.rectify(m.fc(headH, p.latentVar))
	z := m.add(out.zMean, m.hadamard(m.exp(m.scale(out.zLogVar, half)), in.eps))
	out.recon = m.sigmoid(m.rectify(m.fc(m.tanh(m.fc(z, p.dec1)), p.dec2)))
	return out
}

func (m *maebe) gated(x, h *G.Node, gt gate) *G.Node {
	s := m.add(m.mul(x, gt.wx), m.mul(h, gt.wh))
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(s, gt.b, nil, []byte{0}) })
}
