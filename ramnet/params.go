package ramnet

import (
	G "gorgonia.org/gorgonia"
)

// gate is one LSTM gate: input projection, hidden projection and bias.
type gate struct {
	wx, wh, b *G.Node
}

func newGate(g *G.ExprGraph, size int, name string) gate {
	return gate{
		wx: G.NewMatrix(g, Float, G.WithShape(size, size), G.WithInit(G.GlorotN(1.0)), G.WithName(name+"_wx")),
		wh: G.NewMatrix(g, Float, G.WithShape(size, size), G.WithInit(G.GlorotN(1.0)), G.WithName(name+"_wh")),
		b:  G.NewMatrix(g, Float, G.WithShape(1, size), G.WithInit(G.Zeroes()), G.WithName(name+"_b")),
	}
}

func (gt gate) nodes() G.Nodes { return G.Nodes{gt.wx, gt.wh, gt.b} }

// params holds every learnable weight of the network. Creation order is
// fixed: the training and stepping graphs enumerate the same weights at the
// same positions, which is what makes positional value copying and gob
// round-trips sound.
type params struct {
	// glimpse encoder
	fcPix, fcLoc, what, where linear

	// recurrent core
	i2h, h2h        linear // h2h only for the Linear core
	gi, gf, go_, gg gate   // only for the LSTM core

	// heads
	policyHid, policyOut  linear
	critic                linear
	classifier            linear
	latentMean, latentVar linear
	dec1, dec2            linear
}

func newParams(g *G.ExprGraph, conf Config) *params {
	p := &params{
		fcPix: newLinear(g, conf.GlimpseFeatures, conf.GlimpseHidden, "GlimpsePix"),
		fcLoc: newLinear(g, 2, conf.LocHidden, "GlimpseLoc"),
		what:  newLinear(g, conf.GlimpseHidden, conf.HiddenSize, "What"),
		where: newLinear(g, conf.LocHidden, conf.HiddenSize, "Where"),
		i2h:   newLinear(g, conf.HiddenSize, conf.HiddenSize, "I2H"),
	}
	switch conf.Core {
	case Linear:
		p.h2h = newLinear(g, conf.HiddenSize, conf.HiddenSize, "H2H")
	case LSTM:
		p.gi = newGate(g, conf.HiddenSize, "GateI")
		p.gf = newGate(g, conf.HiddenSize, "GateF")
		p.go_ = newGate(g, conf.HiddenSize, "GateO")
		p.gg = newGate(g, conf.HiddenSize, "GateG")
	}
	p.policyHid = newLinear(g, conf.HiddenSize, conf.HiddenSize/2, "PolicyHid")
	p.policyOut = newLinear(g, conf.HiddenSize/2, 2, "PolicyOut")
	p.critic = newLinear(g, conf.HiddenSize, 1, "Critic")
	p.classifier = newLinear(g, conf.HiddenSize, conf.NumClasses, "Classifier")
	p.latentMean = newLinear(g, conf.HiddenSize, conf.LatentSize, "LatentMean")
	p.latentVar = newLinear(g, conf.HiddenSize, conf.LatentSize, "LatentVar")
	p.dec1 = newLinear(g, conf.LatentSize, conf.ReconSize/8, "Decode1")
	p.dec2 = newLinear(g, conf.ReconSize/8, conf.ReconSize, "Decode2")
	return p
}

func (p *params) nodes(core CoreType) G.Nodes {
	retVal := make(G.Nodes, 0, 32)
	retVal = append(retVal, p.fcPix.nodes()...)
	retVal = append(retVal, p.fcLoc.nodes()...)
	retVal = append(retVal, p.what.nodes()...)
	retVal = append(retVal, p.where.nodes()...)
	retVal = append(retVal, p.i2h.nodes()...)
	switch core {
	case Linear:
		retVal = append(retVal, p.h2h.nodes()...)
	case LSTM:
		retVal = append(retVal, p.gi.nodes()...)
		retVal = append(retVal, p.gf.nodes()...)
		retVal = append(retVal, p.go_.nodes()...)
		retVal = append(retVal, p.gg.nodes()...)
	}
	retVal = append(retVal, p.policyHid.nodes()...)
	retVal = append(retVal, p.policyOut.nodes()...)
	retVal = append(retVal, p.critic.nodes()...)
	retVal = append(retVal, p.classifier.nodes()...)
	retVal = append(retVal, p.latentMean.nodes()...)
	retVal = append(retVal, p.latentVar.nodes()...)
	retVal = append(retVal, p.dec1.nodes()...)
	retVal = append(retVal, p.dec2.nodes()...)
	return retVal
}
