package ramnet

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var Float = G.Float32

const half = float32(0.5)

// halfLog2Pi is 0.5*log(2*pi), the constant term of the Normal log-density.
const halfLog2Pi = float32(0.9189385332046727)

type maebe struct {
	err error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// linear is a fully connected layer. The bias is (1, units) and broadcast
// over the batch so the same weights fit graphs of any batch size.
type linear struct {
	w, b *G.Node
}

func newLinear(g *G.ExprGraph, in, units int, name string) linear {
	return linear{
		w: G.NewMatrix(g, Float, G.WithShape(in, units), G.WithInit(G.GlorotN(1.0)), G.WithName(name+"_w")),
		b: G.NewMatrix(g, Float, G.WithShape(1, units), G.WithInit(G.Zeroes()), G.WithName(name+"_b")),
	}
}

func (l linear) nodes() G.Nodes { return G.Nodes{l.w, l.b} }

func (m *maebe) fc(input *G.Node, l linear) *G.Node {
	xw := m.do(func() (*G.Node, error) { return G.Mul(input, l.w) })
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(xw, l.b, nil, []byte{0}) })
}

func (m *maebe) rectify(input *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Rectify(input); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) tanh(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Tanh(input) })
}

func (m *maebe) sigmoid(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sigmoid(input) })
}

func (m *maebe) add(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, b) })
}

func (m *maebe) sub(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sub(a, b) })
}

func (m *maebe) mul(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mul(a, b) })
}

func (m *maebe) hadamard(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.HadamardProd(a, b) })
}

func (m *maebe) square(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Square(a) })
}

func (m *maebe) exp(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Exp(a) })
}

func (m *maebe) log(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Log(a) })
}

func (m *maebe) neg(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Neg(a) })
}

func (m *maebe) mean(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mean(a) })
}

func (m *maebe) sum(a *G.Node, along ...int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sum(a, along...) })
}

func (m *maebe) reshape(a *G.Node, to tensor.Shape) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Reshape(a, to) })
}

func (m *maebe) scale(a *G.Node, by float32) *G.Node {
	return m.mul(a, G.NewConstant(by))
}

// logSoftMax produces per-class log-probabilities.
func (m *maebe) logSoftMax(logits *G.Node) *G.Node {
	sm := m.do(func() (*G.Node, error) { return G.SoftMax(logits) })
	return m.log(sm)
}

// normalLogProb is the log-density of action under Normal(mu, std), summed
// over the location dimensions: the two coordinates are independent, so the
// joint log-density is the sum of the per-coordinate ones. Returns (B,).
func (m *maebe) normalLogProb(action, mu, std *G.Node) *G.Node {
	d2 := m.square(m.sub(action, mu))
	twoVar := m.scale(m.square(std), 2)
	quad := m.do(func() (*G.Node, error) { return G.Div(d2, twoVar) })
	lp := m.sub(m.neg(quad), m.log(std))
	lp = m.sub(lp, G.NewConstant(halfLog2Pi))
	return m.sum(lp, 1)
}

// bce is the summed binary cross-entropy of output against target. A small
// epsilon keeps the logs finite at the saturated ends, the way reference
// implementations clamp them.
func (m *maebe) bce(output, target *G.Node) *G.Node {
	eps := G.NewConstant(float32(1e-7))
	one := G.NewConstant(float32(1))

	pos := m.hadamard(target, m.log(m.add(output, eps)))
	omt := m.sub(one, target)
	omo := m.sub(one, output)
	neg := m.hadamard(omt, m.log(m.add(omo, eps)))
	return m.neg(m.sum(m.add(pos, neg)))
}

// kl is the closed-form KL divergence of Normal(mu, exp(logvar)) against the
// standard Normal prior, summed over batch and latent dimensions.
func (m *maebe) kl(mu, logvar *G.Node) *G.Node {
	one := G.NewConstant(float32(1))
	inner := m.sub(m.add(logvar, one), m.exp(logvar))
	inner = m.sub(inner, m.square(mu))
	return m.scale(m.sum(inner), -0.5)
}
