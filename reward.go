package ram

import (
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// Predictions returns the argmax class per image of a (B, C) log-probability
// tensor.
func Predictions(logProbs *tensor.Dense) []int {
	b, c := logProbs.Shape()[0], logProbs.Shape()[1]
	data := logProbs.Data().([]float32)
	preds := make([]int, b)
	for i := 0; i < b; i++ {
		best, bestV := 0, data[i*c]
		for j := 1; j < c; j++ {
			if v := data[i*c+j]; v > bestV {
				best, bestV = j, v
			}
		}
		preds[i] = best
	}
	return preds
}

// TerminalReward builds the (B, T) reward tensor: 1 at the last timestep for
// every correctly classified image, 0 everywhere else.
func TerminalReward(predicted, labels []int, T int) *tensor.Dense {
	b := len(predicted)
	backing := make([]float32, b*T)
	for i := range predicted {
		if predicted[i] == labels[i] {
			backing[i*T+T-1] = 1
		}
	}
	return tensor.New(tensor.WithShape(b, T), tensor.WithBacking(backing))
}

// RepeatedReward builds the (B, T) reward tensor the validation path uses:
// the correctness signal for the terminal prediction, repeated at every
// timestep.
func RepeatedReward(predicted, labels []int, T int) *tensor.Dense {
	b := len(predicted)
	backing := make([]float32, b*T)
	for i := range predicted {
		if predicted[i] == labels[i] {
			for t := 0; t < T; t++ {
				backing[i*T+t] = 1
			}
		}
	}
	return tensor.New(tensor.WithShape(b, T), tensor.WithBacking(backing))
}

// ShapeByEntropy adds the "logprob" shaping bonus to R in place: the
// per-step predictive entropy is turned into a step-to-step entropy
// *reduction*, the first step anchored against the maximum entropy
// log(numClasses), scaled by 0.5 and added at every timestep.
func ShapeByEntropy(R *tensor.Dense, classLogProbs []*tensor.Dense, numClasses int) {
	b, T := R.Shape()[0], R.Shape()[1]
	r := R.Data().([]float32)
	anchor := math32.Log(float32(numClasses))

	ent := make([]float32, b*T)
	for t, lp := range classLogProbs {
		data := lp.Data().([]float32)
		for i := 0; i < b; i++ {
			var h float32
			for j := 0; j < numClasses; j++ {
				v := data[i*numClasses+j]
				h -= math32.Exp(v) * v
			}
			ent[i*T+t] = h
		}
	}

	for i := 0; i < b; i++ {
		row := ent[i*T : (i+1)*T]
		for t := T - 1; t >= 1; t-- {
			row[t] = row[t-1] - row[t]
		}
		row[0] = anchor - row[0]
		vecf32.Scale(row, 0.5)
		vecf32.Add(r[i*T:(i+1)*T], row)
	}
}

// ReturnToGo computes the undiscounted return-to-go of R via a reverse
// cumulative sum: rtg[0] is the total reward, and
// rtg[t] = rtg[t-1] - r[t-1] for t > 0.
func ReturnToGo(R *tensor.Dense) *tensor.Dense {
	b, T := R.Shape()[0], R.Shape()[1]
	r := R.Data().([]float32)
	backing := make([]float32, b*T)
	for i := 0; i < b; i++ {
		var total float32
		for t := 0; t < T; t++ {
			total += r[i*T+t]
		}
		backing[i*T] = total
		for t := 1; t < T; t++ {
			backing[i*T+t] = backing[i*T+t-1] - r[i*T+t-1]
		}
	}
	return tensor.New(tensor.WithShape(b, T), tensor.WithBacking(backing))
}

// AdvantageDefault is the plain REINFORCE-with-baseline advantage:
// return-to-go minus the (detached) baseline.
func AdvantageDefault(rtg, baselines *tensor.Dense) *tensor.Dense {
	backing := make([]float32, len(rtg.Data().([]float32)))
	copy(backing, rtg.Data().([]float32))
	vecf32.Sub(backing, baselines.Data().([]float32))
	return tensor.New(tensor.WithShape(rtg.Shape()...), tensor.WithBacking(backing))
}

// AdvantageAC2 is the one-step bootstrapped actor-critic advantage:
// adv[t] = r[t] + b[t+1] - b[t] for t < T-1, and adv[T-1] = r[T-1] - b[T-1].
func AdvantageAC2(R, baselines *tensor.Dense) *tensor.Dense {
	b, T := R.Shape()[0], R.Shape()[1]
	r := R.Data().([]float32)
	bl := baselines.Data().([]float32)
	backing := make([]float32, b*T)
	for i := 0; i < b; i++ {
		for t := 0; t < T-1; t++ {
			backing[i*T+t] = r[i*T+t] + bl[i*T+t+1] - bl[i*T+t]
		}
		backing[i*T+T-1] = r[i*T+T-1] - bl[i*T+T-1]
	}
	return tensor.New(tensor.WithShape(b, T), tensor.WithBacking(backing))
}

// PerStep splits a (B, T) tensor into T vectors of shape (B,).
func PerStep(m *tensor.Dense) []*tensor.Dense {
	b, T := m.Shape()[0], m.Shape()[1]
	data := m.Data().([]float32)
	out := make([]*tensor.Dense, T)
	for t := 0; t < T; t++ {
		backing := make([]float32, b)
		for i := 0; i < b; i++ {
			backing[i] = data[i*T+t]
		}
		out[t] = tensor.New(tensor.WithShape(b), tensor.WithBacking(backing))
	}
	return out
}

// OneHot encodes labels as a (B, C) float32 tensor.
func OneHot(labels []int, numClasses int) *tensor.Dense {
	backing := make([]float32, len(labels)*numClasses)
	for i, y := range labels {
		backing[i*numClasses+y] = 1
	}
	return tensor.New(tensor.WithShape(len(labels), numClasses), tensor.WithBacking(backing))
}

// nllLoss is the mean negative log-likelihood of the labels under (B, C)
// log-probabilities.
func nllLoss(logProbs *tensor.Dense, labels []int) float32 {
	c := logProbs.Shape()[1]
	data := logProbs.Data().([]float32)
	var sum float32
	for i, y := range labels {
		sum -= data[i*c+y]
	}
	return sum / float32(len(labels))
}

// mseLoss is the mean squared error between two same-shaped tensors.
func mseLoss(a, b *tensor.Dense) float32 {
	as := a.Data().([]float32)
	bs := b.Data().([]float32)
	var sum float32
	for i := range as {
		d := as[i] - bs[i]
		sum += d * d
	}
	return sum / float32(len(as))
}

// reinforceLoss is mean over the batch of sum over timesteps of
// -logPi * advantage, both (B, T).
func reinforceLoss(logPi, adv *tensor.Dense) float32 {
	b, T := logPi.Shape()[0], logPi.Shape()[1]
	lp := logPi.Data().([]float32)
	av := adv.Data().([]float32)
	var sum float32
	for i := 0; i < b*T; i++ {
		sum -= lp[i] * av[i]
	}
	return sum / float32(b)
}
