package ram

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/gorgonia/ram/ramnet"
	"github.com/gorgonia/ram/retina"
	"gorgonia.org/tensor"
)

func tinyNNConf(core ramnet.CoreType) ramnet.Config {
	return ramnet.Config{
		GlimpseFeatures: 4,
		GlimpseHidden:   8,
		LocHidden:       8,
		HiddenSize:      16,
		LatentSize:      4,
		NumClasses:      3,
		NumGlimpses:     3,
		ReconSize:       64,
		BatchSize:       2,
		Core:            core,
	}
}

func randomImages(b, size int) *tensor.Dense {
	return tensor.New(tensor.WithShape(b, 1, size, size),
		tensor.WithBacking(tensor.Random(ramnet.Float, b*size*size)))
}

func TestRolloutEpisode(t *testing.T) {
	for _, core := range []ramnet.CoreType{ramnet.Linear, ramnet.LSTM} {
		t.Run(core.String(), func(t *testing.T) {
			assert := assert.New(t)
			conf := tinyNNConf(core)
			step, err := ramnet.NewStepper(conf, conf.BatchSize)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			defer step.Close()

			ret := retina.Retina{PatchSize: 2, NumPatches: 1, Scale: 2}
			roll := NewRollout(ret, step, 1337)

			tr, err := roll.Run(randomImages(conf.BatchSize, 8), 0.1)
			if err != nil {
				t.Fatalf("%+v", err)
			}

			T := conf.NumGlimpses
			assert.Equal(T, len(tr.Phis))
			assert.Equal(T, len(tr.Locs))
			assert.Equal(T, len(tr.Samples))
			assert.Equal(T, len(tr.Hiddens))
			assert.Equal(T, len(tr.Eps))
			assert.Equal(T, len(tr.Masks))
			assert.Equal(T, len(tr.Recons))
			assert.Equal(T, len(tr.ClassLogProbs))

			assert.Equal(tensor.Shape{conf.BatchSize, T}, tr.LogPi.Shape())
			assert.Equal(tensor.Shape{conf.BatchSize, T}, tr.Baselines.Shape())
			assert.Equal(tensor.Shape{conf.BatchSize, 2}, tr.InitLoc.Shape())
			assert.Equal(tensor.Shape{conf.BatchSize, conf.NumClasses}, tr.Terminal().Shape())

			for ti, l := range tr.Locs {
				ls := l.Data().([]float32)
				rs := tr.Samples[ti].Data().([]float32)
				for i, v := range ls {
					if v < -1 || v > 1 {
						t.Fatalf("glimpse location %v out of [-1, 1]", v)
					}
					if want := clampLoc(rs[i]); v != want {
						t.Fatalf("step %d: location %v is not the clamped draw %v", ti, v, rs[i])
					}
				}
			}

			// masks only accumulate
			var prev float32
			for ti, m := range tr.Masks {
				var sum float32
				for _, v := range m.Data().([]float32) {
					if v < 0 || v > 1 {
						t.Fatalf("mask value %v out of [0, 1]", v)
					}
					sum += v
				}
				if sum < prev {
					t.Fatalf("visited mask shrank at step %d: %v < %v", ti, sum, prev)
				}
				prev = sum
			}

			// terminal output is a log-distribution over classes
			lp := tr.Terminal().Data().([]float32)
			for i := 0; i < conf.BatchSize; i++ {
				var sum float32
				for j := 0; j < conf.NumClasses; j++ {
					sum += math32.Exp(lp[i*conf.NumClasses+j])
				}
				assert.InDelta(1.0, float64(sum), 1e-3)
			}
		})
	}
}

func clampLoc(v float32) float32 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// The log-density belongs to the raw draw, not the clamped location: with a
// mean far outside the valid range every draw clamps, and a density naively
// evaluated at the clamped value would be wildly off.
func TestSampleDensityAtRawDraw(t *testing.T) {
	roll := NewRollout(retina.Retina{PatchSize: 2, NumPatches: 1, Scale: 2}, nil, 99)
	const b, std = 4, 0.1

	backing := make([]float32, b*2)
	for i := range backing {
		backing[i] = 5 // far outside [-1, 1]
	}
	mu := tensor.New(tensor.WithShape(b, 2), tensor.WithBacking(backing))

	clamped, raw, logPi := roll.sample(mu, std)
	cs := clamped.Data().([]float32)
	rs := raw.Data().([]float32)
	logStd := math32.Log(float32(std))

	for i := 0; i < b; i++ {
		var want float32
		for j := 0; j < 2; j++ {
			if cs[i*2+j] != 1 {
				t.Fatalf("draw around mean 5 must clamp to 1, got %v", cs[i*2+j])
			}
			if rs[i*2+j] <= 1 {
				t.Fatalf("raw draw around mean 5 must stay unclamped, got %v", rs[i*2+j])
			}
			d := (rs[i*2+j] - 5) / std
			want += -0.5*d*d - logStd - halfLog2Pi
		}
		if math32.Abs(logPi[i]-want) > 1e-4 {
			t.Errorf("image %d: log-density %v does not match the raw draw (%v)", i, logPi[i], want)
		}
	}
}

func TestRolloutBatchMismatch(t *testing.T) {
	conf := tinyNNConf(ramnet.Linear)
	step, err := ramnet.NewStepper(conf, conf.BatchSize)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer step.Close()

	roll := NewRollout(retina.Retina{PatchSize: 2, NumPatches: 1, Scale: 2}, step, 1)
	if _, err := roll.Run(randomImages(5, 8), 0.1); err == nil {
		t.Error("expected an error for a mismatched batch")
	}
}
