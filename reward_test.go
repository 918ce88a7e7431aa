package ram

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func denseBT(b, T int, vals []float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(b, T), tensor.WithBacking(vals))
}

func TestPredictions(t *testing.T) {
	lp := denseBT(3, 4, []float32{
		-0.1, -2, -3, -4,
		-5, -6, -0.2, -7,
		-9, -0.3, -8, -2,
	})
	assert.Equal(t, []int{0, 2, 1}, Predictions(lp))
}

func TestTerminalReward(t *testing.T) {
	assert := assert.New(t)
	R := TerminalReward([]int{3, 1, 0, 7}, []int{3, 2, 0, 0}, 3)
	assert.Equal(tensor.Shape{4, 3}, R.Shape())
	assert.Equal([]float32{
		0, 0, 1,
		0, 0, 0,
		0, 0, 1,
		0, 0, 0,
	}, R.Data().([]float32))
}

func TestRepeatedReward(t *testing.T) {
	R := RepeatedReward([]int{3, 1}, []int{3, 2}, 3)
	assert.Equal(t, []float32{
		1, 1, 1,
		0, 0, 0,
	}, R.Data().([]float32))
}

func TestReturnToGo(t *testing.T) {
	assert := assert.New(t)
	R := denseBT(2, 4, []float32{
		0, 0, 0, 1,
		0.5, 0, 0.25, 1,
	})
	rtg := ReturnToGo(R)
	assert.Equal([]float32{
		1, 1, 1, 1,
		1.75, 1.25, 1.25, 1,
	}, rtg.Data().([]float32))
}

func TestAdvantageDefault(t *testing.T) {
	rtg := denseBT(1, 3, []float32{1, 1, 1})
	bl := denseBT(1, 3, []float32{0.2, 0.5, 0.9})
	adv := AdvantageDefault(rtg, bl)
	assertClose(t, []float32{0.8, 0.5, 0.1}, adv.Data().([]float32))
	// inputs untouched
	assert.Equal(t, []float32{1, 1, 1}, rtg.Data().([]float32))
}

func TestAdvantageAC2(t *testing.T) {
	R := denseBT(1, 6, []float32{0, 0, 0, 0, 0, 1})
	bl := denseBT(1, 6, []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})
	adv := AdvantageAC2(R, bl)
	// adv[t] = r[t] + b[t+1] - b[t]; last step bootstraps nothing
	assertClose(t, []float32{0.1, 0.1, 0.1, 0.1, 0.1, 0.4}, adv.Data().([]float32))
}

func TestShapeByEntropy(t *testing.T) {
	const C = 4
	anchor := math32.Log(C)

	// uniform predictions at t=0 (entropy log C), fully confident at t=1
	// (entropy 0): shaping adds 0 at t=0 and 0.5*logC at t=1
	uniform := make([]float32, C)
	for i := range uniform {
		uniform[i] = -anchor
	}
	confident := []float32{0, -40, -40, -40}
	lp0 := tensor.New(tensor.WithShape(1, C), tensor.WithBacking(uniform))
	lp1 := tensor.New(tensor.WithShape(1, C), tensor.WithBacking(confident))

	R := denseBT(1, 2, []float32{0, 1})
	ShapeByEntropy(R, []*tensor.Dense{lp0, lp1}, C)
	assertClose(t, []float32{0, 1 + 0.5*anchor}, R.Data().([]float32))
}

func TestPerStep(t *testing.T) {
	assert := assert.New(t)
	m := denseBT(2, 3, []float32{
		1, 2, 3,
		4, 5, 6,
	})
	cols := PerStep(m)
	assert.Equal(3, len(cols))
	assert.Equal(tensor.Shape{2}, cols[0].Shape())
	assert.Equal([]float32{1, 4}, cols[0].Data().([]float32))
	assert.Equal([]float32{3, 6}, cols[2].Data().([]float32))
}

func TestOneHot(t *testing.T) {
	oh := OneHot([]int{2, 0}, 3)
	assert.Equal(t, []float32{
		0, 0, 1,
		1, 0, 0,
	}, oh.Data().([]float32))
}

func TestValidationLosses(t *testing.T) {
	assert := assert.New(t)
	lp := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{-0.5, -1, -2, -0.25}))
	assert.InDelta(0.375, nllLoss(lp, []int{0, 1}), 1e-6)

	a := denseBT(1, 2, []float32{1, 2})
	b := denseBT(1, 2, []float32{0, 4})
	assert.InDelta(2.5, mseLoss(a, b), 1e-6)

	logPi := denseBT(2, 2, []float32{-1, -1, -2, 0})
	adv := denseBT(2, 2, []float32{1, 0.5, 0, 1})
	assert.InDelta(0.75, reinforceLoss(logPi, adv), 1e-6)
}

func assertClose(t *testing.T, want, got []float32) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("length mismatch: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		if math32.Abs(want[i]-got[i]) > 1e-5 {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}
