package retina

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

var sizeCases = []struct {
	r     Retina
	sizes []int
	feat  int // for c = 1
}{
	{Retina{PatchSize: 8, NumPatches: 3, Scale: 2}, []int{8, 16, 32}, 192},
	{Retina{PatchSize: 2, NumPatches: 1, Scale: 2}, []int{2}, 4},
	{Retina{PatchSize: 4, NumPatches: 2, Scale: 3}, []int{4, 12}, 32},
}

func TestSizes(t *testing.T) {
	for _, c := range sizeCases {
		assert.Equal(t, c.sizes, c.r.Sizes())
		if f := c.r.FeatureSize(1); f != c.feat {
			t.Errorf("Expected feature size of %v to be %v. Got %v instead", c.r, c.feat, f)
		}
	}
}

// image where pixel (row, col) holds row*10+col, so crops are easy to read off
func gradientImage(h, w int) *tensor.Dense {
	backing := make([]float32, h*w)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			backing[row*w+col] = float32(row*10 + col)
		}
	}
	return tensor.New(tensor.WithShape(1, 1, h, w), tensor.WithBacking(backing))
}

func TestExtractCenter(t *testing.T) {
	assert := assert.New(t)
	r := Retina{PatchSize: 2, NumPatches: 1, Scale: 2}
	x := gradientImage(8, 8)
	loc := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{0, 0}))

	phi, mask, err := r.Extract(x, loc, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(tensor.Shape{1, 4}, phi.Shape())
	assert.Equal(tensor.Shape{1, 64}, mask.Shape())

	// loc (0,0) denormalizes to pixel (4,4); a 2x2 crop there covers
	// rows 3..4, cols 3..4
	assert.Equal([]float32{33, 34, 43, 44}, phi.Data().([]float32))

	ms := mask.Data().([]float32)
	var sum float32
	for _, v := range ms {
		sum += v
	}
	assert.Equal(float32(4), sum)
	assert.Equal(float32(1), ms[3*8+3])
	assert.Equal(float32(1), ms[4*8+4])
}

func TestExtractCornerPadding(t *testing.T) {
	assert := assert.New(t)
	r := Retina{PatchSize: 2, NumPatches: 1, Scale: 2}
	x := gradientImage(8, 8)
	x.Data().([]float32)[0] = 7 // make the corner pixel distinguishable from pad
	loc := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{-1, -1}))

	phi, mask, err := r.Extract(x, loc, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// three of the four crop pixels land in the zero padding
	assert.Equal([]float32{0, 0, 0, 7}, phi.Data().([]float32))

	// only the in-image pixel is marked visited
	ms := mask.Data().([]float32)
	var sum float32
	for _, v := range ms {
		sum += v
	}
	assert.Equal(float32(1), sum)
	assert.Equal(float32(1), ms[0])
}

func TestExtractOddPatchAtEdge(t *testing.T) {
	assert := assert.New(t)
	r := Retina{PatchSize: 3, NumPatches: 1, Scale: 2}
	x := gradientImage(8, 8)

	// a location clamped to exactly 1 denormalizes onto the image edge;
	// the padding must still cover the whole crop
	loc := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 1}))
	phi, mask, err := r.Extract(x, loc, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(tensor.Shape{1, 9}, phi.Shape())

	// center (8,8): only the (7,7) corner pixel of the crop is in-image
	ps := phi.Data().([]float32)
	assert.Equal(float32(77), ps[0])
	for i := 1; i < 9; i++ {
		assert.Equal(float32(0), ps[i])
	}

	ms := mask.Data().([]float32)
	var sum float32
	for _, v := range ms {
		sum += v
	}
	assert.Equal(float32(1), sum)
	assert.Equal(float32(1), ms[7*8+7])

	// the opposite corner must be in range too
	loc = tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{-1, -1}))
	if _, _, err := r.Extract(x, loc, nil); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestExtractPooling(t *testing.T) {
	assert := assert.New(t)
	r := Retina{PatchSize: 2, NumPatches: 2, Scale: 2}

	// uniform image: every pooled patch averages back to the same value
	backing := make([]float32, 16*16)
	for i := range backing {
		backing[i] = 3
	}
	x := tensor.New(tensor.WithShape(1, 1, 16, 16), tensor.WithBacking(backing))
	loc := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{0, 0}))

	phi, _, err := r.Extract(x, loc, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(tensor.Shape{1, 8}, phi.Shape())
	for i, v := range phi.Data().([]float32) {
		if v != 3 {
			t.Fatalf("feature %d: expected 3, got %v", i, v)
		}
	}
}

func TestExtractRunningMask(t *testing.T) {
	assert := assert.New(t)
	r := Retina{PatchSize: 2, NumPatches: 1, Scale: 2}
	x := gradientImage(8, 8)
	loc := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{0, 0}))

	prior := make([]float32, 64)
	prior[3*8+3] = 1 // already visited, overlaps this step's crop
	prior[0] = 1     // visited elsewhere
	running := tensor.New(tensor.WithShape(1, 64), tensor.WithBacking(prior))

	_, mask, err := r.Extract(x, loc, running)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	ms := mask.Data().([]float32)
	assert.Equal(float32(1), ms[3*8+3], "overlap must clamp to 1")
	assert.Equal(float32(1), ms[0], "prior visits must survive")
	var sum float32
	for _, v := range ms {
		sum += v
	}
	assert.Equal(float32(5), sum)

	// the caller's accumulator must not be mutated
	assert.Equal(float32(1), running.Data().([]float32)[3*8+3])
	var priorSum float32
	for _, v := range running.Data().([]float32) {
		priorSum += v
	}
	assert.Equal(float32(2), priorSum)
}

func TestExtractBadShapes(t *testing.T) {
	r := Retina{PatchSize: 2, NumPatches: 1, Scale: 2}
	x3d := tensor.New(tensor.WithShape(1, 8, 8), tensor.WithBacking(make([]float32, 64)))
	loc := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{0, 0}))
	if _, _, err := r.Extract(x3d, loc, nil); err == nil {
		t.Error("expected an error for a 3D image batch")
	}

	x := gradientImage(8, 8)
	badLoc := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking(make([]float32, 4)))
	if _, _, err := r.Extract(x, badLoc, nil); err == nil {
		t.Error("expected an error for a mismatched location batch")
	}
}
