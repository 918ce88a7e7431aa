package ram

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Loader yields fixed-size image batches. Dataset loading and augmentation
// proper live behind this interface; the trainer only consumes it.
type Loader interface {
	// Batches is the number of whole batches available.
	Batches() int
	// Batch materializes batch i as a (B, C, H, W) tensor and its labels.
	Batch(i int) (x *tensor.Dense, y []int)
	// Shuffle reorders the examples across batches.
	Shuffle(seed int64)
}

// OutputEncoder encodes an episode snapshot as whatever.
//
// An example OutputEncoder is the glimpse GIF encoder. Another example would
// be a logger.
type OutputEncoder interface {
	Encode(s EpisodeSnapshot) error
	Flush() error
}

// EpisodeSnapshot is what plotting collaborators get to see after an epoch's
// first batch: the raw images, the glimpse path and the reconstructions.
type EpisodeSnapshot struct {
	Epoch  int
	Images *tensor.Dense   // (B, C, H, W)
	Locs   []*tensor.Dense // sampled locations per step
	Recons []*tensor.Dense // decoder outputs per step
	Acc    float32
}

// InMemoryLoader is a Loader over a preloaded dataset. Examples that do not
// fill a whole batch are dropped.
type InMemoryLoader struct {
	examples  [][]float32
	labels    []int
	batchSize int
	c, h, w   int
}

// NewInMemoryLoader slices an (N, C, H, W) dataset into batches.
func NewInMemoryLoader(images *tensor.Dense, labels []int, batchSize int) (*InMemoryLoader, error) {
	if images.Dims() != 4 {
		return nil, errors.Errorf("ram: expected an (N, C, H, W) dataset, got shape %v", images.Shape())
	}
	n, c, h, w := images.Shape()[0], images.Shape()[1], images.Shape()[2], images.Shape()[3]
	if n != len(labels) {
		return nil, errors.Errorf("ram: %d images but %d labels", n, len(labels))
	}
	if n < batchSize {
		return nil, errors.Errorf("ram: %d examples cannot fill a batch of %d", n, batchSize)
	}

	data := images.Data().([]float32)
	stride := c * h * w
	l := &InMemoryLoader{
		labels:    append([]int(nil), labels...),
		batchSize: batchSize,
		c:         c, h: h, w: w,
	}
	for i := 0; i < n; i++ {
		l.examples = append(l.examples, data[i*stride:(i+1)*stride])
	}
	return l, nil
}

func (l *InMemoryLoader) Batches() int { return len(l.examples) / l.batchSize }

func (l *InMemoryLoader) Batch(i int) (*tensor.Dense, []int) {
	stride := l.c * l.h * l.w
	backing := make([]float32, l.batchSize*stride)
	ys := make([]int, l.batchSize)
	for j := 0; j < l.batchSize; j++ {
		copy(backing[j*stride:], l.examples[i*l.batchSize+j])
		ys[j] = l.labels[i*l.batchSize+j]
	}
	x := tensor.New(tensor.WithShape(l.batchSize, l.c, l.h, l.w), tensor.WithBacking(backing))
	return x, ys
}

func (l *InMemoryLoader) Shuffle(seed int64) {
	r := rand.New(rand.NewSource(seed))
	for i := range l.examples {
		j := r.Intn(i + 1)
		l.examples[i], l.examples[j] = l.examples[j], l.examples[i]
		l.labels[i], l.labels[j] = l.labels[j], l.labels[i]
	}
}

// repeatBatch tiles an (B, C, H, W) batch m times along the batch dimension,
// for Monte-Carlo averaging during validation.
func repeatBatch(x *tensor.Dense, m int) *tensor.Dense {
	shp := x.Shape()
	data := x.Data().([]float32)
	backing := make([]float32, m*len(data))
	for i := 0; i < m; i++ {
		copy(backing[i*len(data):], data)
	}
	newShape := append(tensor.Shape{m * shp[0]}, shp[1:]...)
	return tensor.New(tensor.WithShape(newShape...), tensor.WithBacking(backing))
}

// averageOverSamples collapses (M*B, ...) row-major data back to (B, ...)
// by averaging the M tiles.
func averageOverSamples(d *tensor.Dense, m int) *tensor.Dense {
	shp := d.Shape()
	b := shp[0] / m
	stride := shp.TotalSize() / shp[0]
	data := d.Data().([]float32)
	backing := make([]float32, b*stride)
	for mi := 0; mi < m; mi++ {
		for i := 0; i < b*stride; i++ {
			backing[i] += data[mi*b*stride+i]
		}
	}
	for i := range backing {
		backing[i] /= float32(m)
	}
	newShape := append(tensor.Shape{b}, shp[1:]...)
	return tensor.New(tensor.WithShape(newShape...), tensor.WithBacking(backing))
}
