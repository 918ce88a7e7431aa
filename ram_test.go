package ram

import (
	"math/rand"
	"os"
	"testing"

	"gorgonia.org/tensor"
)

// countingEncoder stands in for a real plotting collaborator.
type countingEncoder struct {
	encoded, flushed int
	last             EpisodeSnapshot
}

func (e *countingEncoder) Encode(s EpisodeSnapshot) error {
	e.encoded++
	e.last = s
	return nil
}

func (e *countingEncoder) Flush() error {
	e.flushed++
	return nil
}

func tinyDataset(n, size, classes int, seed int64) *InMemoryLoader {
	rnd := rand.New(rand.NewSource(seed))
	backing := make([]float32, n*size*size)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = rnd.Intn(classes)
		for j := 0; j < size*size; j++ {
			backing[i*size*size+j] = rnd.Float32()
		}
	}
	images := tensor.New(tensor.WithShape(n, 1, size, size), tensor.WithBacking(backing))
	l, err := NewInMemoryLoader(images, labels, 2)
	if err != nil {
		panic(err)
	}
	return l
}

func TestTrainEndToEnd(t *testing.T) {
	conf := tinyConf(t)
	conf.M = 2
	r := New(conf)
	defer r.Close()

	enc := &countingEncoder{}
	r.SetOutputEncoder(enc)

	train := tinyDataset(8, conf.ImageSize, conf.NumClasses, 3)
	valid := tinyDataset(4, conf.ImageSize, conf.NumClasses, 4)

	if err := r.Train(train, valid); err != nil {
		t.Fatalf("%+v", err)
	}
	if r.Epoch() != conf.Epochs {
		t.Errorf("expected %d trained epochs, got %d", conf.Epochs, r.Epoch())
	}
	if len(r.Statistics.Epochs) != conf.Epochs {
		t.Errorf("expected %d statistics rows, got %d", conf.Epochs, len(r.Statistics.Epochs))
	}
	if enc.encoded != conf.Epochs || enc.flushed != 1 {
		t.Errorf("expected one snapshot per epoch and one flush, got %d/%d", enc.encoded, enc.flushed)
	}
	if len(enc.last.Locs) != conf.NNConf.NumGlimpses || len(enc.last.Recons) != conf.NNConf.NumGlimpses {
		t.Errorf("snapshot should carry one location and reconstruction per glimpse")
	}
	if _, err := os.Stat(r.ckptPath(false)); err != nil {
		t.Errorf("expected a checkpoint after training: %v", err)
	}

	acc, recErr, err := r.Test(valid)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if acc < 0 || acc > 100 {
		t.Errorf("accuracy %v out of range", acc)
	}
	if len(recErr) != conf.NNConf.NumGlimpses {
		t.Errorf("expected one reconstruction error per glimpse, got %d", len(recErr))
	}
}
