package ram

import (
	"encoding/csv"
	"os"
	"strconv"
)

// Meter tracks a running average of a scalar, weighted by batch size.
type Meter struct {
	Sum   float32
	Count int
	Avg   float32
}

func (m *Meter) Update(v float32, n int) {
	m.Sum += v * float32(n)
	m.Count += n
	m.Avg = m.Sum / float32(m.Count)
}

func (m *Meter) Reset() { *m = Meter{} }

// Statistics accumulates per-epoch training and validation figures.
type Statistics struct {
	Epochs    []int
	TrainLoss []float32
	TrainAcc  []float32
	ValidLoss []float32
	ValidAcc  []float32
	VAELoss   []float32
}

func makeStatistics() Statistics {
	return Statistics{
		Epochs:    make([]int, 0, 64),
		TrainLoss: make([]float32, 0, 64),
		TrainAcc:  make([]float32, 0, 64),
		ValidLoss: make([]float32, 0, 64),
		ValidAcc:  make([]float32, 0, 64),
		VAELoss:   make([]float32, 0, 64),
	}
}

func (s *Statistics) update(epoch int, trainLoss, trainAcc, validLoss, validAcc, vaeLoss float32) {
	s.Epochs = append(s.Epochs, epoch)
	s.TrainLoss = append(s.TrainLoss, trainLoss)
	s.TrainAcc = append(s.TrainAcc, trainAcc)
	s.ValidLoss = append(s.ValidLoss, validLoss)
	s.ValidAcc = append(s.ValidAcc, validAcc)
	s.VAELoss = append(s.VAELoss, vaeLoss)
}

// Dump writes the accumulated statistics as CSV.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"epoch", "train_loss", "train_acc", "valid_loss", "valid_acc", "vae_loss"}); err != nil {
		return err
	}
	var records [][]string
	for i, e := range s.Epochs {
		records = append(records, []string{
			strconv.Itoa(e),
			format(s.TrainLoss[i]),
			format(s.TrainAcc[i]),
			format(s.ValidLoss[i]),
			format(s.ValidAcc[i]),
			format(s.VAELoss[i]),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func format(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 3, 32)
}
