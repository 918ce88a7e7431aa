package ram

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// checkpointState is the persisted payload: the epoch counter, the best
// validation accuracy, the schedule state that drives optimization, and the
// gob-encoded model weights. Gorgonia solvers keep their moment caches to
// themselves, so a resumed run restarts Adam's moments; the schedule (lr,
// std, patience counters) is what round-trips.
type checkpointState struct {
	Epoch        int
	BestValidAcc float32
	LR           float64
	Std          float32
	Counter      int
	Plateau      int
	Weights      []byte
}

// SaveCheckpoint writes the latest checkpoint, and a separate best copy when
// isBest is set.
func (r *RAM) SaveCheckpoint(isBest bool) error {
	weights, err := r.net.GobEncode()
	if err != nil {
		return errors.WithStack(err)
	}
	state := checkpointState{
		Epoch:        r.epoch + 1,
		BestValidAcc: r.bestValidAcc,
		LR:           r.lr,
		Std:          r.std,
		Counter:      r.counter,
		Plateau:      r.plateau,
		Weights:      weights,
	}

	if err := writeCheckpoint(r.ckptPath(false), state); err != nil {
		return err
	}
	if isBest {
		return writeCheckpoint(r.ckptPath(true), state)
	}
	return nil
}

// LoadCheckpoint restores a run. best selects the best-accuracy copy over
// the most recent one. Any missing or incompatible state is a fatal
// load-time failure; nothing is retried.
func (r *RAM) LoadCheckpoint(best bool) error {
	path := r.ckptPath(best)
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "loading checkpoint %q", path)
	}
	defer f.Close()

	var state checkpointState
	if err := gob.NewDecoder(f).Decode(&state); err != nil {
		return errors.Wrapf(err, "decoding checkpoint %q", path)
	}
	if err := r.net.GobDecode(state.Weights); err != nil {
		return errors.Wrapf(err, "restoring weights from %q", path)
	}

	r.epoch = state.Epoch
	r.bestValidAcc = state.BestValidAcc
	r.lr = state.LR
	r.std = state.Std
	r.counter = state.Counter
	r.plateau = state.Plateau
	r.solver = newSolver(r.lr)
	return nil
}

func (r *RAM) ckptPath(best bool) string {
	suffix := "_ckpt"
	if best {
		suffix = "_best"
	}
	return filepath.Join(r.CkptDir, r.Name+suffix)
}

func writeCheckpoint(path string, state checkpointState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithStack(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(state); err != nil {
		return errors.Wrapf(err, "encoding checkpoint %q", path)
	}
	return nil
}
