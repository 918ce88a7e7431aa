package ram

import (
	"github.com/pkg/errors"
	"github.com/gorgonia/ram/ramnet"
)

// Device is an explicit execution-context handle threaded through
// construction. Nothing probes for accelerators behind the caller's back;
// whoever builds the trainer says where it runs.
type Device byte

const (
	CPU Device = iota
)

func (d Device) String() string {
	if d == CPU {
		return "cpu"
	}
	return "unknown"
}

// RewardMode selects how the per-timestep reward is shaped.
type RewardMode byte

const (
	// RewardDefault places the classification-correctness reward at the
	// terminal step only.
	RewardDefault RewardMode = iota
	// RewardLogProb adds a predictive entropy-reduction bonus at every step.
	RewardLogProb
)

// Config is the full configuration surface of a training run.
type Config struct {
	Name   string
	NNConf ramnet.Config
	Device Device

	// retina geometry
	PatchSize    int
	NumPatches   int
	GlimpseScale float32

	// image geometry
	Channels  int
	ImageSize int // square images
	NumClasses int

	Reward RewardMode

	// reinforce params
	Std      float32 // location policy standard deviation
	StdDecay float32 // multiplicative decay per epoch
	M        int     // Monte-Carlo samples during validation/test

	// training params
	Epochs        int
	LR            float64
	LRPatience    int // epochs without improvement before reducing lr
	TrainPatience int // epochs without improvement before stopping
	VAEWarmup     int // epochs before the reconstruction loss switches on
	Seed          int64

	CkptDir string
}

func (conf Config) IsValid() bool {
	return conf.NNConf.IsValid() &&
		conf.PatchSize >= 1 &&
		conf.NumPatches >= 1 &&
		conf.GlimpseScale >= 1 &&
		conf.Channels >= 1 &&
		conf.ImageSize >= conf.PatchSize &&
		conf.NumClasses >= 2 &&
		conf.Std > 0 &&
		conf.M >= 1 &&
		conf.Epochs >= 1
}

// Modes recognized by PresetConf, in the order they are usually tried.
var Modes = []string{
	"HardAtt",
	"HardAttLSTM",
	"HardAttRewardShaping",
	"HardAttAC2",
	"HardAttAC2RewardShaping",
	"HardAttAC2LSTMRewardShaping",
	"HardAttRewardShapingpVAE",
}

// PresetConf returns the hyperparameter preset for a named mode on
// numClasses classes of single-channel imageSize×imageSize images. The
// preset fixes the core variant, training mode, reward shaping, the
// actor/critic weights and the partial-VAE flag; everything else is the
// common default.
func PresetConf(mode string, numClasses, imageSize int) (Config, error) {
	nn := ramnet.DefaultConf(numClasses)
	nn.ReconSize = imageSize * imageSize

	conf := Config{
		Name:   mode,
		NNConf: nn,
		Device: CPU,

		PatchSize:    8,
		NumPatches:   1,
		GlimpseScale: 1,

		Channels:   1,
		ImageSize:  imageSize,
		NumClasses: numClasses,

		Reward: RewardDefault,

		Std:      0.05,
		StdDecay: 0.90,
		M:        1,

		Epochs:        50,
		LR:            3e-4,
		LRPatience:    10,
		TrainPatience: 20,
		VAEWarmup:     20,
		Seed:          1,

		CkptDir: "./ckpt",
	}

	switch mode {
	case "HardAtt":
		// all defaults
	case "HardAttLSTM":
		conf.NNConf.Core = ramnet.LSTM
	case "HardAttRewardShaping":
		conf.Reward = RewardLogProb
	case "HardAttAC2":
		conf.NNConf.Mode = ramnet.AC2
		conf.NNConf.CriticWeight = 0.4
		conf.NNConf.ActorWeight = 0.05
	case "HardAttAC2RewardShaping":
		conf.NNConf.Mode = ramnet.AC2
		conf.NNConf.CriticWeight = 0.4
		conf.NNConf.ActorWeight = 0.05
		conf.Reward = RewardLogProb
	case "HardAttAC2LSTMRewardShaping":
		conf.NNConf.Core = ramnet.LSTM
		conf.NNConf.Mode = ramnet.AC2
		conf.NNConf.CriticWeight = 0.4
		conf.NNConf.ActorWeight = 0.05
		conf.Reward = RewardLogProb
	case "HardAttRewardShapingpVAE":
		conf.NNConf.Core = ramnet.LSTM
		conf.NNConf.Mode = ramnet.AC2
		conf.NNConf.CriticWeight = 0.4
		conf.NNConf.ActorWeight = 0.05
		conf.Reward = RewardLogProb
		conf.NNConf.PartialVAE = true
	default:
		return Config{}, errors.Errorf("ram: unknown mode %q", mode)
	}

	conf.NNConf.GlimpseFeatures = conf.NumPatches * conf.PatchSize * conf.PatchSize * conf.Channels
	return conf, nil
}
