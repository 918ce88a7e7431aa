package ramnet

// CoreType selects the recurrent core variant. Both variants share the same
// step contract, so the rest of the network is variant-agnostic.
type CoreType byte

const (
	// Linear is the plain additive recurrence: relu(i2h(g) + h2h(h)).
	Linear CoreType = iota
	// LSTM is a single-layer gated recurrence over an input-projected glimpse.
	LSTM
)

func (c CoreType) String() string {
	switch c {
	case Linear:
		return "Linear"
	case LSTM:
		return "LSTM"
	}
	return "Unknown"
}

// TrainingMode selects how the advantage for the policy gradient is formed.
type TrainingMode byte

const (
	// Default regresses the baseline to the return-to-go and uses
	// return-to-go minus baseline as the advantage.
	Default TrainingMode = iota
	// AC2 bootstraps a one-step temporal-difference advantage from
	// successive baselines.
	AC2
)

// Config configures the recurrent attention network.
type Config struct {
	GlimpseFeatures int // flattened retina output size (k*g*g*c)
	GlimpseHidden   int // h_g
	LocHidden       int // h_l
	HiddenSize      int // recurrent state size; must equal GlimpseHidden+LocHidden
	LatentSize      int // variational latent dimensionality
	NumClasses      int
	NumGlimpses     int
	ReconSize       int // flattened reconstruction target size (C*H*W)

	BatchSize int
	Core      CoreType

	// loss assembly
	Mode         TrainingMode
	ActorWeight  float32
	CriticWeight float32
	PartialVAE   bool // restrict reconstruction loss to visited pixels

	FwdOnly bool // build a single-step graph without losses or gradients
}

func (conf Config) IsValid() bool {
	return conf.GlimpseFeatures >= 1 &&
		conf.GlimpseHidden >= 1 &&
		conf.LocHidden >= 1 &&
		conf.HiddenSize == conf.GlimpseHidden+conf.LocHidden &&
		conf.LatentSize >= 1 &&
		conf.NumClasses >= 2 &&
		conf.NumGlimpses >= 1 &&
		conf.ReconSize >= 1 &&
		conf.BatchSize >= 1
}

// DefaultConf is the configuration for a 28x28 single-channel run with a
// single 8x8 patch and six glimpses.
func DefaultConf(numClasses int) Config {
	return Config{
		GlimpseFeatures: 8 * 8,
		GlimpseHidden:   128,
		LocHidden:       128,
		HiddenSize:      256,
		LatentSize:      16,
		NumClasses:      numClasses,
		NumGlimpses:     6,
		ReconSize:       28 * 28,
		BatchSize:       256,
		Core:            Linear,
		Mode:            Default,
		ActorWeight:     0.02,
		CriticWeight:    1.0,
	}
}
