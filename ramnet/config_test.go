package ramnet

import "testing"

var validCases = []struct {
	name  string
	mut   func(*Config)
	valid bool
}{
	{"default", func(c *Config) {}, true},
	{"lstm", func(c *Config) { c.Core = LSTM }, true},
	{"zero glimpses", func(c *Config) { c.NumGlimpses = 0 }, false},
	{"one class", func(c *Config) { c.NumClasses = 1 }, false},
	{"hidden mismatch", func(c *Config) { c.HiddenSize = 100 }, false},
	{"no batch", func(c *Config) { c.BatchSize = 0 }, false},
	{"no latent", func(c *Config) { c.LatentSize = 0 }, false},
	{"no recon", func(c *Config) { c.ReconSize = 0 }, false},
}

func TestConfigIsValid(t *testing.T) {
	for _, c := range validCases {
		conf := DefaultConf(10)
		c.mut(&conf)
		if conf.IsValid() != c.valid {
			t.Errorf("%s: expected IsValid to be %v", c.name, c.valid)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	if !DefaultConf(10).IsValid() {
		t.Errorf("Expected Default Config to be correct")
	}
}

func TestCoreTypeString(t *testing.T) {
	if Linear.String() != "Linear" || LSTM.String() != "LSTM" {
		t.Errorf("unexpected CoreType strings: %v, %v", Linear, LSTM)
	}
}
