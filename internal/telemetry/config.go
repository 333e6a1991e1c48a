package telemetry

import (
	"hash/fnv"
	"time"

	"codeberg.org/mutker/trophyctl/internal/errors"
)

const (
	defaultInterval = 2 * time.Second

	JitterUniform  = "uniform"
	JitterBiased   = "biased"
	JitterConstant = "constant"
)

// JitterConfig selects and parameterises a Jitter
type JitterConfig struct {
	Kind   string  `mapstructure:"kind" json:"kind"`
	Spread float64 `mapstructure:"spread" json:"spread,omitempty"`
	Drift  float64 `mapstructure:"drift" json:"drift,omitempty"`
	Chance float64 `mapstructure:"chance" json:"chance,omitempty"`
	Kick   float64 `mapstructure:"kick" json:"kick,omitempty"`
	Delta  float64 `mapstructure:"delta" json:"delta,omitempty"`
}

// Config describes one simulated source
type Config struct {
	ID       string        `mapstructure:"id" json:"id"`
	Min      float64       `mapstructure:"min" json:"min"`
	Max      float64       `mapstructure:"max" json:"max"`
	Initial  float64       `mapstructure:"initial" json:"initial"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	Seed     int64         `mapstructure:"seed" json:"seed,omitempty"`
	Jitter   JitterConfig  `mapstructure:"jitter" json:"jitter"`
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.ID == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "source id is empty")
	}
	if c.Min > c.Max {
		return errFactory.WithData(ErrInvalidBounds, struct {
			Source   string
			Min, Max float64
		}{c.ID, c.Min, c.Max})
	}
	if c.Interval < 0 {
		return errFactory.WithData(ErrInvalidInterval, c.ID)
	}
	if _, err := c.Jitter.build(); err != nil {
		return err
	}

	return nil
}

func (j JitterConfig) build() (Jitter, error) {
	switch j.Kind {
	case JitterUniform, "":
		return Uniform{Spread: j.Spread}, nil
	case JitterBiased:
		return Biased{Spread: j.Spread, Drift: j.Drift, Chance: j.Chance, Kick: j.Kick}, nil
	case JitterConstant:
		return Constant{Delta: j.Delta}, nil
	default:
		return nil, errors.New().WithData(ErrUnknownJitter, j.Kind)
	}
}

// SeedFor derives a stable per-source seed from a base seed, so two sources
// sharing one base still draw independent sequences.
func SeedFor(base int64, id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))

	//nolint:gosec // G115: wrap-around is fine for a seed
	return base ^ int64(h.Sum64())
}
