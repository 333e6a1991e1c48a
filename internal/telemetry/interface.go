package telemetry

import (
	"math/rand"
	"time"
)

// Reading is one timestamped, bounded numeric sample from a source.
type Reading struct {
	SourceID  string    `json:"sourceId"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
}

// Clamp returns the reading with Value forced into [Min, Max]
func (r Reading) Clamp() Reading {
	r.Value = clamp(r.Value, r.Min, r.Max)
	return r
}

// InBounds reports whether Min <= Value <= Max
func (r Reading) InBounds() bool {
	return r.Value >= r.Min && r.Value <= r.Max
}

// Jitter produces the offset applied to the previous value on each tick.
type Jitter interface {
	Next(rng *rand.Rand, prev Reading) float64
}

// Uniform draws from [-Spread/2, Spread/2).
type Uniform struct {
	Spread float64
}

func (u Uniform) Next(rng *rand.Rand, _ Reading) float64 {
	return (rng.Float64() - 0.5) * u.Spread
}

// Biased adds a constant drift plus noise, and occasionally a kick.
// Brake temperature is the typical user: it decays every tick (negative drift)
// and jumps on a random hard-braking event.
type Biased struct {
	Spread float64
	Drift  float64
	Chance float64
	Kick   float64
}

func (b Biased) Next(rng *rand.Rand, _ Reading) float64 {
	delta := b.Drift + (rng.Float64()-0.5)*b.Spread
	if b.Chance > 0 && rng.Float64() < b.Chance {
		delta += b.Kick
	}

	return delta
}

// Constant always returns Delta.
type Constant struct {
	Delta float64
}

func (c Constant) Next(_ *rand.Rand, _ Reading) float64 {
	return c.Delta
}

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}
