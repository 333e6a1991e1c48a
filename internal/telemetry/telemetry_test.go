package telemetry_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batteryTemp(t *testing.T, jitter telemetry.JitterConfig) *telemetry.Source {
	t.Helper()

	src, err := telemetry.New(telemetry.Config{
		ID:      "batteryTemp",
		Min:     15,
		Max:     60,
		Initial: 32.5,
		Seed:    42,
		Jitter:  jitter,
	})
	require.NoError(t, err)

	return src
}

func TestTickClampsToBounds(t *testing.T) {
	src := batteryTemp(t, telemetry.JitterConfig{Kind: telemetry.JitterConstant, Delta: 20})
	now := time.Unix(1700000000, 0)

	first := src.Tick(src.Initial(now), now.Add(time.Second))
	assert.InDelta(t, 52.5, first.Value, 1e-9)

	second := src.Tick(first, now.Add(2*time.Second))
	assert.InDelta(t, 60.0, second.Value, 1e-9)
	assert.Equal(t, "batteryTemp", second.SourceID)
	assert.Equal(t, now.Add(2*time.Second), second.Timestamp)
}

func TestTickAlwaysInBounds(t *testing.T) {
	jitters := []telemetry.JitterConfig{
		{Kind: telemetry.JitterUniform, Spread: 200},
		{Kind: telemetry.JitterBiased, Spread: 50, Drift: -3, Chance: 0.2, Kick: 80},
		{Kind: telemetry.JitterConstant, Delta: -1000},
	}

	for _, j := range jitters {
		t.Run(j.Kind, func(t *testing.T) {
			src := batteryTemp(t, j)
			r := src.Initial(time.Now())
			for i := 0; i < 1000; i++ {
				r = src.Tick(r, time.Now())
				require.True(t, r.InBounds(), "tick %d produced %v", i, r.Value)
			}
		})
	}
}

func TestDeterministicWithSeed(t *testing.T) {
	cfg := telemetry.JitterConfig{Kind: telemetry.JitterUniform, Spread: 5}
	a := batteryTemp(t, cfg)
	b := batteryTemp(t, cfg)

	ra, rb := a.Initial(time.Time{}), b.Initial(time.Time{})
	for i := 0; i < 50; i++ {
		ra = a.Tick(ra, time.Time{})
		rb = b.Tick(rb, time.Time{})
		require.Equal(t, ra.Value, rb.Value)
	}
}

func TestBiasedKick(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	always := telemetry.Biased{Drift: -1, Chance: 1, Kick: 15}
	never := telemetry.Biased{Drift: -1, Chance: 0, Kick: 15}

	assert.InDelta(t, 14.0, always.Next(rng, telemetry.Reading{}), 1e-9)
	assert.InDelta(t, -1.0, never.Next(rng, telemetry.Reading{}), 1e-9)
}

func TestInitialIsClamped(t *testing.T) {
	src, err := telemetry.New(telemetry.Config{ID: "speed", Min: 0, Max: 200, Initial: 250})
	require.NoError(t, err)

	assert.InDelta(t, 200.0, src.Initial(time.Now()).Value, 1e-9)
	assert.Equal(t, 2*time.Second, src.Interval())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  telemetry.Config
		code errors.ErrorCode
	}{
		{"empty id", telemetry.Config{Min: 0, Max: 1}, telemetry.ErrInvalidConfig},
		{"inverted bounds", telemetry.Config{ID: "x", Min: 5, Max: 1}, telemetry.ErrInvalidBounds},
		{"negative interval", telemetry.Config{ID: "x", Max: 1, Interval: -time.Second}, telemetry.ErrInvalidInterval},
		{"unknown jitter", telemetry.Config{ID: "x", Max: 1, Jitter: telemetry.JitterConfig{Kind: "gaussian"}}, telemetry.ErrUnknownJitter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), err.Error())
		})
	}
}

func TestSeedForIsStable(t *testing.T) {
	assert.Equal(t, telemetry.SeedFor(7, "speed"), telemetry.SeedFor(7, "speed"))
	assert.NotEqual(t, telemetry.SeedFor(7, "speed"), telemetry.SeedFor(7, "torque"))
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	src, err := telemetry.New(telemetry.Config{
		ID:       "speed",
		Max:      200,
		Initial:  85,
		Interval: 5 * time.Millisecond,
		Jitter:   telemetry.JitterConfig{Kind: telemetry.JitterConstant, Delta: 1},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan telemetry.Reading)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, src.Initial(time.Now()), out) }()

	first := <-out
	second := <-out
	assert.InDelta(t, 86.0, first.Value, 1e-9)
	assert.InDelta(t, 87.0, second.Value, 1e-9)

	cancel()
	require.NoError(t, <-done)
}
