package telemetry

import (
	"context"
	"math/rand"
	"time"

	"codeberg.org/mutker/trophyctl/internal/errors"
)

// Source produces bounded readings by applying jitter to the previous value.
// A Source owns its RNG and is not safe for concurrent use; the engine runs
// each one on its own goroutine.
type Source struct {
	id       string
	min      float64
	max      float64
	initial  float64
	interval time.Duration
	jitter   Jitter
	rng      *rand.Rand
}

func New(cfg Config) (*Source, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	jitter, err := cfg.Jitter.build()
	if err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	return &Source{
		id:       cfg.ID,
		min:      cfg.Min,
		max:      cfg.Max,
		initial:  clamp(cfg.Initial, cfg.Min, cfg.Max),
		interval: interval,
		jitter:   jitter,
		rng:      rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // simulation, not crypto
	}, nil
}

// WithJitter replaces the jitter distribution, mostly for tests
func (s *Source) WithJitter(j Jitter) *Source {
	s.jitter = j
	return s
}

func (s *Source) ID() string {
	return s.id
}

func (s *Source) Interval() time.Duration {
	return s.interval
}

func (s *Source) Bounds() (float64, float64) {
	return s.min, s.max
}

// Initial returns the default reading so every source has an entry before
// its first tick.
func (s *Source) Initial(now time.Time) Reading {
	return Reading{
		SourceID:  s.id,
		Value:     s.initial,
		Timestamp: now,
		Min:       s.min,
		Max:       s.max,
	}
}

// Tick produces clamp(previous.Value + jitter, min, max)
func (s *Source) Tick(previous Reading, now time.Time) Reading {
	next := Reading{
		SourceID:  s.id,
		Value:     previous.Value + s.jitter.Next(s.rng, previous),
		Timestamp: now,
		Min:       s.min,
		Max:       s.max,
	}

	return next.Clamp()
}

// Run ticks on the source interval and sends every reading to out until ctx
// is cancelled. The source keeps its own previous value and never reads
// aggregated state back.
func (s *Source) Run(ctx context.Context, start Reading, out chan<- Reading) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	prev := start
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			prev = s.Tick(prev, now)

			select {
			case out <- prev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
