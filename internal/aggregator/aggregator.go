package aggregator

import (
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/telemetry"
)

const defaultWindowSize = 5

// Aggregator exclusively owns the snapshot and the derived metrics.
// Every Update is atomic and totally ordered by mu; readers only ever get
// copies taken under the read lock.
type Aggregator struct {
	mu         sync.RWMutex
	readings   Snapshot
	history    map[string][]float64
	metrics    map[string]DerivedMetric
	windowSize int
	version    uint64
	now        func() time.Time
}

type Option func(*Aggregator)

// WithWindowSize sets how many readings per source the rolling window keeps
func WithWindowSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.windowSize = n
		}
	}
}

// WithClock overrides time.Now for frame timestamps
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		readings:   make(Snapshot),
		history:    make(map[string][]float64),
		metrics:    make(map[string]DerivedMetric),
		windowSize: defaultWindowSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Update overwrites the entry for sourceID. The reading is clamped on write.
func (a *Aggregator) Update(sourceID string, reading telemetry.Reading) {
	reading.SourceID = sourceID
	reading = reading.Clamp()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.readings[sourceID] = reading

	h := append(a.history[sourceID], reading.Value)
	if len(h) > a.windowSize {
		h = h[len(h)-a.windowSize:]
	}
	a.history[sourceID] = h
	a.version++
}

// Snapshot returns an immutable copy of the latest readings
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.readings.clone()
}

// Version increments on every Update
func (a *Aggregator) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.version
}

// Register adds a derived metric. Names are unique.
func (a *Aggregator) Register(m DerivedMetric) error {
	errFactory := errors.New()

	if m.Name == "" || m.Formula == nil {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "derived metric needs a name and a formula")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.metrics[m.Name]; ok {
		return errFactory.WithData(errors.ErrDuplicateMetric, m.Name)
	}
	a.metrics[m.Name] = m

	return nil
}

// Metrics lists registered derived metric names in sorted order
func (a *Aggregator) Metrics() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.metrics))
	for name := range a.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Derive computes a registered metric against the current snapshot
func (a *Aggregator) Derive(name string) (float64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m, ok := a.metrics[name]
	if !ok {
		return 0, errors.New().WithData(errors.ErrUnknownMetric, name)
	}

	return m.Formula(lockedView{a})
}

// Average returns the rolling mean of the last readings of one source
func (a *Aggregator) Average(sourceID string) (float64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h := a.history[sourceID]
	if len(h) == 0 {
		return 0, errors.New().WithData(errors.ErrUnknownSource, sourceID)
	}

	return mean(h), nil
}

// Frame takes the snapshot and computes every derived metric under a single
// read lock. Metrics whose inputs are missing are left out of Derived.
func (a *Aggregator) Frame() Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()

	view := lockedView{a}
	derived := make(map[string]float64, len(a.metrics))
	for name, m := range a.metrics {
		if v, err := m.Formula(view); err == nil {
			derived[name] = v
		}
	}

	return Frame{
		Version:  a.version,
		Taken:    a.now(),
		Snapshot: a.readings.clone(),
		Derived:  derived,
	}
}

// lockedView reads aggregator state; callers must hold mu
type lockedView struct {
	a *Aggregator
}

func (v lockedView) Reading(id string) (telemetry.Reading, bool) {
	r, ok := v.a.readings[id]
	return r, ok
}

func (v lockedView) History(id string) []float64 {
	return v.a.history[id]
}
