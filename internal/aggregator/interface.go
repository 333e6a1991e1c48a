package aggregator

import (
	"time"

	"codeberg.org/mutker/trophyctl/internal/telemetry"
)

// Snapshot maps a source id to its latest reading. Values handed out by the
// aggregator are copies; mutating one never reaches aggregator state.
type Snapshot map[string]telemetry.Reading

func (s Snapshot) Reading(id string) (telemetry.Reading, bool) {
	r, ok := s[id]
	return r, ok
}

// History of a plain snapshot is just the current value
func (s Snapshot) History(id string) []float64 {
	r, ok := s[id]
	if !ok {
		return nil
	}

	return []float64{r.Value}
}

func (s Snapshot) clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}

	return out
}

// View is what a formula may read: latest readings and the rolling window
type View interface {
	Reading(id string) (telemetry.Reading, bool)
	History(id string) []float64
}

// Formula computes one derived value from a consistent view
type Formula func(View) (float64, error)

// DerivedMetric is a named formula, recomputed against every snapshot
type DerivedMetric struct {
	Name    string
	Formula Formula
}

// Frame is a snapshot together with every derived value computed against it
type Frame struct {
	Version  uint64             `json:"version"`
	Taken    time.Time          `json:"taken"`
	Snapshot Snapshot           `json:"snapshot"`
	Derived  map[string]float64 `json:"derived"`
}

// Value resolves a name against derived metrics first, then raw readings
func (f Frame) Value(name string) (float64, bool) {
	if v, ok := f.Derived[name]; ok {
		return v, true
	}
	if r, ok := f.Snapshot[name]; ok {
		return r.Value, true
	}

	return 0, false
}
