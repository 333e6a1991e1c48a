package metrics

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/logger"
)

// Sink turns engine notifications into history snapshots. Only readings that
// changed since the previous frame are recorded.
type Sink struct {
	collector MetricsCollector
	log       logger.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewSink(collector MetricsCollector, log logger.Logger) *Sink {
	return &Sink{
		collector: collector,
		log:       log,
		lastSeen:  make(map[string]time.Time),
	}
}

func (s *Sink) Frame(frame aggregator.Frame) {
	s.mu.Lock()
	var readings []ReadingRecord
	for id, r := range frame.Snapshot {
		if last, ok := s.lastSeen[id]; ok && !r.Timestamp.After(last) {
			continue
		}
		s.lastSeen[id] = r.Timestamp
		readings = append(readings, ReadingRecord{Timestamp: r.Timestamp, SourceID: id, Value: r.Value})
	}
	s.mu.Unlock()

	if len(readings) == 0 {
		return
	}
	s.record(&MetricsSnapshot{Timestamp: frame.Taken, Readings: readings})
}

func (s *Sink) Alerts(changes alert.Changes) {
	snapshot := &MetricsSnapshot{Timestamp: time.Now()}

	for _, a := range changes.Raised {
		snapshot.Alerts = append(snapshot.Alerts, alertEvent(a, AlertRaised, a.RaisedAt))
	}
	for _, a := range changes.Cleared {
		kind := AlertCleared
		if a.Acknowledged {
			kind = AlertAcknowledged
		}
		at := snapshot.Timestamp
		if a.ClearedAt != nil {
			at = *a.ClearedAt
		}
		snapshot.Alerts = append(snapshot.Alerts, alertEvent(a, kind, at))
	}

	if len(snapshot.Alerts) > 0 {
		s.record(snapshot)
	}
}

func (s *Sink) Command(kind command.Kind, _ command.StateDelta, err error) {
	ev := CommandEvent{
		Timestamp: time.Now(),
		Kind:      string(kind),
		Accepted:  err == nil,
	}
	if err != nil {
		ev.ErrorCode = errors.CodeOf(err).String()
	}

	s.record(&MetricsSnapshot{Timestamp: ev.Timestamp, Commands: []CommandEvent{ev}})
}

func (s *Sink) record(snapshot *MetricsSnapshot) {
	if err := s.collector.Record(context.Background(), snapshot); err != nil {
		s.log.Error().Err(err).Int("rows", snapshot.Rows()).Msg("Failed to record history")
	}
}

func alertEvent(a alert.Alert, kind AlertEventKind, at time.Time) AlertEvent {
	return AlertEvent{
		Timestamp: at,
		AlertID:   a.ID,
		RuleID:    a.RuleID,
		Severity:  a.Severity.String(),
		Kind:      kind,
		Value:     a.Value,
	}
}
