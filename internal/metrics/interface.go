package metrics

import (
	"context"
	"time"
)

// MetricsCollector defines the core domain interface
type MetricsCollector interface {
	Record(ctx context.Context, snapshot *MetricsSnapshot) error
	History(ctx context.Context, sourceID string, limit int) ([]ReadingRecord, error)
	Close() error
}

// MetricsRepository defines the interface for history storage
type MetricsRepository interface {
	Record(snapshot *MetricsSnapshot) error
	History(sourceID string, limit int) ([]ReadingRecord, error)
	Close() error
}

// MetricsSnapshot groups everything observed at one point in time
type MetricsSnapshot struct {
	Timestamp time.Time
	Readings  []ReadingRecord
	Alerts    []AlertEvent
	Commands  []CommandEvent
}

// Rows returns how many rows the snapshot will write
func (s *MetricsSnapshot) Rows() int {
	return len(s.Readings) + len(s.Alerts) + len(s.Commands)
}

type ReadingRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SourceID  string    `json:"sourceId"`
	Value     float64   `json:"value"`
}

// AlertEventKind is one transition of an alert
type AlertEventKind string

const (
	AlertRaised       AlertEventKind = "raised"
	AlertCleared      AlertEventKind = "cleared"
	AlertAcknowledged AlertEventKind = "acknowledged"
)

type AlertEvent struct {
	Timestamp time.Time
	AlertID   string
	RuleID    string
	Severity  string
	Kind      AlertEventKind
	Value     float64
}

type CommandEvent struct {
	Timestamp time.Time
	Kind      string
	Accepted  bool
	ErrorCode string
}
