package metrics_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/logger"
	"codeberg.org/mutker/trophyctl/internal/metrics"
	"codeberg.org/mutker/trophyctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = logger.For("history")

func testConfig(t *testing.T, batchSize int) metrics.Config {
	t.Helper()

	return metrics.Config{
		DBPath:    filepath.Join(t.TempDir(), "history.db"),
		BatchSize: batchSize,
		Enabled:   true,
	}
}

func countRows(t *testing.T, path, table string) int {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))

	return n
}

func readingSnapshot(at time.Time, id string, v float64) *metrics.MetricsSnapshot {
	return &metrics.MetricsSnapshot{
		Timestamp: at,
		Readings:  []metrics.ReadingRecord{{Timestamp: at, SourceID: id, Value: v}},
	}
}

func TestNewServiceDisabled(t *testing.T) {
	svc, err := metrics.NewService(metrics.DefaultConfig(), testLog)
	require.NoError(t, err)

	assert.NoError(t, svc.Record(context.Background(), &metrics.MetricsSnapshot{}))
	history, err := svc.History(context.Background(), "speed", 10)
	assert.NoError(t, err)
	assert.Empty(t, history)
	assert.NoError(t, svc.Close())
}

func TestNewServiceInvalidConfig(t *testing.T) {
	_, err := metrics.NewService(metrics.Config{Enabled: true}, testLog)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidConfig))
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidDBPath))
}

func TestRecordRejectsNil(t *testing.T) {
	svc, err := metrics.NewService(testConfig(t, 10), testLog)
	require.NoError(t, err)
	defer svc.Close()

	err = svc.Record(context.Background(), nil)
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidMetrics))
}

func TestRecordCancelledContext(t *testing.T) {
	svc, err := metrics.NewService(testConfig(t, 10), testLog)
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = svc.Record(ctx, readingSnapshot(time.Now(), "speed", 1))
	assert.True(t, errors.HasCode(err, metrics.ErrOperationTimeout))
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, err := metrics.NewService(testConfig(t, 100), testLog)
	require.NoError(t, err)
	defer svc.Close()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		at := t0.Add(time.Duration(i) * time.Second)
		require.NoError(t, svc.Record(ctx, readingSnapshot(at, "speed", float64(80+i))))
	}
	require.NoError(t, svc.Record(ctx, readingSnapshot(t0, "torque", 280)))

	history, err := svc.History(ctx, "speed", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 84.0, history[0].Value)
	assert.Equal(t, 82.0, history[2].Value)
	assert.True(t, history[0].Timestamp.Equal(t0.Add(4*time.Second)))
}

func TestBatchFlushesOnSize(t *testing.T) {
	cfg := testConfig(t, 2)
	svc, err := metrics.NewService(cfg, testLog)
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()
	require.NoError(t, svc.Record(ctx, readingSnapshot(time.Now(), "speed", 1)))
	assert.Equal(t, 0, countRows(t, cfg.DBPath, "readings"))

	require.NoError(t, svc.Record(ctx, readingSnapshot(time.Now(), "speed", 2)))
	assert.Equal(t, 2, countRows(t, cfg.DBPath, "readings"))
}

func TestCloseFlushesBuffer(t *testing.T) {
	cfg := testConfig(t, 100)
	cfg.BatchTimeout = 60
	svc, err := metrics.NewService(cfg, testLog)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, svc.Record(context.Background(), &metrics.MetricsSnapshot{
		Timestamp: now,
		Readings:  []metrics.ReadingRecord{{Timestamp: now, SourceID: "speed", Value: 85}},
		Alerts: []metrics.AlertEvent{{
			Timestamp: now, AlertID: "a1", RuleID: "battery-hot", Severity: "high",
			Kind: metrics.AlertRaised, Value: 46,
		}},
		Commands: []metrics.CommandEvent{{Timestamp: now, Kind: "setMode", Accepted: true}},
	}))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	assert.Equal(t, 1, countRows(t, cfg.DBPath, "readings"))
	assert.Equal(t, 1, countRows(t, cfg.DBPath, "alert_events"))
	assert.Equal(t, 1, countRows(t, cfg.DBPath, "command_events"))
}

func TestSchemaMismatchCreatesBackup(t *testing.T) {
	cfg := testConfig(t, 10)

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	svc, err := metrics.NewService(cfg, testLog)
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	backups, err := os.ReadDir(filepath.Join(filepath.Dir(cfg.DBPath), "backups"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0].Name(), "history_v99_")

	db, err = sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := metrics.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, metrics.SchemaVersion, version)
}

type memoryCollector struct {
	mu        sync.Mutex
	snapshots []*metrics.MetricsSnapshot
}

func (m *memoryCollector) Record(_ context.Context, s *metrics.MetricsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *memoryCollector) History(context.Context, string, int) ([]metrics.ReadingRecord, error) {
	return nil, nil
}

func (m *memoryCollector) Close() error { return nil }

func TestSinkRecordsOnlyChangedReadings(t *testing.T) {
	mem := &memoryCollector{}
	sink := metrics.NewSink(mem, testLog)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := aggregator.Frame{
		Taken: t0,
		Snapshot: aggregator.Snapshot{
			"speed":  telemetry.Reading{SourceID: "speed", Value: 85, Timestamp: t0},
			"torque": telemetry.Reading{SourceID: "torque", Value: 280, Timestamp: t0},
		},
	}
	sink.Frame(frame)
	require.Len(t, mem.snapshots, 1)
	assert.Len(t, mem.snapshots[0].Readings, 2)

	sink.Frame(frame)
	assert.Len(t, mem.snapshots, 1)

	t1 := t0.Add(time.Second)
	frame.Snapshot["speed"] = telemetry.Reading{SourceID: "speed", Value: 86, Timestamp: t1}
	sink.Frame(frame)
	require.Len(t, mem.snapshots, 2)
	require.Len(t, mem.snapshots[1].Readings, 1)
	assert.Equal(t, "speed", mem.snapshots[1].Readings[0].SourceID)
}

func TestSinkRecordsAlertTransitionsAndCommands(t *testing.T) {
	mem := &memoryCollector{}
	sink := metrics.NewSink(mem, testLog)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raised := alert.Alert{ID: "a1", RuleID: "battery-hot", Severity: alert.SeverityHigh, Value: 46, RaisedAt: t0}
	sink.Alerts(alert.Changes{Raised: []alert.Alert{raised}})

	acked := raised
	acked.Acknowledged = true
	at := t0.Add(time.Second)
	acked.ClearedAt = &at
	sink.Alerts(alert.Changes{Cleared: []alert.Alert{acked}})

	sink.Command(command.KindSetMode, command.StateDelta{}, errors.New().New(errors.ErrUnknownMode))

	require.Len(t, mem.snapshots, 3)
	assert.Equal(t, metrics.AlertRaised, mem.snapshots[0].Alerts[0].Kind)
	assert.Equal(t, "high", mem.snapshots[0].Alerts[0].Severity)
	assert.Equal(t, metrics.AlertAcknowledged, mem.snapshots[1].Alerts[0].Kind)
	assert.True(t, mem.snapshots[1].Alerts[0].Timestamp.Equal(at))

	cmd := mem.snapshots[2].Commands[0]
	assert.False(t, cmd.Accepted)
	assert.Equal(t, string(errors.ErrUnknownMode), cmd.ErrorCode)
}
