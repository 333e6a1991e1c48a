package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/config"
	"codeberg.org/mutker/trophyctl/internal/engine"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	frames   []aggregator.Frame
	alerts   []alert.Changes
	commands []error
}

func (r *recordingSink) Frame(f aggregator.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recordingSink) Alerts(c alert.Changes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, c)
}

func (r *recordingSink) Command(_ command.Kind, _ command.StateDelta, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, err)
}

func (r *recordingSink) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingSink) raised() []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []alert.Alert
	for _, c := range r.alerts {
		out = append(out, c.Raised...)
	}
	return out
}

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func newDefaultEngine(t *testing.T) (*engine.Engine, *recordingSink) {
	t.Helper()

	sink := &recordingSink{}
	e, err := engine.FromConfig(config.Default(), engine.WithSink(sink), engine.WithClock(fixedClock()))
	require.NoError(t, err)

	return e, sink
}

func TestFromConfigPublishesParameters(t *testing.T) {
	e, _ := newDefaultEngine(t)

	frame := e.Frame()
	r, ok := frame.Snapshot["param.rear.voltage"]
	require.True(t, ok)
	assert.Equal(t, 300.0, r.Value)
	assert.Equal(t, 200.0, r.Min)
	assert.Equal(t, 400.0, r.Max)

	power, err := e.Derive("totalPower")
	require.NoError(t, err)
	assert.InDelta(t, 68.4, power, 1e-9)
	assert.Equal(t, "eco", e.State().Mode)
}

func TestApplyUpdatesDerivedPowerAndAlerts(t *testing.T) {
	e, sink := newDefaultEngine(t)

	_, err := e.Apply(command.SetMode("sport"))
	require.NoError(t, err)

	power, err := e.Derive("totalPower")
	require.NoError(t, err)
	assert.InDelta(t, 218.5, power, 1e-9)

	_, err = e.Apply(command.SetParameter("rear.amperage", 300))
	require.NoError(t, err)
	assert.Empty(t, e.Active())

	delta, err := e.Apply(command.SetParameter("rear.voltage", 650))
	require.NoError(t, err)
	assert.Equal(t, command.Change{From: 550, To: 650}, delta.Parameters["rear.voltage"])

	power, err = e.Derive("totalPower")
	require.NoError(t, err)
	assert.InDelta(t, 276.0, power, 1e-9)

	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "power-peak", active[0].RuleID)
	assert.Equal(t, alert.SeverityLow, active[0].Severity)

	raised := sink.raised()
	require.Len(t, raised, 1)
	assert.Equal(t, "power-peak", raised[0].RuleID)
}

func TestSetModeRepublishesUnchangedParameterBounds(t *testing.T) {
	e, _ := newDefaultEngine(t)

	_, err := e.Apply(command.SetMode("sport"))
	require.NoError(t, err)

	delta, err := e.Apply(command.SetMode("gear3"))
	require.NoError(t, err)
	assert.NotContains(t, delta.Parameters, "rear.voltage")

	r := e.Frame().Snapshot[engine.ParamPrefix+"rear.voltage"]
	assert.Equal(t, 550.0, r.Value)
	assert.Equal(t, 400.0, r.Min)
	assert.Equal(t, 650.0, r.Max)
}

func TestApplyRejectedLeavesStateUntouched(t *testing.T) {
	e, sink := newDefaultEngine(t)
	before := e.State()

	_, err := e.Apply(command.SetParameter("rear.voltage", 1000))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrOutOfRange))
	assert.Equal(t, before, e.State())

	r := e.Frame().Snapshot["param.rear.voltage"]
	assert.Equal(t, 300.0, r.Value)

	require.Len(t, sink.commands, 1)
	assert.Error(t, sink.commands[0])
}

func TestBatteryTemperatureScenario(t *testing.T) {
	e, sink := newDefaultEngine(t)
	now := fixedClock()()

	reading := func(v float64) telemetry.Reading {
		return telemetry.Reading{SourceID: "batteryTemp", Value: v, Timestamp: now, Min: 15, Max: 60}
	}

	e.Ingest(reading(44))
	assert.Empty(t, e.Active())

	e.Ingest(reading(46))
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "battery-hot", active[0].RuleID)
	assert.Equal(t, alert.SeverityHigh, active[0].Severity)

	// Still above the bound: no second raise.
	e.Ingest(reading(47))
	assert.Len(t, sink.raised(), 1)

	e.Ingest(reading(44))
	assert.Empty(t, e.Active())
}

func TestAcknowledgeNotifiesSinks(t *testing.T) {
	e, sink := newDefaultEngine(t)
	now := fixedClock()()

	e.Ingest(telemetry.Reading{SourceID: "batteryTemp", Value: 50, Timestamp: now, Min: 15, Max: 60})
	active := e.Active()
	require.Len(t, active, 1)

	acked, err := e.Acknowledge(active[0].ID)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Empty(t, e.Active())

	last := sink.alerts[len(sink.alerts)-1]
	require.Len(t, last.Cleared, 1)
	assert.Equal(t, active[0].ID, last.Cleared[0].ID)

	_, err = e.Acknowledge(active[0].ID)
	assert.True(t, errors.HasCode(err, errors.ErrUnknownAlert))
}

func TestRunTicksUntilCancelled(t *testing.T) {
	src, err := telemetry.New(telemetry.Config{
		ID:       "speed",
		Min:      0,
		Max:      200,
		Initial:  85,
		Interval: 5 * time.Millisecond,
		Seed:     1,
		Jitter:   telemetry.JitterConfig{Kind: telemetry.JitterConstant, Delta: 1},
	})
	require.NoError(t, err)

	eval, err := alert.NewEvaluator(nil)
	require.NoError(t, err)
	dispatcher, err := command.NewDispatcher([]command.Mode{{Name: "eco"}}, nil, "")
	require.NoError(t, err)

	sink := &recordingSink{}
	e := engine.New([]*telemetry.Source{src}, aggregator.New(), eval, dispatcher, engine.WithSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.frameCount() >= 4 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}

	r, ok := e.Frame().Snapshot["speed"]
	require.True(t, ok)
	assert.Greater(t, r.Value, 85.0)
	assert.LessOrEqual(t, r.Value, 200.0)
}

func TestRunTwice(t *testing.T) {
	e, sink := newDefaultEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Frames only arrive once the first Run has claimed the engine.
	require.Eventually(t, func() bool { return sink.frameCount() > 0 }, time.Second, 5*time.Millisecond)

	err := e.Run(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))

	cancel()
	require.NoError(t, <-done)
}
