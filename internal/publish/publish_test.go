package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/logger"
	"codeberg.org/mutker/trophyctl/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable points at a port nothing listens on
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), Config{Addr: "127.0.0.1:1"}, logger.For("publish"), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrPublish))
}

func TestFrameIsLatestWins(t *testing.T) {
	p := newPublisher(unreachable(), Config{}, logger.For("publish"), nil)
	defer p.Close()

	p.Frame(aggregator.Frame{Version: 1})
	p.Frame(aggregator.Frame{Version: 2})
	p.Frame(aggregator.Frame{Version: 3})

	require.Len(t, p.frames, 1)
	assert.Equal(t, uint64(3), (<-p.frames).Version)
}

func TestRunReportsFailures(t *testing.T) {
	var (
		mu  sync.Mutex
		ops = map[string]error{}
	)
	observe := func(op string, err error) {
		mu.Lock()
		defer mu.Unlock()
		ops[op] = err
	}

	p := newPublisher(unreachable(), Config{TTL: time.Minute}, logger.For("publish"), observe)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Frame(aggregator.Frame{Snapshot: aggregator.Snapshot{"speed": telemetry.Reading{Value: 85}}})
	p.Command(command.KindToggle, command.StateDelta{Flags: map[string]bool{"aiPower": true}}, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ops) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.True(t, errors.HasCode(ops["snapshot"], errors.ErrPublish))
	assert.Error(t, ops["commands"])
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestAlertEvents(t *testing.T) {
	raised := alert.Alert{ID: "a1", RuleID: "battery-hot", SourceID: "batteryTemp", Severity: alert.SeverityHigh, Value: 46}
	acked := alert.Alert{ID: "a0", RuleID: "tire-low", Severity: alert.SeverityMedium, Value: 18.5, Acknowledged: true}

	events := alertEvents(alert.Changes{Raised: []alert.Alert{raised}, Cleared: []alert.Alert{acked}})
	require.Len(t, events, 2)

	assert.Equal(t, "raised", events[0]["event"])
	assert.Equal(t, "high", events[0]["severity"])
	assert.Equal(t, "46", events[0]["value"])
	assert.Equal(t, "acknowledged", events[1]["event"])
	assert.Equal(t, "18.5", events[1]["value"])
}

func TestKeys(t *testing.T) {
	k := newKeys("")
	assert.Equal(t, "trophyctl:readings", k.readings)
	assert.Equal(t, "trophyctl:alerts:stream", k.alertStream)

	k = newKeys("truck7")
	assert.Equal(t, "truck7:frame", k.frame)
	assert.Equal(t, "truck7:commands:stream", k.commandStream)
}

func TestFields(t *testing.T) {
	f := aggregator.Frame{
		Snapshot: aggregator.Snapshot{"speed": telemetry.Reading{Value: 85.25}},
		Derived:  map[string]float64{"totalPower": 68.4},
	}

	assert.Equal(t, map[string]any{"speed": "85.25"}, readingFields(f))
	assert.Equal(t, map[string]any{"totalPower": "68.4"}, derivedFields(f))
}
