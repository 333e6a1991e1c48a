package publish

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/logger"
	"github.com/redis/go-redis/v9"
)

const (
	streamMaxLen = 1000
	alertBuffer  = 64
	dialTimeout  = 2 * time.Second
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// Observer is told about every Redis operation
type Observer func(operation string, err error)

type commandRecord struct {
	Kind   command.Kind       `json:"kind"`
	Status string             `json:"status"`
	Delta  command.StateDelta `json:"delta"`
}

// Publisher mirrors the latest frame and the alert and command streams into
// Redis. Sink calls only enqueue; Run does the I/O. Frames are latest-wins.
type Publisher struct {
	client  *redis.Client
	keys    keys
	ttl     time.Duration
	log     logger.Logger
	observe Observer

	frames   chan aggregator.Frame
	alerts   chan alert.Changes
	commands chan commandRecord
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg Config, log logger.Logger, observe Observer) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
		MaxRetries:  3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.New().Wrap(errors.ErrPublish, err)
	}

	log.Info().Str("addr", cfg.Addr).Str("prefix", cfg.Prefix).Msg("Redis state mirror connected")

	return newPublisher(client, cfg, log, observe), nil
}

func newPublisher(client *redis.Client, cfg Config, log logger.Logger, observe Observer) *Publisher {
	if observe == nil {
		observe = func(string, error) {}
	}

	return &Publisher{
		client:   client,
		keys:     newKeys(cfg.Prefix),
		ttl:      cfg.TTL,
		log:      log,
		observe:  observe,
		frames:   make(chan aggregator.Frame, 1),
		alerts:   make(chan alert.Changes, alertBuffer),
		commands: make(chan commandRecord, alertBuffer),
	}
}

// Frame replaces any frame still waiting to be written
func (p *Publisher) Frame(frame aggregator.Frame) {
	for {
		select {
		case p.frames <- frame:
			return
		default:
		}
		select {
		case <-p.frames:
		default:
		}
	}
}

func (p *Publisher) Alerts(changes alert.Changes) {
	select {
	case p.alerts <- changes:
	default:
		p.log.Warn().Int("raised", len(changes.Raised)).Int("cleared", len(changes.Cleared)).
			Msg("Alert mirror queue full, dropping changes")
	}
}

func (p *Publisher) Command(kind command.Kind, delta command.StateDelta, err error) {
	rec := commandRecord{Kind: kind, Status: "ok", Delta: delta}
	if err != nil {
		rec.Status = errors.CodeOf(err).String()
	}

	select {
	case p.commands <- rec:
	default:
		p.log.Warn().Str("kind", string(kind)).Msg("Command mirror queue full, dropping record")
	}
}

// Run writes queued items until ctx is cancelled. Write failures are logged
// and counted; they never stop the loop.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-p.frames:
			p.result("snapshot", p.writeFrame(ctx, f))
		case c := <-p.alerts:
			p.result("alerts", p.writeAlerts(ctx, c))
		case c := <-p.commands:
			p.result("commands", p.writeCommand(ctx, c))
		}
	}
}

func (p *Publisher) result(operation string, err error) {
	p.observe(operation, err)
	if err != nil && ctxErr(err) == nil {
		p.log.Operation(operation).Error().Err(err).Msg("Failed to mirror state")
	}
}

func ctxErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.client.Close(); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

func (p *Publisher) writeFrame(ctx context.Context, f aggregator.Frame) error {
	frameJSON, err := json.Marshal(f)
	if err != nil {
		return errors.New().Wrap(errors.ErrPublish, err)
	}

	pipe := p.client.TxPipeline()
	if values := readingFields(f); len(values) > 0 {
		pipe.HSet(ctx, p.keys.readings, values)
		pipe.Expire(ctx, p.keys.readings, p.ttl)
	}
	if values := derivedFields(f); len(values) > 0 {
		pipe.HSet(ctx, p.keys.derived, values)
		pipe.Expire(ctx, p.keys.derived, p.ttl)
	}
	pipe.Set(ctx, p.keys.frame, frameJSON, p.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.New().Wrap(errors.ErrPublish, err)
	}

	return nil
}

func (p *Publisher) writeAlerts(ctx context.Context, c alert.Changes) error {
	activeJSON, err := json.Marshal(c.Active)
	if err != nil {
		return errors.New().Wrap(errors.ErrPublish, err)
	}

	pipe := p.client.Pipeline()
	for _, ev := range alertEvents(c) {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.keys.alertStream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: ev,
		})
	}
	pipe.Set(ctx, p.keys.activeAlerts, activeJSON, p.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.New().Wrap(errors.ErrPublish, err)
	}

	return nil
}

func (p *Publisher) writeCommand(ctx context.Context, rec commandRecord) error {
	delta, err := json.Marshal(rec.Delta)
	if err != nil {
		return errors.New().Wrap(errors.ErrPublish, err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.keys.commandStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"kind":   string(rec.Kind),
			"status": rec.Status,
			"delta":  string(delta),
		},
	}).Err()
	if err != nil {
		return errors.New().Wrap(errors.ErrPublish, err)
	}

	return nil
}

type keys struct {
	readings      string
	derived       string
	frame         string
	activeAlerts  string
	alertStream   string
	commandStream string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "trophyctl"
	}

	return keys{
		readings:      prefix + ":readings",
		derived:       prefix + ":derived",
		frame:         prefix + ":frame",
		activeAlerts:  prefix + ":alerts:active",
		alertStream:   prefix + ":alerts:stream",
		commandStream: prefix + ":commands:stream",
	}
}

func readingFields(f aggregator.Frame) map[string]any {
	out := make(map[string]any, len(f.Snapshot))
	for id, r := range f.Snapshot {
		out[id] = formatFloat(r.Value)
	}
	return out
}

func derivedFields(f aggregator.Frame) map[string]any {
	out := make(map[string]any, len(f.Derived))
	for name, v := range f.Derived {
		out[name] = formatFloat(v)
	}
	return out
}

// alertEvents flattens changes into stream entries, raised before cleared
func alertEvents(c alert.Changes) []map[string]any {
	out := make([]map[string]any, 0, len(c.Raised)+len(c.Cleared))

	for _, a := range c.Raised {
		out = append(out, alertEntry("raised", a))
	}
	for _, a := range c.Cleared {
		event := "cleared"
		if a.Acknowledged {
			event = "acknowledged"
		}
		out = append(out, alertEntry(event, a))
	}

	return out
}

func alertEntry(event string, a alert.Alert) map[string]any {
	return map[string]any{
		"event":    event,
		"id":       a.ID,
		"rule":     a.RuleID,
		"source":   a.SourceID,
		"severity": a.Severity.String(),
		"value":    formatFloat(a.Value),
		"message":  a.Message,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
