package engine

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/config"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/logger"
	"codeberg.org/mutker/trophyctl/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const ingestBuffer = 64

// Engine schedules the sources and routes every reading and command through
// the aggregator, the evaluator and the sinks. The ingest loop is the only
// writer of telemetry readings; commands publish parameters synchronously.
type Engine struct {
	sources    []*telemetry.Source
	aggregator *aggregator.Aggregator
	evaluator  *alert.Evaluator
	dispatcher *command.Dispatcher
	sinks      []Sink
	log        logger.Logger
	now        func() time.Time

	// mu orders update, evaluation and sink notification as one step
	mu      sync.Mutex
	ingest  chan telemetry.Reading
	running bool
}

// WithSink adds a sink
func WithSink(s Sink) Option {
	return func(e *Engine) {
		e.sinks = append(e.sinks, s)
	}
}

// WithClock overrides time.Now for evaluation and acknowledgement timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(
	sources []*telemetry.Source,
	agg *aggregator.Aggregator,
	eval *alert.Evaluator,
	dispatcher *command.Dispatcher,
	opts ...Option,
) *Engine {
	e := &Engine{
		sources:    sources,
		aggregator: agg,
		evaluator:  eval,
		dispatcher: dispatcher,
		log:        logger.For("engine"),
		now:        time.Now,
		ingest:     make(chan telemetry.Reading, ingestBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.publishParameters(e.dispatcher.State().Parameters)

	return e
}

// FromConfig builds every component described by cfg
func FromConfig(cfg *config.Config, opts ...Option) (*Engine, error) {
	errFactory := errors.New()

	sources := make([]*telemetry.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := telemetry.New(sc)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInitFailed, err)
		}
		sources = append(sources, src)
	}

	agg := aggregator.New(aggregator.WithWindowSize(cfg.WindowSize))
	for _, mc := range cfg.Derived {
		m, err := mc.Build()
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInitFailed, err)
		}
		if err := agg.Register(m); err != nil {
			return nil, errFactory.Wrap(errors.ErrInitFailed, err)
		}
	}

	rules := make([]alert.Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		r, err := rc.Build()
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInitFailed, err)
		}
		rules = append(rules, r)
	}
	eval, err := alert.NewEvaluator(rules)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	modes := make([]command.Mode, 0, len(cfg.Modes))
	for _, mc := range cfg.Modes {
		m, err := mc.Build()
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInitFailed, err)
		}
		modes = append(modes, m)
	}
	dispatcher, err := command.NewDispatcher(modes, cfg.FlagMap(), cfg.Mode)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	return New(sources, agg, eval, dispatcher, opts...), nil
}

// Run seeds every source with its initial reading, then ticks them until ctx
// is cancelled. It returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New().New(errors.ErrAlreadyRunning)
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := e.now()
	initial := make([]telemetry.Reading, len(e.sources))
	for i, src := range e.sources {
		initial[i] = src.Initial(start)
		e.Ingest(initial[i])
	}

	e.log.Info().
		Int("sources", len(e.sources)).
		Int("rules", len(e.evaluator.Rules())).
		Str("mode", e.dispatcher.State().Mode).
		Msg("Engine started")

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range e.sources {
		i, src := i, src
		g.Go(func() error {
			return src.Run(ctx, initial[i], e.ingest)
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case r := <-e.ingest:
				e.Ingest(r)
			}
		}
	})

	err := g.Wait()
	e.log.Info().Msg("Engine stopped")

	return err
}

// Ingest applies one reading and evaluates the rules against the new frame
func (e *Engine) Ingest(r telemetry.Reading) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.aggregator.Update(r.SourceID, r)
	e.evaluateLocked()
}

func (e *Engine) evaluateLocked() {
	frame := e.aggregator.Frame()
	changes := e.evaluator.Step(frame, e.now())

	for _, a := range changes.Raised {
		e.log.Warn().
			Str("rule", a.RuleID).
			Str("severity", a.Severity.String()).
			Float64("value", a.Value).
			Msg(a.Message)
	}
	for _, a := range changes.Cleared {
		e.log.Info().Str("rule", a.RuleID).Msg("Alert cleared")
	}

	for _, s := range e.sinks {
		s.Frame(frame)
		if !changes.Empty() {
			s.Alerts(changes)
		}
	}
}

// Apply dispatches a command. On success the changed parameters are
// published into the aggregator and the rules are evaluated again.
func (e *Engine) Apply(cmd command.Command) (command.StateDelta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delta, err := e.dispatcher.Apply(cmd)
	if err != nil {
		e.log.Debug().
			Str("kind", string(cmd.Kind)).
			Str("error_code", errors.CodeOf(err).String()).
			Msg("Command rejected")
	} else {
		e.log.Info().
			Str("kind", string(cmd.Kind)).
			Str("mode", e.dispatcher.State().Mode).
			Strs("parameters", delta.ChangedParameters()).
			Msg("Command applied")
	}

	for _, s := range e.sinks {
		s.Command(cmd.Kind, delta, err)
	}
	if err != nil {
		return command.StateDelta{}, err
	}

	switch {
	case delta.Mode != nil:
		// Bounds change with the mode, so every parameter is republished
		e.publishParameters(e.dispatcher.State().Parameters)
		e.evaluateLocked()
	case len(delta.Parameters) > 0:
		values := make(map[string]float64, len(delta.Parameters))
		for name, c := range delta.Parameters {
			values[name] = c.To
		}
		e.publishParameters(values)
		e.evaluateLocked()
	}

	return delta, nil
}

// publishParameters writes parameter values as readings bounded by the
// active mode. Parameters the mode does not govern are pinned to their value.
func (e *Engine) publishParameters(values map[string]float64) {
	now := e.now()
	for name, v := range values {
		lo, hi := v, v
		if b, ok := e.dispatcher.Bounds(name); ok {
			lo, hi = b.Min, b.Max
		}
		id := ParamPrefix + name
		e.aggregator.Update(id, telemetry.Reading{
			SourceID:  id,
			Value:     v,
			Timestamp: now,
			Min:       lo,
			Max:       hi,
		})
	}
}

// Acknowledge clears an active alert and notifies the sinks
func (e *Engine) Acknowledge(id string) (alert.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.evaluator.Acknowledge(id, e.now())
	if err != nil {
		return alert.Alert{}, err
	}

	e.log.Info().Str("rule", a.RuleID).Str("id", a.ID).Msg("Alert acknowledged")

	changes := alert.Changes{
		Cleared: []alert.Alert{a},
		Active:  e.evaluator.Active(),
	}
	for _, s := range e.sinks {
		s.Alerts(changes)
	}

	return a, nil
}

// Frame returns the current snapshot with derived metrics
func (e *Engine) Frame() aggregator.Frame {
	return e.aggregator.Frame()
}

// Derive computes one derived metric
func (e *Engine) Derive(name string) (float64, error) {
	return e.aggregator.Derive(name)
}

// Active returns the active alerts, most severe first
func (e *Engine) Active() []alert.Alert {
	return e.evaluator.Active()
}

// State returns the command-controlled state
func (e *Engine) State() command.State {
	return e.dispatcher.State()
}

// Modes returns the declared modes
func (e *Engine) Modes() []command.Mode {
	return e.dispatcher.Modes()
}

// Metrics lists the registered derived metrics
func (e *Engine) Metrics() []string {
	return e.aggregator.Metrics()
}
