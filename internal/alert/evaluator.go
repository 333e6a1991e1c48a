package alert

import (
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/trophyctl/internal/errors"
	"github.com/google/uuid"
)

// Evaluator holds at most one active alert per rule
type Evaluator struct {
	mu         sync.Mutex
	rules      []Rule
	active     map[string]*Alert
	suppressed map[string]bool
	newID      func() string
}

type Option func(*Evaluator)

// WithIDGenerator replaces the uuid generator
func WithIDGenerator(gen func() string) Option {
	return func(e *Evaluator) {
		e.newID = gen
	}
}

func NewEvaluator(rules []Rule, opts ...Option) (*Evaluator, error) {
	errFactory := errors.New()

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID == "" || r.Metric == "" || !r.Comparator.Valid() {
			return nil, errFactory.WithData(errors.ErrInvalidRule, r.ID)
		}
		if seen[r.ID] {
			return nil, errFactory.WithData(errors.ErrInvalidRule, "duplicate rule id "+r.ID)
		}
		seen[r.ID] = true
	}

	e := &Evaluator{
		rules:      append([]Rule(nil), rules...),
		active:     make(map[string]*Alert),
		suppressed: make(map[string]bool),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Rules returns a copy of the configured rules
func (e *Evaluator) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs every rule and returns the active alerts
func (e *Evaluator) Evaluate(values Values, now time.Time) []Alert {
	return e.Step(values, now).Active
}

// Step runs every rule against values. An alert already active for a rule is
// not raised again; it is cleared as soon as the comparator stops holding.
// A metric that cannot be resolved leaves the rule's state untouched.
func (e *Evaluator) Step(values Values, now time.Time) Changes {
	e.mu.Lock()
	defer e.mu.Unlock()

	var changes Changes
	for _, r := range e.rules {
		value, ok := values.Value(r.Metric)
		if !ok {
			continue
		}

		holds := r.Comparator.Holds(value, r.Bound)
		current, active := e.active[r.ID]

		switch {
		case holds && active:
			current.Value = value
		case holds && !e.suppressed[r.ID]:
			a := &Alert{
				ID:       e.newID(),
				RuleID:   r.ID,
				SourceID: r.Metric,
				Severity: r.Severity,
				Message:  r.message(value),
				Value:    value,
				RaisedAt: now,
			}
			e.active[r.ID] = a
			changes.Raised = append(changes.Raised, *a)
		case !holds:
			delete(e.suppressed, r.ID)
			if active {
				cleared := now
				current.ClearedAt = &cleared
				current.Value = value
				changes.Cleared = append(changes.Cleared, *current)
				delete(e.active, r.ID)
			}
		}
	}

	changes.Active = e.activeLocked()
	sortAlerts(changes.Raised)
	sortAlerts(changes.Cleared)

	return changes
}

// Active returns the active alerts, most severe first
func (e *Evaluator) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.activeLocked()
}

// Acknowledge clears an active alert by id. The rule stays quiet until its
// condition stops holding, then it re-arms.
func (e *Evaluator) Acknowledge(id string, now time.Time) (Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ruleID, a := range e.active {
		if a.ID != id {
			continue
		}

		cleared := now
		a.ClearedAt = &cleared
		a.Acknowledged = true
		delete(e.active, ruleID)
		e.suppressed[ruleID] = true

		return *a, nil
	}

	return Alert{}, errors.New().WithData(errors.ErrUnknownAlert, id)
}

func (e *Evaluator) activeLocked() []Alert {
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	sortAlerts(out)

	return out
}

// sortAlerts orders by severity descending, then raise time ascending
func sortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity > alerts[j].Severity
		}
		if !alerts[i].RaisedAt.Equal(alerts[j].RaisedAt) {
			return alerts[i].RaisedAt.Before(alerts[j].RaisedAt)
		}

		return alerts[i].RuleID < alerts[j].RuleID
	})
}
