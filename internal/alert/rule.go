package alert

import (
	"fmt"

	"codeberg.org/mutker/trophyctl/internal/errors"
)

// Rule raises an alert of Severity while Metric <Comparator> Bound
type Rule struct {
	ID         string
	Metric     string
	Severity   Severity
	Comparator Comparator
	Bound      float64
	Message    string
}

// RuleConfig is the configuration form of a Rule
type RuleConfig struct {
	ID         string  `mapstructure:"id" json:"id"`
	Metric     string  `mapstructure:"metric" json:"metric"`
	Severity   string  `mapstructure:"severity" json:"severity"`
	Comparator string  `mapstructure:"comparator" json:"comparator"`
	Bound      float64 `mapstructure:"bound" json:"bound"`
	Message    string  `mapstructure:"message" json:"message,omitempty"`
}

func (c RuleConfig) Build() (Rule, error) {
	errFactory := errors.New()

	if c.Metric == "" {
		return Rule{}, errFactory.WithData(errors.ErrInvalidRule, "rule "+c.ID+": metric is empty")
	}

	severity, err := ParseSeverity(c.Severity)
	if err != nil {
		return Rule{}, err
	}

	cmp := Comparator(c.Comparator)
	if !cmp.Valid() {
		return Rule{}, errFactory.WithData(errors.ErrInvalidRule, "rule "+c.ID+": unknown comparator "+c.Comparator)
	}

	id := c.ID
	if id == "" {
		id = fmt.Sprintf("%s%s%g:%s", c.Metric, cmp, c.Bound, severity)
	}

	return Rule{
		ID:         id,
		Metric:     c.Metric,
		Severity:   severity,
		Comparator: cmp,
		Bound:      c.Bound,
		Message:    c.Message,
	}, nil
}

func (r Rule) message(value float64) string {
	if r.Message != "" {
		return fmt.Sprintf("%s (%s=%.2f)", r.Message, r.Metric, value)
	}

	return fmt.Sprintf("%s=%.2f %s %.2f", r.Metric, value, r.Comparator, r.Bound)
}
