package alert

import (
	"encoding/json"
	"strings"
	"time"

	"codeberg.org/mutker/trophyctl/internal/errors"
)

// Severity orders alerts; higher is worse
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}

	return "unknown"
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}

	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed

	return nil
}

func ParseSeverity(name string) (Severity, error) {
	for s, n := range severityNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}

	return 0, errors.New().WithData(errors.ErrInvalidRule, "unknown severity "+name)
}

// Comparator is the relation a rule checks between value and bound
type Comparator string

const (
	Greater        Comparator = ">"
	GreaterOrEqual Comparator = ">="
	Less           Comparator = "<"
	LessOrEqual    Comparator = "<="
	Equal          Comparator = "=="
	NotEqual       Comparator = "!="
)

func (c Comparator) Valid() bool {
	switch c {
	case Greater, GreaterOrEqual, Less, LessOrEqual, Equal, NotEqual:
		return true
	default:
		return false
	}
}

// Holds reports whether value <c> bound
func (c Comparator) Holds(value, bound float64) bool {
	switch c {
	case Greater:
		return value > bound
	case GreaterOrEqual:
		return value >= bound
	case Less:
		return value < bound
	case LessOrEqual:
		return value <= bound
	case Equal:
		return value == bound
	case NotEqual:
		return value != bound
	default:
		return false
	}
}

// Values resolves a metric name to its current value. aggregator.Frame
// implements it.
type Values interface {
	Value(name string) (float64, bool)
}

// Alert is raised when a rule's comparator starts holding and cleared when it
// stops, or when acknowledged.
type Alert struct {
	ID           string     `json:"id"`
	RuleID       string     `json:"ruleId"`
	SourceID     string     `json:"sourceId"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	Value        float64    `json:"value"`
	RaisedAt     time.Time  `json:"raisedAt"`
	ClearedAt    *time.Time `json:"clearedAt,omitempty"`
	Acknowledged bool       `json:"acknowledged,omitempty"`
}

// Changes is the result of one evaluation step
type Changes struct {
	Raised  []Alert `json:"raised"`
	Cleared []Alert `json:"cleared"`
	Active  []Alert `json:"active"`
}

// Empty reports whether the step raised or cleared nothing
func (c Changes) Empty() bool {
	return len(c.Raised) == 0 && len(c.Cleared) == 0
}
