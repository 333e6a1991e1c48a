package engine

import (
	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
)

// Sink observes the engine. Calls arrive one at a time, in the order the
// engine produced them, and must not block.
type Sink interface {
	Frame(frame aggregator.Frame)
	Alerts(changes alert.Changes)
	Command(kind command.Kind, delta command.StateDelta, err error)
}

// ParamPrefix prefixes parameter values published into the aggregator
const ParamPrefix = "param."

// Option configures an Engine
type Option func(*Engine)
