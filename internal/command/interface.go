package command

import (
	"encoding/json"
	"sort"
)

// Kind names a command
type Kind string

const (
	KindSetMode      Kind = "setMode"
	KindSetParameter Kind = "setParameter"
	KindToggle       Kind = "toggle"
	KindReset        Kind = "reset"
)

// Command is the wire form {"kind": ..., "payload": {...}}
type Command struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type modePayload struct {
	Name string `json:"name"`
}

type parameterPayload struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
}

type flagPayload struct {
	Name string `json:"name"`
}

func SetMode(name string) Command {
	return build(KindSetMode, modePayload{Name: name})
}

func SetParameter(name string, value float64) Command {
	return build(KindSetParameter, parameterPayload{Name: name, Value: &value})
}

func Toggle(flag string) Command {
	return build(KindToggle, flagPayload{Name: flag})
}

func Reset() Command {
	return Command{Kind: KindReset}
}

func build(kind Kind, payload any) Command {
	//nolint:errchkjson // payload structs always marshal
	b, _ := json.Marshal(payload)
	return Command{Kind: kind, Payload: b}
}

// Bounds are the legal range and the default of one parameter within a mode
type Bounds struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Mode is a named bundle of parameter bounds and defaults. Switching to it
// overwrites every parameter it governs with its default in one step.
type Mode struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Parameters  map[string]Bounds `json:"parameters"`
}

// State is the authoritative command-controlled state
type State struct {
	Mode       string             `json:"mode"`
	Parameters map[string]float64 `json:"parameters"`
	Flags      map[string]bool    `json:"flags"`
}

func (s State) clone() State {
	out := State{
		Mode:       s.Mode,
		Parameters: make(map[string]float64, len(s.Parameters)),
		Flags:      make(map[string]bool, len(s.Flags)),
	}
	for k, v := range s.Parameters {
		out.Parameters[k] = v
	}
	for k, v := range s.Flags {
		out.Flags[k] = v
	}

	return out
}

type Change struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

type ModeChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// StateDelta describes exactly what a successful command changed
type StateDelta struct {
	Mode       *ModeChange       `json:"mode,omitempty"`
	Parameters map[string]Change `json:"parameters,omitempty"`
	Flags      map[string]bool   `json:"flags,omitempty"`
}

func (d StateDelta) Empty() bool {
	return d.Mode == nil && len(d.Parameters) == 0 && len(d.Flags) == 0
}

// ChangedParameters lists the changed parameter names in sorted order
func (d StateDelta) ChangedParameters() []string {
	names := make([]string, 0, len(d.Parameters))
	for name := range d.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
