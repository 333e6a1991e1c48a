package command

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"codeberg.org/mutker/trophyctl/internal/errors"
)

// Dispatcher validates commands against the active mode and applies them.
// Apply is transactional: a rejected command leaves state untouched, and a
// mode switch is published as a whole under the write lock.
type Dispatcher struct {
	mu    sync.RWMutex
	modes map[string]Mode
	order []string
	state State
}

// NewDispatcher starts in initialMode, or in the first mode when empty.
// Parameters the initial mode does not govern start at the default of the
// first mode that declares them.
func NewDispatcher(modes []Mode, flags map[string]bool, initialMode string) (*Dispatcher, error) {
	errFactory := errors.New()

	if len(modes) == 0 {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "at least one mode is required")
	}

	d := &Dispatcher{
		modes: make(map[string]Mode, len(modes)),
		state: State{
			Parameters: make(map[string]float64),
			Flags:      make(map[string]bool, len(flags)),
		},
	}

	for _, m := range modes {
		if _, dup := d.modes[m.Name]; dup {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, "duplicate mode "+m.Name)
		}
		for name, b := range m.Parameters {
			if b.Min > b.Max || !b.Contains(b.Default) {
				return nil, errFactory.WithData(errors.ErrInvalidConfig, m.Name+"."+name)
			}
			if _, seen := d.state.Parameters[name]; !seen {
				d.state.Parameters[name] = b.Default
			}
		}
		d.modes[m.Name] = m
		d.order = append(d.order, m.Name)
	}

	if initialMode == "" {
		initialMode = modes[0].Name
	}
	initial, ok := d.modes[initialMode]
	if !ok {
		return nil, errFactory.WithData(errors.ErrUnknownMode, initialMode)
	}
	d.state.Mode = initial.Name
	for name, b := range initial.Parameters {
		d.state.Parameters[name] = b.Default
	}

	for name, on := range flags {
		d.state.Flags[name] = on
	}

	return d, nil
}

// State returns a copy of the current state
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.state.clone()
}

// Modes lists mode names in declaration order
func (d *Dispatcher) Modes() []Mode {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Mode, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.modes[name])
	}

	return out
}

// Bounds returns the active mode's bounds for a parameter
func (d *Dispatcher) Bounds(parameter string) (Bounds, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.modes[d.state.Mode].Parameters[parameter]
	return b, ok
}

// Apply validates and applies one command
func (d *Dispatcher) Apply(cmd Command) (StateDelta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch cmd.Kind {
	case KindSetMode:
		var p modePayload
		if err := decode(cmd, &p); err != nil {
			return StateDelta{}, err
		}
		return d.setMode(p.Name)
	case KindSetParameter:
		var p parameterPayload
		if err := decode(cmd, &p); err != nil {
			return StateDelta{}, err
		}
		if p.Value == nil {
			return StateDelta{}, errors.New().WithData(errors.ErrInvalidCommand, "setParameter requires a value")
		}
		return d.setParameter(p.Name, *p.Value)
	case KindToggle:
		var p flagPayload
		if err := decode(cmd, &p); err != nil {
			return StateDelta{}, err
		}
		return d.toggle(p.Name)
	case KindReset:
		return d.reset(), nil
	default:
		return StateDelta{}, errors.New().WithData(errors.ErrInvalidCommand, "unknown kind "+string(cmd.Kind))
	}
}

func decode(cmd Command, into any) error {
	if len(bytes.TrimSpace(cmd.Payload)) == 0 {
		return errors.New().WithData(errors.ErrInvalidCommand, string(cmd.Kind)+" requires a payload")
	}

	dec := json.NewDecoder(bytes.NewReader(cmd.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return errors.New().Wrap(errors.ErrInvalidCommand, err)
	}

	return expectEOF(dec)
}

// Parse reads exactly one command object from r
func Parse(r io.Reader) (Command, error) {
	var cmd Command

	dec := json.NewDecoder(r)
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, errors.New().Wrap(errors.ErrInvalidCommand, err)
	}
	if err := expectEOF(dec); err != nil {
		return Command{}, err
	}

	return cmd, nil
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New().WithMessage(errors.ErrInvalidCommand, "trailing data after JSON object")
	}

	return nil
}

func (d *Dispatcher) setMode(name string) (StateDelta, error) {
	mode, ok := d.modes[name]
	if !ok {
		return StateDelta{}, errors.New().WithData(errors.ErrUnknownMode, name)
	}
	if name == d.state.Mode {
		return StateDelta{}, nil
	}

	delta := StateDelta{Mode: &ModeChange{From: d.state.Mode, To: name}}
	d.state.Mode = name
	d.applyDefaults(mode, &delta)

	return delta, nil
}

func (d *Dispatcher) setParameter(name string, value float64) (StateDelta, error) {
	errFactory := errors.New()

	b, ok := d.modes[d.state.Mode].Parameters[name]
	if !ok {
		return StateDelta{}, errFactory.WithData(errors.ErrUnknownParameter, name)
	}
	if !b.Contains(value) {
		return StateDelta{}, errFactory.WithData(errors.ErrOutOfRange, struct {
			Mode      string
			Parameter string
			Value     float64
			Min, Max  float64
		}{d.state.Mode, name, value, b.Min, b.Max})
	}

	var delta StateDelta
	if from := d.state.Parameters[name]; from != value {
		delta.Parameters = map[string]Change{name: {From: from, To: value}}
		d.state.Parameters[name] = value
	}

	return delta, nil
}

func (d *Dispatcher) toggle(flag string) (StateDelta, error) {
	on, ok := d.state.Flags[flag]
	if !ok {
		return StateDelta{}, errors.New().WithData(errors.ErrUnknownFlag, flag)
	}

	d.state.Flags[flag] = !on

	return StateDelta{Flags: map[string]bool{flag: !on}}, nil
}

func (d *Dispatcher) reset() StateDelta {
	var delta StateDelta
	d.applyDefaults(d.modes[d.state.Mode], &delta)

	return delta
}

func (d *Dispatcher) applyDefaults(mode Mode, delta *StateDelta) {
	for name, b := range mode.Parameters {
		to := b.Default
		from := d.state.Parameters[name]
		if from == to {
			continue
		}
		if delta.Parameters == nil {
			delta.Parameters = make(map[string]Change)
		}
		delta.Parameters[name] = Change{From: from, To: to}
		d.state.Parameters[name] = to
	}
}
