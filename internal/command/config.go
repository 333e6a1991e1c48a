package command

import (
	"codeberg.org/mutker/trophyctl/internal/errors"
)

// ParameterConfig declares one parameter of a mode. A list is used instead of
// a map because parameter names contain dots.
type ParameterConfig struct {
	Name    string  `mapstructure:"name"`
	Min     float64 `mapstructure:"min"`
	Max     float64 `mapstructure:"max"`
	Default float64 `mapstructure:"default"`
}

type ModeConfig struct {
	Name        string            `mapstructure:"name"`
	Description string            `mapstructure:"description"`
	Parameters  []ParameterConfig `mapstructure:"parameters"`
}

func (c ModeConfig) Build() (Mode, error) {
	errFactory := errors.New()

	if c.Name == "" {
		return Mode{}, errFactory.WithMessage(errors.ErrInvalidConfig, "mode name is empty")
	}

	m := Mode{
		Name:        c.Name,
		Description: c.Description,
		Parameters:  make(map[string]Bounds, len(c.Parameters)),
	}
	for _, p := range c.Parameters {
		b := Bounds{Min: p.Min, Max: p.Max, Default: p.Default}
		if p.Name == "" || b.Min > b.Max || !b.Contains(b.Default) {
			return Mode{}, errFactory.WithData(errors.ErrInvalidConfig, struct {
				Mode      string
				Parameter string
				Bounds    Bounds
			}{c.Name, p.Name, b})
		}
		if _, dup := m.Parameters[p.Name]; dup {
			return Mode{}, errFactory.WithData(errors.ErrInvalidConfig, c.Name+": duplicate parameter "+p.Name)
		}
		m.Parameters[p.Name] = b
	}

	return m, nil
}
