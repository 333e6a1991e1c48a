package aggregator

import (
	"math"

	"codeberg.org/mutker/trophyctl/internal/errors"
)

const (
	KindSum     = "sum"
	KindAverage = "average"
	KindMin     = "min"
	KindMax     = "max"
	KindPower   = "power"
	KindRolling = "rolling"

	wattsPerKilowatt = 1000
)

// MetricConfig declares a derived metric in configuration
type MetricConfig struct {
	Name    string   `mapstructure:"name" json:"name"`
	Kind    string   `mapstructure:"kind" json:"kind"`
	Sources []string `mapstructure:"sources" json:"sources"`
}

func (c MetricConfig) Build() (DerivedMetric, error) {
	errFactory := errors.New()

	if c.Name == "" {
		return DerivedMetric{}, errFactory.WithMessage(errors.ErrInvalidConfig, "derived metric name is empty")
	}
	if len(c.Sources) == 0 {
		return DerivedMetric{}, errFactory.WithData(errors.ErrInvalidConfig, c.Name+": no sources")
	}

	var f Formula
	switch c.Kind {
	case KindSum:
		f = Sum(c.Sources...)
	case KindAverage:
		f = Average(c.Sources...)
	case KindMin:
		f = Min(c.Sources...)
	case KindMax:
		f = Max(c.Sources...)
	case KindRolling:
		if len(c.Sources) != 1 {
			return DerivedMetric{}, errFactory.WithData(errors.ErrInvalidConfig, c.Name+": rolling takes one source")
		}
		f = Rolling(c.Sources[0])
	case KindPower:
		if len(c.Sources)%2 != 0 {
			return DerivedMetric{}, errFactory.WithData(errors.ErrInvalidConfig, c.Name+": power takes voltage/amperage pairs")
		}
		pairs := make([][2]string, 0, len(c.Sources)/2)
		for i := 0; i < len(c.Sources); i += 2 {
			pairs = append(pairs, [2]string{c.Sources[i], c.Sources[i+1]})
		}
		f = Power(pairs...)
	default:
		return DerivedMetric{}, errFactory.WithData(errors.ErrInvalidConfig, c.Name+": unknown kind "+c.Kind)
	}

	return DerivedMetric{Name: c.Name, Formula: f}, nil
}

func values(v View, ids []string) ([]float64, error) {
	out := make([]float64, 0, len(ids))
	for _, id := range ids {
		r, ok := v.Reading(id)
		if !ok {
			return nil, errors.New().WithData(errors.ErrUnknownSource, id)
		}
		out = append(out, r.Value)
	}

	return out, nil
}

func Sum(ids ...string) Formula {
	return func(v View) (float64, error) {
		vals, err := values(v, ids)
		if err != nil {
			return 0, err
		}

		var sum float64
		for _, x := range vals {
			sum += x
		}

		return sum, nil
	}
}

func Average(ids ...string) Formula {
	return func(v View) (float64, error) {
		vals, err := values(v, ids)
		if err != nil {
			return 0, err
		}

		return mean(vals), nil
	}
}

func Min(ids ...string) Formula {
	return func(v View) (float64, error) {
		vals, err := values(v, ids)
		if err != nil {
			return 0, err
		}

		m := math.Inf(1)
		for _, x := range vals {
			m = math.Min(m, x)
		}

		return m, nil
	}
}

func Max(ids ...string) Formula {
	return func(v View) (float64, error) {
		vals, err := values(v, ids)
		if err != nil {
			return 0, err
		}

		m := math.Inf(-1)
		for _, x := range vals {
			m = math.Max(m, x)
		}

		return m, nil
	}
}

// Power is sum(voltage * amperage) / 1000, in kW
func Power(pairs ...[2]string) Formula {
	return func(v View) (float64, error) {
		var total float64
		for _, p := range pairs {
			vals, err := values(v, p[:])
			if err != nil {
				return 0, err
			}
			total += vals[0] * vals[1]
		}

		return total / wattsPerKilowatt, nil
	}
}

// Rolling is the mean of the source's rolling window
func Rolling(id string) Formula {
	return func(v View) (float64, error) {
		h := v.History(id)
		if len(h) == 0 {
			return 0, errors.New().WithData(errors.ErrUnknownSource, id)
		}

		return mean(h), nil
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}

	var sum float64
	for _, x := range vals {
		sum += x
	}

	return sum / float64(len(vals))
}
