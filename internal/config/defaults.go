package config

import (
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/telemetry"
)

// Parameter names shared by every built-in mode
const (
	ParamRearVoltage   = "rear.voltage"
	ParamRearAmperage  = "rear.amperage"
	ParamFrontVoltage  = "front.voltage"
	ParamFrontAmperage = "front.amperage"
	ParamPowerSplit    = "powerSplit"
)

// Default returns the built-in truck: its sources, derived metrics, alert
// rules, drive modes and feature flags.
func Default() *Config {
	return &Config{
		Interval:   DefaultInterval,
		LogLevel:   DefaultLogLevel,
		Listen:     DefaultListen,
		Mode:       "eco",
		WindowSize: DefaultWindowSize,
		History: HistoryConfig{
			DBPath:       DefaultHistoryDB,
			BatchSize:    DefaultBatchSize,
			BatchTimeout: DefaultBatchTimeout,
		},
		Redis: RedisConfig{
			TTL:    DefaultRedisTTL,
			Prefix: DefaultRedisPrefix,
		},
		Sources: defaultSources(),
		Derived: defaultDerived(),
		Rules:   defaultRules(),
		Modes:   defaultModes(),
		Flags: []FlagConfig{
			{Name: "aiPower"},
			{Name: "crabMode"},
			{Name: "compressor"},
			{Name: "autonomy"},
			{Name: "uvHygienization"},
			{Name: "geofence", Enabled: true},
		},
	}
}

func uniform(spread float64) telemetry.JitterConfig {
	return telemetry.JitterConfig{Kind: telemetry.JitterUniform, Spread: spread}
}

func source(id string, lo, hi, initial float64, every time.Duration, j telemetry.JitterConfig) telemetry.Config {
	return telemetry.Config{ID: id, Min: lo, Max: hi, Initial: initial, Interval: every, Jitter: j}
}

func defaultSources() []telemetry.Config {
	brakes := func(id string, initial, drift, kick float64) telemetry.Config {
		return source(id, 120, 400, initial, 2*time.Second, telemetry.JitterConfig{
			Kind:   telemetry.JitterBiased,
			Spread: 5,
			Drift:  drift,
			Chance: 0.15,
			Kick:   kick,
		})
	}

	return []telemetry.Config{
		source("speed", 0, 200, 85, time.Second, uniform(2)),
		source("torque", 0, 600, 280, time.Second, uniform(10)),
		source("batteryTemp", 15, 60, 32.5, time.Second, uniform(0.5)),
		source("batteryLevel", 0, 100, 78, 5*time.Second, telemetry.JitterConfig{
			Kind: telemetry.JitterBiased, Spread: 0.1, Drift: -0.05,
		}),

		brakes("brakeTemp.frontLeft", 180, -1, 15),
		brakes("brakeTemp.frontRight", 180, -1, 15),
		brakes("brakeTemp.rearLeft", 160, -0.8, 12),
		brakes("brakeTemp.rearRight", 160, -0.8, 12),

		source("tirePressure.frontLeft", 15, 65, 32, 3*time.Second, uniform(0.5)),
		source("tirePressure.frontRight", 15, 65, 32, 3*time.Second, uniform(0.5)),
		source("tirePressure.rearLeft", 15, 65, 34, 3*time.Second, uniform(0.5)),
		source("tirePressure.rearRight", 15, 65, 34, 3*time.Second, uniform(0.5)),

		source("motorTemp.front", 20, 120, 45, 2*time.Second, uniform(2)),
		source("motorTemp.rear", 20, 120, 48, 2*time.Second, uniform(2)),

		source("coolant.arterial", 60, 100, 80, 2*time.Second, uniform(5)),
		source("coolant.venous", 70, 100, 85, 2*time.Second, uniform(3)),
		source("coolant.capillary", 50, 95, 72, 2*time.Second, uniform(8)),

		source("airflow.intake", 80, 200, 140, 3*time.Second, uniform(10)),
		source("airflow.exhaust", 75, 190, 130, 3*time.Second, uniform(8)),
		source("airflow.filterEfficiency", 85, 98, 92, 3*time.Second, uniform(2)),

		source("rainIntensity", 0, 100, 10, 3*time.Second, telemetry.JitterConfig{
			Kind: telemetry.JitterBiased, Spread: 20, Drift: -4,
		}),
		source("drone.battery", 0, 100, 100, 2*time.Second, telemetry.JitterConfig{
			Kind: telemetry.JitterConstant, Delta: -0.5,
		}),
	}
}

func defaultDerived() []aggregator.MetricConfig {
	brakes := []string{
		"brakeTemp.frontLeft", "brakeTemp.frontRight",
		"brakeTemp.rearLeft", "brakeTemp.rearRight",
	}
	tires := []string{
		"tirePressure.frontLeft", "tirePressure.frontRight",
		"tirePressure.rearLeft", "tirePressure.rearRight",
	}

	return []aggregator.MetricConfig{
		{Name: "totalPower", Kind: aggregator.KindPower, Sources: []string{
			"param." + ParamRearVoltage, "param." + ParamRearAmperage,
			"param." + ParamFrontVoltage, "param." + ParamFrontAmperage,
		}},
		{Name: "avgBrakeTemp", Kind: aggregator.KindAverage, Sources: brakes},
		{Name: "maxBrakeTemp", Kind: aggregator.KindMax, Sources: brakes},
		{Name: "avgTirePressure", Kind: aggregator.KindAverage, Sources: tires},
		{Name: "minTirePressure", Kind: aggregator.KindMin, Sources: tires},
		{Name: "avgMotorTemp", Kind: aggregator.KindAverage, Sources: []string{"motorTemp.front", "motorTemp.rear"}},
		{Name: "batteryTempAvg", Kind: aggregator.KindRolling, Sources: []string{"batteryTemp"}},
	}
}

func defaultRules() []alert.RuleConfig {
	return []alert.RuleConfig{
		{ID: "battery-hot", Metric: "batteryTemp", Severity: "high", Comparator: ">", Bound: 45, Message: "Battery temperature high"},
		{ID: "battery-critical", Metric: "batteryTemp", Severity: "critical", Comparator: ">=", Bound: 55, Message: "Battery temperature critical"},
		{ID: "battery-low", Metric: "batteryLevel", Severity: "medium", Comparator: "<", Bound: 20, Message: "Battery level low"},
		{ID: "brakes-hot", Metric: "maxBrakeTemp", Severity: "high", Comparator: ">", Bound: 350, Message: "Brake temperature high"},
		{ID: "tire-low", Metric: "minTirePressure", Severity: "medium", Comparator: "<", Bound: 20, Message: "Tire pressure low"},
		{ID: "motor-hot", Metric: "avgMotorTemp", Severity: "high", Comparator: ">", Bound: 90, Message: "Motor temperature high"},
		{ID: "power-peak", Metric: "totalPower", Severity: "low", Comparator: ">", Bound: 250, Message: "Power draw peak"},
		{ID: "drone-battery", Metric: "drone.battery", Severity: "low", Comparator: "<", Bound: 15, Message: "Drone battery low"},
	}
}

type preset struct {
	name, description     string
	rearV, rearA          float64
	frontV, frontA, split float64
	vMin, vMax            float64
	aMin, aMax            float64
}

func defaultModes() []command.ModeConfig {
	presets := []preset{
		{"eco", "Maximum efficiency", 300, 100, 320, 120, 20, 200, 400, 50, 160},
		{"sport", "Balanced performance", 550, 250, 450, 180, 70, 300, 650, 100, 300},
		{"track", "Maximum performance", 600, 300, 200, 50, 100, 150, 650, 40, 320},
		{"snow", "Maximum traction", 350, 130, 380, 150, 40, 250, 450, 80, 180},
		{"reverse", "Reverse gear", 150, 50, 150, 50, 50, 100, 250, 20, 100},
		{"gear1", "First gear: launch and crawl", 250, 120, 250, 120, 50, 150, 350, 50, 200},
		{"gear2", "Second gear: mid range", 400, 180, 380, 160, 60, 250, 500, 100, 260},
		{"gear3", "Third gear: top speed", 550, 250, 500, 220, 70, 400, 650, 150, 320},
	}

	modes := make([]command.ModeConfig, 0, len(presets))
	for _, p := range presets {
		modes = append(modes, command.ModeConfig{
			Name:        p.name,
			Description: p.description,
			Parameters: []command.ParameterConfig{
				{Name: ParamRearVoltage, Min: p.vMin, Max: p.vMax, Default: p.rearV},
				{Name: ParamRearAmperage, Min: p.aMin, Max: p.aMax, Default: p.rearA},
				{Name: ParamFrontVoltage, Min: p.vMin, Max: p.vMax, Default: p.frontV},
				{Name: ParamFrontAmperage, Min: p.aMin, Max: p.aMax, Default: p.frontA},
				{Name: ParamPowerSplit, Min: 0, Max: 100, Default: p.split},
			},
		})
	}

	return modes
}
