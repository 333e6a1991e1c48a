package telemetry

import "codeberg.org/mutker/trophyctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig   = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidBounds   = errors.ErrorCode("telemetry_invalid_bounds")
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrUnknownJitter   = errors.ErrorCode("telemetry_unknown_jitter")
)
