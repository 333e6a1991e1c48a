package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Aggregation errors
	ErrUnknownMetric   ErrorCode = "unknown_metric"
	ErrUnknownSource   ErrorCode = "unknown_source"
	ErrDuplicateMetric ErrorCode = "duplicate_metric"

	// Command errors
	ErrUnknownMode      ErrorCode = "unknown_mode"
	ErrOutOfRange       ErrorCode = "out_of_range"
	ErrUnknownParameter ErrorCode = "unknown_parameter"
	ErrUnknownFlag      ErrorCode = "unknown_flag"
	ErrInvalidCommand   ErrorCode = "invalid_command"

	// Alert errors
	ErrUnknownAlert ErrorCode = "unknown_alert"
	ErrInvalidRule  ErrorCode = "invalid_rule"

	// Application errors
	ErrInitApp  ErrorCode = "init_app_failed"
	ErrMainLoop ErrorCode = "main_loop_failed"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"

	// Recording errors
	ErrInitMetrics    ErrorCode = "init_metrics_failed"
	ErrCollectMetrics ErrorCode = "collect_metrics_failed"
	ErrCloseMetrics   ErrorCode = "close_metrics_failed"
	ErrPublish        ErrorCode = "publish_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrReadConfig:       "Failed to read config file",
	ErrInvalidInterval:  "Invalid interval value",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrUnknownMetric:    "Unknown derived metric",
	ErrUnknownSource:    "Unknown telemetry source",
	ErrDuplicateMetric:  "Derived metric already registered",
	ErrUnknownMode:      "Unknown mode",
	ErrOutOfRange:       "Value outside the bounds of the active mode",
	ErrUnknownParameter: "Parameter not governed by the active mode",
	ErrUnknownFlag:      "Unknown flag",
	ErrInvalidCommand:   "Invalid command",
	ErrUnknownAlert:     "Unknown or inactive alert",
	ErrInvalidRule:      "Invalid alert rule",
	ErrInitApp:          "Failed to initialize application",
	ErrMainLoop:         "Error in main loop",
	ErrOperationFailed:  "Operation failed",
	ErrTimeout:          "Operation timed out",
	ErrInitMetrics:      "Failed to initialize metrics",
	ErrCollectMetrics:   "Failed to collect metrics data",
	ErrCloseMetrics:     "Failed to close metrics connection",
	ErrPublish:          "Failed to publish state",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
