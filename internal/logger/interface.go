package logger

import "codeberg.org/mutker/trophyctl/internal/errors"

// Logger is scoped to one subsystem. Every event it starts carries
// component=<name>, plus operation=<op> when narrowed with Operation.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	// ErrorWithCode starts an error event tagged with the domain error code
	ErrorWithCode(err errors.Error) *LogEvent
	Operation(name string) Logger
}
