// Package hclogger adapts a hashicorp go-hclog logger to mqttmux.Logger.
package hclogger

import (
	"io"
	"maps"
	"slices"

	"github.com/hashicorp/go-hclog"
	"github.com/vitalvas/mqttmux"
)

// Logger forwards mqttmux log calls to an hclog.Logger.
type Logger struct {
	logger hclog.Logger
}

var _ mqttmux.Logger = (*Logger)(nil)

// Wrap adapts an existing hclog logger.
func Wrap(logger hclog.Logger) *Logger {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Logger{logger: logger}
}

// New creates an hclog logger named name writing to w at level.
// JSON selects hclog's JSON output format.
func New(name string, w io.Writer, level mqttmux.LogLevel, json bool) *Logger {
	return Wrap(hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      toHCLevel(level),
		Output:     w,
		JSONFormat: json,
	}))
}

// Unwrap returns the underlying hclog logger.
func (l *Logger) Unwrap() hclog.Logger {
	return l.logger
}

func (l *Logger) Debug(msg string, fields mqttmux.LogFields) { l.logger.Debug(msg, args(fields)...) }
func (l *Logger) Info(msg string, fields mqttmux.LogFields)  { l.logger.Info(msg, args(fields)...) }
func (l *Logger) Warn(msg string, fields mqttmux.LogFields)  { l.logger.Warn(msg, args(fields)...) }
func (l *Logger) Error(msg string, fields mqttmux.LogFields) { l.logger.Error(msg, args(fields)...) }

// WithFields returns a logger that attaches fields to every line.
func (l *Logger) WithFields(fields mqttmux.LogFields) mqttmux.Logger {
	return &Logger{logger: l.logger.With(args(fields)...)}
}

// Level reports the hclog level as an mqttmux level.
func (l *Logger) Level() mqttmux.LogLevel {
	return fromHCLevel(l.logger.GetLevel())
}

// SetLevel changes the level of the underlying logger.
func (l *Logger) SetLevel(level mqttmux.LogLevel) {
	l.logger.SetLevel(toHCLevel(level))
}

// args flattens fields into hclog's alternating key/value form, sorted by
// key so output is stable.
func args(fields mqttmux.LogFields) []any {
	if len(fields) == 0 {
		return nil
	}

	out := make([]any, 0, len(fields)*2)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		out = append(out, k, fields[k])
	}
	return out
}

func toHCLevel(level mqttmux.LogLevel) hclog.Level {
	switch level {
	case mqttmux.LogLevelDebug:
		return hclog.Debug
	case mqttmux.LogLevelInfo:
		return hclog.Info
	case mqttmux.LogLevelWarn:
		return hclog.Warn
	case mqttmux.LogLevelError:
		return hclog.Error
	default:
		return hclog.Off
	}
}

func fromHCLevel(level hclog.Level) mqttmux.LogLevel {
	switch level {
	case hclog.Trace, hclog.Debug:
		return mqttmux.LogLevelDebug
	case hclog.Info, hclog.NoLevel:
		return mqttmux.LogLevelInfo
	case hclog.Warn:
		return mqttmux.LogLevelWarn
	case hclog.Error:
		return mqttmux.LogLevelError
	default:
		return mqttmux.LogLevelNone
	}
}
