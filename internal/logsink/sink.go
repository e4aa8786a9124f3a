// Package logsink defines the logging interface the agent's control loop,
// loader supervisor and transport layers write through, and an adapter onto
// log/slog.
package logsink

import (
	"fmt"
	"log/slog"
)

// Severity orders log messages from least to most urgent.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

var severityNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// Sink receives structured log lines. Implementations must be safe for
// concurrent use: the loader supervisor's stdout/stderr reader goroutines
// and the main tick loop all write through the same Sink.
type Sink interface {
	Log(severity Severity, message string, args ...any)
}

// SlogSink adapts Sink onto a *slog.Logger, tagging every record with a
// "component" attribute so loader-stdio lines and agent control-loop lines
// can be told apart downstream.
type SlogSink struct {
	logger    *slog.Logger
	component string
}

// NewSlogSink returns a SlogSink that labels every record with component.
func NewSlogSink(logger *slog.Logger, component string) *SlogSink {
	return &SlogSink{logger: logger, component: component}
}

func (s *SlogSink) Log(severity Severity, message string, args ...any) {
	args = append(args, slog.String("component", s.component))
	switch severity {
	case SeverityDebug:
		s.logger.Debug(message, args...)
	case SeverityWarn:
		s.logger.Warn(message, args...)
	case SeverityError:
		s.logger.Error(message, args...)
	default:
		s.logger.Info(message, args...)
	}
}
