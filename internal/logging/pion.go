package logging

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LoggerFactory creates pion leveled loggers that write to slog.
type LoggerFactory struct {
	Logger *slog.Logger
}

// NewLogger implements logging.LoggerFactory.
func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = slog.Default()
	}
	return &pionLogger{sl: l.With("scope", scope)}
}

type pionLogger struct {
	sl *slog.Logger
}

// Trace implements logging.LeveledLogger.
func (p *pionLogger) Trace(msg string) {
	p.sl.Debug("pion-trace-log", "message", msg)
}

// Tracef implements logging.LeveledLogger.
func (p *pionLogger) Tracef(format string, args ...any) {
	p.sl.Debug("pion-trace-log", "message", fmt.Sprintf(format, args...))
}

// Debug implements logging.LeveledLogger.
func (p *pionLogger) Debug(msg string) {
	p.sl.Debug("pion-debug-log", "message", msg)
}

// Debugf implements logging.LeveledLogger.
func (p *pionLogger) Debugf(format string, args ...any) {
	p.sl.Debug("pion-debug-log", "message", fmt.Sprintf(format, args...))
}

// Info implements logging.LeveledLogger.
func (p *pionLogger) Info(msg string) {
	p.sl.Info("pion-info-log", "message", msg)
}

// Infof implements logging.LeveledLogger.
func (p *pionLogger) Infof(format string, args ...any) {
	p.sl.Info("pion-info-log", "message", fmt.Sprintf(format, args...))
}

// Warn implements logging.LeveledLogger.
func (p *pionLogger) Warn(msg string) {
	p.sl.Warn("pion-warn-log", "message", msg)
}

// Warnf implements logging.LeveledLogger.
func (p *pionLogger) Warnf(format string, args ...any) {
	p.sl.Warn("pion-warn-log", "message", fmt.Sprintf(format, args...))
}

// Error implements logging.LeveledLogger.
func (p *pionLogger) Error(msg string) {
	p.sl.Error("pion-error-log", "message", msg)
}

// Errorf implements logging.LeveledLogger.
func (p *pionLogger) Errorf(format string, args ...any) {
	p.sl.Error("pion-error-log", "message", fmt.Sprintf(format, args...))
}
