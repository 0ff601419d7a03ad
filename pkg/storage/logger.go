package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// Log levels understood by Logger implementations.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Logger receives structured diagnostics from storage engines and from the
// graph layer's background work.
//
// This is intentionally minimal to avoid coupling storage to a specific logging library.
// Implementations should treat fields as a stable machine-readable contract.
type Logger interface {
	Log(level string, msg string, fields map[string]any)
}

// NewLogger returns a Logger that prints one JSON object per line through the
// standard library logger, prefixed with "[component]".
func NewLogger(component string) Logger {
	return defaultLogger{component: component}
}

type defaultLogger struct {
	component string
}

func (l defaultLogger) Log(level string, msg string, fields map[string]any) {
	// Best-effort structured printing using stdlib log.
	payload := map[string]any{
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[%s] level=%s msg=%s fields=%v", l.component, level, msg, fields)
		return
	}
	log.Printf("[%s] %s", l.component, string(b))
}

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// WithMinLevel returns a Logger that drops messages below level. Level names
// are case-insensitive; an unknown level keeps everything.
func WithMinLevel(l Logger, level string) Logger {
	floor, ok := levelRank[strings.ToLower(level)]
	if !ok || floor == 0 {
		return l
	}
	return minLevelLogger{next: l, floor: floor}
}

type minLevelLogger struct {
	next  Logger
	floor int
}

func (l minLevelLogger) Log(level string, msg string, fields map[string]any) {
	if rank, ok := levelRank[level]; ok && rank < l.floor {
		return
	}
	l.next.Log(level, msg, fields)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Log(string, string, map[string]any) {}

// badgerLogger bridges BadgerDB's printf-style logger onto a Logger.
// Debug and info chatter from Badger is dropped.
type badgerLogger struct {
	logger Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.logger.Log(LevelError, fmt.Sprintf(format, args...), map[string]any{"source": "badger"})
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.logger.Log(LevelWarn, fmt.Sprintf(format, args...), map[string]any{"source": "badger"})
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
