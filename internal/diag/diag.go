// Package diag centralizes log-level control and error reporting for the
// lifecycle components. Pure observability: nothing here affects control
// flow.
package diag

import (
	"fmt"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// Level is the diagnostics verbosity, strictly ordered: setting a level
// suppresses every event of lower severity than its position.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
	LevelVerbose
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelVerbose:
		return "verbose"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a level name to a Level
func ParseLevel(s string) (Level, error) {
	switch s {
	case "none":
		return LevelNone, nil
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "verbose", "trace":
		return LevelVerbose, nil
	default:
		return LevelNone, fmt.Errorf("invalid diagnostics level: %s (must be none, error, warning, info, debug, or verbose)", s)
	}
}

// logrusLevel maps a diagnostics level onto the logrus scale. None maps to
// PanicLevel: the coordinator never panics through the logger, so nothing
// gets through.
func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelNone:
		return logrus.PanicLevel
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarning:
		return logrus.WarnLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// Event is one reported diagnostics record
type Event struct {
	Level     Level
	Component string
	Device    string
	Message   string
	Err       error
	Fields    map[string]interface{}
	Ts        time.Time
}

// DefaultRecentEvents is the retained-event buffer capacity
const DefaultRecentEvents uint32 = 256

// Sink routes events to a logrus logger and retains the most recent ones
// in a lock-free overwrite-oldest buffer.
type Sink struct {
	logger *logrus.Logger
	recent mpmc.RichOverlappedRingBuffer[Event]
}

// NewSink creates a sink over the given logger. A nil logger gets a fresh
// one at LevelNone.
func NewSink(logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Sink{
		logger: logger,
		recent: mpmc.NewOverlappedRingBuffer[Event](DefaultRecentEvents),
	}
}

// Logger returns the underlying logrus logger for components that log
// directly.
func (s *Sink) Logger() *logrus.Logger {
	return s.logger
}

// SetLevel adjusts the verbosity. Events below the level are suppressed
// from the log output; they are still retained in the recent buffer.
func (s *Sink) SetLevel(l Level) {
	s.logger.SetLevel(l.logrusLevel())
}

// Report logs the event and retains it
func (s *Sink) Report(ev Event) {
	if ev.Ts.IsZero() {
		ev.Ts = time.Now()
	}

	if _, err := s.recent.EnqueueM(ev); err != nil {
		s.logger.WithError(err).Debug("Diagnostics buffer enqueue failed")
	}

	entry := s.logger.WithField("component", ev.Component)
	if ev.Device != "" {
		entry = entry.WithField("device", ev.Device)
	}
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}
	if len(ev.Fields) > 0 {
		entry = entry.WithFields(ev.Fields)
	}

	switch ev.Level {
	case LevelError:
		entry.Error(ev.Message)
	case LevelWarning:
		entry.Warn(ev.Message)
	case LevelInfo:
		entry.Info(ev.Message)
	case LevelDebug:
		entry.Debug(ev.Message)
	case LevelVerbose:
		entry.Trace(ev.Message)
	}
}

// Recent drains and returns the retained events, oldest first
func (s *Sink) Recent() []Event {
	var events []Event
	for !s.recent.IsEmpty() {
		ev, err := s.recent.Dequeue()
		if err != nil {
			break
		}
		events = append(events, ev)
	}
	return events
}
