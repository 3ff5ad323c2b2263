package syncer

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// RunLog collects the messages of one integration run. It is persisted once, when the
// run ends; every entry is mirrored to the process logger as it is written.
type RunLog struct {
	mu      sync.Mutex
	entries []LogEntry
	logger  *zap.Logger
	now     func() time.Time
}

func NewRunLog(logger *zap.Logger) *RunLog {
	return &RunLog{logger: logger, now: time.Now}
}

func (l *RunLog) Info(format string, args ...interface{}) {
	l.add(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *RunLog) Warn(format string, args ...interface{}) {
	l.add(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *RunLog) Error(format string, args ...interface{}) {
	l.add(LevelError, fmt.Sprintf(format, args...))
}

func (l *RunLog) add(level Level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, LogEntry{Time: l.now().UTC(), Level: level, Message: msg})
	l.mu.Unlock()

	switch level {
	case LevelError:
		l.logger.Error(msg)
	case LevelWarn:
		l.logger.Warn(msg)
	default:
		l.logger.Info(msg)
	}
}

func (l *RunLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Count returns how many entries were written at level.
func (l *RunLog) Count(level Level) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// JSON encodes the entries as stored on the run row.
func (l *RunLog) JSON() string {
	entries := l.Entries()
	if entries == nil {
		entries = []LogEntry{}
	}
	raw, _ := json.Marshal(entries)
	return string(raw)
}
