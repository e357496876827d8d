package logging

import (
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// Flags holds the settings that affect logging behavior.
type Flags struct {
	Level string
	JSON  bool
}

// NewLogger creates a logger writing to w at InfoLevel with timestamps.
func NewLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           log.InfoLevel,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05.000",
	})
}

// Configure adjusts the logger. Unknown levels leave it at InfoLevel.
func Configure(l *log.Logger, f Flags) {
	l.SetLevel(ParseLevel(f.Level))
	if f.JSON {
		l.SetFormatter(log.JSONFormatter)
	}
}

func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
