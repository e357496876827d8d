package finanzgw

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// rateLimitedLogger drops messages arriving within interval of the last one
// that was written. The number of dropped messages is reported with the next
// one that gets through.
type rateLimitedLogger struct {
	log *log.Logger

	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
	dropped  int
}

func newRateLimitedLogger(l *log.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{log: l, interval: interval}
}

func (l *rateLimitedLogger) Warn(msg string, keyvals ...any) {
	l.mu.Lock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.dropped++
		l.mu.Unlock()
		return
	}
	l.lastAt = now
	dropped := l.dropped
	l.dropped = 0
	l.mu.Unlock()

	if dropped > 0 {
		keyvals = append(keyvals, "suppressed", dropped)
	}
	l.log.Warn(msg, keyvals...)
}
