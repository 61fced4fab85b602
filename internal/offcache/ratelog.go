package offcache

import (
	"log"
	"sync"
	"time"
)

// rateLimitedLogger drops repeats of a noisy message class, keeping at
// most one line per interval. Cache write failures during an origin
// outage would otherwise flood the log.
type rateLimitedLogger struct {
	prefix   string
	interval time.Duration

	mu     sync.Mutex
	lastAt time.Time
}

func newRateLimitedLogger(prefix string, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{prefix: prefix, interval: interval}
}

func (l *rateLimitedLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		return
	}
	l.lastAt = now
	log.Printf(l.prefix+": "+format, args...)
}
