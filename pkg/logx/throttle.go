package logx

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttle wraps a Logger with a token bucket so hot paths can log warnings
// without flooding the sinks. Messages beyond the budget are counted, and the
// next message that does pass carries a "suppressed" field with the count.
//
// Throttle is safe for concurrent use and is intended to be shared per
// concern (e.g. one per worker for overrun warnings).
type Throttle struct {
	log        Logger
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottle allows at most perSec messages per second with a burst of the
// same size. perSec <= 0 defaults to 1.
func NewThrottle(log Logger, perSec int) *Throttle {
	if perSec <= 0 {
		perSec = 1
	}
	return &Throttle{log: log, lim: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (t *Throttle) Warn(msg string, fields ...Field)  { t.emit(LevelWarn, msg, fields) }
func (t *Throttle) Error(msg string, fields ...Field) { t.emit(LevelError, msg, fields) }

func (t *Throttle) emit(level Level, msg string, fields []Field) {
	if t == nil {
		return
	}
	if !t.lim.Allow() {
		t.suppressed.Add(1)
		return
	}
	if n := t.suppressed.Swap(0); n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	switch level {
	case LevelError:
		t.log.Error(msg, fields...)
	default:
		t.log.Warn(msg, fields...)
	}
}

// Suppressed returns the number of messages dropped since the last emit.
func (t *Throttle) Suppressed() uint64 { return t.suppressed.Load() }
