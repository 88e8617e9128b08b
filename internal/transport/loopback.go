package transport

import (
	"errors"
	"sync"
	"time"
)

// SentFrame is one recorded transmission.
type SentFrame struct {
	At    time.Time
	ID    uint32
	Data  []byte
	Flags Flags
}

// Loopback records every send in memory. It backs dry runs (no bus attached)
// and the scheduler tests.
type Loopback struct {
	mu     sync.Mutex
	closed bool
	frames []SentFrame

	// FailNext, when > 0, makes that many subsequent sends fail.
	failNext int
}

func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) Send(id uint32, data []byte, flags Flags) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.failNext > 0 {
		l.failNext--
		return errInjected
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	l.frames = append(l.frames, SentFrame{At: time.Now(), ID: id, Data: cp, Flags: flags})
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Frames returns a copy of everything sent so far.
func (l *Loopback) Frames() []SentFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SentFrame, len(l.frames))
	copy(out, l.frames)
	return out
}

// FramesFor filters recorded sends by identifier.
func (l *Loopback) FramesFor(id uint32) []SentFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []SentFrame
	for _, f := range l.frames {
		if f.ID == id {
			out = append(out, f)
		}
	}
	return out
}

// Count returns the number of sends for id.
func (l *Loopback) Count(id uint32) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, f := range l.frames {
		if f.ID == id {
			n++
		}
	}
	return n
}

// FailNext makes the next n sends return an error.
func (l *Loopback) FailNext(n int) {
	l.mu.Lock()
	l.failNext = n
	l.mu.Unlock()
}

var errInjected = errors.New("injected send failure")
