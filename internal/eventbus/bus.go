// Package eventbus is a small in-memory fanout used to decouple the
// transmit scheduler from observers (report service, tests).
//
// Contract:
//   - Publish never blocks.
//   - Subscribers use buffered channels; slow subscribers drop events.
//
// Event payloads should stay small and JSON-serializable.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published by the bench.
const (
	TypeTaskAdded   = "task.added"
	TypeTaskRemoved = "task.removed"
	TypeTaskEnabled = "task.enabled"
	TypeOverrun     = "frame.overrun"
	TypeSendFailed  = "frame.send_failed"
	TypePowerOutput = "power.output"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// FrameEvent is the payload for per-frame events.
type FrameEvent struct {
	ID     uint32
	Name   string
	Tick   uint64
	Behind time.Duration // overruns: how late the tick fired
	Error  string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold the lock across sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking; a concurrently closed channel would panic on
		// send, so recover and move on.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
