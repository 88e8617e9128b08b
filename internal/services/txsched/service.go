package txsched

import (
	"context"
	"sync"
	"time"

	"canbench/internal/eventbus"
	"canbench/internal/layout"
	"canbench/internal/storage"
	"canbench/internal/transport"
	logx "canbench/pkg/logx"
)

type Service struct {
	cfg Timing
	log logx.Logger

	frames layout.Provider
	tx     transport.Transport
	bus    eventbus.Bus
	store  storage.Store // nil: audit log disabled

	mu      sync.Mutex
	tasks   map[uint32]*taskEntry
	stopped bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	// Hot-path warnings are rate limited so a saturated bus or a stuck
	// interface cannot flood the sinks.
	overrunLog *logx.Throttle
	sendLog    *logx.Throttle
}

// New builds the scheduler. bus and store may be nil.
func New(cfg Timing, frames layout.Provider, tx transport.Transport, bus eventbus.Bus, store storage.Store, log logx.Logger) *Service {
	log = log.With(logx.String("svc", "txsched"))
	return &Service{
		cfg:        cfg.withDefaults(),
		log:        log,
		frames:     frames,
		tx:         tx,
		bus:        bus,
		store:      store,
		tasks:      map[uint32]*taskEntry{},
		overrunLog: logx.NewThrottle(log, 2),
		sendLog:    logx.NewThrottle(log, 2),
	}
}

// Shutdown removes every task, waits for the workers to drain (bounded by
// ctx), and closes the transport. It is idempotent; calls after the first
// return the first close result.
func (s *Service) Shutdown(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	s.stopped = true
	ids := make([]uint32, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	for _, id := range ids {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.publish(eventbus.TypeTaskRemoved, eventbus.FrameEvent{ID: id})
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.log.Warn("shutdown abandoned workers", logx.Int("tasks", len(ids)), logx.Err(ctx.Err()))
		return ctx.Err()
	}

	s.closeOnce.Do(func() {
		if s.tx != nil {
			s.closeErr = s.tx.Close()
		}
	})
	s.log.Info("scheduler stopped", logx.Int("tasks", len(ids)), logx.Duration("took", time.Since(start)))
	return s.closeErr
}

func (s *Service) publish(typ string, data eventbus.FrameEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// audit appends one entry to the update log; failures are logged, never
// propagated into the control path.
func (s *Service) audit(e storage.UpdateEntry) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.AppendUpdate(ctx, e); err != nil {
		s.log.Warn("update log append failed", logx.FrameID("frame", e.FrameID), logx.Err(err))
	}
}
