// Package report periodically summarizes scheduler health: per-task send
// counters, overruns, and failures observed on the event bus since the
// last report. The summary goes to the structured log; nothing here is on
// the transmit hot path.
package report

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"canbench/internal/eventbus"
	"canbench/internal/services/txsched"
	logx "canbench/pkg/logx"
)

type Config struct {
	Enabled bool
	// Spec is a cron expression; seconds field optional. Defaults to
	// every minute.
	Spec     string
	Timezone string
}

// Source yields the registry state to report on. *txsched.Service
// satisfies it.
type Source interface {
	Snapshot() txsched.Snapshot
}

// Summary is one report interval rolled up.
type Summary struct {
	At    time.Time
	Tasks int

	Sent     uint64
	Errors   uint64
	Overruns uint64

	// Events counts bus events by type since the previous summary.
	Events map[string]uint64
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	source Source
	bus    eventbus.Bus

	parser cron.Parser
	c      *cron.Cron

	emu    sync.Mutex
	events map[string]uint64

	unsub   func()
	tallyWG sync.WaitGroup
}

func New(cfg Config, source Source, bus eventbus.Bus, log logx.Logger) *Service {
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = "@every 1m"
	}
	return &Service{
		log:    log.With(logx.String("svc", "report")),
		cfg:    cfg,
		source: source,
		bus:    bus,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		events: map[string]uint64{},
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("bad report timezone, using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	sched, err := s.parser.Parse(s.cfg.Spec)
	if err != nil {
		return err
	}

	if s.bus != nil {
		ch, unsub := s.bus.Subscribe(64)
		s.unsub = unsub
		s.tallyWG.Add(1)
		go func() {
			defer s.tallyWG.Done()
			for ev := range ch {
				s.emu.Lock()
				s.events[ev.Type]++
				s.emu.Unlock()
			}
		}()
	}

	s.c = cron.New(cron.WithLocation(loc))
	s.c.Schedule(sched, cron.FuncJob(func() { s.emit() }))
	s.c.Start()
	s.log.Info("report service started", logx.String("spec", s.cfg.Spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	unsub := s.unsub
	s.c = nil
	s.unsub = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if unsub != nil {
		unsub()
	}
	s.tallyWG.Wait()
	s.log.Info("report service stopped")
}

// ReportNow builds a summary immediately, outside the cron schedule, and
// resets the event tallies. It backs both the cron job and ad-hoc status
// queries.
func (s *Service) ReportNow() Summary {
	snap := s.source.Snapshot()

	sum := Summary{At: time.Now(), Tasks: len(snap.Tasks)}
	for _, t := range snap.Tasks {
		sum.Sent += t.Stats.Sent
		sum.Errors += t.Stats.Errors
		sum.Overruns += t.Stats.Overruns
	}

	s.emu.Lock()
	sum.Events = s.events
	s.events = map[string]uint64{}
	s.emu.Unlock()

	return sum
}

func (s *Service) emit() {
	sum := s.ReportNow()
	fields := []logx.Field{
		logx.Int("tasks", sum.Tasks),
		logx.Uint64("sent", sum.Sent),
		logx.Uint64("errors", sum.Errors),
		logx.Uint64("overruns", sum.Overruns),
	}
	for typ, n := range sum.Events {
		fields = append(fields, logx.Uint64("ev_"+typ, n))
	}
	s.log.Info("scheduler report", fields...)
}
