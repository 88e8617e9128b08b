package txsched

import (
	"runtime"
	"time"

	"canbench/internal/eventbus"
	"canbench/internal/transport"
	logx "canbench/pkg/logx"
)

// run is the per-task transmit loop. Tick N is due at anchor + N*period;
// the deadline is always derived from the anchor, so one late tick does
// not shift every tick after it.
func (s *Service) run(id uint32, e *taskEntry) {
	defer s.wg.Done()
	defer close(e.done)

	var (
		anchor   = time.Now()
		tick     uint64
		hist     = make([]time.Duration, 0, s.cfg.HistoryLen)
		histIdx  int
		reanchor bool
	)

	for {
		s.mu.Lock()
		if cur, ok := s.tasks[id]; !ok || cur != e {
			s.mu.Unlock()
			return
		}
		t := e.task
		s.mu.Unlock()

		if !t.Enabled {
			time.Sleep(s.cfg.DisabledPoll)
			// Restart the schedule when re-enabled instead of racing
			// through every tick missed while paused.
			reanchor = true
			continue
		}
		if reanchor {
			anchor = time.Now()
			tick = 0
			reanchor = false
		}

		execStart := time.Now()
		payload, newRC, tickErr := s.buildTick(t)
		if tickErr == nil {
			// Commit the advanced counter before the send so a snapshot
			// taken mid-send already sees the value on the wire.
			s.mu.Lock()
			if cur, ok := s.tasks[id]; ok && cur == e {
				e.task.RollingCount = newRC
			}
			s.mu.Unlock()
			tickErr = s.tx.Send(t.ID, payload, transport.Flags{})
		}
		sendErr := tickErr
		exec := time.Since(execStart)

		if len(hist) < s.cfg.HistoryLen {
			hist = append(hist, exec)
		} else {
			hist[histIdx] = exec
			histIdx = (histIdx + 1) % s.cfg.HistoryLen
		}
		var sum time.Duration
		for _, d := range hist {
			sum += d
		}
		mean := sum / time.Duration(len(hist))
		comp := time.Duration(float64(mean) * s.cfg.CompensationFactor)
		if comp > s.cfg.MaxCompensation {
			comp = s.cfg.MaxCompensation
		}

		tick++
		deadline := anchor.Add(time.Duration(tick) * t.Period)
		wait := time.Until(deadline)
		overrun := wait <= 0

		s.mu.Lock()
		if cur, ok := s.tasks[id]; !ok || cur != e {
			s.mu.Unlock()
			return
		}
		e.stats.AvgExec = mean
		if sendErr != nil {
			e.stats.Errors++
			e.stats.LastError = sendErr.Error()
		} else {
			e.stats.Sent++
			e.stats.LastSent = execStart
		}
		if overrun {
			e.stats.Overruns++
		}
		s.mu.Unlock()

		if sendErr != nil {
			s.sendLog.Warn("frame send failed",
				logx.FrameID("frame", t.ID),
				logx.String("name", t.Name),
				logx.Uint64("tick", tick-1),
				logx.Err(sendErr))
			s.publish(eventbus.TypeSendFailed, eventbus.FrameEvent{
				ID: t.ID, Name: t.Name, Tick: tick - 1, Error: sendErr.Error(),
			})
		}

		switch {
		case overrun:
			behind := -wait
			s.overrunLog.Warn("tick overran period",
				logx.FrameID("frame", t.ID),
				logx.String("name", t.Name),
				logx.Uint64("tick", tick),
				logx.Duration("behind", behind),
				logx.Duration("exec", exec))
			s.publish(eventbus.TypeOverrun, eventbus.FrameEvent{
				ID: t.ID, Name: t.Name, Tick: tick, Behind: behind,
			})
			// No sleep; the next tick's deadline still counts from the
			// anchor, so the schedule recovers instead of drifting.
		case wait-comp > s.cfg.MinSleep:
			time.Sleep(wait - comp)
			spinUntil(deadline)
		default:
			spinUntil(deadline)
		}
	}
}

// buildTick encodes the payload and stamps the counter and checksum. The
// counter advances even when the transmit that follows fails, matching
// what a receiver would expect after the bus recovers.
func (s *Service) buildTick(t FrameTask) ([]byte, uint8, error) {
	payload, err := s.frames.Encode(t.Name, t.Values)
	if err != nil {
		return nil, t.RollingCount, err
	}
	return t.Codec.Apply(payload, t.RollingCount, !t.FixedCounter, !t.FixedChecksum)
}

// spinUntil burns the sub-millisecond remainder of a tick. time.Sleep at
// this scale routinely overshoots by more than the bench's jitter budget.
func spinUntil(deadline time.Time) {
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}
