package txsched

import (
	"fmt"
	"sort"

	"canbench/internal/eventbus"
	"canbench/internal/storage"
	"canbench/internal/transport"
	logx "canbench/pkg/logx"
)

// AddPeriodic registers a frame for cyclic transmission using the layout's
// nominal period and codec, starting immediately. It returns the frame
// identifier, which is also the task handle.
func (s *Service) AddPeriodic(name string, values map[string]uint64) (uint32, error) {
	return s.AddPeriodicOpt(name, values, AddOptions{})
}

// AddPeriodicOpt is AddPeriodic with overrides.
func (s *Service) AddPeriodicOpt(name string, values map[string]uint64, opt AddOptions) (uint32, error) {
	lay, err := s.frames.Lookup(name)
	if err != nil {
		return 0, err
	}
	period := lay.Period
	if opt.Period > 0 {
		period = opt.Period
	}
	if period <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPeriod, name)
	}
	codec := lay.Codec
	if opt.Codec != nil {
		codec = *opt.Codec
		if err := codec.Validate(lay.Length); err != nil {
			return 0, err
		}
	}
	// Trial encode surfaces unknown signals and range errors at add time
	// instead of on the first tick.
	if _, err := s.frames.Encode(name, values); err != nil {
		return 0, err
	}

	vals := make(map[string]uint64, len(values))
	for k, v := range values {
		vals[k] = v
	}
	t := FrameTask{
		ID:      lay.ID,
		Name:    name,
		Length:  lay.Length,
		Period:  period,
		Codec:   codec,
		Values:  vals,
		Enabled: !opt.StartDisabled,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, ErrStopped
	}
	if _, dup := s.tasks[t.ID]; dup {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s (0x%X)", ErrDuplicateFrame, name, t.ID)
	}
	e := &taskEntry{task: t, done: make(chan struct{})}
	s.tasks[t.ID] = e
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(t.ID, e)

	s.log.Info("task added",
		logx.FrameID("frame", t.ID),
		logx.String("name", name),
		logx.Duration("period", period),
		logx.Bool("enabled", t.Enabled))
	s.publish(eventbus.TypeTaskAdded, eventbus.FrameEvent{ID: t.ID, Name: name})
	return t.ID, nil
}

// UpdateValues merges values into the task's signal map. Unknown signal
// names are skipped and returned; known signals still apply. Changes are
// picked up by the worker on its next tick.
func (s *Service) UpdateValues(id uint32, values map[string]uint64) ([]string, error) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: 0x%X", ErrFrameNotFound, id)
	}
	lay, err := s.frames.Lookup(e.task.Name)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	next := make(map[string]uint64, len(e.task.Values)+len(values))
	for k, v := range e.task.Values {
		next[k] = v
	}
	var unknown []string
	var applied []storage.UpdateEntry
	for k, v := range values {
		if _, ok := lay.Fields[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		next[k] = v
		applied = append(applied, storage.UpdateEntry{
			FrameID: id, Frame: e.task.Name, Action: "update", Signal: k, Value: v,
		})
	}
	e.task.Values = next
	name := e.task.Name
	s.mu.Unlock()

	sort.Strings(unknown)
	for _, a := range applied {
		s.audit(a)
	}
	if len(unknown) > 0 {
		s.log.Warn("ignoring unknown signals",
			logx.FrameID("frame", id),
			logx.String("name", name),
			logx.Any("signals", unknown))
	}
	return unknown, nil
}

// SetFixedCounter freezes or releases the task's rolling counter. While
// frozen the wire value follows the frame's counter policy.
func (s *Service) SetFixedCounter(id uint32, fixed bool) error {
	return s.setFlag(id, "fixed_rc", fixed, func(t *FrameTask) { t.FixedCounter = fixed })
}

// SetFixedChecksum freezes or releases the checksum byte.
func (s *Service) SetFixedChecksum(id uint32, fixed bool) error {
	return s.setFlag(id, "fixed_cs", fixed, func(t *FrameTask) { t.FixedChecksum = fixed })
}

// Enable pauses or resumes transmission. Resuming re-anchors the task's
// schedule at the moment the worker notices, so there is no burst of
// catch-up sends after a long pause.
func (s *Service) Enable(id uint32, enabled bool) error {
	if err := s.setFlag(id, "enable", enabled, func(t *FrameTask) { t.Enabled = enabled }); err != nil {
		return err
	}
	s.publish(eventbus.TypeTaskEnabled, eventbus.FrameEvent{ID: id})
	return nil
}

func (s *Service) setFlag(id uint32, action string, flag bool, apply func(*FrameTask)) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: 0x%X", ErrFrameNotFound, id)
	}
	apply(&e.task)
	name := e.task.Name
	s.mu.Unlock()

	s.log.Info("task flag changed",
		logx.FrameID("frame", id),
		logx.String("name", name),
		logx.String("flag", action),
		logx.Bool("value", flag))
	s.audit(storage.UpdateEntry{FrameID: id, Frame: name, Action: action, Flag: flag})
	return nil
}

// Done returns a channel closed when the task's worker exits. Grab it
// before Remove to await the worker's completion; Remove itself never
// blocks on the worker.
func (s *Service) Done(id uint32) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%X", ErrFrameNotFound, id)
	}
	return e.done, nil
}

// Remove unregisters the task. The worker notices on its next wakeup and
// exits; the last tick already in flight may still be sent.
func (s *Service) Remove(id uint32) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: 0x%X", ErrFrameNotFound, id)
	}
	delete(s.tasks, id)
	name := e.task.Name
	s.mu.Unlock()

	s.log.Info("task removed", logx.FrameID("frame", id), logx.String("name", name))
	s.publish(eventbus.TypeTaskRemoved, eventbus.FrameEvent{ID: id, Name: name})
	return nil
}

// RemoveAll unregisters every task but keeps the scheduler usable.
func (s *Service) RemoveAll() {
	s.mu.Lock()
	removed := make([]eventbus.FrameEvent, 0, len(s.tasks))
	for id, e := range s.tasks {
		removed = append(removed, eventbus.FrameEvent{ID: id, Name: e.task.Name})
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	for _, ev := range removed {
		s.publish(eventbus.TypeTaskRemoved, ev)
	}
	if len(removed) > 0 {
		s.log.Info("all tasks removed", logx.Int("count", len(removed)))
	}
}

// SendOnce transmits a single frame outside any periodic schedule. The
// payload gets a valid checksum and a counter seeded at zero and advanced
// once, the same first-tick values a periodic task would produce.
func (s *Service) SendOnce(name string, values map[string]uint64) error {
	lay, err := s.frames.Lookup(name)
	if err != nil {
		return err
	}
	payload, err := s.frames.Encode(name, values)
	if err != nil {
		return err
	}
	out, _, err := lay.Codec.Apply(payload, 0, lay.Codec.Counter != nil, lay.Codec.Checksum != nil)
	if err != nil {
		return err
	}
	if err := s.tx.Send(lay.ID, out, transport.Flags{}); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	s.log.Debug("one-shot frame sent", logx.FrameID("frame", lay.ID), logx.String("name", name))
	return nil
}
