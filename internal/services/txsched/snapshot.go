package txsched

import (
	"fmt"
	"sort"
	"time"
)

// TaskSnapshot is a point-in-time copy of one task's registry record.
type TaskSnapshot struct {
	ID     uint32
	Name   string
	Period time.Duration

	Enabled       bool
	FixedCounter  bool
	FixedChecksum bool
	RollingCount  uint8

	Values map[string]uint64
	Stats  TaskStats
}

type Snapshot struct {
	Stopped bool
	Tasks   []TaskSnapshot
}

// Snapshot copies the whole registry, sorted by frame identifier.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Stopped: s.stopped, Tasks: make([]TaskSnapshot, 0, len(s.tasks))}
	for _, e := range s.tasks {
		snap.Tasks = append(snap.Tasks, snapshotEntry(e))
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })
	return snap
}

// Task returns the snapshot of a single task.
func (s *Service) Task(id uint32) (TaskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return TaskSnapshot{}, fmt.Errorf("%w: 0x%X", ErrFrameNotFound, id)
	}
	return snapshotEntry(e), nil
}

// Count reports the number of registered tasks.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func snapshotEntry(e *taskEntry) TaskSnapshot {
	vals := make(map[string]uint64, len(e.task.Values))
	for k, v := range e.task.Values {
		vals[k] = v
	}
	return TaskSnapshot{
		ID:            e.task.ID,
		Name:          e.task.Name,
		Period:        e.task.Period,
		Enabled:       e.task.Enabled,
		FixedCounter:  e.task.FixedCounter,
		FixedChecksum: e.task.FixedChecksum,
		RollingCount:  e.task.RollingCount,
		Values:        vals,
		Stats:         e.stats,
	}
}
