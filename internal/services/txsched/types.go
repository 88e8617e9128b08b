package txsched

import (
	"time"

	"canbench/internal/frame"
)

// Timing tunes the per-worker scheduling loop. The zero value is usable;
// withDefaults fills in the bench's stock numbers.
type Timing struct {
	// CompensationFactor scales the mean measured execution time into an
	// early wakeup. 0.3 means "wake 30% of the mean early".
	CompensationFactor float64
	// MaxCompensation caps the early wakeup regardless of history.
	MaxCompensation time.Duration
	// MinSleep is the shortest interval handed to time.Sleep; anything
	// shorter is burned in a spin loop against the deadline.
	MinSleep time.Duration
	// DisabledPoll is how often a disabled task re-checks its enable flag.
	DisabledPoll time.Duration
	// HistoryLen is the number of execution-time samples kept per task.
	HistoryLen int
}

func (t Timing) withDefaults() Timing {
	if t.CompensationFactor <= 0 {
		t.CompensationFactor = 0.3
	}
	if t.MaxCompensation <= 0 {
		t.MaxCompensation = 100 * time.Millisecond
	}
	if t.MinSleep <= 0 {
		t.MinSleep = time.Millisecond
	}
	if t.DisabledPoll <= 0 {
		t.DisabledPoll = 100 * time.Millisecond
	}
	if t.HistoryLen <= 0 {
		t.HistoryLen = 5
	}
	return t
}

// AddOptions override what the layout table would dictate for one task.
type AddOptions struct {
	// Period overrides the frame's nominal period. Required when the
	// layout carries none.
	Period time.Duration
	// Codec overrides the layout's counter/checksum positions.
	Codec *frame.Codec
	// StartDisabled registers the task without transmitting; Enable
	// starts it on its own fresh schedule.
	StartDisabled bool
}

// FrameTask is the registry record for one periodic frame. Workers read it
// under the service lock at every tick, so mutators swap whole fields (the
// Values map is replaced, never mutated in place).
type FrameTask struct {
	ID     uint32
	Name   string
	Length int
	Period time.Duration
	Codec  frame.Codec

	Values map[string]uint64

	RollingCount  uint8
	FixedCounter  bool
	FixedChecksum bool
	Enabled       bool
}

// TaskStats are the per-task counters maintained by the worker.
type TaskStats struct {
	Sent     uint64
	Errors   uint64
	Overruns uint64

	LastSent  time.Time
	LastError string

	// AvgExec is the mean of the recent execution-time samples, the same
	// window the drift compensation uses.
	AvgExec time.Duration
}

type taskEntry struct {
	task  FrameTask
	stats TaskStats

	// done is closed by the worker on exit.
	done chan struct{}
}
