package txsched

import (
	"context"
	"errors"
	"testing"
	"time"

	"canbench/internal/eventbus"
	"canbench/internal/frame"
	"canbench/internal/layout"
	"canbench/internal/transport"
	logx "canbench/pkg/logx"
)

const (
	idStatusA = 0x341
	idStatusB = 0x1B9
	idEventC  = 0x200
)

func benchProvider(t *testing.T) *layout.StaticProvider {
	t.Helper()
	p, err := layout.NewStatic([]layout.Def{
		{
			Name:   "StatusA",
			ID:     idStatusA,
			Length: 8,
			Period: 10 * time.Millisecond,
			Fields: map[string]layout.Field{
				"AliveCounter": {Byte: 0, Bit: 7, Len: 4},
				"Mode":         {Byte: 1, Bit: 7, Len: 8},
				"Checksum":     {Byte: 7, Bit: 7, Len: 8},
			},
			Defaults:       map[string]uint64{"Mode": 2},
			CounterSignal:  "AliveCounter",
			ChecksumSignal: "Checksum",
		},
		{
			Name:   "StatusB",
			ID:     idStatusB,
			Length: 8,
			Period: 15 * time.Millisecond,
			Fields: map[string]layout.Field{
				"Speed": {Byte: 0, Bit: 7, Len: 16},
			},
		},
		{
			Name:   "EventC",
			ID:     idEventC,
			Length: 4,
			Fields: map[string]layout.Field{
				"Reason": {Byte: 0, Bit: 7, Len: 8},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	return p
}

func newBench(t *testing.T) (*Service, *transport.Loopback) {
	t.Helper()
	lb := transport.NewLoopback()
	s := New(Timing{DisabledPoll: 5 * time.Millisecond}, benchProvider(t), lb, eventbus.New(), nil, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, lb
}

func waitCount(t *testing.T, lb *transport.Loopback, id uint32, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lb.Count(id) >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames of 0x%X (have %d)", n, id, lb.Count(id))
}

func rcOf(f transport.SentFrame) uint8 { return f.Data[0] >> 4 }

func sumOf(data []byte, skip int) byte {
	var sum byte
	for i, b := range data {
		if i != skip {
			sum += b
		}
	}
	return sum
}

func TestPeriodicTransmit(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	id, err := s.AddPeriodic("StatusA", map[string]uint64{"Mode": 3})
	if err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	if id != idStatusA {
		t.Fatalf("id = 0x%X, want 0x%X", id, idStatusA)
	}
	waitCount(t, lb, idStatusA, 4)

	frames := lb.FramesFor(idStatusA)
	for i, f := range frames {
		if len(f.Data) != 8 {
			t.Fatalf("frame %d: %d bytes", i, len(f.Data))
		}
		if f.Data[1] != 3 {
			t.Fatalf("frame %d: Mode = %d, want 3", i, f.Data[1])
		}
		if got, want := f.Data[7], sumOf(f.Data, 7); got != want {
			t.Fatalf("frame %d: checksum 0x%02X, want 0x%02X", i, got, want)
		}
	}
	// Counter starts at 1 on the first tick and steps by one.
	if rcOf(frames[0]) != 1 {
		t.Fatalf("first rc = %d, want 1", rcOf(frames[0]))
	}
	for i := 1; i < len(frames); i++ {
		want := (rcOf(frames[i-1]) + 1) & 0xF
		if rcOf(frames[i]) != want {
			t.Fatalf("frame %d: rc = %d, want %d", i, rcOf(frames[i]), want)
		}
	}
}

func TestAddRejections(t *testing.T) {
	t.Parallel()
	s, _ := newBench(t)

	if _, err := s.AddPeriodic("StatusA", nil); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := s.AddPeriodic("StatusA", nil); !errors.Is(err, ErrDuplicateFrame) {
		t.Fatalf("duplicate add err = %v, want ErrDuplicateFrame", err)
	}
	if _, err := s.AddPeriodic("NoSuchFrame", nil); !errors.Is(err, layout.ErrUnknownFrame) {
		t.Fatalf("unknown frame err = %v", err)
	}
	if _, err := s.AddPeriodic("EventC", nil); !errors.Is(err, ErrNoPeriod) {
		t.Fatalf("no-period err = %v, want ErrNoPeriod", err)
	}
	if _, err := s.AddPeriodic("StatusB", map[string]uint64{"Bogus": 1}); !errors.Is(err, layout.ErrUnknownSignal) {
		t.Fatalf("bad signal err = %v, want ErrUnknownSignal", err)
	}
}

func TestPeriodOverride(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	if _, err := s.AddPeriodicOpt("EventC", nil, AddOptions{Period: 10 * time.Millisecond}); err != nil {
		t.Fatalf("AddPeriodicOpt: %v", err)
	}
	waitCount(t, lb, idEventC, 2)
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	id, err := s.AddPeriodic("StatusB", map[string]uint64{"Speed": 1200})
	if err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	waitCount(t, lb, idStatusB, 2)

	done, err := s.Done(id)
	if err != nil {
		t.Fatalf("Done: %v", err)
	}
	if err := s.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(id); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("second Remove err = %v, want ErrFrameNotFound", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never exited after Remove")
	}

	before := lb.Count(idStatusB)
	time.Sleep(60 * time.Millisecond)
	if after := lb.Count(idStatusB); after != before {
		t.Fatalf("sends continued after worker exit: %d -> %d", before, after)
	}
	if s.Count() != 0 {
		t.Fatalf("Count = %d after Remove", s.Count())
	}
	if _, err := s.Done(id); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("Done after Remove err = %v", err)
	}
}

func TestFixedCounterHold(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	id, err := s.AddPeriodic("StatusA", nil)
	if err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	waitCount(t, lb, idStatusA, 3)

	if err := s.SetFixedCounter(id, true); err != nil {
		t.Fatalf("SetFixedCounter: %v", err)
	}
	time.Sleep(25 * time.Millisecond) // let in-flight ticks settle
	mark := lb.Count(idStatusA)
	waitCount(t, lb, idStatusA, mark+3)

	frames := lb.FramesFor(idStatusA)[mark:]
	held := rcOf(frames[0])
	for i, f := range frames {
		if rcOf(f) != held {
			t.Fatalf("frame %d: rc = %d, want held %d", i, rcOf(f), held)
		}
		// The checksum keeps tracking the payload while the counter holds.
		if got, want := f.Data[7], sumOf(f.Data, 7); got != want {
			t.Fatalf("frame %d: checksum 0x%02X, want 0x%02X", i, got, want)
		}
	}

	if err := s.SetFixedCounter(id, false); err != nil {
		t.Fatalf("release: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	mark = lb.Count(idStatusA)
	waitCount(t, lb, idStatusA, mark+2)
	frames = lb.FramesFor(idStatusA)[mark:]
	if rcOf(frames[1]) == rcOf(frames[0]) {
		t.Fatal("counter did not resume after release")
	}
	if want := (rcOf(frames[0]) + 1) & 0xF; rcOf(frames[1]) != want {
		t.Fatalf("resumed rc = %d, want %d", rcOf(frames[1]), want)
	}
}

func TestEnableDisable(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	id, err := s.AddPeriodic("StatusA", nil)
	if err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	waitCount(t, lb, idStatusA, 2)

	if err := s.Enable(id, false); err != nil {
		t.Fatalf("Enable(false): %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	before := lb.Count(idStatusA)
	time.Sleep(60 * time.Millisecond)
	if after := lb.Count(idStatusA); after != before {
		t.Fatalf("sends continued while disabled: %d -> %d", before, after)
	}

	if err := s.Enable(id, true); err != nil {
		t.Fatalf("Enable(true): %v", err)
	}
	waitCount(t, lb, idStatusA, before+2)

	if err := s.Enable(id+1, true); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("Enable unknown err = %v", err)
	}
}

func TestUpdateValues(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	id, err := s.AddPeriodic("StatusA", map[string]uint64{"Mode": 1})
	if err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	waitCount(t, lb, idStatusA, 1)

	unknown, err := s.UpdateValues(id, map[string]uint64{"Mode": 5, "Bogus": 9})
	if err != nil {
		t.Fatalf("UpdateValues: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "Bogus" {
		t.Fatalf("unknown = %v, want [Bogus]", unknown)
	}

	// The new value must reach the wire within a couple of periods.
	deadline := time.Now().Add(2 * time.Second)
	for {
		frames := lb.FramesFor(idStatusA)
		if len(frames) > 0 && frames[len(frames)-1].Data[1] == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("updated Mode never transmitted")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := s.UpdateValues(0xDEAD, map[string]uint64{"Mode": 1}); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("UpdateValues unknown id err = %v", err)
	}
}

func TestSendOnce(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	if err := s.SendOnce("EventC", map[string]uint64{"Reason": 7}); err != nil {
		t.Fatalf("SendOnce: %v", err)
	}
	frames := lb.FramesFor(idEventC)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Data[0] != 7 {
		t.Fatalf("Reason = %d, want 7", frames[0].Data[0])
	}

	// Frames with a checksum get a valid one even outside a schedule.
	if err := s.SendOnce("StatusA", nil); err != nil {
		t.Fatalf("SendOnce StatusA: %v", err)
	}
	f := lb.FramesFor(idStatusA)[0]
	if got, want := f.Data[7], sumOf(f.Data, 7); got != want {
		t.Fatalf("checksum 0x%02X, want 0x%02X", got, want)
	}

	if err := s.SendOnce("NoSuchFrame", nil); !errors.Is(err, layout.ErrUnknownFrame) {
		t.Fatalf("unknown frame err = %v", err)
	}
}

func TestCodecOverride(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	// StatusB carries no codec in the table; attach one at add time.
	cdc := &frame.Codec{
		Counter: &frame.CounterField{Byte: 7, StartBit: 3, Len: 4},
	}
	if _, err := s.AddPeriodicOpt("StatusB", nil, AddOptions{Codec: cdc}); err != nil {
		t.Fatalf("AddPeriodicOpt: %v", err)
	}
	waitCount(t, lb, idStatusB, 3)

	frames := lb.FramesFor(idStatusB)
	for i := 1; i < 3; i++ {
		prev := frames[i-1].Data[7] & 0xF
		cur := frames[i].Data[7] & 0xF
		if cur != (prev+1)&0xF {
			t.Fatalf("frame %d: rc %d after %d", i, cur, prev)
		}
	}

	bad := &frame.Codec{Counter: &frame.CounterField{Byte: 99, StartBit: 7, Len: 4}}
	if _, err := s.AddPeriodicOpt("StatusA", nil, AddOptions{Codec: bad}); !errors.Is(err, frame.ErrInvalidCodecParams) {
		t.Fatalf("bad codec err = %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	id, err := s.AddPeriodic("StatusA", map[string]uint64{"Mode": 4})
	if err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	waitCount(t, lb, idStatusA, 2)

	snap := s.Snapshot()
	if len(snap.Tasks) != 1 || snap.Stopped {
		t.Fatalf("snapshot = %+v", snap)
	}
	ts := snap.Tasks[0]
	if ts.ID != id || ts.Name != "StatusA" || ts.Period != 10*time.Millisecond || !ts.Enabled {
		t.Fatalf("task snapshot = %+v", ts)
	}
	if ts.Values["Mode"] != 4 {
		t.Fatalf("Values = %v", ts.Values)
	}
	if ts.Stats.Sent == 0 {
		t.Fatal("Stats.Sent = 0 after observed sends")
	}

	// Mutating the copy must not leak into the registry.
	ts.Values["Mode"] = 99
	got, err := s.Task(id)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if got.Values["Mode"] != 4 {
		t.Fatalf("registry mutated through snapshot: %v", got.Values)
	}

	if _, err := s.Task(0xDEAD); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("Task unknown err = %v", err)
	}
}

func TestSendFailureCounted(t *testing.T) {
	t.Parallel()
	s, lb := newBench(t)

	lb.FailNext(2)
	id, err := s.AddPeriodic("StatusA", nil)
	if err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	waitCount(t, lb, idStatusA, 2)

	ts, err := s.Task(id)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if ts.Stats.Errors == 0 || ts.Stats.LastError == "" {
		t.Fatalf("stats = %+v, want recorded errors", ts.Stats)
	}
	if ts.Stats.Sent == 0 {
		t.Fatal("sends never recovered after injected failures")
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	lb := transport.NewLoopback()
	s := New(Timing{}, benchProvider(t), lb, nil, nil, logx.Nop())

	if _, err := s.AddPeriodic("StatusA", nil); err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	if _, err := s.AddPeriodic("StatusB", nil); err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	waitCount(t, lb, idStatusA, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("Count = %d after Shutdown", s.Count())
	}
	if _, err := s.AddPeriodic("StatusA", nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("add after Shutdown err = %v, want ErrStopped", err)
	}
	if err := lb.Send(1, nil, transport.Flags{}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("transport still open after Shutdown: %v", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
