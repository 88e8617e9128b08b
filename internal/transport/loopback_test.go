package transport

import (
	"errors"
	"testing"
)

func TestLoopbackRecords(t *testing.T) {
	t.Parallel()
	lb := NewLoopback()

	data := []byte{1, 2, 3}
	if err := lb.Send(0x341, data, Flags{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	data[0] = 0xFF // recorded frame must be a copy

	frames := lb.FramesFor(0x341)
	if len(frames) != 1 {
		t.Fatalf("frames = %d", len(frames))
	}
	if frames[0].Data[0] != 1 {
		t.Fatal("recorded frame aliases caller buffer")
	}
	if lb.Count(0x341) != 1 || lb.Count(0x1B9) != 0 {
		t.Fatalf("counts = %d/%d", lb.Count(0x341), lb.Count(0x1B9))
	}
}

func TestLoopbackFailureInjection(t *testing.T) {
	t.Parallel()
	lb := NewLoopback()
	lb.FailNext(2)

	if err := lb.Send(1, nil, Flags{}); err == nil {
		t.Fatal("first injected failure missing")
	}
	if err := lb.Send(1, nil, Flags{}); err == nil {
		t.Fatal("second injected failure missing")
	}
	if err := lb.Send(1, nil, Flags{}); err != nil {
		t.Fatalf("send after injection window: %v", err)
	}
	if lb.Count(1) != 1 {
		t.Fatalf("count = %d, want 1", lb.Count(1))
	}
}

func TestLoopbackClosed(t *testing.T) {
	t.Parallel()
	lb := NewLoopback()
	if err := lb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := lb.Send(1, nil, Flags{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
