package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const benchConfig = `{
  "logging": {"level": "error", "console": false, "file": {"enabled": false, "path": ""}},
  "transport": {"driver": "loopback"},
  "scheduler": {},
  "frames": [
    {
      "name": "HEV_General_Status_1",
      "id": "0x341",
      "length": 8,
      "cycle_time": "10ms",
      "signals": {
        "AliveCounter": {"byte": 0, "bit": 7, "len": 4, "default": "RC"},
        "HandBrkSts":   {"byte": 1, "bit": 7, "len": 2, "default": 1},
        "Checksum":     {"byte": 7, "bit": 7, "len": 8, "default": "CS"}
      }
    },
    {
      "name": "PowerOn_Event",
      "id": "0x200",
      "length": 4,
      "signals": {
        "Reason": {"byte": 0, "bit": 7, "len": 8, "default": 3}
      }
    }
  ]
}`

func TestAppLifecycle(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bench.json")
	if err := os.WriteFile(path, []byte(benchConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The periodic frame must be registered; the event frame must not be.
	sched := a.Scheduler()
	if _, err := sched.Task(0x341); err != nil {
		t.Fatalf("periodic frame not registered: %v", err)
	}
	if _, err := sched.Task(0x200); err == nil {
		t.Fatal("one-shot frame registered as periodic")
	}

	// Wait until the worker has actually sent a few ticks.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := sched.Task(0x341)
		if err != nil {
			t.Fatalf("Task: %v", err)
		}
		if snap.Stats.Sent >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d ticks sent", snap.Stats.Sent)
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bench.json")
	if err := os.WriteFile(path, []byte(`{"logging":{},"transport":{"driver":"pigeon"},"scheduler":{},"frames":[]}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("bad transport driver accepted")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing config accepted")
	}
}
