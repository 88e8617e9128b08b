package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the audit store.
//
// Driver values:
//   - "file": dependency-free JSON-lines backend
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// UpdateEntry records one accepted mutation of a running task: a signal
// value update or a flag flip. Keep it compact and schema-stable.
type UpdateEntry struct {
	At      time.Time `json:"at"`
	FrameID uint32    `json:"frame_id"`
	Frame   string    `json:"frame"`
	Action  string    `json:"action"` // update | fixed_rc | fixed_cs | enable
	Signal  string    `json:"signal,omitempty"`
	Value   uint64    `json:"value,omitempty"`
	Flag    bool      `json:"flag,omitempty"`
	Source  string    `json:"source,omitempty"`
}
