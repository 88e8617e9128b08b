package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Transport TransportConfig `json:"transport"`
	Scheduler SchedulerConfig `json:"scheduler"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Report  *ReportConfig  `json:"report,omitempty"`
	Power   *PowerConfig   `json:"power,omitempty"`

	Frames []FrameConfig `json:"frames"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TransportConfig selects the bus backend.
//
// Example:
//
//	"transport": { "driver": "socketcan", "interface": "can0" }
//
// Driver "loopback" (or empty) keeps frames in memory for dry runs.
type TransportConfig struct {
	Driver    string `json:"driver"`
	Interface string `json:"interface,omitempty"`
}

// SchedulerConfig exposes the transmit-loop timing tunables. All fields
// are optional; zero values take the stock bench numbers.
type SchedulerConfig struct {
	CompensationFactor float64  `json:"compensation_factor,omitempty"`
	MaxCompensation    Duration `json:"max_compensation,omitempty"`
	MinSleep           Duration `json:"min_sleep,omitempty"`
	DisabledPoll       Duration `json:"disabled_poll,omitempty"`
	HistoryLen         int      `json:"history_len,omitempty"`
}

type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"`
}

type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type PowerConfig struct {
	Enabled  bool     `json:"enabled"`
	Device   string   `json:"device"`
	SlaveID  int      `json:"slave_id"`
	BaudRate int      `json:"baud_rate,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"`

	// Setpoints applied at startup when present.
	Voltage float64 `json:"voltage,omitempty"`
	Current float64 `json:"current,omitempty"`
	// ManageOutput switches the output on at start and off at shutdown.
	ManageOutput bool `json:"manage_output,omitempty"`
}

// FrameConfig defines one frame of the bench's transmit table.
type FrameConfig struct {
	Name   string  `json:"name"`
	ID     FrameID `json:"id"`
	Length int     `json:"length"`
	// CycleTime empty means the frame is sent once at startup instead of
	// periodically.
	CycleTime     Duration                `json:"cycle_time,omitempty"`
	CounterPolicy string                  `json:"counter_policy,omitempty"`
	Signals       map[string]SignalConfig `json:"signals"`
}

// SignalConfig places one signal. Default accepts a number, or the
// sentinels "RC" / "CS" marking the signal as the frame's rolling counter
// or checksum.
type SignalConfig struct {
	Byte    int            `json:"byte"`
	Bit     int            `json:"bit"`
	Len     int            `json:"len"`
	Default *SignalDefault `json:"default,omitempty"`
}

const (
	RoleCounter  = "RC"
	RoleChecksum = "CS"
)

type SignalDefault struct {
	// Role is RoleCounter, RoleChecksum, or empty for a plain value.
	Role  string
	Value uint64
}

func (d *SignalDefault) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case RoleCounter:
			*d = SignalDefault{Role: RoleCounter}
		case RoleChecksum:
			*d = SignalDefault{Role: RoleChecksum}
		default:
			return fmt.Errorf("signal default %q: want a number, \"RC\", or \"CS\"", s)
		}
		return nil
	}
	var v uint64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("signal default %s: want a number, \"RC\", or \"CS\"", string(b))
	}
	*d = SignalDefault{Value: v}
	return nil
}

func (d SignalDefault) MarshalJSON() ([]byte, error) {
	if d.Role != "" {
		return json.Marshal(d.Role)
	}
	return json.Marshal(d.Value)
}

// FrameID is a CAN identifier that unmarshals from a number or a hex
// string like "0x341".
type FrameID uint32

func (f *FrameID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
		if err != nil {
			return fmt.Errorf("invalid frame id %q: %w", s, err)
		}
		*f = FrameID(v)
		return nil
	}
	var v uint32
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("invalid frame id %s", string(b))
	}
	*f = FrameID(v)
	return nil
}

func (f FrameID) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + strconv.FormatUint(uint64(f), 16))
}
