// Package power drives the bench's HSPY programmable supply over Modbus
// RTU. The supply powers the unit under test; the bench switches its
// output around test runs and polls the display registers for readback.
//
// Register map (all holding registers, big endian):
//
//	0  set voltage, volts * 100
//	1  set current limit, amps * 1000
//	2  display voltage, volts * 100
//	3  display current, amps * 1000
//	4  output switch, 1 on / 0 off
package power

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"canbench/internal/eventbus"
	logx "canbench/pkg/logx"
)

const (
	regVoltSet  = 0
	regCurrSet  = 1
	regVoltDisp = 2
	regCurrDisp = 3
	regOutput   = 4
)

var ErrNotOpen = errors.New("power supply not open")

type Config struct {
	Enabled bool
	// Device is the serial port, e.g. /dev/ttyUSB0.
	Device   string
	SlaveID  byte
	BaudRate int
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = 9600
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	return c
}

// regClient is the register-level slice of the modbus client the
// controller uses. Tests substitute an in-memory register file.
type regClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Readback is one poll of the display registers.
type Readback struct {
	Voltage  float64
	Current  float64
	OutputOn bool
}

// Controller owns the serial handle; all register traffic is serialized
// through its lock because RTU is strictly request/response.
type Controller struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	handler *modbus.RTUClientHandler
	client  regClient
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Controller {
	return &Controller{
		cfg: cfg.withDefaults(),
		log: log.With(logx.String("svc", "power")),
		bus: bus,
	}
}

// Open connects the serial port. The supply speaks 8N2 at 9600 baud.
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}
	if c.cfg.Device == "" {
		return errors.New("power device not configured")
	}

	h := modbus.NewRTUClientHandler(c.cfg.Device)
	h.BaudRate = c.cfg.BaudRate
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 2
	h.SlaveId = c.cfg.SlaveID
	h.Timeout = c.cfg.Timeout
	if err := h.Connect(); err != nil {
		return fmt.Errorf("open %s: %w", c.cfg.Device, err)
	}
	c.handler = h
	c.client = modbus.NewClient(h)
	c.log.Info("power supply connected",
		logx.String("device", c.cfg.Device),
		logx.Int("baud", c.cfg.BaudRate),
		logx.Int("slave", int(c.cfg.SlaveID)))
	return nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
	if c.handler == nil {
		return nil
	}
	err := c.handler.Close()
	c.handler = nil
	return err
}

// SetVoltage programs the output voltage.
func (c *Controller) SetVoltage(volts float64) error {
	reg, err := scale(volts, 100, "voltage")
	if err != nil {
		return err
	}
	if err := c.writeReg(regVoltSet, reg); err != nil {
		return err
	}
	c.log.Info("voltage set", logx.Float64("volts", volts))
	return nil
}

// SetCurrent programs the current limit.
func (c *Controller) SetCurrent(amps float64) error {
	reg, err := scale(amps, 1000, "current")
	if err != nil {
		return err
	}
	if err := c.writeReg(regCurrSet, reg); err != nil {
		return err
	}
	c.log.Info("current limit set", logx.Float64("amps", amps))
	return nil
}

// Output switches the output relay.
func (c *Controller) Output(on bool) error {
	var v uint16
	if on {
		v = 1
	}
	if err := c.writeReg(regOutput, v); err != nil {
		return err
	}
	c.log.Info("output switched", logx.Bool("on", on))
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypePowerOutput, Data: on})
	}
	return nil
}

// Voltage reads the display voltage.
func (c *Controller) Voltage() (float64, error) {
	v, err := c.readReg(regVoltDisp)
	return float64(v) / 100, err
}

// Current reads the display current.
func (c *Controller) Current() (float64, error) {
	v, err := c.readReg(regCurrDisp)
	return float64(v) / 1000, err
}

// Status reports whether the output relay is on.
func (c *Controller) Status() (bool, error) {
	v, err := c.readReg(regOutput)
	return v != 0, err
}

// Readback polls the display registers and the output switch.
func (c *Controller) Readback() (Readback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return Readback{}, ErrNotOpen
	}
	disp, err := c.client.ReadHoldingRegisters(regVoltDisp, 2)
	if err != nil {
		return Readback{}, fmt.Errorf("read display: %w", err)
	}
	if len(disp) < 4 {
		return Readback{}, fmt.Errorf("short display response: %d bytes", len(disp))
	}
	out, err := c.client.ReadHoldingRegisters(regOutput, 1)
	if err != nil {
		return Readback{}, fmt.Errorf("read output: %w", err)
	}
	if len(out) < 2 {
		return Readback{}, fmt.Errorf("short output response: %d bytes", len(out))
	}
	return Readback{
		Voltage:  float64(binary.BigEndian.Uint16(disp[0:2])) / 100,
		Current:  float64(binary.BigEndian.Uint16(disp[2:4])) / 1000,
		OutputOn: binary.BigEndian.Uint16(out) != 0,
	}, nil
}

func (c *Controller) readReg(addr uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return 0, ErrNotOpen
	}
	b, err := c.client.ReadHoldingRegisters(addr, 1)
	if err != nil {
		return 0, fmt.Errorf("read register %d: %w", addr, err)
	}
	if len(b) < 2 {
		return 0, fmt.Errorf("short response for register %d: %d bytes", addr, len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *Controller) writeReg(addr, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return ErrNotOpen
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, value)
	if _, err := c.client.WriteMultipleRegisters(addr, 1, buf); err != nil {
		return fmt.Errorf("write register %d: %w", addr, err)
	}
	return nil
}

func scale(v float64, factor float64, what string) (uint16, error) {
	if v < 0 {
		return 0, fmt.Errorf("%s %g out of range", what, v)
	}
	scaled := math.Round(v * factor)
	if scaled > math.MaxUint16 {
		return 0, fmt.Errorf("%s %g out of range", what, v)
	}
	return uint16(scaled), nil
}
