package config

import (
	"fmt"

	"canbench/internal/frame"
	"canbench/internal/layout"
)

// LayoutDefs converts the frame table to layout definitions. Sentinel
// defaults designate the counter/checksum signals; numeric defaults become
// the frame's initial values.
func (c *Config) LayoutDefs() ([]layout.Def, error) {
	defs := make([]layout.Def, 0, len(c.Frames))
	for i, fc := range c.Frames {
		if fc.Name == "" {
			return nil, fmt.Errorf("frames[%d]: name required", i)
		}
		pol, err := frame.ParseCounterPolicy(fc.CounterPolicy)
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", fc.Name, err)
		}
		d := layout.Def{
			Name:     fc.Name,
			ID:       uint32(fc.ID),
			Length:   fc.Length,
			Period:   fc.CycleTime.Std(),
			Policy:   pol,
			Fields:   make(map[string]layout.Field, len(fc.Signals)),
			Defaults: map[string]uint64{},
		}
		for sig, sc := range fc.Signals {
			d.Fields[sig] = layout.Field{Byte: sc.Byte, Bit: sc.Bit, Len: sc.Len}
			if sc.Default == nil {
				continue
			}
			switch sc.Default.Role {
			case RoleCounter:
				if d.CounterSignal != "" {
					return nil, fmt.Errorf("frame %s: RC designated twice (%s and %s)", fc.Name, d.CounterSignal, sig)
				}
				d.CounterSignal = sig
			case RoleChecksum:
				if d.ChecksumSignal != "" {
					return nil, fmt.Errorf("frame %s: CS designated twice (%s and %s)", fc.Name, d.ChecksumSignal, sig)
				}
				d.ChecksumSignal = sig
			default:
				d.Defaults[sig] = sc.Default.Value
			}
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// Validate checks everything that can be checked without touching
// hardware. Frame geometry is validated by building the layout table.
func (c *Config) Validate() error {
	switch c.Transport.Driver {
	case "", "loopback":
	case "socketcan":
		if c.Transport.Interface == "" {
			return fmt.Errorf("transport: socketcan requires an interface")
		}
	default:
		return fmt.Errorf("transport: unknown driver %q", c.Transport.Driver)
	}

	if s := c.Storage; s != nil {
		switch s.Driver {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage: unknown driver %q", s.Driver)
		}
	}
	if p := c.Power; p != nil && p.Enabled && p.Device == "" {
		return fmt.Errorf("power: device required when enabled")
	}

	defs, err := c.LayoutDefs()
	if err != nil {
		return err
	}
	if _, err := layout.NewStatic(defs); err != nil {
		return err
	}
	return nil
}
