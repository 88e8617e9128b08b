// Package layout resolves frame names to wire geometry: identifier, payload
// length, nominal period, and the bit positions of named signals. It also
// encodes payloads from signal value maps.
//
// The Provider interface is the boundary the transmit scheduler consumes; the
// static provider in this package is table-driven and built from the bench
// configuration. There is deliberately no database-file parsing here.
package layout

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"canbench/internal/frame"
)

var (
	ErrUnknownFrame  = errors.New("unknown frame")
	ErrUnknownSignal = errors.New("unknown signal")
)

// Field places one named signal: Bit is the MSB position of the signal
// within byte Byte (0..7), Len its width in bits.
type Field struct {
	Byte int
	Bit  int
	Len  int
}

// Def describes one frame in the static table.
type Def struct {
	Name   string
	ID     uint32
	Length int
	Period time.Duration // 0: no nominal period (event/one-shot frame)

	Fields   map[string]Field
	Defaults map[string]uint64

	// CounterSignal / ChecksumSignal name the fields designated by the
	// "RC" / "CS" sentinels in the configuration; empty means absent.
	CounterSignal  string
	ChecksumSignal string
	Policy         frame.CounterPolicy
}

// Layout is a lookup result. Codec carries the resolved counter/checksum
// positions; its fields are nil for frames without them.
type Layout struct {
	Name   string
	ID     uint32
	Length int
	Period time.Duration
	Fields map[string]Field
	Codec  frame.Codec
}

// Provider is the frame-layout collaborator consumed by the scheduler.
type Provider interface {
	// Lookup fails with ErrUnknownFrame for unknown names.
	Lookup(name string) (Layout, error)
	// Encode builds a payload from signal values over the frame's
	// defaults. Unknown signal names fail with ErrUnknownSignal.
	Encode(name string, values map[string]uint64) ([]byte, error)
}

// StaticProvider serves lookups from an in-memory table. It is immutable
// after construction and therefore safe for concurrent use.
type StaticProvider struct {
	byName map[string]*Def
	byID   map[uint32]*Def
	names  []string
}

// NewStatic validates the definitions and builds a provider. Duplicate
// names or identifiers, signals that do not fit the payload, and invalid
// counter/checksum designations are rejected.
func NewStatic(defs []Def) (*StaticProvider, error) {
	p := &StaticProvider{
		byName: make(map[string]*Def, len(defs)),
		byID:   make(map[uint32]*Def, len(defs)),
	}
	for i := range defs {
		d := defs[i]
		if d.Name == "" {
			return nil, fmt.Errorf("frame #%d: name required", i)
		}
		if d.Length < 1 || d.Length > 64 {
			return nil, fmt.Errorf("frame %s: length %d (want 1..64)", d.Name, d.Length)
		}
		if _, dup := p.byName[d.Name]; dup {
			return nil, fmt.Errorf("frame %s: duplicate name", d.Name)
		}
		if prev, dup := p.byID[d.ID]; dup {
			return nil, fmt.Errorf("frame %s: id 0x%X already used by %s", d.Name, d.ID, prev.Name)
		}
		for sig, f := range d.Fields {
			if f.Len < 1 {
				return nil, fmt.Errorf("frame %s: signal %s: zero length", d.Name, sig)
			}
			if f.Bit < 0 || f.Bit > 7 || f.Byte < 0 {
				return nil, fmt.Errorf("frame %s: signal %s: bad position byte=%d bit=%d", d.Name, sig, f.Byte, f.Bit)
			}
			// Trailing bits of the last byte the field touches.
			endByte := f.Byte + (f.Len-1-f.Bit+7)/8
			if endByte >= d.Length {
				return nil, fmt.Errorf("frame %s: signal %s: %d bits at byte %d bit %d exceed %d-byte payload", d.Name, sig, f.Len, f.Byte, f.Bit, d.Length)
			}
		}
		if err := checkDesignated(&d, d.CounterSignal, "counter"); err != nil {
			return nil, err
		}
		if err := checkDesignated(&d, d.ChecksumSignal, "checksum"); err != nil {
			return nil, err
		}
		if cdc := codecFor(&d); cdc.Counter != nil || cdc.Checksum != nil {
			if err := cdc.Validate(d.Length); err != nil {
				return nil, fmt.Errorf("frame %s: %w", d.Name, err)
			}
		}
		cp := d
		p.byName[d.Name] = &cp
		p.byID[d.ID] = &cp
		p.names = append(p.names, d.Name)
	}
	sort.Strings(p.names)
	return p, nil
}

func checkDesignated(d *Def, sig, what string) error {
	if sig == "" {
		return nil
	}
	if _, ok := d.Fields[sig]; !ok {
		return fmt.Errorf("frame %s: %s signal %s not defined", d.Name, what, sig)
	}
	return nil
}

func codecFor(d *Def) frame.Codec {
	c := frame.Codec{Policy: d.Policy}
	if d.CounterSignal != "" {
		f := d.Fields[d.CounterSignal]
		c.Counter = &frame.CounterField{Byte: f.Byte, StartBit: f.Bit, Len: f.Len}
	}
	if d.ChecksumSignal != "" {
		f := d.Fields[d.ChecksumSignal]
		c.Checksum = &frame.ChecksumField{Byte: f.Byte}
	}
	return c
}

// Names returns all frame names in stable order.
func (p *StaticProvider) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

func (p *StaticProvider) Lookup(name string) (Layout, error) {
	d, ok := p.byName[name]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %s", ErrUnknownFrame, name)
	}
	return layoutOf(d), nil
}

// LookupID resolves by frame identifier.
func (p *StaticProvider) LookupID(id uint32) (Layout, error) {
	d, ok := p.byID[id]
	if !ok {
		return Layout{}, fmt.Errorf("%w: 0x%X", ErrUnknownFrame, id)
	}
	return layoutOf(d), nil
}

func layoutOf(d *Def) Layout {
	fields := make(map[string]Field, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return Layout{
		Name:   d.Name,
		ID:     d.ID,
		Length: d.Length,
		Period: d.Period,
		Fields: fields,
		Codec:  codecFor(d),
	}
}

// Defaults returns a copy of the frame's configured initial signal values.
func (p *StaticProvider) Defaults(name string) (map[string]uint64, error) {
	d, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFrame, name)
	}
	out := make(map[string]uint64, len(d.Defaults))
	for k, v := range d.Defaults {
		out[k] = v
	}
	return out, nil
}

func (p *StaticProvider) Encode(name string, values map[string]uint64) ([]byte, error) {
	d, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFrame, name)
	}
	buf := make([]byte, d.Length)
	// Defaults first so partial value maps still produce full payloads.
	for sig, v := range d.Defaults {
		f := d.Fields[sig]
		if err := frame.WriteBits(buf, f.Byte, f.Bit, f.Len, v); err != nil {
			return nil, fmt.Errorf("frame %s: signal %s: %w", name, sig, err)
		}
	}
	for sig, v := range values {
		f, ok := d.Fields[sig]
		if !ok {
			return nil, fmt.Errorf("%w: %s in frame %s", ErrUnknownSignal, sig, name)
		}
		if err := frame.WriteBits(buf, f.Byte, f.Bit, f.Len, v); err != nil {
			return nil, fmt.Errorf("frame %s: signal %s: %w", name, sig, err)
		}
	}
	return buf, nil
}
