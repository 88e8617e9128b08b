package frame

import (
	"fmt"
	"strings"
)

// CounterPolicy selects what happens to a field whose automatic update is
// held fixed (see package doc).
type CounterPolicy int

const (
	// PolicyHold re-writes the last counter value and leaves a held
	// checksum byte untouched.
	PolicyHold CounterPolicy = iota
	// PolicyReset forces a held counter to 0 and zeroes a held checksum.
	PolicyReset
)

func (p CounterPolicy) String() string {
	if p == PolicyReset {
		return "reset"
	}
	return "hold"
}

// ParseCounterPolicy accepts "hold", "reset" or "" (defaults to hold).
func ParseCounterPolicy(s string) (CounterPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hold":
		return PolicyHold, nil
	case "reset":
		return PolicyReset, nil
	default:
		return PolicyHold, fmt.Errorf("unknown counter policy %q (want hold or reset)", s)
	}
}

// CounterField locates a rolling counter inside a payload. StartBit is the
// MSB position of the field within its byte (0..7); the field's low bit is
// StartBit-Len+1, so the whole field must fit inside one byte.
type CounterField struct {
	Byte     int
	StartBit int
	Len      int
}

// ChecksumField locates the single checksum byte.
type ChecksumField struct {
	Byte int
}

// Codec holds the per-frame field positions. Counter and Checksum are
// optional independently; a nil field is skipped by Apply.
type Codec struct {
	Counter  *CounterField
	Checksum *ChecksumField
	Policy   CounterPolicy
}

// MaxCount returns the largest counter value before wrap, or 0 when the
// frame carries no counter.
func (c Codec) MaxCount() uint8 {
	if c.Counter == nil {
		return 0
	}
	return uint8(1<<uint(c.Counter.Len)) - 1
}

// Validate checks the configured positions against a payload of frameLen
// bytes. All failures wrap ErrInvalidCodecParams.
func (c Codec) Validate(frameLen int) error {
	if cf := c.Counter; cf != nil {
		if cf.Len < 1 || cf.Len > 8 {
			return fmt.Errorf("%w: counter length %d (want 1..8)", ErrInvalidCodecParams, cf.Len)
		}
		if cf.StartBit < 0 || cf.StartBit > 7 {
			return fmt.Errorf("%w: counter start bit %d (want 0..7)", ErrInvalidCodecParams, cf.StartBit)
		}
		if cf.StartBit-cf.Len+1 < 0 {
			return fmt.Errorf("%w: counter of length %d does not fit below bit %d", ErrInvalidCodecParams, cf.Len, cf.StartBit)
		}
		if cf.Byte < 0 || cf.Byte >= frameLen {
			return fmt.Errorf("%w: counter byte %d outside payload of %d bytes", ErrInvalidCodecParams, cf.Byte, frameLen)
		}
	}
	if cs := c.Checksum; cs != nil {
		if cs.Byte < 0 || cs.Byte >= frameLen {
			return fmt.Errorf("%w: checksum byte %d outside payload of %d bytes", ErrInvalidCodecParams, cs.Byte, frameLen)
		}
	}
	return nil
}

// Apply injects the rolling counter and checksum into a copy of data and
// returns the copy together with the new counter value.
//
// advance=false holds the counter according to Policy; compute=false holds
// the checksum the same way. The counter is written before the checksum is
// summed, so a frame whose counter and checksum share a byte sums the
// post-counter contents. Apply is deterministic: the output depends only on
// its inputs.
func (c Codec) Apply(data []byte, current uint8, advance, compute bool) ([]byte, uint8, error) {
	if err := c.Validate(len(data)); err != nil {
		return nil, current, err
	}

	out := make([]byte, len(data))
	copy(out, data)
	count := current

	if cf := c.Counter; cf != nil {
		if advance {
			if count < c.MaxCount() {
				count++
			} else {
				count = 0
			}
		} else if c.Policy == PolicyReset {
			count = 0
		}

		mask := byte(1<<uint(cf.Len)) - 1
		shift := uint(cf.StartBit - cf.Len + 1)
		out[cf.Byte] &^= mask << shift
		out[cf.Byte] |= (count << shift) & (mask << shift)
	}

	if cs := c.Checksum; cs != nil {
		switch {
		case compute:
			out[cs.Byte] = sumExcept(out, cs.Byte)
		case c.Policy == PolicyReset:
			out[cs.Byte] = 0
		}
	}

	return out, count, nil
}

// sumExcept is the mod-256 sum of every byte but skip.
func sumExcept(data []byte, skip int) byte {
	var sum byte
	for i, b := range data {
		if i != skip {
			sum += b
		}
	}
	return sum
}
