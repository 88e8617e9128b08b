package frame

import "fmt"

// WriteBits writes the low `length` bits of value into buf, starting at the
// MSB position bitPos (0..7) of byteIndex and walking toward lower bit
// positions, continuing at bit 7 of the next byte when the field spans a
// byte boundary. Bits outside the field are preserved.
func WriteBits(buf []byte, byteIndex, bitPos, length int, value uint64) error {
	if length < 1 || length > 64 {
		return fmt.Errorf("%w: field length %d", ErrBitRange, length)
	}
	if bitPos < 0 || bitPos > 7 {
		return fmt.Errorf("%w: bit position %d (want 0..7)", ErrBitRange, bitPos)
	}
	idx, bit := byteIndex, bitPos
	for i := length - 1; i >= 0; i-- {
		if idx < 0 || idx >= len(buf) {
			return fmt.Errorf("%w: byte %d outside payload of %d bytes", ErrBitRange, idx, len(buf))
		}
		mask := byte(1) << uint(bit)
		if value>>uint(i)&1 == 1 {
			buf[idx] |= mask
		} else {
			buf[idx] &^= mask
		}
		bit--
		if bit < 0 {
			bit = 7
			idx++
		}
	}
	return nil
}

// ReadBits is the inverse of WriteBits.
func ReadBits(buf []byte, byteIndex, bitPos, length int) (uint64, error) {
	if length < 1 || length > 64 {
		return 0, fmt.Errorf("%w: field length %d", ErrBitRange, length)
	}
	if bitPos < 0 || bitPos > 7 {
		return 0, fmt.Errorf("%w: bit position %d (want 0..7)", ErrBitRange, bitPos)
	}
	var v uint64
	idx, bit := byteIndex, bitPos
	for i := 0; i < length; i++ {
		if idx < 0 || idx >= len(buf) {
			return 0, fmt.Errorf("%w: byte %d outside payload of %d bytes", ErrBitRange, idx, len(buf))
		}
		v = v<<1 | uint64(buf[idx]>>uint(bit)&1)
		bit--
		if bit < 0 {
			bit = 7
			idx++
		}
	}
	return v, nil
}
