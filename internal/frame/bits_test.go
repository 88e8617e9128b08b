package frame

import (
	"errors"
	"testing"
)

func TestWriteBitsRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		byteIdx    int
		bitPos     int
		length     int
		value      uint64
		wantBuf    []byte
	}{
		{name: "nibble high", byteIdx: 0, bitPos: 7, length: 4, value: 0xA, wantBuf: []byte{0xA0, 0, 0}},
		{name: "nibble low", byteIdx: 0, bitPos: 3, length: 4, value: 0xA, wantBuf: []byte{0x0A, 0, 0}},
		{name: "whole byte", byteIdx: 1, bitPos: 7, length: 8, value: 0xC3, wantBuf: []byte{0, 0xC3, 0}},
		{name: "spans boundary", byteIdx: 0, bitPos: 1, length: 4, value: 0xF, wantBuf: []byte{0x03, 0xC0, 0}},
		{name: "single bit", byteIdx: 2, bitPos: 0, length: 1, value: 1, wantBuf: []byte{0, 0, 0x01}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := make([]byte, 3)
			if err := WriteBits(buf, tt.byteIdx, tt.bitPos, tt.length, tt.value); err != nil {
				t.Fatalf("WriteBits: %v", err)
			}
			for i := range buf {
				if buf[i] != tt.wantBuf[i] {
					t.Fatalf("buf = %x, want %x", buf, tt.wantBuf)
				}
			}
			got, err := ReadBits(buf, tt.byteIdx, tt.bitPos, tt.length)
			if err != nil {
				t.Fatalf("ReadBits: %v", err)
			}
			if got != tt.value {
				t.Fatalf("ReadBits = %#x, want %#x", got, tt.value)
			}
		})
	}
}

func TestWriteBitsPreservesOtherBits(t *testing.T) {
	t.Parallel()
	buf := []byte{0xFF, 0xFF}
	if err := WriteBits(buf, 0, 5, 3, 0); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
	if buf[0] != 0b1100_0111 || buf[1] != 0xFF {
		t.Fatalf("buf = %08b %08b", buf[0], buf[1])
	}
}

func TestWriteBitsRange(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 2)
	if err := WriteBits(buf, 1, 2, 8, 0xFF); !errors.Is(err, ErrBitRange) {
		t.Fatalf("overflow err = %v, want ErrBitRange", err)
	}
	if err := WriteBits(buf, 0, 9, 1, 1); !errors.Is(err, ErrBitRange) {
		t.Fatalf("bad bit pos err = %v, want ErrBitRange", err)
	}
	if err := WriteBits(buf, 0, 7, 0, 1); !errors.Is(err, ErrBitRange) {
		t.Fatalf("zero length err = %v, want ErrBitRange", err)
	}
}
