//go:build linux
// +build linux

package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	maxClassicPayload = 8
	canFrameSize      = 16 // struct can_frame
)

// SocketCAN transmits classic CAN frames through a raw AF_CAN socket.
//
// Writes are serialized with a mutex: the kernel interleaves concurrent
// writes on the same fd anyway, and serializing keeps error attribution
// per frame.
type SocketCAN struct {
	iface string

	mu     sync.Mutex
	fd     int
	closed bool
}

// NewSocketCAN binds a raw CAN socket to the named interface (e.g. "can0",
// "vcan0").
func NewSocketCAN(iface string) (*SocketCAN, error) {
	ifc, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan: interface %s: %w", iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifc.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", iface, err)
	}
	return &SocketCAN{iface: iface, fd: fd}, nil
}

func (s *SocketCAN) Send(id uint32, data []byte, flags Flags) error {
	if len(data) > maxClassicPayload {
		return fmt.Errorf("%w: %d bytes on 0x%X", ErrFrameTooLong, len(data), id)
	}

	canID := id & unix.CAN_EFF_MASK
	if flags.Extended || id >= 0x800 {
		canID = id&unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG
	}

	// struct can_frame layout: id(4, host order) dlc(1) pad(3) data(8).
	// The kernel reads the id in native byte order; Go's supported CAN
	// targets are little-endian.
	var buf [canFrameSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], canID)
	buf[4] = byte(len(data))
	copy(buf[8:], data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := unix.Write(s.fd, buf[:]); err != nil {
		return fmt.Errorf("socketcan: send 0x%X on %s: %w", id, s.iface, err)
	}
	return nil
}

func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
