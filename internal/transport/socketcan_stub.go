//go:build !linux
// +build !linux

package transport

import "errors"

type SocketCAN struct{}

func NewSocketCAN(iface string) (*SocketCAN, error) {
	return nil, errors.New("socketcan transport requires linux")
}

func (s *SocketCAN) Send(id uint32, data []byte, flags Flags) error { return ErrClosed }
func (s *SocketCAN) Close() error                                   { return nil }
