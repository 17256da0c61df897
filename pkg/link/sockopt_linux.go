// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package link

import (
	"math"
	"net"

	"golang.org/x/sys/unix"
)

const (
	// maxSocketBuffer is requested; Linux doubles and caps the value.
	maxSocketBuffer = math.MaxInt32 / 2

	// minSocketBuffer should at least hold a few blocks in flight.
	minSocketBuffer = 4 << 20
)

// setSocketBuffer sets SO_SNDBUF for Outbound or SO_RCVBUF for Inbound
// sockets and returns the size granted by the kernel.
func setSocketBuffer(conn *net.UDPConn, dir Direction, size int) (granted int, err error) {
	rawConn, rawErr := conn.SyscallConn()
	if rawErr != nil {
		return -1, rawErr
	}

	opt := unix.SO_SNDBUF
	if dir == Inbound {
		opt = unix.SO_RCVBUF
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, size); err != nil {
			return
		}
		granted, err = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, opt)
	})
	if ctrlErr != nil {
		err = ctrlErr
	}
	return
}
