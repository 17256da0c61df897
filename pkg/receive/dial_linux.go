// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package receive

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Downstream connections are local and long-lived; a vanished consumer should
// be detected within seconds so its session does not pile up decoded blocks.
// The socket options are based on the Linux tcp(7) manual page.

// dialControl is the net.Dialer's Control function to set the socket options.
func dialControl(_, _ string, rawConn syscall.RawConn) (err error) {
	const (
		// dialTcpKeepCnt sets TCP_KEEPCNT, the number of keepalive probes.
		dialTcpKeepCnt int = 3

		// dialTcpKeepIdle sets TCP_KEEPIDLE in seconds.
		dialTcpKeepIdle int = 10

		// dialTcpKeepIntvl sets TCP_KEEPINTVL in seconds.
		dialTcpKeepIntvl int = 5

		// dialTcpUserTimeout sets TCP_USER_TIMEOUT in milliseconds.
		dialTcpUserTimeout int = 30000
	)

	opts := map[int]int{
		unix.TCP_KEEPCNT:      dialTcpKeepCnt,
		unix.TCP_KEEPIDLE:     dialTcpKeepIdle,
		unix.TCP_KEEPINTVL:    dialTcpKeepIntvl,
		unix.TCP_USER_TIMEOUT: dialTcpUserTimeout,
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return
		}
		for opt, value := range opts {
			if err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, opt, value); err != nil {
				return
			}
		}
	})
	if ctrlErr != nil {
		err = ctrlErr
	}

	return
}

// dial a new TCP connection with socket options set.
func dial(address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: dialControl,
	}
	return dialer.Dial("tcp", address)
}
