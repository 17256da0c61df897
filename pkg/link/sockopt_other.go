// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package link

import "net"

const (
	maxSocketBuffer = 8 << 20
	minSocketBuffer = 4 << 20
)

// setSocketBuffer falls back to the net package. The granted size cannot be
// queried, which is indicated by -1.
func setSocketBuffer(conn *net.UDPConn, dir Direction, size int) (int, error) {
	if dir == Inbound {
		return -1, conn.SetReadBuffer(size)
	}
	return -1, conn.SetWriteBuffer(size)
}
