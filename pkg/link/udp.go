// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"errors"
	"fmt"
	"io"
	"net"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMTU is the Ethernet MTU.
	DefaultMTU = 1500

	// udpOverhead4 and udpOverhead6 are the IP and UDP header sizes.
	udpOverhead4 = 20 + 8
	udpOverhead6 = 40 + 8
)

// UDPLink transmits datagrams over UDP in exactly one Direction.
type UDPLink struct {
	conn *net.UDPConn
	peer *net.UDPAddr
	dir  Direction
	mtu  int
}

// DialUDP creates an outbound UDPLink, bound to bind and sending to peer. The
// socket is never connected, so ICMP errors from a bridge cannot disturb it.
func DialUDP(bind, peer string, mtu int) (*UDPLink, error) {
	peerAddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, err
	}
	bindAddr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", bindAddr)
	if err != nil {
		return nil, err
	}

	l := &UDPLink{
		conn: conn,
		peer: peerAddr,
		dir:  Outbound,
		mtu:  datagramSize(mtu, peerAddr),
	}
	l.maximizeBuffer()

	return l, nil
}

// ListenUDP creates an inbound UDPLink, receiving datagrams at addr.
func ListenUDP(addr string, mtu int) (*UDPLink, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	l := &UDPLink{
		conn: conn,
		dir:  Inbound,
		mtu:  datagramSize(mtu, laddr),
	}
	l.maximizeBuffer()

	return l, nil
}

// datagramSize calculates the largest UDP payload for an IP MTU.
func datagramSize(mtu int, addr *net.UDPAddr) int {
	if addr.IP != nil && addr.IP.To4() == nil {
		return mtu - udpOverhead6
	}
	return mtu - udpOverhead4
}

// maximizeBuffer requests the largest possible kernel buffer for this
// socket's direction. The kernel caps the value, e.g., at net.core.rmem_max.
func (l *UDPLink) maximizeBuffer() {
	logger := log.WithField("link", l)

	size, err := setSocketBuffer(l.conn, l.dir, maxSocketBuffer)
	if err != nil {
		logger.WithError(err).Warn("Setting UDP socket buffer size errored")
		return
	}

	logger.WithField("size", size).Info("UDP socket buffer size set")
	if size >= 0 && size < minSocketBuffer {
		logger.WithField("size", size).Warn(
			"UDP socket buffer may be too small, please review the kernel parameters using sysctl")
	}
}

// LocalAddr of the underlying socket.
func (l *UDPLink) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *UDPLink) MTU() int {
	return l.mtu
}

func (l *UDPLink) Send(datagram []byte) error {
	if l.dir != Outbound {
		return ErrDirection
	}
	if len(datagram) > l.mtu {
		return fmt.Errorf("link: datagram of %d bytes exceeds MTU %d", len(datagram), l.mtu)
	}

	_, err := l.conn.WriteToUDP(datagram, l.peer)
	return err
}

func (l *UDPLink) Receive() ([]byte, error) {
	if l.dir != Inbound {
		return nil, ErrDirection
	}

	// One additional byte detects datagrams larger than the MTU.
	buf := make([]byte, l.mtu+1)
	n, _, err := l.conn.ReadFromUDP(buf)
	if errors.Is(err, net.ErrClosed) {
		return nil, io.EOF
	} else if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

func (l *UDPLink) Close() error {
	return l.conn.Close()
}

func (l *UDPLink) String() string {
	if l.dir == Outbound {
		return fmt.Sprintf("udp://%v?bind=%v", l.peer, l.conn.LocalAddr())
	}
	return fmt.Sprintf("udp://%v", l.conn.LocalAddr())
}
