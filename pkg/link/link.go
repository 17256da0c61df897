// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package link provides unreliable, unidirectional datagram channels.
//
// A Link is only required to move datagrams from one end to the other, with a
// bounded but unknown loss rate. Datagrams might be reordered, duplicated or
// dropped. No information ever travels back to the sender.
package link

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrDirection is returned when sending on an inbound or receiving on an outbound Link.
var ErrDirection = errors.New("link: operation not supported in this direction")

// Link is the interface for possible datagram channels. Implementations must
// allow one goroutine to Send or Receive while another one calls Close.
type Link interface {
	// MTU returns the maximum size of a datagram, including its header.
	MTU() int

	// Send transmits one datagram. This method might block.
	Send(datagram []byte) error

	// Receive waits for the next datagram. The returned slice is owned by the
	// caller. After Close, Receive returns io.EOF.
	Receive() ([]byte, error)

	// Close this Link. A blocked Receive must be interrupted.
	Close() error
}

// Direction of a Link, seen from this process.
type Direction int

const (
	// Outbound Links are used by the sending side of the diode.
	Outbound Direction = iota

	// Inbound Links are used by the receiving side of the diode.
	Inbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Open a Link based on an URI.
//
//   udp://192.0.2.1:6000?bind=0.0.0.0:0&mtu=1500 sends to 192.0.2.1:6000
//   udp://0.0.0.0:6000?mtu=1500 receives on port 6000
//   rf95modem:///dev/ttyUSB0 uses a LoRa rf95modem
func Open(addr string, dir Direction) (Link, error) {
	uri, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	switch uri.Scheme {
	case "udp":
		mtu := DefaultMTU
		if mtuStr := uri.Query().Get("mtu"); mtuStr != "" {
			if mtu, err = strconv.Atoi(mtuStr); err != nil {
				return nil, fmt.Errorf("link: invalid mtu %q: %w", mtuStr, err)
			}
		}

		if dir == Outbound {
			bind := uri.Query().Get("bind")
			if bind == "" {
				bind = ":0"
			}
			return DialUDP(bind, uri.Host, mtu)
		}
		return ListenUDP(uri.Host, mtu)

	case "rf95modem":
		return OpenRf95(uri.Path)

	default:
		return nil, fmt.Errorf("link: unknown scheme %q", uri.Scheme)
	}
}
