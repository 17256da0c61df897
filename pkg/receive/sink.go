// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package receive

import (
	"fmt"
	"io"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/diode-go/pkg/wire"
)

// Sink is the downstream consumer of one session's byte stream. Exactly one
// of Close or Abort is called after the last Write.
type Sink interface {
	io.Writer

	// Close the Sink after the stream ended cleanly.
	Close() error

	// Abort the Sink, e.g., after a data loss. The downstream consumer must
	// be able to tell this apart from Close. Abort might be called while a
	// Write is pending and must not be blocked by it for long.
	Abort(err error)
}

// Opener creates a Sink for a session. It is called lazily, when the first
// bytes of the session are ready for delivery.
type Opener func(session wire.SessionID) (Sink, error)

// tcpSink forwards a session to a TCP connection.
type tcpSink struct {
	conn    *net.TCPConn
	session wire.SessionID
}

// DialTCP returns an Opener connecting each session to the TCP address.
func DialTCP(address string) Opener {
	return func(session wire.SessionID) (Sink, error) {
		conn, err := dial(address)
		if err != nil {
			return nil, fmt.Errorf("connecting session %d to %s: %w", session, address, err)
		}

		log.WithFields(log.Fields{
			"session": session,
			"address": address,
		}).Debug("Connected session downstream")

		return &tcpSink{conn: conn.(*net.TCPConn), session: session}, nil
	}
}

func (ts *tcpSink) Write(p []byte) (int, error) {
	return ts.conn.Write(p)
}

// Close half-closes the connection first, so the peer reads an EOF.
func (ts *tcpSink) Close() error {
	if err := ts.conn.CloseWrite(); err != nil {
		_ = ts.conn.Close()
		return err
	}
	return ts.conn.Close()
}

// Abort resets the connection; the peer reads an error instead of an EOF. A
// pending Write returns afterwards.
func (ts *tcpSink) Abort(err error) {
	log.WithFields(log.Fields{
		"session": ts.session,
		"address": ts.conn.RemoteAddr(),
		"error":   err,
	}).Debug("Resetting downstream connection")

	_ = ts.conn.SetLinger(0)
	_ = ts.conn.Close()
}
