// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package send

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dtn7/diode-go/pkg/fec"
	"github.com/dtn7/diode-go/pkg/session"
	"github.com/dtn7/diode-go/pkg/wire"
)

// Multiplexer accepts independent byte streams, assigns each a session and
// interleaves their blocks onto one Sender.
type Multiplexer struct {
	conf   Config
	sender *Sender
	codec  *fec.Codec

	// lastID is only modified by nextID.
	lastID atomic.Uint32

	slots chan struct{}

	registry  *session.Registry
	observers session.Observers
}

// NewMultiplexer on top of a Sender, which should have been created with the
// same Config.
func NewMultiplexer(sender *Sender, conf Config) (*Multiplexer, error) {
	codec, err := fec.New(conf.DataShards, conf.ParityShards)
	if err != nil {
		return nil, err
	}

	m := &Multiplexer{
		conf:     conf,
		sender:   sender,
		codec:    codec,
		registry: session.NewRegistry(),
	}
	if conf.MaxSessions > 0 {
		m.slots = make(chan struct{}, conf.MaxSessions)
	}
	return m, nil
}

// AddObserver to be notified about session events. Must be called before the
// first Transfer.
func (m *Multiplexer) AddObserver(o session.Observer) {
	m.observers = append(m.observers, o)
}

// Sessions returns Info about the active sessions.
func (m *Multiplexer) Sessions() []session.Info {
	return m.registry.Snapshot()
}

func (m *Multiplexer) nextID() wire.SessionID {
	for {
		if id := wire.SessionID(m.lastID.Add(1)); id != wire.HeartbeatSession {
			return id
		}
	}
}

func (m *Multiplexer) acquire(ctx context.Context) error {
	if m.slots == nil {
		return nil
	}

	select {
	case m.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Multiplexer) release() {
	if m.slots != nil {
		<-m.slots
	}
}

type readResult struct {
	data []byte
	err  error
}

// reader pushes src's data into the results channel until an error occurs,
// io.EOF included. It returns when done is closed; a blocked Read must be
// interrupted by closing src.
func reader(src io.Reader, size int, results chan<- readResult, done <-chan struct{}) {
	for {
		buf := make([]byte, size)
		n, err := src.Read(buf)

		if n > 0 {
			select {
			case results <- readResult{data: buf[:n]}:
			case <-done:
				return
			}
		}

		if err != nil {
			select {
			case results <- readResult{err: err}:
			case <-done:
			}
			return
		}
	}
}

// Transfer src's bytes as a new session until src returns io.EOF. The session
// is aborted on a read error or when ctx is canceled. A caller must close src
// after Transfer returned to release a pending Read.
func (m *Multiplexer) Transfer(ctx context.Context, src io.Reader) (err error) {
	if err = m.acquire(ctx); err != nil {
		return
	}
	defer m.release()

	s := session.New(m.nextID())
	queue, err := m.sender.Attach(s.ID, m.conf.QueueSize)
	if err != nil {
		return
	}

	m.registry.Add(s)
	m.observers.Notify(session.NewStarted(session.SendSide, s))

	log.WithField("session", s.ID).Info("Multiplexer started session")

	err = m.transfer(ctx, s, queue, src)

	queue.Close()
	s.Terminate()
	m.registry.Remove(s.ID)
	m.observers.Notify(session.NewFinished(session.SendSide, s, err))

	logger := log.WithFields(log.Fields{
		"session": s.ID,
		"blocks":  s.Blocks(),
		"bytes":   s.Bytes(),
	})
	if err != nil {
		logger.WithError(err).Warn("Multiplexer aborted session")
	} else {
		logger.Info("Multiplexer finished session")
	}

	return
}

func (m *Multiplexer) transfer(ctx context.Context, s *session.Session, queue *Queue, src io.Reader) (err error) {
	framer := NewFramer(s.ID, m.codec, m.conf.Compress)

	results := make(chan readResult)
	done := make(chan struct{})
	defer close(done)
	go reader(src, m.conf.BlockSize, results, done)

	// The flush timer is armed while a partial block is pending.
	flushTimer := time.NewTimer(m.conf.FlushTimeout)
	flushTimer.Stop()
	flushArmed := false
	defer flushTimer.Stop()

	pending := make([]byte, 0, m.conf.BlockSize)

	emit := func(data []byte) error {
		if b, fErr := framer.Frame(data); fErr != nil {
			return fErr
		} else if pErr := queue.Push(ctx, b); pErr != nil {
			return pErr
		} else {
			s.AddBlock(b.Bytes)
			return nil
		}
	}

	// end pushes the terminator, even if ctx is already canceled.
	end := func(abort bool) error {
		if b, fErr := framer.End(abort); fErr != nil {
			return fErr
		} else {
			return queue.Push(context.Background(), b)
		}
	}

	for {
		select {
		case result := <-results:
			if result.err != nil {
				if result.err != io.EOF {
					err = fmt.Errorf("reading stream: %w", result.err)
					_ = end(true)
					return
				}

				if len(pending) > 0 {
					if err = emit(pending); err != nil {
						_ = end(true)
						return
					}
				}
				err = end(false)
				return
			}

			pending = append(pending, result.data...)
			for len(pending) >= m.conf.BlockSize {
				if err = emit(pending[:m.conf.BlockSize]); err != nil {
					_ = end(true)
					return
				}
				pending = append(pending[:0], pending[m.conf.BlockSize:]...)
			}

			if len(pending) > 0 && !flushArmed {
				flushTimer.Reset(m.conf.FlushTimeout)
				flushArmed = true
			} else if len(pending) == 0 && flushArmed {
				if !flushTimer.Stop() {
					<-flushTimer.C
				}
				flushArmed = false
			}

		case <-flushTimer.C:
			flushArmed = false
			if len(pending) == 0 {
				continue
			}

			log.WithFields(log.Fields{
				"session": s.ID,
				"bytes":   len(pending),
			}).Debug("Multiplexer flushes partial block")

			if err = emit(pending); err != nil {
				_ = end(true)
				return
			}
			pending = pending[:0]

		case <-ctx.Done():
			err = ctx.Err()
			_ = end(true)
			return
		}
	}
}

// ListenAndServe accepts TCP connections on addr and transfers each as its
// own session, until ctx is canceled.
func (m *Multiplexer) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	log.WithField("address", ln.Addr()).Info("Multiplexer listens for TCP connections")

	return m.Serve(ctx, ln)
}

// Serve accepts connections from the Listener until ctx is canceled. The
// Listener is closed afterwards.
func (m *Multiplexer) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) && gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accepting TCP connection: %w", err)
			}

			g.Go(func() error {
				m.serveConn(gctx, conn)
				return nil
			})
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (m *Multiplexer) serveConn(ctx context.Context, conn net.Conn) {
	log.WithField("conn", conn.RemoteAddr()).Debug("Multiplexer accepted TCP connection")

	err := m.Transfer(ctx, conn)
	if err != nil {
		log.WithFields(log.Fields{
			"conn":  conn.RemoteAddr(),
			"error": err,
		}).Debug("Transfer of TCP connection failed, resetting it")

		// A reset tells the peer apart from a clean close that its stream
		// was not sent completely.
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetLinger(0)
		}
	}

	if cErr := conn.Close(); cErr != nil {
		log.WithFields(log.Fields{
			"conn":  conn.RemoteAddr(),
			"error": cErr,
		}).Debug("Closing TCP connection errored")
	}
}
