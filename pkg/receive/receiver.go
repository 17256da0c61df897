// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package receive reconstructs the streams of the diode's receiving side.
//
// A Receiver reads datagrams from an inbound Link and routes valid shards to
// one worker per session. A worker reassembles blocks, orders them by their
// block number and hands the byte stream to a Sink. Any gap in a stream is
// fatal for its session; nothing can be requested again from the sender.
package receive

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/diode-go/pkg/cron"
	"github.com/dtn7/diode-go/pkg/link"
	"github.com/dtn7/diode-go/pkg/session"
	"github.com/dtn7/diode-go/pkg/wire"
)

// ErrClosed terminates all sessions of a closed Receiver.
var ErrClosed = errors.New("receive: receiver is closed")

const (
	heartbeatJob = "receive-heartbeat"
	expungeJob   = "receive-expunge"
)

// Stats of a Receiver.
type Stats struct {
	Datagrams    uint64 `json:"datagrams"`
	Invalid      uint64 `json:"invalid"`
	Heartbeats   uint64 `json:"heartbeats"`
	Overflows    uint64 `json:"overflows"`
	Late         uint64 `json:"late"`
	Inconsistent uint64 `json:"inconsistent"`
	Sessions     int    `json:"sessions"`
}

type counters struct {
	datagrams    atomic.Uint64
	invalid      atomic.Uint64
	heartbeats   atomic.Uint64
	overflows    atomic.Uint64
	late         atomic.Uint64
	inconsistent atomic.Uint64
}

// Receiver reads datagrams from an inbound Link and dispatches them to the
// session workers.
type Receiver struct {
	link link.Link
	conf Config
	open Opener
	cron *cron.Cron

	// workers and finished are only accessed by the handler goroutine.
	workers  map[wire.SessionID]*stream
	finished map[wire.SessionID]time.Time

	datagramChan chan []byte
	doneChan     chan wire.SessionID
	expungeChan  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	registry  *session.Registry
	observers session.Observers

	stats         counters
	lastBeat      atomic.Int64
	beatMissing   atomic.Bool
	beatCounter   uint32
	beatsReceived bool

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewReceiver for an inbound Link, opening a Sink for each new session.
// Housekeeping jobs are registered at the Cron on Start.
func NewReceiver(l link.Link, conf Config, open Opener, c *cron.Cron) (*Receiver, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Receiver{
		link: l,
		conf: conf,
		open: open,
		cron: c,

		workers:  make(map[wire.SessionID]*stream),
		finished: make(map[wire.SessionID]time.Time),

		datagramChan: make(chan []byte, 64),
		doneChan:     make(chan wire.SessionID),
		expungeChan:  make(chan struct{}, 1),

		ctx:    ctx,
		cancel: cancel,

		registry: session.NewRegistry(),

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}, nil
}

// AddObserver to be notified about session events. Must be called before Start.
func (r *Receiver) AddObserver(o session.Observer) {
	r.observers = append(r.observers, o)
}

// Start receiving.
func (r *Receiver) Start() error {
	r.lastBeat.Store(time.Now().UnixNano())

	if r.cron != nil {
		if r.conf.HeartbeatTimeout > 0 {
			if err := r.cron.Register(heartbeatJob, r.checkHeartbeat, r.conf.HeartbeatTimeout); err != nil {
				return err
			}
		}
		if r.conf.Linger > 0 {
			if err := r.cron.Register(expungeJob, r.requestExpunge, r.conf.Linger); err != nil {
				r.cron.Unregister(heartbeatJob)
				return err
			}
		}
	}

	go r.read()
	go r.handle()

	log.WithFields(log.Fields{
		"link":     r.link,
		"deadline": r.conf.BlockDeadline,
		"window":   r.conf.Window,
		"timeout":  r.conf.InactivityTimeout,
	}).Info("Started Receiver")

	return nil
}

// read is the only goroutine receiving from the Link.
func (r *Receiver) read() {
	for {
		datagram, err := r.link.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}

			select {
			case <-r.stopSyn:
				return
			default:
				log.WithField("link", r.link).WithError(err).Warn("Receiving datagram errored")
				continue
			}
		}

		select {
		case r.datagramChan <- datagram:
		case <-r.stopSyn:
			return
		}
	}
}

func (r *Receiver) handle() {
	defer close(r.stopAck)

	for {
		select {
		case <-r.stopSyn:
			r.cancel()
			r.wg.Wait()
			return

		case datagram := <-r.datagramChan:
			r.dispatch(datagram)

		case id := <-r.doneChan:
			now := time.Now()
			delete(r.workers, id)
			if r.conf.Linger > 0 {
				r.finished[id] = now
			}
			if r.cron == nil {
				r.expunge(now)
			}

		case <-r.expungeChan:
			r.expunge(time.Now())
		}
	}
}

func (r *Receiver) dispatch(datagram []byte) {
	r.stats.datagrams.Add(1)

	s, err := wire.Parse(datagram)
	if err != nil {
		r.stats.invalid.Add(1)
		log.WithField("length", len(datagram)).WithError(err).Debug("Dropping invalid datagram")
		return
	}

	if s.Type == wire.TypeHeartbeat {
		r.heartbeat(s)
		return
	}

	w, ok := r.workers[s.Session]
	if !ok {
		if _, gone := r.finished[s.Session]; gone {
			r.stats.late.Add(1)
			log.WithField("shard", s.Header).Debug("Dropping shard of a finished session")
			return
		}
		w = r.spawn(s.Session)
	}

	select {
	case w.shards <- s:
	default:
		r.stats.overflows.Add(1)
		log.WithField("shard", s.Header).Debug("Dropping shard, session queue is full")
	}
}

// spawn a worker for a new session.
func (r *Receiver) spawn(id wire.SessionID) *stream {
	sess := session.New(id)
	st := newStream(sess, r.conf, r.open, &r.stats)

	r.workers[id] = st
	r.registry.Add(sess)
	r.observers.Notify(session.NewStarted(session.ReceiveSide, sess))

	log.WithField("session", id).Info("Receiver started session")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		err := st.run(r.ctx)

		sess.Terminate()
		r.registry.Remove(id)
		r.observers.Notify(session.NewFinished(session.ReceiveSide, sess, err))

		logger := log.WithFields(log.Fields{
			"session": id,
			"blocks":  sess.Blocks(),
			"bytes":   sess.Bytes(),
			"outcome": session.OutcomeOf(err),
		})
		if err != nil {
			logger.WithError(err).Warn("Receiver terminated session")
		} else {
			logger.Info("Receiver finished session")
		}

		select {
		case r.doneChan <- id:
		case <-r.ctx.Done():
		}
	}()

	return st
}

func (r *Receiver) heartbeat(s wire.Shard) {
	r.stats.heartbeats.Add(1)
	r.lastBeat.Store(time.Now().UnixNano())

	counter := uint32(s.Block)
	if r.beatsReceived && counter != r.beatCounter+1 {
		log.WithFields(log.Fields{
			"expected": r.beatCounter + 1,
			"received": counter,
		}).Debug("Heartbeats were lost or the sender restarted")
	}
	r.beatCounter, r.beatsReceived = counter, true

	if r.beatMissing.CompareAndSwap(true, false) {
		log.WithField("counter", counter).Info("Heartbeats resumed")
	}
}

// checkHeartbeat is called by the Cron.
func (r *Receiver) checkHeartbeat() {
	since := time.Since(time.Unix(0, r.lastBeat.Load()))
	if since < r.conf.HeartbeatTimeout {
		return
	}

	if r.beatMissing.CompareAndSwap(false, true) {
		log.WithFields(log.Fields{
			"link":  r.link,
			"since": since,
		}).Warn("No heartbeat received, the diode's link might be down")
	}
}

// requestExpunge is called by the Cron.
func (r *Receiver) requestExpunge() {
	select {
	case r.expungeChan <- struct{}{}:
	default:
	}
}

// expunge finished sessions after they lingered long enough.
func (r *Receiver) expunge(now time.Time) {
	for id, t := range r.finished {
		if now.Sub(t) >= r.conf.Linger {
			delete(r.finished, id)
		}
	}
}

// Sessions returns Info about the active sessions.
func (r *Receiver) Sessions() []session.Info {
	return r.registry.Snapshot()
}

// Stats returns the Receiver's counters.
func (r *Receiver) Stats() Stats {
	return Stats{
		Datagrams:    r.stats.datagrams.Load(),
		Invalid:      r.stats.invalid.Load(),
		Heartbeats:   r.stats.heartbeats.Load(),
		Overflows:    r.stats.overflows.Load(),
		Late:         r.stats.late.Load(),
		Inconsistent: r.stats.inconsistent.Load(),
		Sessions:     r.registry.Len(),
	}
}

// Close this Receiver and its Link. Active sessions are aborted.
func (r *Receiver) Close() error {
	if r.cron != nil {
		r.cron.Unregister(heartbeatJob)
		r.cron.Unregister(expungeJob)
	}

	err := r.link.Close()

	close(r.stopSyn)
	<-r.stopAck

	return err
}
