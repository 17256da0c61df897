// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package send

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/dtn7/diode-go/pkg/cron"
	"github.com/dtn7/diode-go/pkg/link"
	"github.com/dtn7/diode-go/pkg/wire"
)

// ErrClosed is returned when operating on a closed Sender.
var ErrClosed = errors.New("send: sender is closed")

const heartbeatJob = "send-heartbeat"

// Stats of a Sender.
type Stats struct {
	Datagrams  uint64 `json:"datagrams"`
	Bytes      uint64 `json:"bytes"`
	Heartbeats uint64 `json:"heartbeats"`
	Errors     uint64 `json:"errors"`
}

// Sender is the only owner of the outbound Link. It takes framed blocks from
// each session's Queue, round-robin, one block per session and round, and
// paces them onto the Link.
type Sender struct {
	link    link.Link
	limiter *rate.Limiter
	cron    *cron.Cron

	attachChan chan *Queue
	beatChan   chan struct{}
	wakeChan   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	datagrams  atomic.Uint64
	bytes      atomic.Uint64
	heartbeats atomic.Uint64
	errors     atomic.Uint64

	// attached Queues, which were not yet fully sent
	attached atomic.Int32

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewSender starts a Sender for the given outbound Link. Heartbeats are
// scheduled on the Cron, if configured.
func NewSender(l link.Link, conf Config, c *cron.Cron) (*Sender, error) {
	if err := conf.Validate(l.MTU()); err != nil {
		return nil, err
	}

	limit, burst := rate.Inf, l.MTU()
	if conf.Rate > 0 {
		limit = rate.Limit(conf.Rate)
		if b := conf.Rate / 100; b > burst {
			burst = b
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Sender{
		link:    l,
		limiter: rate.NewLimiter(limit, burst),
		cron:    c,

		attachChan: make(chan *Queue),
		beatChan:   make(chan struct{}, 1),
		wakeChan:   make(chan struct{}, 1),

		ctx:    ctx,
		cancel: cancel,

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	if c != nil && conf.HeartbeatInterval > 0 {
		if err := c.Register(heartbeatJob, s.beat, conf.HeartbeatInterval); err != nil {
			cancel()
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"link":      l,
		"rate":      conf.Rate,
		"burst":     burst,
		"heartbeat": conf.HeartbeatInterval,
	}).Info("Started Sender")

	go s.handle()

	return s, nil
}

// beat requests a heartbeat from the Sender's goroutine. Called by the Cron.
func (s *Sender) beat() {
	select {
	case s.beatChan <- struct{}{}:
	default:
	}
}

// wakeup the Sender's goroutine, after a Queue changed.
func (s *Sender) wakeup() {
	select {
	case s.wakeChan <- struct{}{}:
	default:
	}
}

// Attach a new Queue for a session. Blocks pushed to the Queue are sent until
// the Queue is closed.
func (s *Sender) Attach(session wire.SessionID, size int) (*Queue, error) {
	q := &Queue{
		Session: session,
		blocks:  make(chan Block, size),
		sender:  s,
	}

	s.attached.Add(1)
	select {
	case s.attachChan <- q:
		return q, nil
	case <-s.stopSyn:
		s.attached.Add(-1)
		return nil, ErrClosed
	}
}

func (s *Sender) handle() {
	defer close(s.stopAck)

	var queues []*Queue
	var beatCounter uint32

	for {
		select {
		case <-s.stopSyn:
			return

		case q := <-s.attachChan:
			queues = append(queues, q)
			continue

		case <-s.beatChan:
			s.heartbeat(beatCounter)
			beatCounter++

		default:
		}

		// One round: at most one block for each session.
		sent := false
		for i := 0; i < len(queues); {
			select {
			case b, ok := <-queues[i].blocks:
				if !ok {
					log.WithField("session", queues[i].Session).Debug("Sender detached closed queue")
					queues = append(queues[:i], queues[i+1:]...)
					s.attached.Add(-1)
					continue
				}

				s.transmit(b)
				sent = true

			default:
			}
			i++
		}

		if sent {
			continue
		}

		select {
		case <-s.stopSyn:
			return

		case q := <-s.attachChan:
			queues = append(queues, q)

		case <-s.beatChan:
			s.heartbeat(beatCounter)
			beatCounter++

		case <-s.wakeChan:
		}
	}
}

func (s *Sender) transmit(b Block) {
	for _, datagram := range b.Datagrams {
		if !s.pace(len(datagram)) {
			return
		}

		if err := s.link.Send(datagram); err != nil {
			s.errors.Add(1)
			log.WithFields(log.Fields{
				"block": b.Key,
				"link":  s.link,
			}).WithError(err).Warn("Sending datagram errored")
			continue
		}

		s.datagrams.Add(1)
		s.bytes.Add(uint64(len(datagram)))
	}

	log.WithFields(log.Fields{
		"block":     b.Key,
		"datagrams": len(b.Datagrams),
		"bytes":     b.Bytes,
	}).Debug("Sender transmitted block")
}

func (s *Sender) heartbeat(counter uint32) {
	datagram := wire.NewHeartbeat(counter).Bytes()
	if !s.pace(len(datagram)) {
		return
	}

	if err := s.link.Send(datagram); err != nil {
		s.errors.Add(1)
		log.WithField("link", s.link).WithError(err).Warn("Sending heartbeat errored")
		return
	}

	s.heartbeats.Add(1)
	log.WithField("counter", counter).Debug("Sender transmitted heartbeat")
}

// pace waits until n bytes might be sent. It returns false if the Sender was
// closed in the meantime.
func (s *Sender) pace(n int) bool {
	if burst := s.limiter.Burst(); n > burst {
		n = burst
	}
	return s.limiter.WaitN(s.ctx, n) == nil
}

// Drain waits until all attached Queues were closed and completely sent.
func (s *Sender) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.attached.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopSyn:
			return ErrClosed
		}
	}
	return nil
}

// Stats returns the Sender's counters.
func (s *Sender) Stats() Stats {
	return Stats{
		Datagrams:  s.datagrams.Load(),
		Bytes:      s.bytes.Load(),
		Heartbeats: s.heartbeats.Load(),
		Errors:     s.errors.Load(),
	}
}

// Close this Sender and its Link. Blocks which were not yet sent are dropped.
func (s *Sender) Close() error {
	if s.cron != nil {
		s.cron.Unregister(heartbeatJob)
	}

	s.cancel()
	close(s.stopSyn)
	<-s.stopAck

	return s.link.Close()
}

// Queue of framed blocks of one session, waiting for the Sender.
type Queue struct {
	Session wire.SessionID

	blocks chan Block
	sender *Sender
}

// Push a Block into this Queue. Blocks while the Queue is full.
func (q *Queue) Push(ctx context.Context, b Block) error {
	select {
	case <-q.sender.stopSyn:
		return ErrClosed
	default:
	}

	select {
	case q.blocks <- b:
		q.sender.wakeup()
		return nil

	case <-ctx.Done():
		return ctx.Err()

	case <-q.sender.stopSyn:
		return ErrClosed
	}
}

// Close this Queue after its last Block was pushed. Already pushed Blocks
// are still sent.
func (q *Queue) Close() {
	close(q.blocks)
	q.sender.wakeup()
}
