// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package receive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/dtn7/diode-go/pkg/session"
	"github.com/dtn7/diode-go/pkg/wire"
)

// stream is the worker of one receiving session. It reassembles the session's
// blocks and delivers them in order to its writer. Only the run goroutine
// accesses the stream's state.
type stream struct {
	sess   *session.Session
	conf   Config
	stats  *counters
	shards chan wire.Shard
	writer *writer

	// contexts of blocks being collected, keyed by block number; blocks
	// below next are never in here.
	contexts map[wire.BlockNumber]*reassembly

	// ready holds decoded blocks waiting for their predecessors.
	ready map[wire.BlockNumber][]byte

	// next is the block number to be delivered next.
	next wire.BlockNumber

	// horizon is the lowest data block number without a reassembly yet.
	horizon wire.BlockNumber

	// end is known after the terminator block was decoded.
	end *wire.EndRecord

	deadlineTimer *time.Timer
}

func newStream(sess *session.Session, conf Config, open Opener, stats *counters) *stream {
	return &stream{
		sess:     sess,
		conf:     conf,
		stats:    stats,
		shards:   make(chan wire.Shard, conf.QueueSize),
		writer:   newWriter(sess.ID, open, conf.Window),
		contexts: make(map[wire.BlockNumber]*reassembly),
		ready:    make(map[wire.BlockNumber][]byte),
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// run this stream until it completed or failed. The returned error is nil
// for a cleanly completed session.
func (st *stream) run(ctx context.Context) error {
	inactivity := time.NewTimer(st.conf.InactivityTimeout)
	defer inactivity.Stop()

	st.deadlineTimer = time.NewTimer(st.conf.BlockDeadline)
	stopTimer(st.deadlineTimer)
	defer st.deadlineTimer.Stop()

	for {
		var err error

		select {
		case s := <-st.shards:
			var active bool
			if active, err = st.handleShard(ctx, s); active {
				stopTimer(inactivity)
				inactivity.Reset(st.conf.InactivityTimeout)
			}

		case now := <-st.deadlineTimer.C:
			err = st.expire(now)

		case <-inactivity.C:
			err = fmt.Errorf("%w: no shard within %v", session.ErrTimeout, st.conf.InactivityTimeout)

		case err = <-st.writer.failed:

		case <-ctx.Done():
			err = ErrClosed
		}

		if err == nil {
			if done, cErr := st.complete(); cErr != nil {
				err = cErr
			} else if done {
				return st.writer.finish(nil)
			}
		}

		if err != nil {
			return st.writer.finish(err)
		}

		st.armDeadline()
	}
}

func (st *stream) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"session": st.sess.ID,
		"next":    st.next,
	})
}

// placeholders creates reassembly contexts for all data blocks up to and
// including last, which do not have one yet. A block which never shows up
// thereby still expires.
func (st *stream) placeholders(last wire.BlockNumber, deadline time.Time) {
	if st.horizon < st.next {
		st.horizon = st.next
	}

	for ; st.horizon <= last; st.horizon++ {
		if _, ok := st.ready[st.horizon]; ok {
			continue
		}
		if _, ok := st.contexts[st.horizon]; ok {
			continue
		}

		key := wire.BlockKey{Session: st.sess.ID, Block: st.horizon}
		st.contexts[st.horizon] = newReassembly(key, deadline)
	}
}

// handleShard adds a shard to its block. It reports active if the shard
// contributed to a block; duplicates and stale shards are no activity.
func (st *stream) handleShard(ctx context.Context, s wire.Shard) (active bool, err error) {
	bn := s.Block
	deadline := time.Now().Add(st.conf.BlockDeadline)

	if bn == wire.TerminatorBlock {
		if st.end != nil {
			return
		}
	} else {
		if bn < st.next {
			return
		}
		if _, ok := st.ready[bn]; ok {
			return
		}
		if st.end != nil && uint32(bn) >= st.end.Blocks {
			st.logger().WithField("block", bn).Debug("Dropping shard of a block after the session's end")
			return
		}
		if uint64(bn) >= uint64(st.next)+uint64(st.conf.Window) {
			err = fmt.Errorf("%w: block %v is beyond the window of %d blocks",
				session.ErrDataLoss, bn, st.conf.Window)
			return
		}

		st.placeholders(bn, deadline)
	}

	r, ok := st.contexts[bn]
	if !ok {
		r = newReassembly(s.Key(), deadline)
		st.contexts[bn] = r
	}

	count := r.count
	ready, addErr := r.add(s)
	if addErr != nil {
		st.stats.inconsistent.Add(1)
		st.logger().WithError(addErr).Debug("Dropping inconsistent shard")
		return
	}
	if r.count == count {
		return
	}

	active = true
	st.sess.Touch()

	if !ready {
		return
	}

	data, decErr := r.decode()
	delete(st.contexts, bn)
	if decErr != nil {
		err = fmt.Errorf("%w: decoding block %v: %v", session.ErrDataLoss, bn, decErr)
		return
	}

	if r.header.Flags.Has(wire.FlagCompressed) {
		if data, decErr = decompress(data, st.conf.MaxBlockSize); decErr != nil {
			err = fmt.Errorf("%w: decompressing block %v: %v", session.ErrDataLoss, bn, decErr)
			return
		}
	}

	if bn == wire.TerminatorBlock {
		err = st.terminate(r.header, data)
		return
	}

	st.logger().WithFields(log.Fields{
		"block": bn,
		"bytes": len(data),
	}).Debug("Decoded block")

	st.ready[bn] = data
	err = st.deliver(ctx)
	return
}

// terminate handles the decoded terminator block.
func (st *stream) terminate(h wire.Header, data []byte) error {
	if h.Flags.Has(wire.FlagAbort) {
		return session.ErrAborted
	}

	var record wire.EndRecord
	if err := record.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("%w: %v", session.ErrDataLoss, err)
	}

	if record.Blocks < uint32(st.next) {
		return fmt.Errorf("%w: %v, but %d blocks were delivered", session.ErrDataLoss, record, st.next)
	}
	if uint64(record.Blocks) > uint64(st.next)+uint64(st.conf.Window) {
		return fmt.Errorf("%w: %v exceeds the window of %d blocks", session.ErrDataLoss, record, st.conf.Window)
	}

	for bn := range st.contexts {
		if uint32(bn) >= record.Blocks {
			delete(st.contexts, bn)
		}
	}
	for bn := range st.ready {
		if uint32(bn) >= record.Blocks {
			delete(st.ready, bn)
		}
	}

	st.end = &record
	if record.Blocks > uint32(st.next) {
		st.placeholders(wire.BlockNumber(record.Blocks-1), time.Now().Add(st.conf.BlockDeadline))
	}

	st.logger().WithField("end", record).Debug("Received terminator")
	return nil
}

// deliver all consecutive ready blocks to the writer.
func (st *stream) deliver(ctx context.Context) error {
	for {
		data, ok := st.ready[st.next]
		if !ok {
			return nil
		}
		delete(st.ready, st.next)

		if err := st.writer.write(ctx, data); err != nil {
			return err
		}

		st.sess.AddBlock(len(data))
		st.next++
	}
}

// complete checks if the session ended and all of its blocks were delivered.
func (st *stream) complete() (bool, error) {
	if st.end == nil || uint32(st.next) != st.end.Blocks {
		return false, nil
	}

	if n := st.sess.Bytes(); n != st.end.Bytes {
		return false, fmt.Errorf("%w: delivered %d bytes, but %v", session.ErrDataLoss, n, *st.end)
	}
	return true, nil
}

// expire all overdue reassembly contexts. Each one is a gap in the stream.
func (st *stream) expire(now time.Time) error {
	for bn, r := range st.contexts {
		if !r.expire(now) {
			continue
		}

		count, total := r.count, 0
		if r.known {
			total = int(r.header.DataShards)
		}
		return fmt.Errorf("%w: block %v expired with %d of %d required shards",
			session.ErrDataLoss, bn, count, total)
	}
	return nil
}

// armDeadline sets the deadline timer to the earliest pending deadline.
func (st *stream) armDeadline() {
	var earliest time.Time
	for _, r := range st.contexts {
		if earliest.IsZero() || r.deadline.Before(earliest) {
			earliest = r.deadline
		}
	}

	stopTimer(st.deadlineTimer)
	if !earliest.IsZero() {
		st.deadlineTimer.Reset(time.Until(earliest))
	}
}

func decompress(data []byte, limit int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	plain, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(plain) > limit {
		return nil, fmt.Errorf("decompressed block exceeds %d bytes", limit)
	}
	return plain, nil
}

// drainGrace bounds how long a failed session's writer may still deliver
// queued blocks before its Sink is aborted.
const drainGrace = time.Second

// writer delivers a session's blocks to its Sink in its own goroutine, so a
// slow downstream consumer does not stall reassembly.
type writer struct {
	session wire.SessionID
	open    Opener

	blocks chan []byte
	failed chan error
	done   chan struct{}

	// err is owned by run until done is closed.
	err error

	// sink is set by run, aborted marks a Sink which must not be written.
	mutex   sync.Mutex
	sink    Sink
	aborted bool
}

func newWriter(session wire.SessionID, open Opener, queue int) *writer {
	w := &writer{
		session: session,
		open:    open,
		blocks:  make(chan []byte, queue),
		failed:  make(chan error, 1),
		done:    make(chan struct{}),
	}

	go w.run()

	return w
}

func (w *writer) run() {
	defer close(w.done)

	for data := range w.blocks {
		if w.err != nil {
			continue
		}

		sink, err := w.acquire()
		if err == nil {
			if _, err = sink.Write(data); err != nil {
				err = fmt.Errorf("writing downstream: %w", err)
			}
		}

		if err != nil {
			w.err = err
			w.failed <- w.err
		}
	}
}

// acquire the Sink, opening it on first use.
func (w *writer) acquire() (Sink, error) {
	w.mutex.Lock()
	sink, aborted := w.sink, w.aborted
	w.mutex.Unlock()

	if aborted {
		return nil, ErrClosed
	} else if sink != nil {
		return sink, nil
	}

	sink, err := w.open(w.session)
	if err != nil {
		return nil, err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.aborted {
		sink.Abort(ErrClosed)
		return nil, ErrClosed
	}
	w.sink = sink
	return sink, nil
}

// abort the Sink, if opened, and prevent a later one. This may interrupt a
// pending Write of run.
func (w *writer) abort(err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.aborted {
		return
	}
	w.aborted = true

	if w.sink != nil {
		w.sink.Abort(err)
	}
}

// write queues data for the Sink.
func (w *writer) write(ctx context.Context, data []byte) error {
	select {
	case w.blocks <- data:
		return nil
	case err := <-w.failed:
		return err
	case <-ctx.Done():
		return ErrClosed
	}
}

// finish the writer after the session's last block. On success, the Sink is
// closed; it is opened first for an empty session. Otherwise, an opened Sink
// is aborted and no new Sink is created. Queued blocks are still delivered
// within drainGrace, but not after the Receiver was closed.
func (w *writer) finish(err error) error {
	close(w.blocks)

	if err != nil {
		if errors.Is(err, ErrClosed) {
			w.abort(err)
		} else {
			grace := time.NewTimer(drainGrace)
			select {
			case <-w.done:
			case <-grace.C:
				w.abort(err)
			}
			grace.Stop()
		}
	}
	<-w.done

	if err == nil && w.err != nil {
		err = w.err
	}

	if err != nil {
		w.abort(err)
		return err
	}

	if w.sink == nil {
		if w.sink, err = w.open(w.session); err != nil {
			return err
		}
	}
	return w.sink.Close()
}
