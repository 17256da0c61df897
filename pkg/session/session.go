// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session models the logical streams crossing the diode, their
// outcomes and the lifecycle events both sides report.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtn7/diode-go/pkg/wire"
)

// Terminal session errors, as seen by the downstream consumer.
var (
	// ErrDataLoss terminates a session whose byte stream has an unrecoverable gap.
	ErrDataLoss = errors.New("session: unrecoverable data loss")

	// ErrTimeout terminates a stalled session without any activity.
	ErrTimeout = errors.New("session: inactivity timeout")

	// ErrAborted terminates a session which failed on the sending side.
	ErrAborted = errors.New("session: aborted by sender")
)

// Outcome of a finished session.
type Outcome string

const (
	Completed Outcome = "completed"
	DataLoss  Outcome = "data-loss"
	Timeout   Outcome = "timeout"
	Aborted   Outcome = "aborted"
	Failed    Outcome = "failed"
)

// OutcomeOf maps a session's terminal error to its Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Completed
	case errors.Is(err, ErrDataLoss):
		return DataLoss
	case errors.Is(err, ErrTimeout):
		return Timeout
	case errors.Is(err, ErrAborted):
		return Aborted
	default:
		return Failed
	}
}

// Session is one logical end-to-end stream. Its counters might be read
// concurrently, e.g., by the status API, but are only written by the
// session's owner.
type Session struct {
	ID      wire.SessionID
	Created time.Time

	lastActivity atomic.Int64
	bytes        atomic.Uint64
	blocks       atomic.Uint32
	terminal     atomic.Bool
}

// New creates a Session starting now.
func New(id wire.SessionID) *Session {
	s := &Session{
		ID:      id,
		Created: time.Now(),
	}
	s.Touch()
	return s
}

// Touch marks activity on this session.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last Touch.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// AddBlock accounts a block of n stream bytes.
func (s *Session) AddBlock(n int) {
	s.blocks.Add(1)
	s.bytes.Add(uint64(n))
	s.Touch()
}

// Bytes returns the amount of stream bytes handled so far.
func (s *Session) Bytes() uint64 {
	return s.bytes.Load()
}

// Blocks returns the amount of data blocks handled so far.
func (s *Session) Blocks() uint32 {
	return s.blocks.Load()
}

// Terminate marks this session as finished. It returns false if the session
// was already terminated before.
func (s *Session) Terminate() bool {
	return s.terminal.CompareAndSwap(false, true)
}

// IsTerminal reports whether this session was terminated.
func (s *Session) IsTerminal() bool {
	return s.terminal.Load()
}

// Snapshot returns an Info copy of the current state.
func (s *Session) Snapshot() Info {
	return Info{
		ID:           s.ID,
		Created:      s.Created,
		LastActivity: s.LastActivity(),
		Bytes:        s.Bytes(),
		Blocks:       s.Blocks(),
		Terminal:     s.IsTerminal(),
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(%d)", s.ID)
}

// Info is a point-in-time view of a Session.
type Info struct {
	ID           wire.SessionID `json:"id"`
	Created      time.Time      `json:"created"`
	LastActivity time.Time      `json:"last_activity"`
	Bytes        uint64         `json:"bytes"`
	Blocks       uint32         `json:"blocks"`
	Terminal     bool           `json:"terminal"`
}

// Registry lists the active sessions of one side of the diode.
type Registry struct {
	sessions sync.Map // wire.SessionID -> *Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add a Session to this Registry.
func (r *Registry) Add(s *Session) {
	r.sessions.Store(s.ID, s)
}

// Remove a Session by its ID.
func (r *Registry) Remove(id wire.SessionID) {
	r.sessions.Delete(id)
}

// Get a Session by its ID.
func (r *Registry) Get(id wire.SessionID) (*Session, bool) {
	s, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return s.(*Session), true
}

// Snapshot returns Info about all active sessions.
func (r *Registry) Snapshot() (infos []Info) {
	r.sessions.Range(func(_, s interface{}) bool {
		infos = append(infos, s.(*Session).Snapshot())
		return true
	})
	return
}

// Len returns the number of active sessions.
func (r *Registry) Len() (n int) {
	r.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return
}
