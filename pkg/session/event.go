// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"fmt"
	"time"
)

// Side of the diode reporting an Event.
type Side string

const (
	SendSide    Side = "send"
	ReceiveSide Side = "receive"
)

// EventType indicates the kind of an Event.
type EventType string

const (
	// Started is reported when a session is created.
	Started EventType = "started"

	// Finished is reported once, when a session reached its Outcome.
	Finished EventType = "finished"
)

// Event about a session's lifecycle.
type Event struct {
	Type    EventType `json:"type"`
	Side    Side      `json:"side"`
	Time    time.Time `json:"time"`
	Session Info      `json:"session"`
	Outcome Outcome   `json:"outcome,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// NewStarted creates a Started Event for a Session.
func NewStarted(side Side, s *Session) Event {
	return Event{
		Type:    Started,
		Side:    side,
		Time:    time.Now(),
		Session: s.Snapshot(),
	}
}

// NewFinished creates a Finished Event for a Session and its terminal error.
func NewFinished(side Side, s *Session, err error) Event {
	e := Event{
		Type:    Finished,
		Side:    side,
		Time:    time.Now(),
		Session: s.Snapshot(),
		Outcome: OutcomeOf(err),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (e Event) String() string {
	if e.Type == Finished {
		return fmt.Sprintf("%s-side session %d %s: %s", e.Side, e.Session.ID, e.Type, e.Outcome)
	}
	return fmt.Sprintf("%s-side session %d %s", e.Side, e.Session.ID, e.Type)
}

// Observer is notified about Events. Observers are called synchronously by
// the session's owner and must not block.
type Observer interface {
	Notify(Event)
}

// Observers fans out Events to multiple Observers.
type Observers []Observer

// Notify all contained Observers.
func (obs Observers) Notify(e Event) {
	for _, o := range obs {
		if o != nil {
			o.Notify(e)
		}
	}
}
