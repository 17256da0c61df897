// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package journal persists the outcome of finished sessions.
//
// Neither side of a diode can ask the other one what happened to a session.
// The Journal keeps a local record of each finished session for operators,
// e.g., to compare both sides after a data loss was reported.
package journal

import (
	"fmt"
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/dtn7/diode-go/pkg/session"
)

// Record of a finished session.
type Record struct {
	Key string `badgerhold:"key" json:"key"`

	Side    string `json:"side"`
	Session uint32 `json:"session"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Bytes    uint64    `json:"bytes"`
	Blocks   uint32    `json:"blocks"`

	Outcome string `badgerholdIndex:"Outcome" json:"outcome"`
	Error   string `json:"error,omitempty"`

	Expires time.Time `badgerholdIndex:"Expires" json:"expires"`
}

// newRecord from a Finished session.Event.
func newRecord(e session.Event, retention time.Duration) Record {
	return Record{
		Key: fmt.Sprintf("%s-%010d-%d", e.Side, e.Session.ID, e.Time.UnixNano()),

		Side:    string(e.Side),
		Session: uint32(e.Session.ID),

		Started:  e.Session.Created,
		Finished: e.Time,
		Bytes:    e.Session.Bytes,
		Blocks:   e.Session.Blocks,

		Outcome: string(e.Outcome),
		Error:   e.Error,

		Expires: e.Time.Add(retention),
	}
}

// Journal stores Records in a badgerhold database. It observes sessions and
// records each Finished event.
type Journal struct {
	bh        *badgerhold.Store
	retention time.Duration

	eventChan chan session.Event

	stopSyn chan struct{}
	stopAck chan struct{}
}

// Open a new or existing Journal within the directory. Records are kept for
// the retention duration.
func Open(dir string, retention time.Duration) (j *Journal, err error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<26 - 1

	if dirErr := os.MkdirAll(dir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		j = &Journal{
			bh:        bh,
			retention: retention,

			eventChan: make(chan session.Event, 64),

			stopSyn: make(chan struct{}),
			stopAck: make(chan struct{}),
		}

		go j.handle()
	}
	return
}

func (j *Journal) handle() {
	defer close(j.stopAck)

	for {
		select {
		case e := <-j.eventChan:
			j.record(e)

		case <-j.stopSyn:
			for {
				select {
				case e := <-j.eventChan:
					j.record(e)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) record(e session.Event) {
	if err := j.Push(newRecord(e, j.retention)); err != nil {
		log.WithFields(log.Fields{
			"event": e,
			"error": err,
		}).Warn("Journal failed to store session record")
	}
}

// Notify implements session.Observer. Finished events are stored
// asynchronously; events are dropped if the Journal falls behind.
func (j *Journal) Notify(e session.Event) {
	if e.Type != session.Finished {
		return
	}

	select {
	case j.eventChan <- e:
	default:
		log.WithField("event", e).Warn("Journal is congested, dropping session record")
	}
}

// Push a Record to the Journal.
func (j *Journal) Push(r Record) error {
	log.WithFields(log.Fields{
		"record":  r.Key,
		"outcome": r.Outcome,
	}).Debug("Journal stores session record")

	return j.bh.Upsert(r.Key, r)
}

// Query all Records of an Outcome, ordered by their finishing time.
func (j *Journal) Query(outcome session.Outcome) (records []Record, err error) {
	err = j.bh.Find(&records, badgerhold.Where("Outcome").Eq(string(outcome)))
	sortRecords(records)
	return
}

// All Records, ordered by their finishing time.
func (j *Journal) All() (records []Record, err error) {
	err = j.bh.Find(&records, nil)
	sortRecords(records)
	return
}

func sortRecords(records []Record) {
	sort.Slice(records, func(a, b int) bool {
		return records[a].Finished.Before(records[b].Finished)
	})
}

// DeleteExpired removes all expired Records.
func (j *Journal) DeleteExpired() {
	var records []Record
	if err := j.bh.Find(&records, badgerhold.Where("Expires").Lt(time.Now())); err != nil {
		log.WithError(err).Warn("Failed to get expired session records")
		return
	}

	for _, r := range records {
		logger := log.WithField("record", r.Key)
		if err := j.bh.Delete(r.Key, Record{}); err != nil {
			logger.WithError(err).Warn("Failed to delete expired session record")
		} else {
			logger.Debug("Deleted expired session record")
		}
	}
}

// Close the Journal after storing pending events. It must not be used afterwards.
func (j *Journal) Close() error {
	close(j.stopSyn)
	<-j.stopAck

	return j.bh.Close()
}
