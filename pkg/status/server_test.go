// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dtn7/diode-go/pkg/journal"
	"github.com/dtn7/diode-go/pkg/session"
)

type staticLister []session.Info

func (sl staticLister) Sessions() []session.Info {
	return sl
}

type staticJournal []journal.Record

func (sj staticJournal) All() ([]journal.Record, error) {
	return sj, nil
}

func (sj staticJournal) Query(outcome session.Outcome) (records []journal.Record, _ error) {
	for _, r := range sj {
		if r.Outcome == string(outcome) {
			records = append(records, r)
		}
	}
	return
}

func newTestServer(t *testing.T, j Journal) (*Server, *httptest.Server) {
	t.Helper()

	lister := staticLister{
		session.New(1).Snapshot(),
		session.New(2).Snapshot(),
	}
	stats := func() interface{} {
		return map[string]int{"datagrams": 23}
	}

	s := NewServer(lister, stats)
	if j != nil {
		s.SetJournal(j)
	}

	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		_ = s.Close()
		ts.Close()
	})
	return s, ts
}

func getJSON(t *testing.T, url string, status int, v interface{}) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != status {
		t.Fatalf("GET %s returned %d, expected %d", url, resp.StatusCode, status)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestServerSessions(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var infos []session.Info
	getJSON(t, ts.URL+"/sessions", http.StatusOK, &infos)
	if len(infos) != 2 {
		t.Fatalf("Received %d sessions", len(infos))
	}

	var stats map[string]int
	getJSON(t, ts.URL+"/stats", http.StatusOK, &stats)
	if stats["datagrams"] != 23 {
		t.Fatalf("Received stats %v", stats)
	}

	if resp, err := http.Post(ts.URL+"/sessions", "application/json", strings.NewReader("{}")); err != nil {
		t.Fatal(err)
	} else if resp.Body.Close(); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /sessions returned %d", resp.StatusCode)
	}
}

func TestServerJournal(t *testing.T) {
	_, ts := newTestServer(t, nil)
	getJSON(t, ts.URL+"/journal", http.StatusNotFound, nil)

	_, ts = newTestServer(t, staticJournal{
		{Key: "a", Session: 1, Outcome: string(session.Completed)},
		{Key: "b", Session: 2, Outcome: string(session.DataLoss)},
		{Key: "c", Session: 3, Outcome: string(session.Completed)},
	})

	tests := []struct {
		query   string
		status  int
		records int
	}{
		{"", http.StatusOK, 3},
		{"?outcome=completed", http.StatusOK, 2},
		{"?outcome=data-loss", http.StatusOK, 1},
		{"?outcome=timeout", http.StatusOK, 0},
		{"?outcome=lost", http.StatusBadRequest, -1},
	}

	for _, test := range tests {
		if test.records < 0 {
			getJSON(t, ts.URL+"/journal"+test.query, test.status, nil)
			continue
		}

		var records []journal.Record
		getJSON(t, ts.URL+"/journal"+test.query, test.status, &records)
		if len(records) != test.records {
			t.Fatalf("Journal query %q returned %d records, expected %d", test.query, len(records), test.records)
		}
	}
}

func TestServerEvents(t *testing.T) {
	s, ts := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for deadline := time.Now().Add(time.Second); s.feed.Clients() != 1; {
		if time.Now().After(deadline) {
			t.Fatal("Feed client was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sess := session.New(42)
	s.Notify(session.NewStarted(session.ReceiveSide, sess))
	s.Notify(session.NewFinished(session.ReceiveSide, sess, session.ErrTimeout))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, expected := range []session.EventType{session.Started, session.Finished} {
		var e session.Event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatal(err)
		}
		if e.Type != expected || e.Session.ID != 42 {
			t.Fatalf("Received event %v, expected %v", e, expected)
		}
		if e.Type == session.Finished && e.Outcome != session.Timeout {
			t.Fatalf("Finished event has outcome %v", e.Outcome)
		}
	}

	_ = conn.Close()
	for deadline := time.Now().Add(time.Second); s.feed.Clients() != 0; {
		if time.Now().After(deadline) {
			t.Fatal("Feed client was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
