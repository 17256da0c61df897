// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package status offers a read-only HTTP API about one side of the diode.
//
//	GET /sessions            active sessions
//	GET /stats               counters of the sender or receiver
//	GET /journal?outcome=... finished sessions, if a journal is configured
//	GET /events              WebSocket feed of session events
package status

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/dtn7/diode-go/pkg/journal"
	"github.com/dtn7/diode-go/pkg/session"
)

// Lister lists the active sessions, e.g., a send.Multiplexer or a
// receive.Receiver.
type Lister interface {
	Sessions() []session.Info
}

// Journal of finished sessions.
type Journal interface {
	All() ([]journal.Record, error)
	Query(outcome session.Outcome) ([]journal.Record, error)
}

// Server for the status API.
type Server struct {
	router *mux.Router
	feed   *Feed

	sessions Lister
	stats    func() interface{}
	journal  Journal

	httpServer *http.Server
}

// NewServer for a Lister and a function returning the current counters.
func NewServer(sessions Lister, stats func() interface{}) (s *Server) {
	s = &Server{
		router: mux.NewRouter(),
		feed:   NewFeed(),

		sessions: sessions,
		stats:    stats,
	}

	s.router.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/journal", s.handleJournal).Methods(http.MethodGet)
	s.router.Handle("/events", s.feed).Methods(http.MethodGet)

	return
}

// SetJournal to be queried by /journal.
func (s *Server) SetJournal(j Journal) {
	s.journal = j
}

// Notify implements session.Observer, forwarding Events to the /events feed.
func (s *Server) Notify(e session.Event) {
	s.feed.Notify(e)
}

// ServeHTTP is a http.Handler for the whole API.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serving on the TCP address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("Status server errored")
		}
	}()

	log.WithField("address", ln.Addr()).Info("Started status server")
	return nil
}

// Close the server and all event feed clients.
func (s *Server) Close() error {
	s.feed.Close()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write status response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.sessions.Sessions()
	if infos == nil {
		infos = []session.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"no journal configured"})
		return
	}

	var (
		records []journal.Record
		err     error
	)
	switch outcome := r.URL.Query().Get("outcome"); session.Outcome(outcome) {
	case "":
		records, err = s.journal.All()
	case session.Completed, session.DataLoss, session.Timeout, session.Aborted, session.Failed:
		records, err = s.journal.Query(session.Outcome(outcome))
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{"unknown outcome " + outcome})
		return
	}

	if err != nil {
		log.WithError(err).Warn("Querying journal errored")
		writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})
		return
	}

	if records == nil {
		records = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
