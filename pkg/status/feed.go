// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package status

import (
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/dtn7/diode-go/pkg/session"
)

const (
	feedClientQueue = 64
	feedWriteWait   = 5 * time.Second
)

// Feed publishes session Events to WebSocket clients as JSON messages.
// It implements session.Observer.
type Feed struct {
	sync.Mutex

	clients  map[*feedClient]struct{}
	upgrader websocket.Upgrader
}

// NewFeed without any clients.
func NewFeed() *Feed {
	return &Feed{
		clients:  make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{},
	}
}

// Notify all connected clients. Clients which cannot keep up are dropped.
func (f *Feed) Notify(e session.Event) {
	f.Lock()
	defer f.Unlock()

	for client := range f.clients {
		select {
		case client.events <- e:
		default:
			log.WithField("feed client", client).Info("Event feed client is too slow, disconnecting")
			f.unregister(client)
		}
	}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.Lock()
	defer f.Unlock()

	return len(f.clients)
}

// ServeHTTP upgrades the request to a WebSocket and streams Events until the
// client disconnects.
func (f *Feed) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, connErr := f.upgrader.Upgrade(rw, r, nil)
	if connErr != nil {
		log.WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	client := &feedClient{
		conn:   conn,
		events: make(chan session.Event, feedClientQueue),
		closed: make(chan struct{}),
	}

	f.Lock()
	f.clients[client] = struct{}{}
	f.Unlock()

	log.WithField("feed client", client).Debug("Event feed client connected")

	go client.handleConn()
	client.handleEvents()

	f.Lock()
	f.unregister(client)
	f.Unlock()
}

// unregister a client; the Feed must be locked.
func (f *Feed) unregister(client *feedClient) {
	if _, ok := f.clients[client]; !ok {
		return
	}

	delete(f.clients, client)
	client.shutdown()
}

// Close disconnects all clients.
func (f *Feed) Close() {
	f.Lock()
	defer f.Unlock()

	for client := range f.clients {
		f.unregister(client)
	}
}

type feedClient struct {
	conn   *websocket.Conn
	events chan session.Event

	closeOnce sync.Once
	closed    chan struct{}
}

func (client *feedClient) String() string {
	return client.conn.RemoteAddr().String()
}

func (client *feedClient) shutdown() {
	client.closeOnce.Do(func() {
		close(client.closed)
		_ = client.conn.Close()
	})
}

// handleEvents writes Events to the client until it is closed.
func (client *feedClient) handleEvents() {
	defer client.shutdown()

	for {
		select {
		case e := <-client.events:
			_ = client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := client.conn.WriteJSON(e); err != nil {
				log.WithField("feed client", client).WithError(err).Debug("Writing event errored")
				return
			}

		case <-client.closed:
			return
		}
	}
}

// handleConn reads and discards client messages to notice a disconnect.
func (client *feedClient) handleConn() {
	defer client.shutdown()

	for {
		if _, _, err := client.conn.NextReader(); err != nil {
			log.WithField("feed client", client).WithError(err).Debug("Event feed client disconnected")
			return
		}
	}
}
