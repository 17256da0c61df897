// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
)

// Filter decides the fate of the n-th datagram passing a Hub. It returns how
// often the datagram should be delivered: zero drops it, two duplicates it.
type Filter func(n int, datagram []byte) int

// DropEvery drops each n-th datagram.
func DropEvery(n int) Filter {
	return func(i int, _ []byte) int {
		if n > 0 && (i+1)%n == 0 {
			return 0
		}
		return 1
	}
}

// DropRandom drops datagrams with probability p, using a seeded source for
// reproducible runs.
func DropRandom(p float64, seed int64) Filter {
	rnd := rand.New(rand.NewSource(seed))
	return func(int, []byte) int {
		if rnd.Float64() < p {
			return 0
		}
		return 1
	}
}

// DuplicateAll delivers each datagram twice.
func DuplicateAll() Filter {
	return func(int, []byte) int {
		return 2
	}
}

// Hub connects HubLinks in memory and is used for testing or for in-process
// bridges. A datagram sent on one HubLink is delivered to every other
// HubLink, after passing the Hub's Filter.
type Hub struct {
	mutex   sync.Mutex
	links   []*HubLink
	filter  Filter
	counter int
}

// NewHub creates a new Hub. A nil Filter delivers everything exactly once.
func NewHub(filter Filter) *Hub {
	return &Hub{filter: filter}
}

// Sent returns the number of datagrams which were passed to this Hub.
func (hub *Hub) Sent() int {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	return hub.counter
}

// Link creates a new HubLink attached to this Hub. The queue size is the
// amount of datagrams buffered for a slow receiver before senders block.
func (hub *Hub) Link(mtu, queue int) *HubLink {
	l := &HubLink{
		mtu:     mtu,
		hub:     hub,
		inChan:  make(chan []byte, queue),
		closed:  make(chan struct{}),
		counter: len(hub.links),
	}

	hub.mutex.Lock()
	hub.links = append(hub.links, l)
	hub.mutex.Unlock()

	return l
}

// receive a datagram from one HubLink and distribute it to the others.
func (hub *Hub) receive(from *HubLink, datagram []byte) {
	hub.mutex.Lock()
	n := hub.counter
	hub.counter++

	copies := 1
	if hub.filter != nil {
		copies = hub.filter(n, datagram)
	}

	links := make([]*HubLink, 0, len(hub.links))
	for _, l := range hub.links {
		if l != from {
			links = append(links, l)
		}
	}
	hub.mutex.Unlock()

	for i := 0; i < copies; i++ {
		for _, l := range links {
			buf := make([]byte, len(datagram))
			copy(buf, datagram)
			l.deliver(buf)
		}
	}
}

// HubLink is a Link attached to a Hub.
type HubLink struct {
	mtu     int
	hub     *Hub
	inChan  chan []byte
	counter int

	closeOnce sync.Once
	closed    chan struct{}
}

// deliver a datagram from the Hub to this HubLink. Blocks if the HubLink's
// queue is full, unless it was closed.
func (l *HubLink) deliver(datagram []byte) {
	select {
	case l.inChan <- datagram:
	case <-l.closed:
	}
}

func (l *HubLink) MTU() int {
	return l.mtu
}

func (l *HubLink) Send(datagram []byte) error {
	if len(datagram) > l.mtu {
		return fmt.Errorf("link: datagram of %d bytes exceeds MTU %d", len(datagram), l.mtu)
	}

	select {
	case <-l.closed:
		return io.ErrClosedPipe
	default:
	}

	l.hub.receive(l, datagram)
	return nil
}

func (l *HubLink) Receive() ([]byte, error) {
	select {
	case datagram := <-l.inChan:
		return datagram, nil
	case <-l.closed:
		return nil, io.EOF
	}
}

func (l *HubLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *HubLink) String() string {
	return fmt.Sprintf("hub/%d?mtu=%d", l.counter, l.mtu)
}
