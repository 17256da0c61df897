// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package send

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dtn7/diode-go/pkg/cron"
	"github.com/dtn7/diode-go/pkg/link"
	"github.com/dtn7/diode-go/pkg/wire"
)

// gateLink records datagrams and blocks its first Send until the gate opens.
type gateLink struct {
	mutex     sync.Mutex
	datagrams [][]byte

	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func newGateLink() *gateLink {
	return &gateLink{
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (l *gateLink) MTU() int {
	return 1500
}

func (l *gateLink) Send(datagram []byte) error {
	l.once.Do(func() {
		close(l.entered)
		<-l.gate
	})

	l.mutex.Lock()
	l.datagrams = append(l.datagrams, datagram)
	l.mutex.Unlock()
	return nil
}

func (l *gateLink) Receive() ([]byte, error) {
	return nil, link.ErrDirection
}

func (l *gateLink) Close() error {
	return nil
}

func (l *gateLink) sent() (datagrams [][]byte) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return append(datagrams, l.datagrams...)
}

func testBlock(session wire.SessionID, n int) Block {
	return Block{
		Key:       wire.BlockKey{Session: session, Block: wire.BlockNumber(n)},
		Datagrams: [][]byte{{byte(session), byte(n)}},
	}
}

func testConfig() Config {
	conf := DefaultConfig()
	conf.DataShards = 4
	conf.ParityShards = 2
	conf.BlockSize = 4000
	conf.QueueSize = 4
	conf.FlushTimeout = 50 * time.Millisecond
	conf.HeartbeatInterval = 0
	return conf
}

func TestSenderRoundRobin(t *testing.T) {
	l := newGateLink()
	sender, err := NewSender(l, testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	q1, _ := sender.Attach(1, 4)
	q2, _ := sender.Attach(2, 4)

	ctx := context.Background()

	// The first block blocks the Sender until all others are queued.
	if err := q1.Push(ctx, testBlock(1, 0)); err != nil {
		t.Fatal(err)
	}
	<-l.entered

	for i := 1; i < 3; i++ {
		if err := q1.Push(ctx, testBlock(1, i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := q2.Push(ctx, testBlock(2, i)); err != nil {
			t.Fatal(err)
		}
	}
	q1.Close()
	q2.Close()
	close(l.gate)

	drainCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := sender.Drain(drainCtx); err != nil {
		t.Fatal(err)
	}

	expected := [][2]byte{{1, 0}, {2, 0}, {1, 1}, {2, 1}, {1, 2}, {2, 2}}
	datagrams := l.sent()
	if len(datagrams) != len(expected) {
		t.Fatalf("Sent %d datagrams, expected %d", len(datagrams), len(expected))
	}
	for i, d := range datagrams {
		if d[0] != expected[i][0] || d[1] != expected[i][1] {
			t.Fatalf("Datagram %d is %v, expected %v", i, d, expected[i])
		}
	}

	if stats := sender.Stats(); stats.Datagrams != 6 || stats.Bytes != 12 {
		t.Fatalf("Unexpected stats %v", stats)
	}
}

func TestSenderBackPressure(t *testing.T) {
	l := newGateLink()
	sender, err := NewSender(l, testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	q, _ := sender.Attach(1, 1)
	if err := q.Push(context.Background(), testBlock(1, 0)); err != nil {
		t.Fatal(err)
	}
	<-l.entered

	// One block is buffered, the next one must block.
	if err := q.Push(context.Background(), testBlock(1, 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, testBlock(1, 2)); err != context.DeadlineExceeded {
		t.Fatalf("Push on full queue returned %v", err)
	}

	close(l.gate)
	if err := sender.Close(); err != nil {
		t.Fatal(err)
	}

	if err := q.Push(context.Background(), testBlock(1, 3)); err != ErrClosed {
		t.Fatalf("Push on closed Sender returned %v", err)
	}
	if _, err := sender.Attach(2, 1); err != ErrClosed {
		t.Fatalf("Attach on closed Sender returned %v", err)
	}
}

func TestSenderHeartbeat(t *testing.T) {
	hub := link.NewHub(nil)
	out, in := hub.Link(1500, 16), hub.Link(1500, 16)

	c := cron.NewCron(10 * time.Millisecond)
	defer c.Stop()

	conf := testConfig()
	conf.HeartbeatInterval = 20 * time.Millisecond

	sender, err := NewSender(out, conf, c)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		datagram, err := in.Receive()
		if err != nil {
			t.Fatal(err)
		}

		s, err := wire.Parse(datagram)
		if err != nil {
			t.Fatal(err)
		}
		if s.Type != wire.TypeHeartbeat || s.Block != wire.BlockNumber(i) {
			t.Fatalf("Expected heartbeat %d, got %v", i, s.Header)
		}
	}

	if err := sender.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := out.Receive(); err != io.EOF {
		t.Fatalf("Sender did not close its link: %v", err)
	}
}

func TestSenderPacing(t *testing.T) {
	hub := link.NewHub(nil)
	out, in := hub.Link(1500, 32), hub.Link(1500, 32)

	conf := testConfig()
	conf.Rate = 10000

	sender, err := NewSender(out, conf, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	q, _ := sender.Attach(1, 16)

	start := time.Now()
	for i := 0; i < 10; i++ {
		b := Block{
			Key:       wire.BlockKey{Session: 1, Block: wire.BlockNumber(i)},
			Datagrams: [][]byte{make([]byte, 1000)},
		}
		if err := q.Push(context.Background(), b); err != nil {
			t.Fatal(err)
		}
	}
	q.Close()

	for i := 0; i < 10; i++ {
		if _, err := in.Receive(); err != nil {
			t.Fatal(err)
		}
	}

	// 10000 bytes at 10000 bytes/s, minus the initial burst of one MTU.
	if elapsed := time.Since(start); elapsed < 700*time.Millisecond {
		t.Fatalf("Sending 10000 bytes took only %v", elapsed)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		mtu    int
		valid  bool
	}{
		{"default", func(*Config) {}, 1472, true},
		{"no data shards", func(c *Config) { c.DataShards = 0 }, 1472, false},
		{"too many shards", func(c *Config) { c.ParityShards = 250 }, 1472, false},
		{"block exceeds mtu", func(c *Config) { c.BlockSize = 8 * 1500 }, 1472, false},
		{"tiny mtu", func(*Config) {}, 512, false},
		{"empty block", func(c *Config) { c.BlockSize = 0 }, 1472, false},
		{"negative rate", func(c *Config) { c.Rate = -1 }, 1472, false},
		{"no queue", func(c *Config) { c.QueueSize = 0 }, 1472, false},
		{"no flush", func(c *Config) { c.FlushTimeout = 0 }, 1472, false},
		{"no heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }, 1472, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := DefaultConfig()
			test.modify(&conf)

			if err := conf.Validate(test.mtu); (err == nil) != test.valid {
				t.Fatalf("Validate returned %v, expected valid=%t", err, test.valid)
			}
		})
	}
}
