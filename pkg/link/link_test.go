// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestHubDelivery(t *testing.T) {
	hub := NewHub(nil)
	out := hub.Link(64, 16)
	in := hub.Link(64, 16)

	msg := []byte("hello world")
	if err := out.Send(msg); err != nil {
		t.Fatal(err)
	}

	if datagram, err := in.Receive(); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(datagram, msg) {
		t.Fatalf("Received %x, expected %x", datagram, msg)
	}

	if err := out.Send(make([]byte, 65)); err == nil {
		t.Fatal("Sending a datagram larger than the MTU succeeded")
	}
}

func TestHubDropEvery(t *testing.T) {
	hub := NewHub(DropEvery(3))
	out := hub.Link(64, 16)
	in := hub.Link(64, 16)

	for i := 0; i < 9; i++ {
		if err := out.Send([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	var received []byte
	for i := 0; i < 6; i++ {
		datagram, err := in.Receive()
		if err != nil {
			t.Fatal(err)
		}
		received = append(received, datagram...)
	}

	if expected := []byte{0, 1, 3, 4, 6, 7}; !bytes.Equal(received, expected) {
		t.Fatalf("Received %v, expected %v", received, expected)
	}
	if sent := hub.Sent(); sent != 9 {
		t.Fatalf("Hub counted %d datagrams, expected 9", sent)
	}
}

func TestHubDuplicate(t *testing.T) {
	hub := NewHub(DuplicateAll())
	out := hub.Link(64, 16)
	in := hub.Link(64, 16)

	if err := out.Send([]byte("dup")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if datagram, err := in.Receive(); err != nil {
			t.Fatal(err)
		} else if string(datagram) != "dup" {
			t.Fatalf("Received %q", datagram)
		}
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil)
	in := hub.Link(64, 1)

	errCh := make(chan error)
	go func() {
		_, err := in.Receive()
		errCh <- err
	}()

	_ = in.Close()

	select {
	case err := <-errCh:
		if err != io.EOF {
			t.Fatalf("Receive after Close returned %v, expected EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive was not interrupted by Close")
	}
}

func TestUDPLink(t *testing.T) {
	in, err := ListenUDP("127.0.0.1:0", DefaultMTU)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	out, err := DialUDP("127.0.0.1:0", in.LocalAddr().String(), DefaultMTU)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	if mtu := out.MTU(); mtu != DefaultMTU-udpOverhead4 {
		t.Fatalf("MTU is %d, expected %d", mtu, DefaultMTU-udpOverhead4)
	}

	msg := bytes.Repeat([]byte{0xAC}, out.MTU())
	if err := out.Send(msg); err != nil {
		t.Fatal(err)
	}

	if datagram, err := in.Receive(); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(datagram, msg) {
		t.Fatalf("Received %d bytes, expected %d", len(datagram), len(msg))
	}

	if err := in.Send(msg); !errors.Is(err, ErrDirection) {
		t.Fatalf("Sending on an inbound link returned %v", err)
	}
	if _, err := out.Receive(); !errors.Is(err, ErrDirection) {
		t.Fatalf("Receiving on an outbound link returned %v", err)
	}
}

func TestOpen(t *testing.T) {
	in, err := Open("udp://127.0.0.1:0?mtu=1200", Inbound)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	if mtu := in.MTU(); mtu != 1200-udpOverhead4 {
		t.Fatalf("MTU is %d", mtu)
	}

	addr := in.(*UDPLink).LocalAddr().String()
	out, err := Open(fmt.Sprintf("udp://%s?bind=127.0.0.1:0", addr), Outbound)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	for _, uri := range []string{"tcp://127.0.0.1:1", "udp://127.0.0.1:0?mtu=foo"} {
		if l, err := Open(uri, Inbound); err == nil {
			_ = l.Close()
			t.Fatalf("Opening %q succeeded", uri)
		}
	}
}
