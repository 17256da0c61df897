// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package receive

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/dtn7/diode-go/pkg/session"
)

type readResult struct {
	data []byte
	err  error
}

func acceptOne(t *testing.T) (net.Listener, chan readResult) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	results := make(chan readResult, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			results <- readResult{err: err}
			return
		}
		defer conn.Close()

		data, err := io.ReadAll(conn)
		results <- readResult{data: data, err: err}
	}()

	return ln, results
}

func TestTCPSinkClose(t *testing.T) {
	ln, results := acceptOne(t)
	defer ln.Close()

	sink, err := DialTCP(ln.Addr().String())(1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sink.Write([]byte("hello diode")); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	result := <-results
	if result.err != nil {
		t.Fatal(result.err)
	}
	if string(result.data) != "hello diode" {
		t.Fatalf("Received %q", result.data)
	}
}

func TestTCPSinkAbort(t *testing.T) {
	ln, results := acceptOne(t)
	defer ln.Close()

	sink, err := DialTCP(ln.Addr().String())(2)
	if err != nil {
		t.Fatal(err)
	}

	sink.Abort(session.ErrDataLoss)

	if result := <-results; result.err == nil {
		t.Fatal("Aborted connection ended like a closed one")
	}
}

// A downstream consumer stops reading while a Write is pending.
func TestTCPSinkAbortPendingWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	stalled := make(chan net.Conn, 1)
	go func() {
		if conn, err := ln.Accept(); err == nil {
			stalled <- conn
		}
	}()

	sink, err := DialTCP(ln.Addr().String())(4)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { (<-stalled).Close() }()

	writeErr := make(chan error, 1)
	go func() {
		chunk := make([]byte, 1<<16)
		for {
			if _, err := sink.Write(chunk); err != nil {
				writeErr <- err
				return
			}
		}
	}()

	// Let the socket buffers fill up.
	time.Sleep(200 * time.Millisecond)
	sink.Abort(ErrClosed)

	select {
	case err := <-writeErr:
		if err == nil {
			t.Fatal("Write succeeded after Abort")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Abort did not interrupt the pending Write")
	}
}

func TestTCPSinkUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	if _, err := DialTCP(addr)(3); err == nil {
		t.Fatal("Dialing a closed port succeeded")
	}
}
