// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/diode-go/pkg/file"
)

const dialTimeout = 10 * time.Second

// sendFile streams a file to the TCP listener of a diode-send, which turns
// the connection into one session.
func sendFile(addr, name string) error {
	src, err := file.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	n, err := io.Copy(conn, src)
	if err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.CloseWrite(); err != nil {
			return err
		}
	}

	// diode-send closes the connection after the session was framed.
	if _, err := io.Copy(io.Discard, conn); err != nil {
		return fmt.Errorf("waiting for %s: %w", name, err)
	}

	log.WithFields(log.Fields{
		"file":  src.Header,
		"bytes": n,
	}).Info("Sent file")
	return nil
}

// sendFiles for the "send" CLI option.
func sendFiles(args []string) {
	if len(args) < 2 {
		printUsage()
	}

	addr, names := args[0], args[1:]

	failed := 0
	for _, name := range names {
		if err := sendFile(addr, name); err != nil {
			log.WithFields(log.Fields{
				"file":  name,
				"error": err,
			}).Error("Sending file errored")
			failed++
		}
	}

	if failed > 0 {
		log.Fatalf("Failed to send %d of %d files", failed, len(names))
	}
}
