// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package file

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/diode-go/pkg/receive"
	"github.com/dtn7/diode-go/pkg/wire"
)

// ErrSize is returned when a file's stream does not match its Header's size.
var ErrSize = errors.New("file: size differs from header")

// Sink stores a session's file within a directory. The file is written to a
// temporary file first and only renamed to its final name on a clean Close.
type Sink struct {
	sync.Mutex

	root    string
	session wire.SessionID

	// prefix collects the stream until the Header is complete.
	prefix []byte
	header *Header

	tmp     *os.File
	written uint64

	// done after Close or Abort.
	done bool
}

// Dir returns an Opener storing each received file in the root directory.
func Dir(root string) receive.Opener {
	return func(session wire.SessionID) (receive.Sink, error) {
		if err := os.MkdirAll(root, 0700); err != nil {
			return nil, err
		}
		return &Sink{root: root, session: session}, nil
	}
}

// Name of the stored file, available after the Header was received.
func (s *Sink) Name() string {
	s.Lock()
	defer s.Unlock()

	if s.header == nil {
		return ""
	}
	return s.target()
}

func (s *Sink) Write(p []byte) (int, error) {
	s.Lock()
	defer s.Unlock()

	if s.done {
		return 0, os.ErrClosed
	}

	n := len(p)

	if s.header == nil {
		s.prefix = append(s.prefix, p...)

		l, complete, err := headerLen(s.prefix)
		if err != nil || !complete {
			return n, err
		}

		var h Header
		if h, err = ReadHeader(bytes.NewReader(s.prefix[:l])); err != nil {
			return n, err
		}
		if err = s.create(h); err != nil {
			return n, err
		}

		p = s.prefix[l:]
		s.prefix = nil
	}

	if s.written+uint64(len(p)) > s.header.Size {
		return n, fmt.Errorf("%w: more than %d bytes", ErrSize, s.header.Size)
	}
	if _, err := s.tmp.Write(p); err != nil {
		return n, err
	}
	s.written += uint64(len(p))

	return n, nil
}

func (s *Sink) create(h Header) (err error) {
	if s.tmp, err = os.CreateTemp(s.root, ".diode-*"); err != nil {
		return
	}
	s.header = &h

	log.WithFields(log.Fields{
		"session": s.session,
		"file":    h,
	}).Debug("Receiving file")
	return
}

// target is the sanitized final path of the file.
func (s *Sink) target() string {
	name := filepath.Base(filepath.Clean("/" + s.header.Name))
	if name == "/" || name == "." || name == "" {
		name = fmt.Sprintf("session-%d", s.session)
	}
	return filepath.Join(s.root, name)
}

// Close verifies the file's size and moves it to its final name. An existing
// file of the same name is not overwritten.
func (s *Sink) Close() error {
	s.Lock()
	defer s.Unlock()

	s.done = true

	if s.header == nil {
		return fmt.Errorf("%w: stream ended within the header", ErrHeader)
	}

	if s.written != s.header.Size {
		err := fmt.Errorf("%w: received %d of %d bytes", ErrSize, s.written, s.header.Size)
		s.discard(err)
		return err
	}

	if err := s.tmp.Chmod(s.header.Mode.Perm()); err != nil {
		s.discard(err)
		return err
	}
	if err := s.tmp.Close(); err != nil {
		_ = os.Remove(s.tmp.Name())
		return err
	}
	_ = os.Chtimes(s.tmp.Name(), s.header.ModTime, s.header.ModTime)

	target := s.target()
	if _, err := os.Lstat(target); err == nil {
		target = fmt.Sprintf("%s.%d", target, s.session)
	}
	if err := os.Rename(s.tmp.Name(), target); err != nil {
		_ = os.Remove(s.tmp.Name())
		return err
	}

	log.WithFields(log.Fields{
		"session": s.session,
		"file":    target,
		"size":    s.written,
	}).Info("Stored received file")

	return nil
}

// Abort removes the partially written file.
func (s *Sink) Abort(err error) {
	s.Lock()
	defer s.Unlock()

	if s.done {
		return
	}
	s.done = true
	s.discard(err)
}

func (s *Sink) discard(err error) {
	if s.tmp == nil {
		return
	}

	log.WithFields(log.Fields{
		"session": s.session,
		"file":    s.header.Name,
		"error":   err,
	}).Info("Discarding partially received file")

	_ = s.tmp.Close()
	_ = os.Remove(s.tmp.Name())
}
