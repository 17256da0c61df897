// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"
)

const (
	// settleTime after a file's last modification before it is sent.
	settleTime = 2 * time.Second

	sendAttempts = 5
)

// spool sends each file dropped into a directory and removes it afterwards.
type spool struct {
	directory string
	settle    time.Duration
	send      func(name string) error

	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer

	settledChan chan string
	closeChan   chan struct{}
	doneChan    chan struct{}
}

func newSpool(directory string, settle time.Duration, send func(string) error) (sp *spool, err error) {
	sp = &spool{
		directory: directory,
		settle:    settle,
		send:      send,

		timers: make(map[string]*time.Timer),

		settledChan: make(chan string, 64),
		closeChan:   make(chan struct{}),
		doneChan:    make(chan struct{}),
	}

	if sp.watcher, err = fsnotify.NewWatcher(); err != nil {
		return nil, err
	}
	if err = sp.watcher.Add(directory); err != nil {
		_ = sp.watcher.Close()
		return nil, err
	}

	go sp.handleSettled()
	go sp.handler()

	// Files which were already present.
	if entries, dirErr := os.ReadDir(directory); dirErr == nil {
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				sp.settledChan <- filepath.Join(directory, entry.Name())
			}
		}
	}

	return sp, nil
}

// ignored files are hidden, e.g., temporary files of an upload.
func ignored(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}

func (sp *spool) handler() {
	defer func() {
		_ = sp.watcher.Close()
		for _, t := range sp.timers {
			t.Stop()
		}
		close(sp.settledChan)
	}()

	expired := make(chan string)

	for {
		select {
		case <-sp.closeChan:
			return

		case e, ok := <-sp.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 || ignored(e.Name) {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			if t, ok := sp.timers[e.Name]; ok {
				t.Reset(sp.settle)
			} else {
				name := e.Name
				sp.timers[name] = time.AfterFunc(sp.settle, func() {
					select {
					case expired <- name:
					case <-sp.closeChan:
					}
				})
			}

		case name := <-expired:
			delete(sp.timers, name)
			sp.settledChan <- name

		case err, ok := <-sp.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
			return
		}
	}
}

// handleSettled sends settled files one after another.
func (sp *spool) handleSettled() {
	defer close(sp.doneChan)

	for name := range sp.settledChan {
		select {
		case <-sp.closeChan:
			// Drain remaining names until the handler closed settledChan.
			continue
		default:
			sp.sendFile(name)
		}
	}
}

func (sp *spool) sendFile(name string) {
	logger := log.WithField("file", name)

	for i := 0; i < sendAttempts; i++ {
		if fi, err := os.Stat(name); err != nil || !fi.Mode().IsRegular() {
			logger.Debug("Skipping vanished or irregular file")
			return
		}

		if err := sp.send(name); err != nil {
			logger.WithError(err).Warn("Sending file errored, retrying..")
		} else if err := os.Remove(name); err != nil {
			logger.WithError(err).Error("Removing sent file errored")
			return
		} else {
			return
		}

		select {
		case <-time.After(time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond):
		case <-sp.closeChan:
			return
		}
	}

	logger.Error("Failed to send file, giving up.")
}

// Close the spool after the currently sent file.
func (sp *spool) Close() {
	close(sp.closeChan)
	<-sp.doneChan
}

// startWatch for the "watch" CLI option.
func startWatch(args []string) {
	if len(args) != 2 {
		printUsage()
	}

	addr, directory := args[0], args[1]

	sp, err := newSpool(directory, settleTime, func(name string) error {
		return sendFile(addr, name)
	})
	if err != nil {
		log.WithError(err).Fatal("Starting file watcher errored")
	}

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)
	<-closeChan

	log.Info("Received interrupt signal")
	sp.Close()
}
