// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cron runs housekeeping jobs in intervals, e.g., heartbeats,
// expunging finished sessions or expiring journal entries.
package cron

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type job struct {
	task      func()
	interval  time.Duration
	nextEvent time.Time
	running   bool
}

// Cron manages different jobs which require interval based execution.
type Cron struct {
	resolution time.Duration

	jobs  map[string]*job
	mutex sync.Mutex

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewCron creates and starts an empty Cron instance, checking for due jobs
// each resolution.
func NewCron(resolution time.Duration) *Cron {
	cron := &Cron{
		resolution: resolution,
		jobs:       make(map[string]*job),
		stopSyn:    make(chan struct{}),
		stopAck:    make(chan struct{}),
	}

	go cron.loop()

	return cron
}

func (cron *Cron) loop() {
	ticker := time.NewTicker(cron.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-cron.stopSyn:
			close(cron.stopAck)
			return

		case t := <-ticker.C:
			cron.fire(t)
		}
	}
}

func (cron *Cron) fire(t time.Time) {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	for name, j := range cron.jobs {
		if j.nextEvent.After(t) {
			continue
		}

		j.nextEvent = t.Add(j.interval)

		// A slow job is not started twice in parallel.
		if j.running {
			log.WithField("job", name).Debug("Cron skipped job, previous run is still active")
			continue
		}
		j.running = true

		go cron.run(name, j)
	}
}

func (cron *Cron) run(name string, j *job) {
	j.task()

	cron.mutex.Lock()
	j.running = false
	cron.mutex.Unlock()

	log.WithFields(log.Fields{
		"job":      name,
		"interval": j.interval,
	}).Trace("Cron executed job")
}

// Stop this Cron. This method is only allowed to be called once.
func (cron *Cron) Stop() {
	close(cron.stopSyn)
	<-cron.stopAck
}

// Register a new task by its name, function and interval. The interval must
// be at least the Cron's resolution. The function will be executed in its own
// goroutine and must be thread-safe.
func (cron *Cron) Register(name string, task func(), interval time.Duration) error {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	if _, exists := cron.jobs[name]; exists {
		return fmt.Errorf("cron: a job named %s is already registered", name)
	}

	if interval < cron.resolution {
		return fmt.Errorf("cron: interval %v is shorter than the resolution %v", interval, cron.resolution)
	}

	cron.jobs[name] = &job{
		task:      task,
		interval:  interval,
		nextEvent: time.Now().Add(interval),
	}

	return nil
}

// Unregister a task by its name.
func (cron *Cron) Unregister(name string) {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	delete(cron.jobs, name)
}
