// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package service bundles the housekeeping shared by the diode daemons: a
// Cron, an optional session Journal and an optional status API.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/diode-go/pkg/cron"
	"github.com/dtn7/diode-go/pkg/journal"
	"github.com/dtn7/diode-go/pkg/session"
	"github.com/dtn7/diode-go/pkg/status"
)

const (
	cronResolution = 100 * time.Millisecond
	journalJob     = "journal-expire"
)

// StatusConf describes the Status-configuration block.
type StatusConf struct {
	Listen string
}

// JournalConf describes the Journal-configuration block.
type JournalConf struct {
	Dir       string
	Retention string
}

// Services of a daemon.
type Services struct {
	Cron    *cron.Cron
	Journal *journal.Journal
	Status  *status.Server
}

// New starts the Cron and opens the Journal, if configured.
func New(jc JournalConf) (s *Services, err error) {
	s = &Services{Cron: cron.NewCron(cronResolution)}

	if jc.Dir == "" {
		return
	}

	retention := 7 * 24 * time.Hour
	if jc.Retention != "" {
		if retention, err = time.ParseDuration(jc.Retention); err != nil {
			s.Cron.Stop()
			return nil, fmt.Errorf("journal.retention: %w", err)
		}
	}

	if s.Journal, err = journal.Open(jc.Dir, retention); err != nil {
		s.Cron.Stop()
		return nil, err
	}

	interval := time.Hour
	if retention < interval {
		interval = retention
	}
	if err = s.Cron.Register(journalJob, s.Journal.DeleteExpired, interval); err != nil {
		_ = s.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"dir":       jc.Dir,
		"retention": retention,
	}).Info("Opened session journal")
	return
}

// StartStatus starts the status API, if configured.
func (s *Services) StartStatus(sc StatusConf, lister status.Lister, stats func() interface{}) error {
	if sc.Listen == "" {
		return nil
	}

	server := status.NewServer(lister, stats)
	if s.Journal != nil {
		server.SetJournal(s.Journal)
	}
	if err := server.Start(sc.Listen); err != nil {
		return err
	}

	s.Status = server
	return nil
}

// Observers of session events, to be added to a sender or receiver.
func (s *Services) Observers() (obs session.Observers) {
	if s.Journal != nil {
		obs = append(obs, s.Journal)
	}
	if s.Status != nil {
		obs = append(obs, s.Status)
	}
	return
}

// Close all Services.
func (s *Services) Close() (errs error) {
	if s.Status != nil {
		if err := s.Status.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if s.Journal != nil {
		s.Cron.Unregister(journalJob)
		if err := s.Journal.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	s.Cron.Stop()
	return
}

// SignalContext is canceled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-signalSyn:
			log.WithField("signal", sig).Info("Shutting down..")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signalSyn)
	}()

	return ctx, cancel
}
