// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// diode-send is the daemon on the sending side of a data diode. Each TCP
// connection accepted on its listen address becomes a session, which is
// framed, erasure coded and sent over the outbound link.
package main

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/diode-go/internal/logging"
	"github.com/dtn7/diode-go/internal/service"
	"github.com/dtn7/diode-go/pkg/link"
	"github.com/dtn7/diode-go/pkg/send"
)

// drainTimeout limits sending the remaining blocks, e.g., abort markers, on shutdown.
const drainTimeout = 5 * time.Second

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, sendConf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	_ = logging.Configure(conf.Logging)

	l, err := link.Open(conf.Link.URI, link.Outbound)
	if err != nil {
		log.WithFields(log.Fields{
			"link":  conf.Link.URI,
			"error": err,
		}).Fatal("Failed to open link")
	}

	services, err := service.New(conf.Journal)
	if err != nil {
		log.WithError(err).Fatal("Failed to start services")
	}

	sender, err := send.NewSender(l, sendConf, services.Cron)
	if err != nil {
		_ = l.Close()
		log.WithError(err).Fatal("Failed to create sender")
	}

	mux, err := send.NewMultiplexer(sender, sendConf)
	if err != nil {
		log.WithError(err).Fatal("Failed to create multiplexer")
	}

	if err := services.StartStatus(conf.Status, mux, func() interface{} { return sender.Stats() }); err != nil {
		log.WithError(err).Fatal("Failed to start status server")
	}
	for _, o := range services.Observers() {
		mux.AddObserver(o)
	}

	ctx, cancel := service.SignalContext()
	defer cancel()

	if err := mux.ListenAndServe(ctx, conf.Listen.Address); err != nil {
		log.WithError(err).Error("Multiplexer errored")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	if err := sender.Drain(drainCtx); err != nil {
		log.WithError(err).Warn("Not all queued blocks were sent")
	}
	drainCancel()

	if err := sender.Close(); err != nil {
		log.WithError(err).Warn("Closing sender errored")
	}
	if err := services.Close(); err != nil {
		log.WithError(err).Warn("Closing services errored")
	}
}
