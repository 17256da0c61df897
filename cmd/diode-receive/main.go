// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// diode-receive is the daemon on the receiving side of a data diode. It
// reconstructs the sessions arriving on the inbound link and forwards each
// one to a TCP connection or stores it as a file.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/diode-go/internal/logging"
	"github.com/dtn7/diode-go/internal/service"
	"github.com/dtn7/diode-go/pkg/link"
	"github.com/dtn7/diode-go/pkg/receive"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, recvConf, open, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	_ = logging.Configure(conf.Logging)

	l, err := link.Open(conf.Link.URI, link.Inbound)
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

	receiver, err := receive.NewReceiver(l, recvConf, open, services.Cron)
	if err != nil {
		_ = l.Close()
		log.WithError(err).Fatal("Failed to create receiver")
	}

	if err := services.StartStatus(conf.Status, receiver, func() interface{} { return receiver.Stats() }); err != nil {
		log.WithError(err).Fatal("Failed to start status server")
	}
	for _, o := range services.Observers() {
		receiver.AddObserver(o)
	}

	if err := receiver.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start receiver")
	}

	ctx, cancel := service.SignalContext()
	defer cancel()
	<-ctx.Done()

	if err := receiver.Close(); err != nil {
		log.WithError(err).Warn("Closing receiver errored")
	}
	if err := services.Close(); err != nil {
		log.WithError(err).Warn("Closing services errored")
	}
}
