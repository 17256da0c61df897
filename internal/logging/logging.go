// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logging configures logrus for the diode commands.
package logging

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Conf describes the Logging-configuration block.
type Conf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// Configure the standard logger. An invalid level or format is reported but
// leaves the respective default in place.
func Configure(conf Conf) (err error) {
	if conf.Level != "" {
		if lvl, lvlErr := log.ParseLevel(conf.Level); lvlErr != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    lvlErr,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
			err = lvlErr
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.WithField("format", conf.Format).Warn("Unknown logging format")
		err = fmt.Errorf("logging: unknown format %q", conf.Format)
	}

	return
}
