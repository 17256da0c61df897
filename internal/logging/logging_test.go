// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestConfigure(t *testing.T) {
	defer func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
		log.SetReportCaller(false)
	}()

	tests := []struct {
		conf      Conf
		valid     bool
		level     log.Level
		formatter interface{}
	}{
		{Conf{}, true, log.InfoLevel, &log.TextFormatter{}},
		{Conf{Level: "debug", Format: "json"}, true, log.DebugLevel, &log.JSONFormatter{}},
		{Conf{Level: "warn", Format: "text", ReportCaller: true}, true, log.WarnLevel, &log.TextFormatter{}},
		{Conf{Level: "loud"}, false, log.InfoLevel, &log.TextFormatter{}},
		{Conf{Format: "xml"}, false, log.InfoLevel, nil},
	}

	for _, test := range tests {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})

		err := Configure(test.conf)
		if (err == nil) != test.valid {
			t.Fatalf("Configure(%v) returned %v", test.conf, err)
		}
		if lvl := log.GetLevel(); lvl != test.level {
			t.Fatalf("Configure(%v) set level %v", test.conf, lvl)
		}
		if log.StandardLogger().ReportCaller != test.conf.ReportCaller {
			t.Fatalf("Configure(%v) did not set report caller", test.conf)
		}

		switch test.formatter.(type) {
		case *log.TextFormatter:
			if _, ok := log.StandardLogger().Formatter.(*log.TextFormatter); !ok {
				t.Fatalf("Configure(%v) set formatter %T", test.conf, log.StandardLogger().Formatter)
			}
		case *log.JSONFormatter:
			if _, ok := log.StandardLogger().Formatter.(*log.JSONFormatter); !ok {
				t.Fatalf("Configure(%v) set formatter %T", test.conf, log.StandardLogger().Formatter)
			}
		}
	}
}
