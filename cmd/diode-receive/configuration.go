// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dtn7/diode-go/internal/logging"
	"github.com/dtn7/diode-go/internal/service"
	"github.com/dtn7/diode-go/pkg/file"
	"github.com/dtn7/diode-go/pkg/receive"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging   logging.Conf
	Link      linkConf
	Session   sessionConf
	Output    outputConf
	Heartbeat heartbeatConf
	Status    service.StatusConf
	Journal   service.JournalConf
}

// linkConf describes the Link-configuration block.
type linkConf struct {
	URI string
}

// sessionConf describes the Session-configuration block.
type sessionConf struct {
	Deadline string
	Window   int
	Timeout  string
	Queue    int
	Linger   string
	MaxBlock int `toml:"max-block"`
}

// outputConf describes the Output-configuration block. Sessions are either
// forwarded to a TCP address or stored as files within a directory.
type outputConf struct {
	Protocol string
	Address  string
	Dir      string
}

// heartbeatConf describes the Heartbeat-configuration block.
type heartbeatConf struct {
	Timeout string
}

// parseDuration of a configuration key, leaving the default for an empty value.
func parseDuration(key, value string, d *time.Duration) error {
	if value == "" {
		return nil
	}

	if parsed, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	} else {
		*d = parsed
	}
	return nil
}

// parseOutput inspects the Output-configuration block and returns an Opener.
func parseOutput(conf outputConf) (receive.Opener, error) {
	switch conf.Protocol {
	case "", "tcp":
		if conf.Address == "" {
			return nil, fmt.Errorf("output.address is empty")
		}
		return receive.DialTCP(conf.Address), nil

	case "file":
		if conf.Dir == "" {
			return nil, fmt.Errorf("output.dir is empty")
		}
		return file.Dir(conf.Dir), nil

	default:
		return nil, fmt.Errorf("Unknown output.protocol \"%s\"", conf.Protocol)
	}
}

// parseConfig reads the TOML configuration and derives the receive.Config
// and the Opener for the downstream sinks.
func parseConfig(filename string) (conf tomlConfig, recvConf receive.Config, open receive.Opener, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	if conf.Link.URI == "" {
		err = fmt.Errorf("link.uri is empty")
		return
	}
	if open, err = parseOutput(conf.Output); err != nil {
		return
	}

	recvConf = receive.DefaultConfig()
	if conf.Session.Window != 0 {
		recvConf.Window = conf.Session.Window
	}
	if conf.Session.Queue != 0 {
		recvConf.QueueSize = conf.Session.Queue
	}
	if conf.Session.MaxBlock != 0 {
		recvConf.MaxBlockSize = conf.Session.MaxBlock
	}

	durations := []struct {
		key   string
		value string
		d     *time.Duration
	}{
		{"session.deadline", conf.Session.Deadline, &recvConf.BlockDeadline},
		{"session.timeout", conf.Session.Timeout, &recvConf.InactivityTimeout},
		{"session.linger", conf.Session.Linger, &recvConf.Linger},
		{"heartbeat.timeout", conf.Heartbeat.Timeout, &recvConf.HeartbeatTimeout},
	}

	for _, d := range durations {
		if err = parseDuration(d.key, d.value, d.d); err != nil {
			return
		}
	}

	err = recvConf.Validate()
	return
}
