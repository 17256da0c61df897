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
	"github.com/dtn7/diode-go/pkg/send"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging   logging.Conf
	Link      linkConf
	Fec       fecConf
	Block     blockConf
	Session   sessionConf
	Listen    listenConf
	Heartbeat heartbeatConf
	Status    service.StatusConf
	Journal   service.JournalConf
}

// linkConf describes the Link-configuration block.
type linkConf struct {
	URI  string
	Rate int
}

// fecConf describes the FEC-configuration block.
type fecConf struct {
	Data int

	// Parity might be zero to disable the erasure code.
	Parity *int
}

// blockConf describes the Block-configuration block.
type blockConf struct {
	Size     int
	Compress bool
	Flush    string
	Queue    int
}

// sessionConf describes the Session-configuration block.
type sessionConf struct {
	Max int
}

// listenConf describes the Listen-configuration block.
type listenConf struct {
	Address string
}

// heartbeatConf describes the Heartbeat-configuration block.
type heartbeatConf struct {
	Interval string
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

// parseConfig reads the TOML configuration and derives the send.Config.
func parseConfig(filename string) (conf tomlConfig, sendConf send.Config, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	if conf.Link.URI == "" {
		err = fmt.Errorf("link.uri is empty")
		return
	}
	if conf.Listen.Address == "" {
		err = fmt.Errorf("listen.address is empty")
		return
	}

	sendConf = send.DefaultConfig()
	sendConf.Rate = conf.Link.Rate
	sendConf.Compress = conf.Block.Compress

	if conf.Fec.Data != 0 {
		sendConf.DataShards = conf.Fec.Data
	}
	if conf.Fec.Parity != nil {
		sendConf.ParityShards = *conf.Fec.Parity
	}
	if conf.Block.Size != 0 {
		sendConf.BlockSize = conf.Block.Size
	}
	if conf.Block.Queue != 0 {
		sendConf.QueueSize = conf.Block.Queue
	}
	if conf.Session.Max != 0 {
		sendConf.MaxSessions = conf.Session.Max
	}

	if err = parseDuration("block.flush", conf.Block.Flush, &sendConf.FlushTimeout); err != nil {
		return
	}
	err = parseDuration("heartbeat.interval", conf.Heartbeat.Interval, &sendConf.HeartbeatInterval)
	return
}
