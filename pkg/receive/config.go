// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package receive

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config of the receiving side of the diode.
type Config struct {
	// BlockDeadline after a block's first shard until it is declared lost.
	BlockDeadline time.Duration

	// Window is the amount of blocks a session might run ahead of its next
	// expected block.
	Window int

	// InactivityTimeout tears down a session without any valid shard.
	InactivityTimeout time.Duration

	// QueueSize is the number of shards buffered per session. Shards for a
	// full queue are dropped.
	QueueSize int

	// Linger is the time a finished session's id is remembered to drop its
	// late datagrams.
	Linger time.Duration

	// HeartbeatTimeout warns if no heartbeat was received; zero disables it.
	HeartbeatTimeout time.Duration

	// MaxBlockSize limits a decompressed block.
	MaxBlockSize int
}

// DefaultConfig returns a Config fitting the sending side's defaults.
func DefaultConfig() Config {
	return Config{
		BlockDeadline:     2 * time.Second,
		Window:            64,
		InactivityTimeout: time.Minute,
		QueueSize:         1024,
		Linger:            time.Minute,
		HeartbeatTimeout:  30 * time.Second,
		MaxBlockSize:      1 << 20,
	}
}

// Validate this Config.
func (conf Config) Validate() (errs error) {
	if conf.BlockDeadline <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("block deadline %v must be positive", conf.BlockDeadline))
	}
	if conf.Window < 1 {
		errs = multierror.Append(errs, fmt.Errorf("window %d must be positive", conf.Window))
	}
	if conf.InactivityTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("inactivity timeout %v must be positive", conf.InactivityTimeout))
	}
	if conf.QueueSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("queue size %d must be positive", conf.QueueSize))
	}
	if conf.Linger < 0 {
		errs = multierror.Append(errs, fmt.Errorf("linger %v must not be negative", conf.Linger))
	}
	if conf.HeartbeatTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("heartbeat timeout %v must not be negative", conf.HeartbeatTimeout))
	}
	if conf.MaxBlockSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("max block size %d must be positive", conf.MaxBlockSize))
	}
	return
}
