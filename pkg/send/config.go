// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package send

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/diode-go/pkg/fec"
	"github.com/dtn7/diode-go/pkg/wire"
)

// Config of the sending side of the diode.
type Config struct {
	// DataShards (K) and ParityShards (M) per block. Up to M lost shards per
	// block can be recovered.
	DataShards   int
	ParityShards int

	// BlockSize is the maximum amount of stream bytes per block.
	BlockSize int

	// Compress blocks with xz, if this makes them smaller.
	Compress bool

	// Rate limits the outbound link to this many bytes per second. Zero
	// disables pacing.
	Rate int

	// QueueSize is the number of framed blocks buffered per session before its
	// reader is blocked.
	QueueSize int

	// FlushTimeout forces a partially filled block onto the link.
	FlushTimeout time.Duration

	// MaxSessions limits concurrent sessions; zero is unlimited.
	MaxSessions int

	// HeartbeatInterval between two heartbeat datagrams; zero disables them.
	HeartbeatInterval time.Duration
}

// DefaultConfig returns a Config for a 1500 byte MTU UDP link, tolerating
// two lost datagrams out of ten per block.
func DefaultConfig() Config {
	return Config{
		DataShards:        8,
		ParityShards:      2,
		BlockSize:         8 * 1440,
		Compress:          false,
		Rate:              0,
		QueueSize:         16,
		FlushTimeout:      500 * time.Millisecond,
		MaxSessions:       16,
		HeartbeatInterval: 10 * time.Second,
	}
}

// DatagramSize returns the largest datagram this Config produces.
func (conf Config) DatagramSize() int {
	shardSize := (conf.BlockSize + conf.DataShards - 1) / conf.DataShards
	if endSize := (wire.EndRecordSize + conf.DataShards - 1) / conf.DataShards; endSize > shardSize {
		shardSize = endSize
	}
	return wire.HeaderSize + shardSize
}

// Validate this Config against a link's MTU.
func (conf Config) Validate(mtu int) (errs error) {
	if conf.DataShards < 1 || conf.ParityShards < 0 || conf.DataShards+conf.ParityShards > fec.MaxShards {
		errs = multierror.Append(errs, fmt.Errorf("K=%d and M=%d must satisfy K >= 1, M >= 0, K+M <= %d",
			conf.DataShards, conf.ParityShards, fec.MaxShards))
	}

	if conf.BlockSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("block size %d must be positive", conf.BlockSize))
	} else if conf.DataShards >= 1 {
		if size := conf.DatagramSize(); size > mtu {
			errs = multierror.Append(errs, fmt.Errorf("block size %d results in datagrams of %d bytes, exceeding MTU %d",
				conf.BlockSize, size, mtu))
		} else if size-wire.HeaderSize > wire.MaxPayload {
			errs = multierror.Append(errs, fmt.Errorf("block size %d results in shards exceeding %d bytes",
				conf.BlockSize, wire.MaxPayload))
		}
	}

	if conf.Rate < 0 {
		errs = multierror.Append(errs, fmt.Errorf("rate %d must not be negative", conf.Rate))
	}
	if conf.QueueSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("queue size %d must be positive", conf.QueueSize))
	}
	if conf.FlushTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("flush timeout %v must be positive", conf.FlushTimeout))
	}
	if conf.MaxSessions < 0 {
		errs = multierror.Append(errs, fmt.Errorf("max sessions %d must not be negative", conf.MaxSessions))
	}
	if conf.HeartbeatInterval < 0 {
		errs = multierror.Append(errs, fmt.Errorf("heartbeat interval %v must not be negative", conf.HeartbeatInterval))
	}

	return
}
