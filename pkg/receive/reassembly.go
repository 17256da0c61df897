// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package receive

import (
	"errors"
	"fmt"
	"time"

	"github.com/dtn7/diode-go/pkg/fec"
	"github.com/dtn7/diode-go/pkg/wire"
)

// errInconsistentShard is returned for a shard disagreeing with its block's
// first shard. Such a shard is dropped.
var errInconsistentShard = errors.New("receive: shard is inconsistent with its block")

type reassemblyState int

const (
	collecting reassemblyState = iota
	decoded
	expired
)

func (rs reassemblyState) String() string {
	switch rs {
	case collecting:
		return "collecting"
	case decoded:
		return "decoded"
	case expired:
		return "expired"
	default:
		return "unknown"
	}
}

// reassembly collects the shards of one block until K distinct shards arrived
// or its deadline passed. A reassembly created for a block without any shard
// yet is a placeholder; its deadline still applies.
type reassembly struct {
	key      wire.BlockKey
	deadline time.Time
	state    reassemblyState

	// header of the first shard; only valid if known
	header wire.Header
	known  bool

	shards [][]byte
	count  int
}

func newReassembly(key wire.BlockKey, deadline time.Time) *reassembly {
	return &reassembly{
		key:      key,
		deadline: deadline,
		state:    collecting,
	}
}

// consistent checks if a shard belongs to the same encoding as the first one.
func (r *reassembly) consistent(h wire.Header) bool {
	return h.DataShards == r.header.DataShards &&
		h.ParityShards == r.header.ParityShards &&
		h.PayloadLen == r.header.PayloadLen &&
		h.BlockLen == r.header.BlockLen &&
		h.Flags == r.header.Flags
}

// add a shard. It returns true if the block became decodable by this shard.
// Duplicates and shards after the collecting state are ignored.
func (r *reassembly) add(s wire.Shard) (ready bool, err error) {
	if r.state != collecting {
		return
	}

	if !r.known {
		r.header = s.Header
		r.known = true
		r.shards = make([][]byte, s.TotalShards())
	} else if !r.consistent(s.Header) {
		err = fmt.Errorf("%w: %v differs from %v", errInconsistentShard, s.Header, r.header)
		return
	}

	if r.shards[s.ShardIndex] != nil {
		return
	}

	r.shards[s.ShardIndex] = s.Payload
	r.count++

	ready = r.count == int(r.header.DataShards)
	return
}

// decode the block. Must only be called after add returned ready.
func (r *reassembly) decode() (data []byte, err error) {
	defer func() {
		r.state = decoded
		r.shards = nil
	}()

	codec, err := fec.Lookup(int(r.header.DataShards), int(r.header.ParityShards))
	if err != nil {
		return
	}

	data, err = codec.Decode(r.shards, int(r.header.BlockLen))
	return
}

// expire this reassembly if it is still collecting at its deadline. It
// returns true for a state change.
func (r *reassembly) expire(now time.Time) bool {
	if r.state != collecting || now.Before(r.deadline) {
		return false
	}

	r.state = expired
	r.shards = nil
	return true
}

func (r *reassembly) String() string {
	if !r.known {
		return fmt.Sprintf("reassembly(%v, %v, placeholder)", r.key, r.state)
	}
	return fmt.Sprintf("reassembly(%v, %v, %d/%d shards)", r.key, r.state, r.count, r.header.DataShards)
}
