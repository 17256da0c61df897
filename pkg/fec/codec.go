// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"
)

// MaxShards is the upper bound of data and parity shards per block. The
// Reed-Solomon code operates over GF(2^8), which allows 256 distinct shard
// indices.
const MaxShards = 256

var (
	// ErrInsufficientShards is returned by Decode if fewer than K distinct
	// shards are present.
	ErrInsufficientShards = errors.New("fec: insufficient shards to reconstruct block")

	// ErrParameters indicates an invalid (K, M) tuple.
	ErrParameters = errors.New("fec: invalid redundancy parameters")
)

// Codec splits blocks into K data shards and M parity shards. Any K out of
// the K+M shards reconstruct the block. A Codec is safe for concurrent use.
type Codec struct {
	k, m int
	enc  reedsolomon.Encoder
}

// New creates a Codec for k data shards and m parity shards.
func New(k, m int) (*Codec, error) {
	if k < 1 || m < 0 || k+m > MaxShards {
		return nil, fmt.Errorf("%w: K=%d, M=%d", ErrParameters, k, m)
	}

	// A zero parity configuration is valid for the diode, but reedsolomon
	// refuses it; plain splitting is used in this case.
	var enc reedsolomon.Encoder
	if m > 0 {
		var err error
		if enc, err = reedsolomon.New(k, m); err != nil {
			return nil, fmt.Errorf("fec: creating Reed-Solomon encoder: %w", err)
		}
	}

	return &Codec{k: k, m: m, enc: enc}, nil
}

// DataShards returns K.
func (c *Codec) DataShards() int {
	return c.k
}

// ParityShards returns M.
func (c *Codec) ParityShards() int {
	return c.m
}

// TotalShards returns K+M.
func (c *Codec) TotalShards() int {
	return c.k + c.m
}

// ShardSize for a block of the given length. The block is zero padded up to
// a multiple of K; the smallest shard is one byte, so that an empty block is
// still transmittable.
func (c *Codec) ShardSize(blockLen int) int {
	size := (blockLen + c.k - 1) / c.k
	if size == 0 {
		size = 1
	}
	return size
}

// Encode a block into K+M shards of equal size. The returned shards share
// one backing array and must not be modified afterwards.
func (c *Codec) Encode(block []byte) ([][]byte, error) {
	size := c.ShardSize(len(block))
	buf := make([]byte, size*(c.k+c.m))
	copy(buf, block)

	shards := make([][]byte, c.k+c.m)
	for i := range shards {
		shards[i] = buf[i*size : (i+1)*size : (i+1)*size]
	}

	if c.enc == nil {
		return shards, nil
	}

	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: encoding parity shards: %w", err)
	}
	return shards, nil
}

// Decode reconstructs a block of blockLen bytes. The shards slice must have
// K+M entries, with nil for each missing shard. All present shards must have
// the same size.
func (c *Codec) Decode(shards [][]byte, blockLen int) ([]byte, error) {
	if len(shards) != c.k+c.m {
		return nil, fmt.Errorf("fec: expected %d shard slots, got %d", c.k+c.m, len(shards))
	}

	present, size := 0, -1
	for _, shard := range shards {
		if shard == nil {
			continue
		}
		if size >= 0 && len(shard) != size {
			return nil, fmt.Errorf("fec: shard size mismatch, %d != %d", len(shard), size)
		}
		size = len(shard)
		present++
	}

	if present < c.k {
		return nil, ErrInsufficientShards
	}
	if blockLen < 0 || blockLen > size*c.k {
		return nil, fmt.Errorf("fec: block length %d exceeds capacity %d", blockLen, size*c.k)
	}

	// Work on a copy of the slot slice; reconstruction fills the gaps.
	work := make([][]byte, len(shards))
	copy(work, shards)

	if c.enc != nil {
		if err := c.enc.ReconstructData(work); err != nil {
			if errors.Is(err, reedsolomon.ErrTooFewShards) {
				return nil, ErrInsufficientShards
			}
			return nil, fmt.Errorf("fec: reconstructing data shards: %w", err)
		}
	}

	block := make([]byte, 0, size*c.k)
	for i := 0; i < c.k; i++ {
		block = append(block, work[i]...)
	}
	return block[:blockLen], nil
}

type codecKey struct {
	k, m int
}

var codecs sync.Map // codecKey -> *Codec

// Lookup returns a shared Codec for (k, m), creating it on first use. The
// receiving side uses the K and M values carried by each datagram.
func Lookup(k, m int) (*Codec, error) {
	key := codecKey{k, m}
	if c, ok := codecs.Load(key); ok {
		return c.(*Codec), nil
	}

	c, err := New(k, m)
	if err != nil {
		return nil, err
	}

	actual, _ := codecs.LoadOrStore(key, c)
	return actual.(*Codec), nil
}
