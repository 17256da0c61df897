// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package send

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ulikunitz/xz"

	"github.com/dtn7/diode-go/pkg/fec"
	"github.com/dtn7/diode-go/pkg/wire"
)

// ErrBlockOverflow is returned if a session exhausted its block numbers.
var ErrBlockOverflow = errors.New("send: session exceeded the number of blocks")

// Block is a framed block, ready to be transmitted as a sequence of datagrams.
type Block struct {
	Key       wire.BlockKey
	Datagrams [][]byte

	// Bytes is the amount of stream bytes within this Block.
	Bytes int
}

// Framer carves one session's byte stream into blocks and erasure codes them.
// A Framer is owned by its session and must not be shared.
type Framer struct {
	session  wire.SessionID
	codec    *fec.Codec
	compress bool

	next  wire.BlockNumber
	bytes uint64
}

// NewFramer for a session's stream.
func NewFramer(session wire.SessionID, codec *fec.Codec, compress bool) *Framer {
	return &Framer{
		session:  session,
		codec:    codec,
		compress: compress,
	}
}

// Next returns the block number the next Frame call will assign.
func (f *Framer) Next() wire.BlockNumber {
	return f.next
}

// Frame the next block of the stream.
func (f *Framer) Frame(data []byte) (b Block, err error) {
	if f.next == wire.TerminatorBlock {
		err = ErrBlockOverflow
		return
	}

	var flags wire.Flags
	payload := data
	if f.compress && len(data) > 0 {
		if compressed, cErr := compressBlock(data); cErr != nil {
			err = cErr
			return
		} else if len(compressed) < len(data) {
			payload = compressed
			flags |= wire.FlagCompressed
		}
	}

	if b, err = f.encode(f.next, flags, payload); err != nil {
		return
	}
	b.Bytes = len(data)

	f.next++
	f.bytes += uint64(len(data))
	return
}

// End frames the session's terminator block. Its EndRecord states how many
// blocks and bytes were framed before. An aborted session's terminator tells
// the receiver to discard the stream.
func (f *Framer) End(abort bool) (Block, error) {
	record := wire.EndRecord{Blocks: uint32(f.next), Bytes: f.bytes}
	payload, _ := record.MarshalBinary()

	var flags wire.Flags
	if abort {
		flags |= wire.FlagAbort
	}

	return f.encode(wire.TerminatorBlock, flags, payload)
}

func (f *Framer) encode(bn wire.BlockNumber, flags wire.Flags, payload []byte) (b Block, err error) {
	shards, err := f.codec.Encode(payload)
	if err != nil {
		return
	}

	b.Key = wire.BlockKey{Session: f.session, Block: bn}
	b.Datagrams = make([][]byte, len(shards))

	for i, shard := range shards {
		h := wire.Header{
			Flags:        flags,
			ShardIndex:   uint8(i),
			Session:      f.session,
			Block:        bn,
			DataShards:   uint8(f.codec.DataShards()),
			ParityShards: uint8(f.codec.ParityShards()),
			BlockLen:     uint32(len(payload)),
		}

		if s, sErr := wire.NewShard(h, shard); sErr != nil {
			err = fmt.Errorf("framing block %v: %w", b.Key, sErr)
			return
		} else {
			b.Datagrams[i] = s.Bytes()
		}
	}

	return
}

// minDictCap is the smallest dictionary an LZMA2 stream supports.
const minDictCap = 1 << 12

func compressBlock(data []byte) ([]byte, error) {
	dictCap := len(data)
	if dictCap < minDictCap {
		dictCap = minDictCap
	}

	var buf bytes.Buffer
	w, err := xz.WriterConfig{DictCap: dictCap}.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing block: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressing block: %w", err)
	}
	return buf.Bytes(), nil
}
