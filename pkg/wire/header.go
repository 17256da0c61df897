// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire defines the datagram format exchanged over the diode.
//
// Each datagram starts with a fixed 26 byte header, followed by the shard's
// payload. All integers are big-endian.
//
//     0               1               2               3
//     0 1 2 3 4 5 6 7 0 1 2 3 4 5 6 7 0 1 2 3 4 5 6 7 0 1 2 3 4 5 6 7
//    +---------------+---------------+---------------+---------------+
//    |    Version    |     Type      |     Flags     |  Shard Index  |
//    +---------------+---------------+---------------+---------------+
//    |                          Session ID                           |
//    +---------------+---------------+---------------+---------------+
//    |                         Block Number                          |
//    +---------------+---------------+---------------+---------------+
//    |       K       |       M       |        Payload Length         |
//    +---------------+---------------+---------------+---------------+
//    |                         Block Length                          |
//    +---------------+---------------+---------------+---------------+
//    |                     Payload CRC-32C                           |
//    +---------------+---------------+---------------+---------------+
//    |       Header CRC-16           |
//    +---------------+---------------+
//
// The header CRC covers the first 24 bytes. The payload CRC covers the
// shard's payload only.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Version of the header layout. Receivers drop datagrams of other versions.
const Version uint8 = 1

// HeaderSize is the fixed size of each datagram's header.
const HeaderSize = 26

// SessionID identifies one logical stream for the lifetime of a sender process.
type SessionID uint32

// HeartbeatSession is reserved for heartbeat datagrams and never assigned to a stream.
const HeartbeatSession SessionID = 0

// BlockNumber orders the blocks of a session, starting at 0.
type BlockNumber uint32

// TerminatorBlock marks the last block of a session.
const TerminatorBlock BlockNumber = 0xFFFFFFFF

func (bn BlockNumber) String() string {
	if bn == TerminatorBlock {
		return "terminator"
	}
	return fmt.Sprintf("%d", uint32(bn))
}

// Type of a datagram.
type Type uint8

const (
	_ Type = iota

	// TypeShard carries one erasure coded shard of a block.
	TypeShard

	// TypeHeartbeat is sent periodically by an idle or busy sender to show the
	// link is alive. Its block number field is a running counter.
	TypeHeartbeat
)

func (t Type) String() string {
	switch t {
	case TypeShard:
		return "shard"
	case TypeHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Flags describe how a block's payload needs to be interpreted.
type Flags uint8

const (
	// FlagCompressed marks a block whose bytes are xz compressed.
	FlagCompressed Flags = 0x01

	// FlagAbort is set on a terminator whose session failed on the sending side.
	FlagAbort Flags = 0x02

	flagsKnown = FlagCompressed | FlagAbort
)

// Has checks if a flag is set.
func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// Header of one datagram.
type Header struct {
	Type         Type
	Flags        Flags
	ShardIndex   uint8
	Session      SessionID
	Block        BlockNumber
	DataShards   uint8
	ParityShards uint8
	PayloadLen   uint16
	BlockLen     uint32
	PayloadCRC   uint32
}

// IsParity reports whether this shard is a parity shard; data shards have an
// index below K.
func (h Header) IsParity() bool {
	return h.ShardIndex >= h.DataShards
}

// IsTerminator reports whether this shard belongs to a session's terminator block.
func (h Header) IsTerminator() bool {
	return h.Block == TerminatorBlock
}

// Key of the block this shard belongs to.
func (h Header) Key() BlockKey {
	return BlockKey{Session: h.Session, Block: h.Block}
}

// TotalShards returns K+M as an int.
func (h Header) TotalShards() int {
	return int(h.DataShards) + int(h.ParityShards)
}

func (h Header) String() string {
	return fmt.Sprintf("%v(session: %d, block: %v, shard: %d/%d+%d, length: %d, flags: %#x)",
		h.Type, h.Session, h.Block, h.ShardIndex, h.DataShards, h.ParityShards, h.BlockLen, uint8(h.Flags))
}

// put serializes the header into buf, which must hold at least HeaderSize bytes.
func (h Header) put(buf []byte) {
	buf[0] = Version
	buf[1] = uint8(h.Type)
	buf[2] = uint8(h.Flags)
	buf[3] = h.ShardIndex
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Session))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Block))
	buf[12] = h.DataShards
	buf[13] = h.ParityShards
	binary.BigEndian.PutUint16(buf[14:16], h.PayloadLen)
	binary.BigEndian.PutUint32(buf[16:20], h.BlockLen)
	binary.BigEndian.PutUint32(buf[20:24], h.PayloadCRC)
	binary.BigEndian.PutUint16(buf[24:26], headerChecksum(buf[:24]))
}

// get deserializes a header from buf without any semantic checks.
func (h *Header) get(buf []byte) {
	h.Type = Type(buf[1])
	h.Flags = Flags(buf[2])
	h.ShardIndex = buf[3]
	h.Session = SessionID(binary.BigEndian.Uint32(buf[4:8]))
	h.Block = BlockNumber(binary.BigEndian.Uint32(buf[8:12]))
	h.DataShards = buf[12]
	h.ParityShards = buf[13]
	h.PayloadLen = binary.BigEndian.Uint16(buf[14:16])
	h.BlockLen = binary.BigEndian.Uint32(buf[16:20])
	h.PayloadCRC = binary.BigEndian.Uint32(buf[20:24])
}

// BlockKey identifies a block across all sessions.
type BlockKey struct {
	Session SessionID
	Block   BlockNumber
}

func (bk BlockKey) String() string {
	return fmt.Sprintf("%d/%v", bk.Session, bk.Block)
}
