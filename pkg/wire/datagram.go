// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/howeyc/crc16"
)

// Parse errors. A receiver treats each of these as background noise and
// drops the datagram.
var (
	ErrShortDatagram   = errors.New("wire: datagram shorter than header")
	ErrVersion         = errors.New("wire: unsupported header version")
	ErrType            = errors.New("wire: unknown datagram type")
	ErrHeaderChecksum  = errors.New("wire: header checksum mismatch")
	ErrPayloadChecksum = errors.New("wire: payload checksum mismatch")
	ErrPayloadLength   = errors.New("wire: payload length mismatch")
	ErrRedundancy      = errors.New("wire: malformed K or M")
	ErrShardIndex      = errors.New("wire: shard index out of range")
	ErrFlags           = errors.New("wire: unknown flags")
	ErrSession         = errors.New("wire: reserved session id")
)

var (
	crc16table = crc16.MakeTable(crc16.CCITT)
	crc32table = crc32.MakeTable(crc32.Castagnoli)
)

func headerChecksum(data []byte) uint16 {
	return crc16.Checksum(data, crc16table)
}

func payloadChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32table)
}

// MaxPayload is the largest shard payload a header can describe.
const MaxPayload = math.MaxUint16

// Shard is one parsed datagram: its header and the shard payload. Shards are
// immutable after creation.
type Shard struct {
	Header
	Payload []byte
}

// NewShard creates a shard datagram for a block's shard. PayloadLen and
// PayloadCRC are derived from the payload.
func NewShard(h Header, payload []byte) (Shard, error) {
	if len(payload) > MaxPayload {
		return Shard{}, fmt.Errorf("wire: shard payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}

	h.Type = TypeShard
	h.PayloadLen = uint16(len(payload))
	h.PayloadCRC = payloadChecksum(payload)

	return Shard{Header: h, Payload: payload}, nil
}

// NewHeartbeat creates a heartbeat datagram with the given counter.
func NewHeartbeat(counter uint32) Shard {
	return Shard{
		Header: Header{
			Type:       TypeHeartbeat,
			Session:    HeartbeatSession,
			Block:      BlockNumber(counter),
			PayloadCRC: payloadChecksum(nil),
		},
	}
}

// Len returns the datagram's serialized length.
func (s Shard) Len() int {
	return HeaderSize + len(s.Payload)
}

// Bytes serializes this Shard into a new datagram.
func (s Shard) Bytes() []byte {
	buf := make([]byte, s.Len())
	s.Header.put(buf)
	copy(buf[HeaderSize:], s.Payload)
	return buf
}

// Parse a datagram into a Shard. The returned Shard's payload aliases the
// datagram. Malformed datagrams result in one of the package's sentinel errors.
func Parse(datagram []byte) (s Shard, err error) {
	if len(datagram) < HeaderSize {
		err = ErrShortDatagram
		return
	}

	if datagram[0] != Version {
		err = fmt.Errorf("%w: %d", ErrVersion, datagram[0])
		return
	}

	var h Header
	h.get(datagram)

	if sum := headerChecksum(datagram[:24]); sum != uint16(datagram[24])<<8|uint16(datagram[25]) {
		err = ErrHeaderChecksum
		return
	}

	if h.Flags&^flagsKnown != 0 {
		err = fmt.Errorf("%w: %#x", ErrFlags, uint8(h.Flags))
		return
	}

	payload := datagram[HeaderSize:]
	if int(h.PayloadLen) != len(payload) {
		err = fmt.Errorf("%w: header states %d, got %d", ErrPayloadLength, h.PayloadLen, len(payload))
		return
	}

	switch h.Type {
	case TypeShard:
		if h.Session == HeartbeatSession {
			err = ErrSession
			return
		}
		if h.DataShards == 0 || h.TotalShards() > 256 {
			err = fmt.Errorf("%w: K=%d, M=%d", ErrRedundancy, h.DataShards, h.ParityShards)
			return
		}
		if int(h.ShardIndex) >= h.TotalShards() {
			err = fmt.Errorf("%w: %d not in [0, %d)", ErrShardIndex, h.ShardIndex, h.TotalShards())
			return
		}
		if uint64(h.BlockLen) > uint64(h.DataShards)*uint64(h.PayloadLen) {
			err = fmt.Errorf("%w: block of %d bytes in %d shards of %d bytes",
				ErrPayloadLength, h.BlockLen, h.DataShards, h.PayloadLen)
			return
		}

	case TypeHeartbeat:
		if h.Session != HeartbeatSession || len(payload) != 0 {
			err = fmt.Errorf("%w: malformed heartbeat", ErrType)
			return
		}

	default:
		err = fmt.Errorf("%w: %d", ErrType, h.Type)
		return
	}

	if payloadChecksum(payload) != h.PayloadCRC {
		err = ErrPayloadChecksum
		return
	}

	s = Shard{Header: h, Payload: payload}
	return
}
