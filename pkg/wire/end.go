// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
)

// EndRecordSize is the length of an encoded EndRecord.
const EndRecordSize = 12

// EndRecord is the content of a terminator block. It carries no stream bytes,
// but tells the receiver how many data blocks and bytes the session had. A
// receiver can thereby distinguish a clean end from a lost tail.
type EndRecord struct {
	Blocks uint32
	Bytes  uint64
}

// MarshalBinary encodes this EndRecord.
func (er EndRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EndRecordSize)
	binary.BigEndian.PutUint32(buf[0:4], er.Blocks)
	binary.BigEndian.PutUint64(buf[4:12], er.Bytes)
	return buf, nil
}

// UnmarshalBinary decodes an EndRecord.
func (er *EndRecord) UnmarshalBinary(data []byte) error {
	if len(data) != EndRecordSize {
		return fmt.Errorf("wire: end record has %d bytes, expected %d", len(data), EndRecordSize)
	}

	er.Blocks = binary.BigEndian.Uint32(data[0:4])
	er.Bytes = binary.BigEndian.Uint64(data[4:12])
	return nil
}

func (er EndRecord) String() string {
	return fmt.Sprintf("EndRecord(blocks: %d, bytes: %d)", er.Blocks, er.Bytes)
}
