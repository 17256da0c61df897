// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package file transfers regular files over the diode.
//
// Each file becomes one session. Its byte stream starts with a length
// prefixed, CBOR encoded Header, followed by the file's content.
package file

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dtn7/cboring"
)

// MaxHeaderLen limits the encoded Header, including the file name.
const MaxHeaderLen = 4096

// ErrHeader is returned for a malformed or oversized Header.
var ErrHeader = errors.New("file: invalid header")

// Header describes the file following in the stream.
type Header struct {
	Name    string
	Size    uint64
	Mode    os.FileMode
	ModTime time.Time
}

// NewHeader from a file's name and its os.FileInfo.
func NewHeader(name string, fi os.FileInfo) Header {
	return Header{
		Name:    filepath.Base(name),
		Size:    uint64(fi.Size()),
		Mode:    fi.Mode().Perm(),
		ModTime: fi.ModTime(),
	}
}

// MarshalCbor writes the CBOR representation of a Header.
func (h *Header) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(h.Name, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(h.Size, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(h.Mode.Perm()), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(h.ModTime.Unix()), w); err != nil {
		return err
	}

	return nil
}

// UnmarshalCbor creates this Header based on a CBOR representation.
func (h *Header) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 4 {
		return fmt.Errorf("%w: expected array with length 4, got %d", ErrHeader, l)
	}

	if name, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		h.Name = name
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		h.Size = n
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		h.Mode = os.FileMode(n).Perm()
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		h.ModTime = time.Unix(int64(n), 0)
	}

	return nil
}

func (h Header) String() string {
	return fmt.Sprintf("%s (%d bytes, %v)", h.Name, h.Size, h.Mode)
}

// WriteHeader writes the length prefixed Header to w.
func WriteHeader(h Header, w io.Writer) error {
	buff := new(bytes.Buffer)
	if err := cboring.Marshal(&h, buff); err != nil {
		return err
	}
	if buff.Len() > MaxHeaderLen {
		return fmt.Errorf("%w: %d bytes exceed limit", ErrHeader, buff.Len())
	}

	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(buff.Len()))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := buff.WriteTo(w)
	return err
}

// ReadHeader reads a length prefixed Header from r.
func ReadHeader(r io.Reader) (h Header, err error) {
	var prefix [2]byte
	if _, err = io.ReadFull(r, prefix[:]); err != nil {
		return
	}

	l := int(binary.BigEndian.Uint16(prefix[:]))
	if l > MaxHeaderLen {
		err = fmt.Errorf("%w: %d bytes exceed limit", ErrHeader, l)
		return
	}

	data := make([]byte, l)
	if _, err = io.ReadFull(r, data); err != nil {
		return
	}

	err = cboring.Unmarshal(&h, bytes.NewReader(data))
	return
}

// headerLen returns the total length of a length prefixed Header at the
// beginning of data, or false if data is still too short.
func headerLen(data []byte) (int, bool, error) {
	if len(data) < 2 {
		return 0, false, nil
	}

	l := int(binary.BigEndian.Uint16(data))
	if l > MaxHeaderLen {
		return 0, false, fmt.Errorf("%w: %d bytes exceed limit", ErrHeader, l)
	}
	return 2 + l, len(data) >= 2+l, nil
}
