// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package file

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Source is a session's byte stream for one regular file.
type Source struct {
	io.Reader
	Header Header

	f *os.File
}

// Open a regular file as a Source. The stream starts with the file's Header.
func Open(name string) (*Source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("file: %s is not a regular file", name)
	}

	h := NewHeader(name, fi)
	buff := new(bytes.Buffer)
	if err := WriteHeader(h, buff); err != nil {
		_ = f.Close()
		return nil, err
	}

	// A file growing while being sent would contradict its Header.
	return &Source{
		Reader: io.MultiReader(buff, io.LimitReader(f, fi.Size())),
		Header: h,
		f:      f,
	}, nil
}

// Close the underlying file.
func (s *Source) Close() error {
	return s.f.Close()
}
