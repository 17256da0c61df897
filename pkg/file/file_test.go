// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package file

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dtn7/diode-go/pkg/session"
	"github.com/dtn7/diode-go/pkg/wire"
)

func TestHeaderCbor(t *testing.T) {
	h := Header{
		Name:    "report.pdf",
		Size:    1 << 33,
		Mode:    0640,
		ModTime: time.Unix(1700000000, 0),
	}

	buff := new(bytes.Buffer)
	if err := WriteHeader(h, buff); err != nil {
		t.Fatal(err)
	}

	if h2, err := ReadHeader(buff); err != nil {
		t.Fatal(err)
	} else if h2.Name != h.Name || h2.Size != h.Size || h2.Mode != h.Mode || !h2.ModTime.Equal(h.ModTime) {
		t.Fatalf("Header changed: %v, %v", h, h2)
	}
}

func TestHeaderTooLong(t *testing.T) {
	h := Header{Name: string(bytes.Repeat([]byte("a"), MaxHeaderLen))}
	if err := WriteHeader(h, io.Discard); !errors.Is(err, ErrHeader) {
		t.Fatalf("Oversized header was written: %v", err)
	}

	if _, err := ReadHeader(bytes.NewReader([]byte{0xff, 0xff})); !errors.Is(err, ErrHeader) {
		t.Fatalf("Oversized header was read: %v", err)
	}
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0604); err != nil {
		t.Fatal(err)
	}
	return p
}

// copyChunked writes src to the Sink in chunks of size n.
func copyChunked(t *testing.T, sink *Sink, src io.Reader, n int) {
	t.Helper()

	buf := make([]byte, n)
	for {
		m, err := src.Read(buf)
		if m > 0 {
			if _, werr := sink.Write(buf[:m]); werr != nil {
				t.Fatal(werr)
			}
		}
		if err == io.EOF {
			return
		} else if err != nil {
			t.Fatal(err)
		}
	}
}

func openSink(t *testing.T, root string, id uint32) *Sink {
	t.Helper()

	s, err := Dir(root)(wire.SessionID(id))
	if err != nil {
		t.Fatal(err)
	}
	return s.(*Sink)
}

func TestSourceSink(t *testing.T) {
	data := bytes.Repeat([]byte("diode "), 10000)

	tests := []struct {
		name  string
		chunk int
	}{
		{"single-byte", 1},
		{"small", 7},
		{"block", 8 * 1440},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srcDir, dstDir := t.TempDir(), t.TempDir()
			src, err := Open(writeFile(t, srcDir, "data.txt", data))
			if err != nil {
				t.Fatal(err)
			}
			defer src.Close()

			sink := openSink(t, dstDir, 1)
			copyChunked(t, sink, src, test.chunk)
			if err := sink.Close(); err != nil {
				t.Fatal(err)
			}

			stored := filepath.Join(dstDir, "data.txt")
			if sink.Name() != stored {
				t.Fatalf("Sink stored %q", sink.Name())
			}
			if received, err := os.ReadFile(stored); err != nil {
				t.Fatal(err)
			} else if !bytes.Equal(received, data) {
				t.Fatal("Received file differs")
			}
			if fi, err := os.Stat(stored); err != nil {
				t.Fatal(err)
			} else if fi.Mode().Perm() != 0604 {
				t.Fatalf("Received file has mode %v", fi.Mode())
			}

			if entries, _ := os.ReadDir(dstDir); len(entries) != 1 {
				t.Fatalf("Directory contains %d entries", len(entries))
			}
		})
	}
}

func TestSinkAbort(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, err := Open(writeFile(t, srcDir, "partial", make([]byte, 4096)))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	sink := openSink(t, dstDir, 2)
	if _, err := io.CopyN(sink, src, 1024); err != nil {
		t.Fatal(err)
	}
	sink.Abort(session.ErrDataLoss)
	sink.Abort(session.ErrDataLoss)

	if entries, _ := os.ReadDir(dstDir); len(entries) != 0 {
		t.Fatalf("Aborted sink left %d entries", len(entries))
	}
	if _, err := sink.Write([]byte("late")); err == nil {
		t.Fatal("Aborted sink accepted a write")
	}
}

func TestSinkSizeMismatch(t *testing.T) {
	dstDir := t.TempDir()

	buff := new(bytes.Buffer)
	if err := WriteHeader(Header{Name: "short", Size: 100, Mode: 0600}, buff); err != nil {
		t.Fatal(err)
	}
	buff.Write(make([]byte, 50))

	sink := openSink(t, dstDir, 3)
	if _, err := sink.Write(buff.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); !errors.Is(err, ErrSize) {
		t.Fatalf("Short file was accepted: %v", err)
	}
	if entries, _ := os.ReadDir(dstDir); len(entries) != 0 {
		t.Fatalf("Short file left %d entries", len(entries))
	}

	sink = openSink(t, dstDir, 4)
	if _, err := sink.Write(append(buff.Bytes(), make([]byte, 51)...)); !errors.Is(err, ErrSize) {
		t.Fatalf("Oversized file was accepted: %v", err)
	}
	sink.Abort(ErrSize)
}

func TestSinkEmptyStream(t *testing.T) {
	sink := openSink(t, t.TempDir(), 5)
	if err := sink.Close(); !errors.Is(err, ErrHeader) {
		t.Fatalf("Empty stream was accepted: %v", err)
	}
}

func TestSinkNames(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"plain.txt", "plain.txt"},
		{"../../etc/passwd", "passwd"},
		{"/abs/path/file", "file"},
		{"..", "session-6"},
		{"", "session-6"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			dstDir := t.TempDir()

			buff := new(bytes.Buffer)
			if err := WriteHeader(Header{Name: test.name, Size: 3, Mode: 0600}, buff); err != nil {
				t.Fatal(err)
			}
			buff.WriteString("abc")

			sink := openSink(t, dstDir, 6)
			if _, err := sink.Write(buff.Bytes()); err != nil {
				t.Fatal(err)
			}
			if err := sink.Close(); err != nil {
				t.Fatal(err)
			}

			if _, err := os.Stat(filepath.Join(dstDir, test.expected)); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestSinkExistingFile(t *testing.T) {
	dstDir := t.TempDir()
	writeFile(t, dstDir, "dup", []byte("old"))

	buff := new(bytes.Buffer)
	if err := WriteHeader(Header{Name: "dup", Size: 3, Mode: 0600}, buff); err != nil {
		t.Fatal(err)
	}
	buff.WriteString("new")

	sink := openSink(t, dstDir, 7)
	if _, err := sink.Write(buff.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	if data, _ := os.ReadFile(filepath.Join(dstDir, "dup")); string(data) != "old" {
		t.Fatalf("Existing file was overwritten: %q", data)
	}
	if data, _ := os.ReadFile(filepath.Join(dstDir, "dup.7")); string(data) != "new" {
		t.Fatalf("Received file is %q", data)
	}
}
