// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type sentFiles struct {
	sync.Mutex
	names    []string
	failures int
}

func (sf *sentFiles) send(name string) error {
	sf.Lock()
	defer sf.Unlock()

	if sf.failures > 0 {
		sf.failures--
		return errors.New("diode-send is unreachable")
	}

	sf.names = append(sf.names, filepath.Base(name))
	return nil
}

func (sf *sentFiles) sent() []string {
	sf.Lock()
	defer sf.Unlock()

	return append([]string(nil), sf.names...)
}

func waitForFiles(t *testing.T, sf *sentFiles, n int) []string {
	t.Helper()

	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		if names := sf.sent(); len(names) >= n {
			return names
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Only %v of %d files were sent", sf.sent(), n)
	return nil
}

func TestSpool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing"), []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}

	sf := &sentFiles{failures: 1}
	sp, err := newSpool(dir, 50*time.Millisecond, sf.send)
	if err != nil {
		t.Fatal(err)
	}
	defer sp.Close()

	for _, name := range []string{"new", ".partial"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	names := waitForFiles(t, sf, 2)
	found := map[string]bool{}
	for _, name := range names {
		found[name] = true
	}
	if !found["existing"] || !found["new"] || found[".partial"] {
		t.Fatalf("Spool sent %v", names)
	}

	// Sent files are removed, hidden files are kept.
	for deadline := time.Now().Add(time.Second); ; {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 1 && entries[0].Name() == ".partial" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Spool directory contains %d entries", len(entries))
		}
		time.Sleep(20 * time.Millisecond)
	}
}
