// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseConfig(t *testing.T) {
	_, recvConf, open, err := parseConfig(writeConfig(t, `
[link]
uri = "udp://0.0.0.0:6000"

[session]
deadline = "500ms"
window = 16
linger = "0s"

[output]
protocol = "file"
dir = "/var/spool/diode"

[heartbeat]
timeout = "1m"
`))
	if err != nil {
		t.Fatal(err)
	}
	if open == nil {
		t.Fatal("No opener was configured")
	}

	if recvConf.BlockDeadline != 500*time.Millisecond || recvConf.Window != 16 ||
		recvConf.Linger != 0 || recvConf.HeartbeatTimeout != time.Minute {
		t.Fatalf("Unexpected receive configuration: %+v", recvConf)
	}
	if recvConf.InactivityTimeout != time.Minute || recvConf.QueueSize != 1024 {
		t.Fatalf("Defaults were not kept: %+v", recvConf)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no-link", "[output]\naddress = \"127.0.0.1:7000\"\n"},
		{"no-address", "[link]\nuri = \"udp://:6000\"\n"},
		{"no-dir", "[link]\nuri = \"udp://:6000\"\n[output]\nprotocol = \"file\"\n"},
		{"protocol", "[link]\nuri = \"udp://:6000\"\n[output]\nprotocol = \"smtp\"\n"},
		{"deadline", "[link]\nuri = \"udp://:6000\"\n[output]\naddress = \":7000\"\n[session]\ndeadline = \"-1s\"\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, _, _, err := parseConfig(writeConfig(t, test.content)); err == nil {
				t.Fatal("Invalid configuration was accepted")
			}
		})
	}
}
