// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// diode-send-file sends regular files through a diode-send. Each file is
// transferred as its own session, starting with a header carrying the file's
// name, size and mode, to be stored by a diode-receive with a file output.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// printUsage of diode-send-file and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s send|watch:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s send address file...\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends the files to the diode-send listening on the TCP address.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s watch address directory\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends each file dropped into the directory to the diode-send listening on\n")
	_, _ = fmt.Fprintf(os.Stderr, "  the TCP address. Sent files are removed; hidden files are ignored.\n\n")

	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	switch os.Args[1] {
	case "send":
		sendFiles(os.Args[2:])

	case "watch":
		startWatch(os.Args[2:])

	default:
		printUsage()
	}
}
