// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rf95modem-go/rf95"
)

// Rf95Link transmits datagrams by using LoRa over a rf95modem. A LoRa
// broadcast has no return path either, which makes it a natural diode.
// Its small MTU requires small blocks and low K, see the configuration.
type Rf95Link struct {
	device string
	modem  *rf95.Modem
}

// OpenRf95 opens a serial connection to the given device, e.g., /dev/ttyUSB0.
func OpenRf95(device string) (*Rf95Link, error) {
	m, err := rf95.OpenSerial(device)
	if err != nil {
		return nil, err
	}

	l := &Rf95Link{
		device: device,
		modem:  m,
	}
	log.WithFields(log.Fields{
		"link": l,
		"mtu":  l.MTU(),
	}).Info("Opened rf95modem link")

	return l, nil
}

func (l *Rf95Link) MTU() (mtu int) {
	mtu, _ = l.modem.Mtu()
	return
}

func (l *Rf95Link) Send(datagram []byte) (err error) {
	_, err = l.modem.Write(datagram)
	return
}

func (l *Rf95Link) Receive() ([]byte, error) {
	buf := make([]byte, l.MTU())
	n, err := l.modem.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (l *Rf95Link) Close() error {
	return l.modem.Close()
}

func (l *Rf95Link) String() string {
	return fmt.Sprintf("rf95modem://%s", l.device)
}
