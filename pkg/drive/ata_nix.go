// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"encoding/binary"
	"runtime"
	"strings"

	"github.com/sky8273/topaz-alpha/pkg/drive/sgio"
)

type ataDrive struct {
	fd FdIntf
}

func (d *ataDrive) IFRecv(proto SecurityProtocol, comID uint16, data *[]byte) error {
	err := sgio.ATATrustedReceive(d.fd.Fd(), uint8(proto), comID, data)
	runtime.KeepAlive(d.fd)
	return err
}

func (d *ataDrive) IFSend(proto SecurityProtocol, comID uint16, data []byte) error {
	err := sgio.ATATrustedSend(d.fd.Fd(), uint8(proto), comID, data)
	runtime.KeepAlive(d.fd)
	return err
}

func (d *ataDrive) identify() ([256]uint16, error) {
	var words [256]uint16
	raw := make([]byte, BlockSize)
	err := sgio.ATAIdentify(d.fd.Fd(), &raw)
	runtime.KeepAlive(d.fd)
	if err != nil {
		return words, err
	}
	for i := range words {
		// IDENTIFY DEVICE data is little-endian words
		words[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return words, nil
}

func (d *ataDrive) Identify() (*Identity, error) {
	words, err := d.identify()
	if err != nil {
		return nil, err
	}
	return &Identity{
		SerialNumber: ataString(words[10:20]),
		Firmware:     ataString(words[23:27]),
		Model:        ataString(words[27:47]),
	}, nil
}

func (d *ataDrive) SerialNumber() ([]byte, error) {
	id, err := d.Identify()
	if err != nil {
		return nil, err
	}
	return []byte(id.SerialNumber), nil
}

// checkTPM verifies the drive is modern enough to report a security
// processor (word 80, ATA major version 8 or later) and carries the
// trusted computing fingerprint (word 48 bits 15:14 equal to 01b).
func (d *ataDrive) checkTPM() error {
	words, err := d.identify()
	if err != nil {
		return err
	}
	if words[80]&^uint16(1<<8-1) == 0 {
		return ErrNoTPM
	}
	if words[48]&0xC000 != 0x4000 {
		return ErrNoTPM
	}
	return nil
}

func (d *ataDrive) Close() error {
	return d.fd.Close()
}

// ATADrive wraps an open file descriptor of an ATA block device. The full
// object reference is kept to avoid the underlying File-like object being
// GC'd.
func ATADrive(fd FdIntf) *ataDrive {
	return &ataDrive{fd: fd}
}

// ataString decodes the byte-swapped string format of IDENTIFY DEVICE
// fields.
func ataString(words []uint16) string {
	out := make([]byte, 0, len(words)*2)
	for _, w := range words {
		out = append(out, byte(w>>8), byte(w))
	}
	return strings.TrimSpace(string(out))
}
