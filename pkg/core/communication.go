// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the ComPacket / Packet / SubPacket framing envelope

package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sky8273/topaz-alpha/pkg/drive"
)

type comPacketHeader struct {
	_               uint32
	ComID           uint16
	ComIDExt        uint16
	OutstandingData uint32
	MinTransfer     uint32
	Length          uint32
}

type packetHeader struct {
	TSN             uint32
	HSN             uint32
	SeqNumber       uint32
	_               uint16
	AckType         uint16
	Acknowledgement uint32
	Length          uint32
}

type subPacketHeader struct {
	_      [6]byte
	Kind   uint16
	Length uint32
}

const (
	comPacketHeaderLen = 20
	packetHeaderLen    = 24
	subPacketHeaderLen = 12
)

func padTo(n, mult int) int {
	return ((n + mult - 1) / mult) * mult
}

// send wraps a codec payload in the three framing headers and hands the
// padded block to the transport. Session IDs are placed in the Packet
// header unless the target is the session manager (withSession false).
func (d *Drive) send(payload []byte, withSession bool) error {
	subLen := len(payload)
	pktLen := padTo(subPacketHeaderLen+subLen, 4)
	comLen := packetHeaderLen + pktLen
	totLen := padTo(comPacketHeaderLen+comLen, drive.BlockSize)

	if uint32(totLen) > d.MaxComPacketSize {
		return ErrTooLargeComPacket
	}

	pkthdr := packetHeader{Length: uint32(pktLen)}
	if withSession {
		pkthdr.TSN = d.tperSessionID
		pkthdr.HSN = d.hostSessionID
	}

	buf := bytes.Buffer{}
	buf.Grow(totLen)
	if err := binary.Write(&buf, binary.BigEndian, &comPacketHeader{
		ComID:  d.ComID,
		Length: uint32(comLen),
	}); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, &pkthdr); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, &subPacketHeader{
		Kind:   0, // Data
		Length: uint32(subLen),
	}); err != nil {
		return err
	}
	buf.Write(payload)
	buf.Write(make([]byte, totLen-buf.Len()))

	d.log.WithField("bytes", totLen).Trace("IF-SEND")
	if err := d.d.IFSend(drive.SecurityProtocolTCGManagement, d.ComID, buf.Bytes()); err != nil {
		d.dropSession()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// recv polls the transport one block at a time until the TPer has a
// response ready (non-zero ComPacket length), then unwraps the SubPacket
// payload. Transport errors and poll exhaustion tear down the session.
func (d *Drive) recv() ([]byte, error) {
	deadline := time.Now().Add(d.recvTimeout)
	for {
		raw := make([]byte, drive.BlockSize)
		if err := d.d.IFRecv(drive.SecurityProtocolTCGManagement, d.ComID, &raw); err != nil {
			d.dropSession()
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}

		rdr := bytes.NewBuffer(raw)
		comhdr := comPacketHeader{}
		if err := binary.Read(rdr, binary.BigEndian, &comhdr); err != nil {
			return nil, err
		}
		if comhdr.Length > 0 {
			if comhdr.ComID != d.ComID {
				return nil, ErrComIDMismatch
			}
			if comhdr.Length < packetHeaderLen+subPacketHeaderLen {
				return nil, ErrInvalidPacketLength
			}
			pkthdr := packetHeader{}
			if err := binary.Read(rdr, binary.BigEndian, &pkthdr); err != nil {
				return nil, err
			}
			subhdr := subPacketHeader{}
			if err := binary.Read(rdr, binary.BigEndian, &subhdr); err != nil {
				return nil, err
			}
			data := rdr.Bytes()
			if int(subhdr.Length) > len(data) {
				return nil, ErrInvalidPacketLength
			}
			d.log.WithField("bytes", subhdr.Length).Trace("IF-RECV")
			return data[:subhdr.Length], nil
		}

		if time.Now().After(deadline) {
			d.dropSession()
			return nil, ErrTimeout
		}
		time.Sleep(d.pollInterval)
	}
}
