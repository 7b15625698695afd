// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the TCG Opal drive handle: capability discovery, property
// negotiation and the high level table API.

package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sky8273/topaz-alpha/pkg/core/feature"
	"github.com/sky8273/topaz-alpha/pkg/core/stream"
	"github.com/sky8273/topaz-alpha/pkg/core/uid"
	"github.com/sky8273/topaz-alpha/pkg/drive"
)

var (
	ErrNotOpalCapable          = errors.New("drive does not support TCG Opal")
	ErrLevel0Revision          = errors.New("unexpected Level 0 discovery revision")
	ErrStackResetFailed        = errors.New("cannot reset ComID stack")
	ErrNoSession               = errors.New("operation requires an active session")
	ErrTimeout                 = errors.New("timed out waiting for a response")
	ErrTransport               = errors.New("transport failure")
	ErrTooLargeComPacket       = errors.New("ComPacket too large for drive")
	ErrComIDMismatch           = errors.New("unexpected ComID in drive response")
	ErrInvalidPacketLength     = errors.New("impossible length field in drive response")
	ErrMalformedMethodResponse = errors.New("method response was malformed")
)

// MethodError is a non-zero status code returned by the device. The device
// is still responsive; session state is untouched.
type MethodError struct {
	Status stream.MethodStatus
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("method returned status %v (0x%02x)", e.Status, uint8(e.Status))
}

// Communications initial assumption until Properties has negotiated the
// real bound ("Table 168").
const initialMaxComPacketSize = 2048

// Drive is a handle to the TPer of one TCG Opal device. It owns the
// transport for its lifetime and carries at most one session. A Drive is
// not safe for concurrent use.
type Drive struct {
	d   drive.DriveIntf
	log *logrus.Logger

	HasOpal1         bool
	HasOpal2         bool
	ComID            uint16
	LBAAlign         uint64
	AdminCount       uint16
	UserCount        uint16
	MaxComPacketSize uint32
	Level0           *Level0Discovery

	hostSessionID uint32
	tperSessionID uint32

	recvTimeout  time.Duration
	pollInterval time.Duration
}

type DriveOpt func(*Drive)

// WithLogger directs the drive's debug tracing to l.
func WithLogger(l *logrus.Logger) DriveOpt {
	return func(d *Drive) {
		d.log = l
	}
}

// Open opens the device node and brings the handle up: TPM protocol probe,
// Level 0 discovery, ComID stack reset when supported, then Level 1
// property negotiation.
func Open(device string, opts ...DriveOpt) (*Drive, error) {
	d, err := drive.Open(device)
	if err != nil {
		return nil, fmt.Errorf("open device %s failed: %w", device, err)
	}
	dr, err := NewDrive(d, opts...)
	if err != nil {
		d.Close()
		return nil, err
	}
	return dr, nil
}

// NewDrive runs discovery against an already opened transport.
func NewDrive(d drive.DriveIntf, opts ...DriveOpt) (*Drive, error) {
	dr := &Drive{
		d:                d,
		log:              logrus.StandardLogger(),
		LBAAlign:         1,
		MaxComPacketSize: initialMaxComPacketSize,
		recvTimeout:      5 * time.Second,
		pollInterval:     10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(dr)
	}

	if err := dr.probeTPM(); err != nil {
		return nil, err
	}
	if err := dr.probeLevel0(); err != nil {
		return nil, err
	}
	if dr.HasOpal2 {
		// Make sure we start from a blank slate
		if err := dr.resetComID(); err != nil {
			return nil, err
		}
	}
	if err := dr.probeLevel1(); err != nil {
		return nil, err
	}
	return dr, nil
}

// Close ends any session in progress and releases the transport.
func (d *Drive) Close() error {
	d.Logout()
	return d.d.Close()
}

// Identify returns the ATA identity of the underlying device.
func (d *Drive) Identify() (*drive.Identity, error) {
	return d.d.Identify()
}

// SerialNumber returns the drive serial, used as the PIN hash salt.
func (d *Drive) SerialNumber() ([]byte, error) {
	return d.d.SerialNumber()
}

// probeTPM checks the security protocol list for protocol 0x01, the one
// all TCG Opal communication runs on.
func (d *Drive) probeTPM() error {
	d.log.Debug("probe TPM security protocols")
	protos, err := drive.SecurityProtocols(d.d)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	for _, p := range protos {
		if p == drive.SecurityProtocolTCGManagement {
			return nil
		}
	}
	return ErrNotOpalCapable
}

// Level0Discovery is the parsed Level 0 discovery response.
type Level0Discovery struct {
	MajorVersion    int
	MinorVersion    int
	Vendor          [16]byte
	TPer            *feature.TPer
	Locking         *feature.Locking
	Geometry        *feature.Geometry
	OpalV1          *feature.OpalV1
	SingleUser      *feature.SingleUser
	DataStore       *feature.DataStore
	OpalV2          *feature.OpalV2
	UnknownFeatures []uint16
}

// Discovery0 performs a Level 0 SSC discovery against a transport.
func Discovery0(d drive.SendReceive) (*Level0Discovery, error) {
	d0raw := make([]byte, drive.BlockSize)
	if err := d.IFRecv(drive.SecurityProtocolTCGManagement, 1, &d0raw); err != nil {
		return nil, err
	}
	d0 := &Level0Discovery{}
	d0buf := bytes.NewBuffer(d0raw)
	d0hdr := struct {
		Size   uint32
		Major  uint16
		Minor  uint16
		_      [8]byte
		Vendor [16]byte
	}{}
	if err := binary.Read(d0buf, binary.BigEndian, &d0hdr); err != nil {
		return nil, fmt.Errorf("failed to parse Level 0 discovery: %v", err)
	}
	if d0hdr.Size == 0 {
		return nil, ErrNotOpalCapable
	}
	d0.MajorVersion = int(d0hdr.Major)
	d0.MinorVersion = int(d0hdr.Minor)
	copy(d0.Vendor[:], d0hdr.Vendor[:])

	fsize := int(d0hdr.Size) - binary.Size(d0hdr) + 4
	for fsize > 0 {
		fhdr := struct {
			Code    feature.FeatureCode
			Version uint8
			Size    uint8
		}{}
		if err := binary.Read(d0buf, binary.BigEndian, &fhdr); err != nil {
			return nil, fmt.Errorf("failed to parse feature header: %v", err)
		}
		frdr := io.LimitReader(d0buf, int64(fhdr.Size))
		var err error
		switch fhdr.Code {
		case feature.CodeTPer:
			d0.TPer, err = feature.ReadTPerFeature(frdr)
		case feature.CodeLocking:
			d0.Locking, err = feature.ReadLockingFeature(frdr)
		case feature.CodeGeometry:
			d0.Geometry, err = feature.ReadGeometryFeature(frdr)
		case feature.CodeOpalV1:
			d0.OpalV1, err = feature.ReadOpalV1Feature(frdr)
		case feature.CodeSingleUser:
			d0.SingleUser, err = feature.ReadSingleUserFeature(frdr)
		case feature.CodeDataStore:
			d0.DataStore, err = feature.ReadDataStoreFeature(frdr)
		case feature.CodeOpalV2:
			d0.OpalV2, err = feature.ReadOpalV2Feature(frdr)
		default:
			d0.UnknownFeatures = append(d0.UnknownFeatures, uint16(fhdr.Code))
		}
		if err != nil {
			return nil, err
		}
		if _, err := io.CopyN(io.Discard, frdr, int64(fhdr.Size)); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		fsize -= binary.Size(fhdr) + int(fhdr.Size)
	}
	return d0, nil
}

// probeLevel0 walks the discovery descriptors and records the drive
// capabilities. A drive without Opal 1 or Opal 2 support is rejected.
func (d *Drive) probeLevel0() error {
	d.log.Debug("establish level 0 comms - discovery")
	d0, err := Discovery0(d.d)
	if err != nil {
		if errors.Is(err, ErrNotOpalCapable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if d0.MajorVersion != 0 || d0.MinorVersion != 1 {
		return ErrLevel0Revision
	}
	d.Level0 = d0

	if geo := d0.Geometry; geo != nil {
		d.LBAAlign = geo.LowestAlignedLBA
	}
	if opal1 := d0.OpalV1; opal1 != nil {
		d.HasOpal1 = true
		d.ComID = opal1.BaseComID
		// Opal 1.0 doesn't work on large sector drives
		d.LBAAlign = 1
	}
	if opal2 := d0.OpalV2; opal2 != nil {
		d.HasOpal2 = true
		d.ComID = opal2.BaseComID
		d.AdminCount = opal2.NumLockingSPAdminSupported
		d.UserCount = opal2.NumLockingSPUserSupported
	}
	if !d.HasOpal1 && !d.HasOpal2 {
		return ErrNotOpalCapable
	}
	d.log.WithFields(logrus.Fields{
		"opal1": d.HasOpal1,
		"opal2": d.HasOpal2,
		"comid": fmt.Sprintf("0x%04x", d.ComID),
	}).Debug("level 0 discovery complete")
	return nil
}

// resetComID resets the synchronous protocol stack of the negotiated ComID
// through a protocol 2 management request.
func (d *Drive) resetComID() error {
	d.log.Debugf("reset ComID 0x%04x", d.ComID)
	buf := make([]byte, drive.BlockSize)
	binary.BigEndian.PutUint16(buf[0:2], d.ComID)
	binary.BigEndian.PutUint16(buf[2:4], 0) // ComID extension
	binary.BigEndian.PutUint32(buf[4:8], 0x02) // STACK_RESET

	if err := d.d.IFSend(drive.SecurityProtocolTCGTPer, d.ComID, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	buf = make([]byte, drive.BlockSize)
	if err := d.d.IFRecv(drive.SecurityProtocolTCGTPer, d.ComID, &buf); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	availData := binary.BigEndian.Uint16(buf[10:12])
	failure := binary.BigEndian.Uint32(buf[12:16])
	if availData != 4 || failure != 0 {
		return ErrStackResetFailed
	}
	return nil
}

// probeLevel1 queries the session manager communication properties and
// adopts MaxComPacketSize as the framing size bound.
func (d *Drive) probeLevel1() error {
	d.log.Debug("establish level 1 comms - host properties")
	reply, err := d.Invoke(uid.SessionManager, uid.MethodProperties)
	if err != nil {
		return err
	}
	args, ok := reply.List()
	if !ok || len(args) == 0 {
		return ErrMalformedMethodResponse
	}
	props, ok := args[0].List()
	if !ok {
		return ErrMalformedMethodResponse
	}
	for _, p := range props {
		name, value, ok := p.Named()
		if !ok {
			continue
		}
		n, err := name.Bytes()
		if err != nil {
			continue
		}
		va, ok := value.Atom()
		if !ok {
			continue
		}
		v, err := va.Uint()
		if err != nil {
			continue
		}
		if string(n) == "MaxComPacketSize" {
			d.MaxComPacketSize = uint32(v)
			d.log.WithField("MaxComPacketSize", v).Debug("adopted framing size bound")
		}
	}
	return nil
}
