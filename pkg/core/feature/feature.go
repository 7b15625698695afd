// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Level 0 discovery "Feature" descriptor decoding

package feature

import (
	"encoding/binary"
	"io"
)

type FeatureCode uint16

const (
	CodeTPer       FeatureCode = 0x0001
	CodeLocking    FeatureCode = 0x0002
	CodeGeometry   FeatureCode = 0x0003
	CodeOpalV1     FeatureCode = 0x0200
	CodeSingleUser FeatureCode = 0x0201
	CodeDataStore  FeatureCode = 0x0202
	CodeOpalV2     FeatureCode = 0x0203
)

type TPer struct {
	SyncSupported       bool
	AsyncSupported      bool
	AckNakSupported     bool
	BufferMgmtSupported bool
	StreamingSupported  bool
	ComIDMgmtSupported  bool
}

type Locking struct {
	LockingSupported bool
	LockingEnabled   bool
	Locked           bool
	MediaEncryption  bool
	MBREnabled       bool
	MBRDone          bool
}

type Geometry struct {
	Align                bool
	LogicalBlockSize     uint32
	AlignmentGranularity uint64
	LowestAlignedLBA     uint64
}

// Opal SSC 1.00 Feature (Feature Code = 0x0200)
type OpalV1 struct {
	BaseComID             uint16
	NumComID              uint16
	RangeCrossingBehavior bool
}

type SingleUser struct {
	NumberLockingObjectsSupported uint32
	Policy                        bool
	Any                           bool
	All                           bool
}

type DataStore struct {
	MaxTables     uint16
	MaxSizeTables uint32
	TableAlign    uint32
}

// Opal SSC 2.00 Feature (Feature Code = 0x0203)
type OpalV2 struct {
	BaseComID                  uint16
	NumComID                   uint16
	RangeCrossingBehavior      bool
	NumLockingSPAdminSupported uint16
	NumLockingSPUserSupported  uint16
	InitialCPINSIDIndicator    uint8
	CPINSIDRevertBehavior      uint8
}

func ReadTPerFeature(rdr io.Reader) (*TPer, error) {
	var raw uint8
	if err := binary.Read(rdr, binary.BigEndian, &raw); err != nil {
		return nil, err
	}
	return &TPer{
		SyncSupported:       raw&0x01 > 0,
		AsyncSupported:      raw&0x02 > 0,
		AckNakSupported:     raw&0x04 > 0,
		BufferMgmtSupported: raw&0x08 > 0,
		StreamingSupported:  raw&0x10 > 0,
		ComIDMgmtSupported:  raw&0x40 > 0,
	}, nil
}

func ReadLockingFeature(rdr io.Reader) (*Locking, error) {
	var raw uint8
	if err := binary.Read(rdr, binary.BigEndian, &raw); err != nil {
		return nil, err
	}
	return &Locking{
		LockingSupported: raw&0x01 > 0,
		LockingEnabled:   raw&0x02 > 0,
		Locked:           raw&0x04 > 0,
		MediaEncryption:  raw&0x08 > 0,
		MBREnabled:       raw&0x10 > 0,
		MBRDone:          raw&0x20 > 0,
	}, nil
}

func ReadGeometryFeature(rdr io.Reader) (*Geometry, error) {
	d := struct {
		Align                uint8
		_                    [7]byte
		LogicalBlockSize     uint32
		AlignmentGranularity uint64
		LowestAlignedLBA     uint64
	}{}
	if err := binary.Read(rdr, binary.BigEndian, &d); err != nil {
		return nil, err
	}
	return &Geometry{
		Align:                d.Align&0x01 > 0,
		LogicalBlockSize:     d.LogicalBlockSize,
		AlignmentGranularity: d.AlignmentGranularity,
		LowestAlignedLBA:     d.LowestAlignedLBA,
	}, nil
}

func ReadOpalV1Feature(rdr io.Reader) (*OpalV1, error) {
	d := struct {
		BaseComID uint16
		NumComID  uint16
		RangeBhv  uint8
	}{}
	if err := binary.Read(rdr, binary.BigEndian, &d); err != nil {
		return nil, err
	}
	return &OpalV1{
		BaseComID:             d.BaseComID,
		NumComID:              d.NumComID,
		RangeCrossingBehavior: d.RangeBhv&0x01 > 0,
	}, nil
}

func ReadSingleUserFeature(rdr io.Reader) (*SingleUser, error) {
	d := struct {
		NumberOfLockingObjectsSupported uint32
		Policy                          uint8
		_                               [7]byte
	}{}
	if err := binary.Read(rdr, binary.BigEndian, &d); err != nil {
		return nil, err
	}
	return &SingleUser{
		NumberLockingObjectsSupported: d.NumberOfLockingObjectsSupported,
		Policy:                        d.Policy&0x4 > 0,
		All:                           d.Policy&0x2 > 0,
		Any:                           d.Policy&0x1 > 0,
	}, nil
}

func ReadDataStoreFeature(rdr io.Reader) (*DataStore, error) {
	d := struct {
		_             uint16
		MaxTables     uint16
		MaxSizeTables uint32
		TableAlign    uint32
	}{}
	if err := binary.Read(rdr, binary.BigEndian, &d); err != nil {
		return nil, err
	}
	return &DataStore{
		MaxTables:     d.MaxTables,
		MaxSizeTables: d.MaxSizeTables,
		TableAlign:    d.TableAlign,
	}, nil
}

func ReadOpalV2Feature(rdr io.Reader) (*OpalV2, error) {
	d := struct {
		BaseComID             uint16
		NumComID              uint16
		RangeBhv              uint8
		NumLockingSPAdmin     uint16
		NumLockingSPUser      uint16
		InitialCPINSID        uint8
		CPINSIDRevertBehavior uint8
	}{}
	if err := binary.Read(rdr, binary.BigEndian, &d); err != nil {
		return nil, err
	}
	return &OpalV2{
		BaseComID:                  d.BaseComID,
		NumComID:                   d.NumComID,
		RangeCrossingBehavior:      d.RangeBhv&0x01 > 0,
		NumLockingSPAdminSupported: d.NumLockingSPAdmin,
		NumLockingSPUserSupported:  d.NumLockingSPUser,
		InitialCPINSIDIndicator:    d.InitialCPINSID,
		CPINSIDRevertBehavior:      d.CPINSIDRevertBehavior,
	}, nil
}
