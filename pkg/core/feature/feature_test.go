// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feature

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestReadGeometryFeature(t *testing.T) {
	raw := make([]byte, 28)
	raw[0] = 0x01
	binary.BigEndian.PutUint32(raw[8:12], 4096)
	binary.BigEndian.PutUint64(raw[12:20], 8)
	binary.BigEndian.PutUint64(raw[20:28], 16)

	f, err := ReadGeometryFeature(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadGeometryFeature failed: %v", err)
	}
	if !f.Align || f.LogicalBlockSize != 4096 || f.AlignmentGranularity != 8 || f.LowestAlignedLBA != 16 {
		t.Errorf("geometry = %+v", f)
	}
}

func TestReadOpalV2Feature(t *testing.T) {
	raw := make([]byte, 11)
	binary.BigEndian.PutUint16(raw[0:2], 0x07FE)
	binary.BigEndian.PutUint16(raw[2:4], 1)
	raw[4] = 0x01
	binary.BigEndian.PutUint16(raw[5:7], 4)
	binary.BigEndian.PutUint16(raw[7:9], 8)

	f, err := ReadOpalV2Feature(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadOpalV2Feature failed: %v", err)
	}
	if f.BaseComID != 0x07FE || f.NumComID != 1 || !f.RangeCrossingBehavior {
		t.Errorf("opal2 = %+v", f)
	}
	if f.NumLockingSPAdminSupported != 4 || f.NumLockingSPUserSupported != 8 {
		t.Errorf("authority counts = %d/%d", f.NumLockingSPAdminSupported, f.NumLockingSPUserSupported)
	}
}

func TestReadLockingFeature(t *testing.T) {
	f, err := ReadLockingFeature(bytes.NewReader([]byte{0x3F}))
	if err != nil {
		t.Fatalf("ReadLockingFeature failed: %v", err)
	}
	if !f.LockingSupported || !f.LockingEnabled || !f.Locked ||
		!f.MediaEncryption || !f.MBREnabled || !f.MBRDone {
		t.Errorf("locking = %+v", f)
	}
}

func TestReadTPerFeature(t *testing.T) {
	f, err := ReadTPerFeature(bytes.NewReader([]byte{0x41}))
	if err != nil {
		t.Fatalf("ReadTPerFeature failed: %v", err)
	}
	if !f.SyncSupported || !f.ComIDMgmtSupported || f.AsyncSupported {
		t.Errorf("tper = %+v", f)
	}
}
