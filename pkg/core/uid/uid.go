// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Well-known UIDs from the TCG Storage Architecture Core Specification and
// the Opal SSC 2.0. UIDs are 64-bit values; on the wire they travel as
// 8-byte big-endian binary atoms.

package uid

const (
	// Session Manager, "Table 241 - Session Manager Method UIDs"
	SessionManager     uint64 = 0x00000000000000FF
	MethodProperties   uint64 = 0x000000000000FF01
	MethodStartSession uint64 = 0x000000000000FF02

	// Security Providers
	AdminSP   uint64 = 0x0000020500000001
	LockingSP uint64 = 0x0000020500000002

	// Common table methods
	MethodGet      uint64 = 0x0000000600000016
	MethodSet      uint64 = 0x0000000600000017
	MethodRevert   uint64 = 0x0000000600000202
	MethodActivate uint64 = 0x0000000600000203

	// Credential objects
	CPinSID  uint64 = 0x00000B0000000001
	CPinMSID uint64 = 0x00000B0000008402

	// Locking SP objects
	LBARangeGlobal uint64 = 0x0000080200000001
	MBRControl     uint64 = 0x0000080300000001
	MBRTable       uint64 = 0x0000080400000000

	// Authorities
	AuthoritySID uint64 = 0x0000000900000006
	AdminBase    uint64 = 0x0000000900010000
	UserBase     uint64 = 0x0000000900030000
)

// C_PIN PIN column, "5.3.2.12 Credential Table Group - C_PIN"
const ColumnCPinPIN uint64 = 3

// MBRControl columns
const (
	ColumnMBREnable uint64 = 1
	ColumnMBRDone   uint64 = 2
)

// Locking table columns of interest on a range object
const (
	ColumnRangeReadLocked  uint64 = 7
	ColumnRangeWriteLocked uint64 = 8
)
