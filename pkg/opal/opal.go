// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// High level unlock and provisioning flows on top of the drive handle

package opal

import (
	"errors"
	"fmt"

	"github.com/sky8273/topaz-alpha/pkg/core"
	"github.com/sky8273/topaz-alpha/pkg/core/stream"
	"github.com/sky8273/topaz-alpha/pkg/core/uid"
)

var ErrUnknownAuthority = errors.New("illegal Locking SP user")

// AuthorityUID maps a user name of the form "adminN" or "userN" to the
// corresponding Locking SP authority object.
func AuthorityUID(user string) (uint64, error) {
	var n uint
	if _, err := fmt.Sscanf(user, "admin%d", &n); err == nil {
		return uid.AdminBase + uint64(n), nil
	}
	if _, err := fmt.Sscanf(user, "user%d", &n); err == nil {
		return uid.UserBase + uint64(n), nil
	}
	return 0, ErrUnknownAuthority
}

// Unlock authenticates to the Locking SP, hides the MBR shadow and clears
// the read and write locks on the global range.
func Unlock(d *core.Drive, authUID uint64, pin []byte) error {
	if err := d.Login(uid.LockingSP, authUID, pin); err != nil {
		return err
	}
	// We are done with the MBR shadow (1 -> hide it)
	if err := d.TableSet(uid.MBRControl, uid.ColumnMBRDone, stream.UInt(1)); err != nil {
		return err
	}
	if err := d.TableSet(uid.LBARangeGlobal, uid.ColumnRangeReadLocked, stream.UInt(0)); err != nil {
		return err
	}
	return d.TableSet(uid.LBARangeGlobal, uid.ColumnRangeWriteLocked, stream.UInt(0))
}

// Lock engages the read and write locks on the global range.
func Lock(d *core.Drive, authUID uint64, pin []byte) error {
	if err := d.Login(uid.LockingSP, authUID, pin); err != nil {
		return err
	}
	if err := d.TableSet(uid.LBARangeGlobal, uid.ColumnRangeReadLocked, stream.UInt(1)); err != nil {
		return err
	}
	return d.TableSet(uid.LBARangeGlobal, uid.ColumnRangeWriteLocked, stream.UInt(1))
}

// LoadPBAImage writes a pre-boot image into the MBR shadow table using the
// chunked binary write path.
func LoadPBAImage(d *core.Drive, authUID uint64, pin, image []byte) error {
	if err := d.Login(uid.LockingSP, authUID, pin); err != nil {
		return err
	}
	return d.TableSetBin(uid.MBRTable, 0, image)
}

// RevertTPer authenticates to the Admin SP as SID and reverts the drive to
// factory state. The session ends implicitly on success.
func RevertTPer(d *core.Drive, pin []byte) error {
	if err := d.Login(uid.AdminSP, uid.AuthoritySID, pin); err != nil {
		return err
	}
	return d.AdminSPRevert()
}

// MSIDPin reads the manufactured default credential over an anonymous
// Admin SP session.
func MSIDPin(d *core.Drive) ([]byte, error) {
	if err := d.LoginAnon(uid.AdminSP); err != nil {
		return nil, err
	}
	defer d.Logout()
	return d.DefaultPIN()
}
