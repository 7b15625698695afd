// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"os"
)

// Open opens an ATA block device for trusted send/receive. Before touching
// the device it verifies that the kernel will let TPM commands through, and
// after opening that the drive actually reports a security processor.
func Open(device string) (DriveIntf, error) {
	if err := checkLibata(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	d := ATADrive(f)
	if err := d.checkTPM(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// checkLibata verifies the Linux ATA layer is not configured to reject TPM
// commands. Best effort, /sys may not be mounted.
func checkLibata() error {
	b, err := os.ReadFile("/sys/module/libata/parameters/allow_tpm")
	if err != nil {
		return nil
	}
	if len(b) > 0 && b[0] == '0' {
		return ErrTPMBlocked
	}
	return nil
}
