// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/sky8273/topaz-alpha/pkg/cmdutil"
	"github.com/sky8273/topaz-alpha/pkg/core"
	"github.com/sky8273/topaz-alpha/pkg/drive"
	"github.com/sky8273/topaz-alpha/pkg/opal"
)

type context struct {
	log *logrus.Logger
}

type unlockCmd struct {
	Device           string `arg:"" required:"" help:"Path to TCG Opal device (e.g. /dev/sda)"`
	User             string `optional:"" short:"u" default:"admin1" help:"Locking SP user (adminN or userN)"`
	cmdutil.PinEmbed `embed:""`
}

type lockCmd struct {
	Device           string `arg:"" required:"" help:"Path to TCG Opal device (e.g. /dev/sda)"`
	User             string `optional:"" short:"u" default:"admin1" help:"Locking SP user (adminN or userN)"`
	cmdutil.PinEmbed `embed:""`
}

type loadMBRCmd struct {
	Device           string `arg:"" required:"" help:"Path to TCG Opal device (e.g. /dev/sda)"`
	Image            string `flag:"" required:"" short:"i" help:"Path to PBA image for the MBR shadow"`
	User             string `optional:"" short:"u" default:"admin1" help:"Locking SP user (adminN or userN)"`
	cmdutil.PinEmbed `embed:""`
}

type msidCmd struct {
	Device string `arg:"" required:"" help:"Path to TCG Opal device (e.g. /dev/sda)"`
}

type revertCmd struct {
	Device           string `arg:"" required:"" help:"Path to TCG Opal device (e.g. /dev/sda)"`
	cmdutil.PinEmbed `embed:""`
}

type discoverCmd struct {
	Device string `arg:"" required:"" help:"Path to device (e.g. /dev/sda)"`
}

var cli struct {
	Unlock   unlockCmd   `cmd:"" help:"Unlock the global range and hide the MBR shadow"`
	Lock     lockCmd     `cmd:"" help:"Lock the global range"`
	LoadMbr  loadMBRCmd  `cmd:"" help:"Load a PBA image into the MBR shadow"`
	Msid     msidCmd     `cmd:"" help:"Print the manufactured default PIN (MSID)"`
	Revert   revertCmd   `cmd:"" help:"Revert the TPer to factory state (destroys the media key)"`
	Discover discoverCmd `cmd:"" help:"Dump Level 0 discovery data"`
	Verbose  int         `optional:"" short:"v" type:"counter" help:"Increase log verbosity (-v debug, -vv trace)"`
}

func promptPin(what string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter %s PIN: ", what)
	raw, err := term.ReadPassword(0)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("PIN could not be read: %v", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (u *unlockCmd) Run(ctx *context) error {
	authUID, err := opal.AuthorityUID(u.User)
	if err != nil {
		return err
	}
	d, err := core.Open(u.Device, core.WithLogger(ctx.log))
	if err != nil {
		return err
	}
	defer d.Close()

	// Keep trying until the drive accepts the credentials. Only a method
	// level failure means a wrong PIN; transport failures abort.
	for {
		if u.Pin == "" {
			if u.Pin, err = promptPin(u.User); err != nil {
				return err
			}
		}
		cred, err := u.PinBytes(d)
		if err != nil {
			return err
		}
		err = opal.Unlock(d, authUID, cred)
		if err == nil {
			return nil
		}
		var me *core.MethodError
		if !errors.As(err, &me) {
			return err
		}
		fmt.Fprintf(os.Stderr, "unlock failed: %v\n", err)
		u.Pin = ""
	}
}

func (l *lockCmd) Run(ctx *context) error {
	authUID, err := opal.AuthorityUID(l.User)
	if err != nil {
		return err
	}
	d, err := core.Open(l.Device, core.WithLogger(ctx.log))
	if err != nil {
		return err
	}
	defer d.Close()

	if l.Pin == "" {
		if l.Pin, err = promptPin(l.User); err != nil {
			return err
		}
	}
	cred, err := l.PinBytes(d)
	if err != nil {
		return err
	}
	return opal.Lock(d, authUID, cred)
}

func (l *loadMBRCmd) Run(ctx *context) error {
	authUID, err := opal.AuthorityUID(l.User)
	if err != nil {
		return err
	}
	image, err := os.ReadFile(l.Image)
	if err != nil {
		return err
	}
	d, err := core.Open(l.Device, core.WithLogger(ctx.log))
	if err != nil {
		return err
	}
	defer d.Close()

	if l.Pin == "" {
		if l.Pin, err = promptPin(l.User); err != nil {
			return err
		}
	}
	cred, err := l.PinBytes(d)
	if err != nil {
		return err
	}
	return opal.LoadPBAImage(d, authUID, cred, image)
}

func (m *msidCmd) Run(ctx *context) error {
	d, err := core.Open(m.Device, core.WithLogger(ctx.log))
	if err != nil {
		return err
	}
	defer d.Close()

	pin, err := opal.MSIDPin(d)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", pin)
	return nil
}

func (r *revertCmd) Run(ctx *context) error {
	d, err := core.Open(r.Device, core.WithLogger(ctx.log))
	if err != nil {
		return err
	}
	defer d.Close()

	var cred []byte
	if r.Pin == "" {
		// No credentials given: try the manufactured default
		if cred, err = opal.MSIDPin(d); err != nil {
			return err
		}
	} else if cred, err = r.PinBytes(d); err != nil {
		return err
	}
	return opal.RevertTPer(d, cred)
}

func (c *discoverCmd) Run(ctx *context) error {
	d, err := drive.Open(c.Device)
	if err != nil {
		return err
	}
	defer d.Close()

	if id, err := d.Identify(); err == nil {
		fmt.Println(id)
	}
	d0, err := core.Discovery0(d)
	if err != nil {
		return err
	}
	spew.Dump(d0)
	return nil
}
