// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements method invocation, session startup and teardown, and the
// table get/set operations built on them.

package core

import (
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/sky8273/topaz-alpha/pkg/core/stream"
	"github.com/sky8273/topaz-alpha/pkg/core/uid"
)

// Invoke calls methodUID on objectUID with the given parameters and
// returns the reply datum with its status footer already verified.
// Calls to any target other than the session manager require an active
// session; without one the transport is never touched.
func (d *Drive) Invoke(objectUID, methodUID uint64, params ...stream.Datum) (stream.Datum, error) {
	toSessionMgr := objectUID == uid.SessionManager
	if !toSessionMgr && d.hostSessionID == 0 {
		return stream.Datum{}, ErrNoSession
	}

	m := stream.Method(objectUID, methodUID, params...)
	if d.log.IsLevelEnabled(logrus.TraceLevel) {
		d.log.Tracef("opal TX:\n%s", spew.Sdump(m))
	}
	body, err := m.Encode(nil)
	if err != nil {
		return stream.Datum{}, err
	}
	// The device expects a complete EndOfData / status list suffix on
	// every call
	body = append(body, stream.StatusFooter(stream.StatusSuccess)...)

	if err := d.send(body, !toSessionMgr); err != nil {
		return stream.Datum{}, err
	}
	payload, err := d.recv()
	if err != nil {
		return stream.Datum{}, err
	}

	reply, n, err := stream.DecodeDatum(payload)
	if err != nil {
		return stream.Datum{}, err
	}
	if d.log.IsLevelEnabled(logrus.TraceLevel) {
		d.log.Tracef("opal RX:\n%s", spew.Sdump(reply))
	}

	switch reply.Kind() {
	case stream.DatumMethod:
		// Session manager replies arrive in method call format with the
		// footer folded into the method itself
		if st := reply.Status(); st != stream.StatusSuccess {
			return stream.Datum{}, &MethodError{Status: st}
		}
	case stream.DatumEndSession:
		// End of session acknowledgement carries no footer
	default:
		st, err := stream.ParseStatusFooter(payload[n:])
		if err != nil {
			return stream.Datum{}, err
		}
		if st != stream.StatusSuccess {
			return stream.Datum{}, &MethodError{Status: st}
		}
	}
	return reply, nil
}

// LoginAnon starts an anonymous read/write session with a Security
// Provider. Any session in progress is ended first.
func (d *Drive) LoginAnon(spUID uint64) error {
	d.Logout()
	reply, err := d.Invoke(uid.SessionManager, uid.MethodStartSession,
		stream.DatumOf(stream.UInt(uint64(os.Getpid()))), // Host session ID
		stream.DatumOf(stream.UID(spUID)),
		stream.DatumOf(stream.UInt(1))) // Read/Write session
	if err != nil {
		return err
	}
	return d.adoptSession(reply)
}

// Login starts an authenticated read/write session with a Security
// Provider, proving authUID with the given PIN.
func (d *Drive) Login(spUID, authUID uint64, pin []byte) error {
	d.Logout()
	pinAtom, err := stream.Bytes(pin)
	if err != nil {
		return err
	}
	reply, err := d.Invoke(uid.SessionManager, uid.MethodStartSession,
		stream.DatumOf(stream.UInt(uint64(os.Getpid()))), // Host session ID
		stream.DatumOf(stream.UID(spUID)),
		stream.DatumOf(stream.UInt(1)), // Read/Write session
		stream.Named(stream.UInt(0), stream.DatumOf(pinAtom)),           // Host challenge
		stream.Named(stream.UInt(3), stream.DatumOf(stream.UID(authUID)))) // Host signing authority
	if err != nil {
		return err
	}
	return d.adoptSession(reply)
}

// adoptSession stores the session IDs from a SyncSession reply.
func (d *Drive) adoptSession(reply stream.Datum) error {
	args, ok := reply.List()
	if !ok || len(args) < 2 {
		return ErrMalformedMethodResponse
	}
	ha, ok1 := args[0].Atom()
	ta, ok2 := args[1].Atom()
	if !ok1 || !ok2 {
		return ErrMalformedMethodResponse
	}
	hsn, err1 := ha.Uint()
	tsn, err2 := ta.Uint()
	if err1 != nil || err2 != nil || hsn == 0 || tsn == 0 {
		return ErrMalformedMethodResponse
	}
	d.hostSessionID = uint32(hsn)
	d.tperSessionID = uint32(tsn)
	d.log.WithFields(logrus.Fields{
		"tsn": d.tperSessionID,
		"hsn": d.hostSessionID,
	}).Debug("session started")
	return nil
}

// SessionIDs returns the current (host, tper) session ID pair. Both are
// zero when no session is active.
func (d *Drive) SessionIDs() (uint32, uint32) {
	return d.hostSessionID, d.tperSessionID
}

// Logout ends the session in progress, if any. Errors are swallowed: a
// preceding Revert legitimately tears the session down before the end of
// session exchange completes.
func (d *Drive) Logout() {
	if d.hostSessionID == 0 {
		return
	}
	d.log.WithFields(logrus.Fields{
		"tsn": d.tperSessionID,
		"hsn": d.hostSessionID,
	}).Debug("stopping session")
	body, _ := stream.EndSessionToken().Encode(nil)
	if err := d.send(body, true); err == nil {
		d.recv() //nolint:errcheck
	}
	d.dropSession()
}

func (d *Drive) dropSession() {
	d.hostSessionID = 0
	d.tperSessionID = 0
}

// AdminSPRevert invokes Revert on the Admin SP, restoring the drive to
// factory state. On success the TPer drops the session unilaterally, so
// only the local IDs are cleared.
func (d *Drive) AdminSPRevert() error {
	if _, err := d.Invoke(uid.AdminSP, uid.MethodRevert); err != nil {
		return err
	}
	d.dropSession()
	return nil
}

// TableGet reads a single column of the invoked table or object row.
func (d *Drive) TableGet(tblUID, col uint64) (stream.Atom, error) {
	cell := stream.List(
		stream.Named(stream.UInt(3), stream.DatumOf(stream.UInt(col))), // Starting column
		stream.Named(stream.UInt(4), stream.DatumOf(stream.UInt(col)))) // Ending column
	reply, err := d.Invoke(tblUID, uid.MethodGet, cell)
	if err != nil {
		return stream.Atom{}, err
	}
	rows, ok := reply.List()
	if !ok {
		return stream.Atom{}, ErrMalformedMethodResponse
	}
	if len(rows) == 0 {
		// Column not present on this object
		return stream.Atom{}, &MethodError{Status: stream.StatusInvalidParameter}
	}
	inner, ok := rows[0].List()
	if !ok {
		return stream.Atom{}, ErrMalformedMethodResponse
	}
	if len(inner) == 0 {
		return stream.Atom{}, &MethodError{Status: stream.StatusInvalidParameter}
	}
	_, value, ok := inner[0].Named()
	if !ok {
		return stream.Atom{}, ErrMalformedMethodResponse
	}
	a, ok := value.Atom()
	if !ok {
		return stream.Atom{}, ErrMalformedMethodResponse
	}
	return a, nil
}

// TableGetRow reads all columns of the invoked object row, keyed by column
// number.
func (d *Drive) TableGetRow(tblUID uint64) (map[uint64]stream.Datum, error) {
	reply, err := d.Invoke(tblUID, uid.MethodGet, stream.List())
	if err != nil {
		return nil, err
	}
	rows, ok := reply.List()
	if !ok || len(rows) == 0 {
		return nil, ErrMalformedMethodResponse
	}
	inner, ok := rows[0].List()
	if !ok {
		return nil, ErrMalformedMethodResponse
	}
	res := map[uint64]stream.Datum{}
	for _, e := range inner {
		name, value, ok := e.Named()
		if !ok {
			return nil, ErrMalformedMethodResponse
		}
		col, err := name.Uint()
		if err != nil {
			return nil, ErrMalformedMethodResponse
		}
		res[col] = value
	}
	return res, nil
}

// TableSet writes a single column of the invoked table or object row.
func (d *Drive) TableSet(tblUID, col uint64, val stream.Atom) error {
	values := stream.Named(stream.UInt(1), // Values
		stream.List(stream.Named(stream.UInt(col), stream.DatumOf(val))))
	_, err := d.Invoke(tblUID, uid.MethodSet, values)
	return err
}

// Worst case non-data bytes of one bulk Set, rounded up: the method
// skeleton (call token, two UID atoms, argument list, status footer), the
// Where and Values named wrappers with a long atom header, the three
// framing headers, and the trailing block padding.
const bulkSetOverhead = 1024

// TableSetBin streams buf into a byte table starting at offset, split into
// MaxComPacketSize-bounded chunks aligned down to 4096 bytes.
func (d *Drive) TableSetBin(tblUID uint64, offset uint64, buf []byte) error {
	chunk := (int(d.MaxComPacketSize) - bulkSetOverhead) &^ (4096 - 1)
	if chunk <= 0 {
		return ErrTooLargeComPacket
	}
	for off := 0; off < len(buf); off += chunk {
		end := off + chunk
		if end > len(buf) {
			end = len(buf)
		}
		bin, err := stream.Bytes(buf[off:end])
		if err != nil {
			return err
		}
		where := stream.Named(stream.UInt(0), stream.DatumOf(stream.UInt(offset+uint64(off))))
		values := stream.Named(stream.UInt(1), stream.DatumOf(bin))
		if _, err := d.Invoke(tblUID, uid.MethodSet, where, values); err != nil {
			return err
		}
	}
	return nil
}

// DefaultPIN reads the manufactured default credential (MSID).
func (d *Drive) DefaultPIN() ([]byte, error) {
	a, err := d.TableGet(uid.CPinMSID, uid.ColumnCPinPIN)
	if err != nil {
		return nil, err
	}
	pin, err := a.Bytes()
	if err != nil {
		return nil, ErrMalformedMethodResponse
	}
	return pin, nil
}
