// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Session state machine and table operation tests

package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sky8273/topaz-alpha/pkg/core/stream"
	"github.com/sky8273/topaz-alpha/pkg/core/uid"
	"github.com/sky8273/topaz-alpha/pkg/drive"
)

const methodSyncSession = 0x000000000000FF03

func syncSessionReply(t *testing.T, hsn, tsn uint64) []byte {
	t.Helper()
	reply := stream.Method(uid.SessionManager, methodSyncSession,
		stream.DatumOf(stream.UInt(hsn)),
		stream.DatumOf(stream.UInt(tsn)))
	return methodReply(t, reply, stream.StatusSuccess)
}

func queueReply(t *testing.T, st *stubTransport, payload []byte) {
	t.Helper()
	st.queue(drive.SecurityProtocolTCGManagement, frameReply(t, testComID, 0, 0, payload))
}

func TestInvokeWithoutSession(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)

	_, err := d.Invoke(uid.AdminSP, uid.MethodRevert)
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("Invoke err = %v; want ErrNoSession", err)
	}
	if len(st.sent) != 0 || st.recvCalls != 0 {
		t.Errorf("transport touched without a session: %d sends, %d recvs", len(st.sent), st.recvCalls)
	}
}

func TestLoginAnonLifecycle(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	queueReply(t, st, syncSessionReply(t, 0x1234, 0x9876))

	if err := d.LoginAnon(uid.AdminSP); err != nil {
		t.Fatalf("LoginAnon failed: %v", err)
	}
	hsn, tsn := d.SessionIDs()
	if hsn != 0x1234 || tsn != 0x9876 {
		t.Errorf("session IDs = %#x:%#x; want 0x1234:0x9876", hsn, tsn)
	}

	// The StartSession ComPacket itself travels outside any session and
	// ends with the expected status suffix
	h, rest := parseSent(t, st.sent[0].data)
	if h.pkt.TSN != 0 || h.pkt.HSN != 0 {
		t.Errorf("StartSession sent with session IDs %d:%d", h.pkt.TSN, h.pkt.HSN)
	}
	payload := rest[:h.sub.Length]
	if !bytes.HasSuffix(payload, []byte{0xF9, 0xF0, 0x00, 0x00, 0x00, 0xF1}) {
		t.Errorf("call payload does not end in status footer: %x", payload)
	}
	if payload[0] != 0xF8 {
		t.Errorf("call payload does not start with Call token: %x", payload[0])
	}

	// End of session: TPer acknowledges with the same token
	queueReply(t, st, []byte{0xFA})
	d.Logout()
	if hsn, tsn := d.SessionIDs(); hsn != 0 || tsn != 0 {
		t.Errorf("session IDs = %d:%d after logout; want 0:0", hsn, tsn)
	}
}

func TestLoginPassesChallenge(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	queueReply(t, st, syncSessionReply(t, 0x11, 0x22))

	pin := []byte("s3cret")
	if err := d.Login(uid.LockingSP, uid.AdminBase+1, pin); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	h, rest := parseSent(t, st.sent[0].data)
	call, _, err := stream.DecodeDatum(rest[:h.sub.Length])
	if err != nil {
		t.Fatalf("sent payload does not decode: %v", err)
	}
	if call.ObjectUID() != uid.SessionManager || call.MethodUID() != uid.MethodStartSession {
		t.Fatalf("call = %#x.%#x", call.ObjectUID(), call.MethodUID())
	}
	params, _ := call.List()
	if len(params) != 5 {
		t.Fatalf("StartSession carries %d parameters; want 5", len(params))
	}
	name, value, ok := params[3].Named()
	if !ok {
		t.Fatalf("parameter 3 is not named: %+v", params[3])
	}
	if id, err := name.Uint(); err != nil || id != 0 {
		t.Errorf("challenge parameter id = %v, %v; want 0", id, err)
	}
	va, _ := value.Atom()
	if got, err := va.Bytes(); err != nil || !bytes.Equal(got, pin) {
		t.Errorf("challenge = %x, %v; want %x", got, err, pin)
	}
	name, value, ok = params[4].Named()
	if !ok {
		t.Fatalf("parameter 4 is not named: %+v", params[4])
	}
	if id, err := name.Uint(); err != nil || id != 3 {
		t.Errorf("authority parameter id = %v, %v; want 3", id, err)
	}
	va, _ = value.Atom()
	if got, err := va.AsUID(); err != nil || got != uid.AdminBase+1 {
		t.Errorf("authority = %#x, %v", got, err)
	}
}

func TestInvokeMethodFailurePreservesCode(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	d.hostSessionID = 0x11
	d.tperSessionID = 0x22

	body, err := stream.List().Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	queueReply(t, st, append(body, stream.StatusFooter(stream.StatusNotAuthorized)...))

	_, err = d.Invoke(uid.LBARangeGlobal, uid.MethodSet)
	var me *MethodError
	if !errors.As(err, &me) {
		t.Fatalf("Invoke err = %v; want MethodError", err)
	}
	if me.Status != stream.StatusNotAuthorized {
		t.Errorf("status = %v; want NOT_AUTHORIZED", me.Status)
	}
	// The device is still responsive: session state untouched
	if hsn, _ := d.SessionIDs(); hsn != 0x11 {
		t.Errorf("method failure altered session state")
	}
}

func getReply(t *testing.T, value stream.Atom) []byte {
	t.Helper()
	inner := stream.List(stream.Named(stream.UInt(3), stream.DatumOf(value)))
	return methodReply(t, stream.List(inner), stream.StatusSuccess)
}

func TestTableGet(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	d.hostSessionID = 0x11
	d.tperSessionID = 0x22

	msid, err := stream.Bytes([]byte("MSIDPIN"))
	if err != nil {
		t.Fatal(err)
	}
	queueReply(t, st, getReply(t, msid))

	got, err := d.TableGet(uid.CPinMSID, uid.ColumnCPinPIN)
	if err != nil {
		t.Fatalf("TableGet failed: %v", err)
	}
	if !got.Equal(msid) {
		t.Errorf("TableGet = %+v; want %+v", got, msid)
	}

	// The call carries the {3: col, 4: col} cell block
	h, rest := parseSent(t, st.sent[0].data)
	call, _, err := stream.DecodeDatum(rest[:h.sub.Length])
	if err != nil {
		t.Fatal(err)
	}
	params, _ := call.List()
	if len(params) != 1 {
		t.Fatalf("Get carries %d parameters; want 1", len(params))
	}
	cells, ok := params[0].List()
	if !ok || len(cells) != 2 {
		t.Fatalf("cell block = %+v", params[0])
	}
	for i, wantID := range []uint64{3, 4} {
		name, value, ok := cells[i].Named()
		if !ok {
			t.Fatalf("cell %d not named", i)
		}
		id, _ := name.Uint()
		va, _ := value.Atom()
		col, _ := va.Uint()
		if id != wantID || col != uid.ColumnCPinPIN {
			t.Errorf("cell %d = {%d: %d}; want {%d: %d}", i, id, col, wantID, uid.ColumnCPinPIN)
		}
	}
}

func TestTableGetRow(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	d.hostSessionID = 0x11
	d.tperSessionID = 0x22

	name, err := stream.Bytes([]byte("GlobalRange"))
	if err != nil {
		t.Fatal(err)
	}
	row := stream.List(
		stream.Named(stream.UInt(1), stream.DatumOf(name)),
		stream.Named(stream.UInt(7), stream.DatumOf(stream.UInt(1))))
	queueReply(t, st, methodReply(t, stream.List(row), stream.StatusSuccess))

	got, err := d.TableGetRow(uid.LBARangeGlobal)
	if err != nil {
		t.Fatalf("TableGetRow failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("row has %d columns; want 2", len(got))
	}
	va, _ := got[7].Atom()
	if v, err := va.Uint(); err != nil || v != 1 {
		t.Errorf("column 7 = %v, %v; want 1", v, err)
	}
}

func TestTableGetEmptyResult(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	d.hostSessionID = 0x11
	d.tperSessionID = 0x22

	queueReply(t, st, methodReply(t, stream.List(stream.List()), stream.StatusSuccess))

	_, err := d.TableGet(uid.CPinMSID, 99)
	var me *MethodError
	if !errors.As(err, &me) || me.Status != stream.StatusInvalidParameter {
		t.Fatalf("TableGet err = %v; want MethodError(INVALID_PARAMETER)", err)
	}
}

func TestTableSetShape(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	d.hostSessionID = 0x11
	d.tperSessionID = 0x22

	queueReply(t, st, methodReply(t, stream.List(), stream.StatusSuccess))

	if err := d.TableSet(uid.MBRControl, uid.ColumnMBRDone, stream.UInt(1)); err != nil {
		t.Fatalf("TableSet failed: %v", err)
	}
	h, rest := parseSent(t, st.sent[0].data)
	call, _, err := stream.DecodeDatum(rest[:h.sub.Length])
	if err != nil {
		t.Fatal(err)
	}
	if call.ObjectUID() != uid.MBRControl || call.MethodUID() != uid.MethodSet {
		t.Fatalf("call = %#x.%#x", call.ObjectUID(), call.MethodUID())
	}
	params, _ := call.List()
	name, values, ok := params[0].Named()
	if !ok {
		t.Fatalf("Set argument not named: %+v", params[0])
	}
	if id, _ := name.Uint(); id != 1 {
		t.Errorf("Set argument id = %d; want 1 (Values)", id)
	}
	inner, _ := values.List()
	cname, cvalue, _ := inner[0].Named()
	col, _ := cname.Uint()
	va, _ := cvalue.Atom()
	v, _ := va.Uint()
	if col != uid.ColumnMBRDone || v != 1 {
		t.Errorf("Set cell = {%d: %d}; want {%d: 1}", col, v, uid.ColumnMBRDone)
	}
}

func TestTableSetBinChunking(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	d.hostSessionID = 0x11
	d.tperSessionID = 0x22
	d.MaxComPacketSize = 66560

	wantChunk := (66560 - bulkSetOverhead) &^ (4096 - 1)
	buf := make([]byte, wantChunk+1000)
	for i := range buf {
		buf[i] = byte(i)
	}
	queueReply(t, st, methodReply(t, stream.List(), stream.StatusSuccess))
	queueReply(t, st, methodReply(t, stream.List(), stream.StatusSuccess))

	if err := d.TableSetBin(uid.MBRTable, 0, buf); err != nil {
		t.Fatalf("TableSetBin failed: %v", err)
	}
	if len(st.sent) != 2 {
		t.Fatalf("sent %d calls; want 2", len(st.sent))
	}

	wantOffsets := []uint64{0, uint64(wantChunk)}
	wantSizes := []int{wantChunk, 1000}
	for i, blk := range st.sent {
		h, rest := parseSent(t, blk.data)
		call, _, err := stream.DecodeDatum(rest[:h.sub.Length])
		if err != nil {
			t.Fatalf("chunk %d does not decode: %v", i, err)
		}
		params, _ := call.List()
		if len(params) != 2 {
			t.Fatalf("chunk %d carries %d parameters", i, len(params))
		}
		_, wd, _ := params[0].Named()
		wa, _ := wd.Atom()
		where, _ := wa.Uint()
		if where != wantOffsets[i] {
			t.Errorf("chunk %d Where = %d; want %d", i, where, wantOffsets[i])
		}
		_, vd, _ := params[1].Named()
		va, _ := vd.Atom()
		vals, _ := va.Bytes()
		if len(vals) != wantSizes[i] {
			t.Errorf("chunk %d carries %d bytes; want %d", i, len(vals), wantSizes[i])
		}
		if !bytes.Equal(vals, buf[wantOffsets[i]:int(wantOffsets[i])+wantSizes[i]]) {
			t.Errorf("chunk %d data mismatch", i)
		}
	}
}

func TestAdminSPRevertDropsSession(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	d.hostSessionID = 0x11
	d.tperSessionID = 0x22

	queueReply(t, st, methodReply(t, stream.List(), stream.StatusSuccess))
	if err := d.AdminSPRevert(); err != nil {
		t.Fatalf("AdminSPRevert failed: %v", err)
	}
	if hsn, tsn := d.SessionIDs(); hsn != 0 || tsn != 0 {
		t.Errorf("session IDs = %d:%d after revert; want 0:0", hsn, tsn)
	}
	// Revert ends the session on the device; no EndSession token follows
	if len(st.sent) != 1 {
		t.Errorf("sent %d blocks; want only the Revert call", len(st.sent))
	}
}

func TestLogoutSwallowsTimeout(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	d.hostSessionID = 0x11
	d.tperSessionID = 0x22

	// No reply queued: the drive was reverted and stays silent
	d.Logout()
	if hsn, tsn := d.SessionIDs(); hsn != 0 || tsn != 0 {
		t.Errorf("session IDs = %d:%d after logout; want 0:0", hsn, tsn)
	}
}

func TestDefaultPIN(t *testing.T) {
	st := newStubTransport()
	d := testDrive(st)
	d.hostSessionID = 0x11
	d.tperSessionID = 0x22

	msid, err := stream.Bytes([]byte("FACTORY"))
	if err != nil {
		t.Fatal(err)
	}
	queueReply(t, st, getReply(t, msid))

	pin, err := d.DefaultPIN()
	if err != nil {
		t.Fatalf("DefaultPIN failed: %v", err)
	}
	if string(pin) != "FACTORY" {
		t.Errorf("DefaultPIN = %q; want FACTORY", pin)
	}
}
