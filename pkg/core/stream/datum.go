// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements TCG Storage Core Data Stream aggregates: named pairs, lists,
// method calls and control tokens

package stream

import (
	"errors"
	"fmt"
)

type TokenType uint8

const (
	StartList        TokenType = 0xF0
	EndList          TokenType = 0xF1
	StartName        TokenType = 0xF2
	EndName          TokenType = 0xF3
	Call             TokenType = 0xF8
	EndOfData        TokenType = 0xF9
	EndOfSession     TokenType = 0xFA
	StartTransaction TokenType = 0xFB
	EndTransaction   TokenType = 0xFC
)

func (t TokenType) String() string {
	switch t {
	case StartList:
		return "StartList"
	case EndList:
		return "EndList"
	case StartName:
		return "StartName"
	case EndName:
		return "EndName"
	case Call:
		return "Call"
	case EndOfData:
		return "EndOfData"
	case EndOfSession:
		return "EndOfSession"
	case StartTransaction:
		return "StartTransaction"
	case EndTransaction:
		return "EndTransaction"
	}
	return "<Unknown>"
}

// MethodStatus is the status code list value returned with every method
// reply, per "5.1.5 Method Status Codes".
type MethodStatus uint8

const (
	StatusSuccess             MethodStatus = 0x00
	StatusNotAuthorized       MethodStatus = 0x01
	StatusObsolete            MethodStatus = 0x02
	StatusSPBusy              MethodStatus = 0x03
	StatusSPFailed            MethodStatus = 0x04
	StatusSPDisabled          MethodStatus = 0x05
	StatusSPFrozen            MethodStatus = 0x06
	StatusNoSessionsAvailable MethodStatus = 0x07
	StatusUniquenessConflict  MethodStatus = 0x08
	StatusInsufficientSpace   MethodStatus = 0x09
	StatusInsufficientRows    MethodStatus = 0x0A
	StatusInvalidParameter    MethodStatus = 0x0C
	StatusTPerMalfunction     MethodStatus = 0x0F
	StatusTransactionFailure  MethodStatus = 0x10
	StatusResponseOverflow    MethodStatus = 0x11
	StatusAuthorityLockedOut  MethodStatus = 0x12
	StatusFail                MethodStatus = 0x3F
)

var methodStatusNames = map[MethodStatus]string{
	StatusSuccess:             "SUCCESS",
	StatusNotAuthorized:       "NOT_AUTHORIZED",
	StatusObsolete:            "OBSOLETE",
	StatusSPBusy:              "SP_BUSY",
	StatusSPFailed:            "SP_FAILED",
	StatusSPDisabled:          "SP_DISABLED",
	StatusSPFrozen:            "SP_FROZEN",
	StatusNoSessionsAvailable: "NO_SESSIONS_AVAILABLE",
	StatusUniquenessConflict:  "UNIQUENESS_CONFLICT",
	StatusInsufficientSpace:   "INSUFFICIENT_SPACE",
	StatusInsufficientRows:    "INSUFFICIENT_ROWS",
	StatusInvalidParameter:    "INVALID_PARAMETER",
	StatusTPerMalfunction:     "TPER_MALFUNCTION",
	StatusTransactionFailure:  "TRANSACTION_FAILURE",
	StatusResponseOverflow:    "RESPONSE_OVERFLOW",
	StatusAuthorityLockedOut:  "AUTHORITY_LOCKED_OUT",
	StatusFail:                "FAIL",
}

func (s MethodStatus) String() string {
	if n, ok := methodStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", uint8(s))
}

var (
	ErrUnsetDatum       = errors.New("datum was never assigned a value")
	ErrMalformedFooter  = errors.New("malformed method status footer")
	ErrUnbalancedTokens = errors.New("unbalanced sequence tokens in data stream")
)

type DatumKind int

const (
	DatumUnset DatumKind = iota
	DatumAtom
	DatumNamed
	DatumList
	DatumMethod
	DatumEndSession
)

// Datum is an aggregate data stream value. The structure is strictly
// tree-shaped; a Datum owns its children.
type Datum struct {
	kind DatumKind

	atom Atom

	// Named pair: the key is always an atom, the value any datum.
	name  Atom
	value *Datum

	// List elements, or the parameter list of a method.
	list []Datum

	objectUID uint64
	methodUID uint64
	status    MethodStatus
}

// DatumOf wraps a single atom.
func DatumOf(a Atom) Datum {
	return Datum{kind: DatumAtom, atom: a}
}

// Named pairs a key atom with a value datum.
func Named(name Atom, value Datum) Datum {
	return Datum{kind: DatumNamed, name: name, value: &value}
}

// List builds an ordered, possibly empty sequence.
func List(items ...Datum) Datum {
	return Datum{kind: DatumList, list: items}
}

// Method builds a call on objectUID.methodUID with the given parameters.
// The status is only meaningful on decoded replies.
func Method(objectUID, methodUID uint64, params ...Datum) Datum {
	return Datum{kind: DatumMethod, objectUID: objectUID, methodUID: methodUID, list: params}
}

// EndSessionToken is the end-of-session control sentinel.
func EndSessionToken() Datum {
	return Datum{kind: DatumEndSession}
}

func (d Datum) Kind() DatumKind { return d.kind }

// Atom returns the wrapped atom of an atom datum, or the zero Atom.
func (d Datum) Atom() (Atom, bool) {
	if d.kind != DatumAtom {
		return Atom{}, false
	}
	return d.atom, true
}

// Named returns the key and value of a named datum.
func (d Datum) Named() (Atom, Datum, bool) {
	if d.kind != DatumNamed {
		return Atom{}, Datum{}, false
	}
	return d.name, *d.value, true
}

// List returns the elements of a list datum or the parameters of a method.
func (d Datum) List() ([]Datum, bool) {
	if d.kind != DatumList && d.kind != DatumMethod {
		return nil, false
	}
	return d.list, true
}

func (d Datum) ObjectUID() uint64    { return d.objectUID }
func (d Datum) MethodUID() uint64    { return d.methodUID }
func (d Datum) Status() MethodStatus { return d.status }

// Equal reports structural datum equality. Method status codes take part
// in the comparison.
func (d Datum) Equal(o Datum) bool {
	if d.kind != o.kind {
		return false
	}
	switch d.kind {
	case DatumAtom:
		return d.atom.Equal(o.atom)
	case DatumNamed:
		return d.name.Equal(o.name) && d.value.Equal(*o.value)
	case DatumList, DatumMethod:
		if d.kind == DatumMethod {
			if d.objectUID != o.objectUID || d.methodUID != o.methodUID || d.status != o.status {
				return false
			}
		}
		if len(d.list) != len(o.list) {
			return false
		}
		for i := range d.list {
			if !d.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return true
}

// Size returns the encoded byte count. For methods this covers the call
// body only; the status footer is appended separately on the wire.
func (d Datum) Size() int {
	switch d.kind {
	case DatumAtom:
		return d.atom.Size()
	case DatumNamed:
		return 2 + d.name.Size() + d.value.Size()
	case DatumList:
		n := 2
		for _, e := range d.list {
			n += e.Size()
		}
		return n
	case DatumMethod:
		n := 1 + UID(d.objectUID).Size() + UID(d.methodUID).Size() + 2
		for _, e := range d.list {
			n += e.Size()
		}
		return n
	case DatumEndSession:
		return 1
	}
	return 0
}

// Encode appends the wire form of the datum to dst. Method calls are
// encoded without the status footer (see StatusFooter).
func (d Datum) Encode(dst []byte) ([]byte, error) {
	var err error
	switch d.kind {
	case DatumAtom:
		return d.atom.Encode(dst), nil
	case DatumNamed:
		dst = append(dst, byte(StartName))
		dst = d.name.Encode(dst)
		if dst, err = d.value.Encode(dst); err != nil {
			return nil, err
		}
		return append(dst, byte(EndName)), nil
	case DatumList:
		dst = append(dst, byte(StartList))
		for _, e := range d.list {
			if dst, err = e.Encode(dst); err != nil {
				return nil, err
			}
		}
		return append(dst, byte(EndList)), nil
	case DatumMethod:
		dst = append(dst, byte(Call))
		dst = UID(d.objectUID).Encode(dst)
		dst = UID(d.methodUID).Encode(dst)
		dst = append(dst, byte(StartList))
		for _, e := range d.list {
			if dst, err = e.Encode(dst); err != nil {
				return nil, err
			}
		}
		return append(dst, byte(EndList)), nil
	case DatumEndSession:
		return append(dst, byte(EndOfSession)), nil
	}
	return nil, ErrUnsetDatum
}

// StatusFooter returns the end-of-data trailer closing every method on the
// wire: EndOfData, then the status code list {status, 0, 0}.
func StatusFooter(s MethodStatus) []byte {
	return []byte{byte(EndOfData), byte(StartList), byte(s), 0x00, 0x00, byte(EndList)}
}

// ParseStatusFooter validates a trailing status footer and extracts the
// status code.
func ParseStatusFooter(b []byte) (MethodStatus, error) {
	if len(b) != 6 {
		return 0, ErrMalformedFooter
	}
	if b[0] != byte(EndOfData) || b[1] != byte(StartList) || b[5] != byte(EndList) {
		return 0, ErrMalformedFooter
	}
	// All three entries are tiny unsigned atoms
	for _, c := range b[2:5] {
		if c >= 0x40 {
			return 0, ErrMalformedFooter
		}
	}
	return MethodStatus(b[2]), nil
}

// DecodeDatum parses one datum from the head of b and returns it along
// with the number of bytes consumed. Method replies consume their status
// footer; all other datums leave trailing bytes untouched.
func DecodeDatum(b []byte) (Datum, int, error) {
	if len(b) < 1 {
		return Datum{}, 0, ErrBufferTooShort
	}
	switch TokenType(b[0]) {
	case StartList:
		return decodeList(b)
	case StartName:
		return decodeNamed(b)
	case Call:
		return decodeMethod(b)
	case EndOfSession:
		return EndSessionToken(), 1, nil
	case EndList, EndName, EndOfData, StartTransaction, EndTransaction:
		return Datum{}, 0, ErrUnexpectedToken
	}
	a, n, err := DecodeAtom(b)
	if err != nil {
		return Datum{}, 0, err
	}
	return DatumOf(a), n, nil
}

func decodeList(b []byte) (Datum, int, error) {
	i := 1
	var items []Datum
	for {
		if i >= len(b) {
			return Datum{}, 0, ErrUnbalancedTokens
		}
		if TokenType(b[i]) == EndList {
			return Datum{kind: DatumList, list: items}, i + 1, nil
		}
		d, n, err := DecodeDatum(b[i:])
		if err != nil {
			return Datum{}, 0, err
		}
		items = append(items, d)
		i += n
	}
}

func decodeNamed(b []byte) (Datum, int, error) {
	i := 1
	// The key is always an atom
	name, n, err := DecodeAtom(b[i:])
	if err != nil {
		return Datum{}, 0, err
	}
	i += n
	value, n, err := DecodeDatum(b[i:])
	if err != nil {
		return Datum{}, 0, err
	}
	i += n
	if i >= len(b) {
		return Datum{}, 0, ErrUnbalancedTokens
	}
	if TokenType(b[i]) != EndName {
		return Datum{}, 0, ErrUnexpectedToken
	}
	return Named(name, value), i + 1, nil
}

func decodeMethod(b []byte) (Datum, int, error) {
	i := 1
	obj, n, err := DecodeAtom(b[i:])
	if err != nil {
		return Datum{}, 0, err
	}
	i += n
	objUID, err := obj.AsUID()
	if err != nil {
		return Datum{}, 0, ErrUnexpectedToken
	}
	meth, n, err := DecodeAtom(b[i:])
	if err != nil {
		return Datum{}, 0, err
	}
	i += n
	methUID, err := meth.AsUID()
	if err != nil {
		return Datum{}, 0, ErrUnexpectedToken
	}
	params, n, err := DecodeDatum(b[i:])
	if err != nil {
		return Datum{}, 0, err
	}
	i += n
	if params.kind != DatumList {
		return Datum{}, 0, ErrUnexpectedToken
	}
	if len(b) < i+6 {
		return Datum{}, 0, ErrBufferTooShort
	}
	status, err := ParseStatusFooter(b[i : i+6])
	if err != nil {
		return Datum{}, 0, err
	}
	i += 6
	d := Method(objUID, methUID, params.list...)
	d.status = status
	return d, i, nil
}
