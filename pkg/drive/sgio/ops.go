// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Copyright 2021 Christian Svensson. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// ATA pass-through operations over SG_IO. Commands are issued as ATA12 or
// ATA16 CDBs; the variant is a build-time choice (see the ata16 build tag).

package sgio

const (
	ATA_TRUSTED_RCV     = 0x5C
	ATA_TRUSTED_SND     = 0x5E
	ATA_IDENTIFY_DEVICE = 0xEC

	blockSize = 512
)

// ATAIdentify runs IDENTIFY DEVICE. resp must hold one block.
func ATAIdentify(fd uintptr, resp *[]byte) error {
	cdb := identifyCDB()
	return SendCDB(fd, cdb, CDBFromDevice, resp)
}

// ATATrustedReceive runs TRUSTED RECEIVE for the given security protocol
// and ComID. resp must be a multiple of 512 bytes.
func ATATrustedReceive(fd uintptr, proto uint8, comID uint16, resp *[]byte) error {
	cdb := trustedCDB(ATA_TRUSTED_RCV, PIO_DATA_IN, proto, comID, uint8(len(*resp)/blockSize))
	return SendCDB(fd, cdb, CDBFromDevice, resp)
}

// ATATrustedSend runs TRUSTED SEND for the given security protocol and
// ComID. in must be a multiple of 512 bytes.
func ATATrustedSend(fd uintptr, proto uint8, comID uint16, in []byte) error {
	cdb := trustedCDB(ATA_TRUSTED_SND, PIO_DATA_OUT, proto, comID, uint8(len(in)/blockSize))
	return SendCDB(fd, cdb, CDBToDevice, &in)
}
