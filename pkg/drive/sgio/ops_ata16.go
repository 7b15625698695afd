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

//go:build ata16

package sgio

const ATA_PASSTHROUGH_16 = 0x85

func identifyCDB() []byte {
	cdb := CDB16{ATA_PASSTHROUGH_16}
	cdb[1] = PIO_DATA_IN << 1
	cdb[2] = 0x2E // Check condition, blocks, length in sector count, read
	cdb[6] = 1
	cdb[14] = ATA_IDENTIFY_DEVICE
	return cdb[:]
}

func trustedCDB(op byte, proto16 byte, proto uint8, comID uint16, bcount uint8) []byte {
	cdb := CDB16{ATA_PASSTHROUGH_16}
	cdb[1] = proto16 << 1
	if proto16 == PIO_DATA_IN {
		cdb[2] = 0x2E // Check condition, blocks, length in sector count, read
	} else {
		cdb[2] = 0x26 // Check condition, blocks, length in sector count
	}
	cdb[4] = proto
	cdb[6] = bcount
	cdb[10] = uint8(comID & 0xFF)
	cdb[12] = uint8(comID >> 8)
	cdb[14] = op
	return cdb[:]
}
