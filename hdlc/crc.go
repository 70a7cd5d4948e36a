package hdlc

import (
	"encoding/binary"
	"github.com/sigurn/crc16"
)

// Frame check sequence parameters used by HAN port meters.
// MSB first, no reflection, initial value and final XOR both 0xFFFF.
var crcParams = crc16.Params{
	Poly:   0x1021,
	Init:   0xFFFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0xFFFF,
	Check:  0xD64E,
	Name:   "CRC-16/GENIBUS",
}

var crcTable = crc16.MakeTable(crcParams)

// crcGood is what Checksum returns over data followed by its own
// big-endian checksum.
const crcGood uint16 = 0xE2F0

// Checksum computes the HCS/FCS value of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Valid reports whether the last two bytes of b are the big-endian
// checksum of the bytes before them.
func Valid(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return Checksum(b) == crcGood
}

// AppendChecksum appends the big-endian checksum of b to b.
func AppendChecksum(b []byte) []byte {
	var sum [2]byte
	binary.BigEndian.PutUint16(sum[:], Checksum(b))
	return append(b, sum[:]...)
}
