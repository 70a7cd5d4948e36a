package hdlc

import "encoding/binary"

const (
	// Each frame starts and ends with 0x7E
	flag byte = 0x7e

	// High nibble of the format field, frame type 3
	formatType     uint16 = 0xA000
	formatTypeMask uint16 = 0xF000
	segmentBit     uint16 = 0x0800
	lengthMask     uint16 = 0x07FF

	// format (2) + destination (1) + source (1) + control (1) + FCS (2)
	minFrameLength = 7

	// Addresses use the extended address scheme, at most four bytes.
	maxAddressLength = 4

	DefaultMaxFrameLength = 1024
)

// Frame is a validated HDLC frame.
type Frame struct {
	// Offset is the stream offset of the opening flag
	Offset      int64
	Format      uint16
	Segmented   bool
	Length      int
	Destination uint32
	Source      uint32
	Control     byte
	// Info is the information field, without HCS and FCS
	Info []byte
}

// Encode builds a complete frame, both flags included, around info.
// Frames without information field carry no HCS.
func Encode(dest, src uint32, control byte, info []byte) []byte {
	hdr := appendAddress(make([]byte, 2), dest)
	hdr = appendAddress(hdr, src)
	hdr = append(hdr, control)

	length := len(hdr) + 2
	if len(info) > 0 {
		length += 2 + len(info)
	}
	binary.BigEndian.PutUint16(hdr, formatType|uint16(length)&lengthMask)

	body := hdr
	if len(info) > 0 {
		body = AppendChecksum(body)
		body = append(body, info...)
	}
	body = AppendChecksum(body)

	out := make([]byte, 0, len(body)+2)
	out = append(out, flag)
	out = append(out, body...)
	return append(out, flag)
}

func appendAddress(b []byte, addr uint32) []byte {
	var groups []byte
	for {
		groups = append([]byte{byte(addr&0x7f) << 1}, groups...)
		addr >>= 7
		if addr == 0 {
			break
		}
	}
	groups[len(groups)-1] |= 1
	return append(b, groups...)
}

func decodeAddress(b []byte) uint32 {
	var addr uint32
	for _, v := range b {
		addr = addr<<7 | uint32(v>>1)
	}
	return addr
}
