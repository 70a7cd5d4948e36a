package cosem

import (
	"encoding/binary"
)

var (
	order = binary.BigEndian
)

// Buffer is a read cursor over a payload that remembers how far it got.
type Buffer struct {
	data []byte
	pos  int
}

func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.pos
}

// Offset returns the position of the next unread byte.
func (b *Buffer) Offset() int {
	return b.pos
}

// Peek returns the next byte without consuming it.
func (b *Buffer) Peek() (uint8, bool) {
	if b.Len() < 1 {
		return 0, false
	}
	return b.data[b.pos], true
}

// Next consumes n bytes. The returned slice aliases the payload.
func (b *Buffer) Next(n int) ([]byte, error) {
	if n < 0 || b.Len() < n {
		return nil, ErrTruncated
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

func (b *Buffer) ReadRaw(tv ...interface{}) error {
	for _, t := range tv {
		switch v := t.(type) {
		case *uint8:
			p, err := b.Next(1)
			if err != nil {
				return err
			}
			*v = p[0]
		case *int8:
			p, err := b.Next(1)
			if err != nil {
				return err
			}
			*v = int8(p[0])
		case *uint16:
			p, err := b.Next(2)
			if err != nil {
				return err
			}
			*v = order.Uint16(p)
		case *int16:
			p, err := b.Next(2)
			if err != nil {
				return err
			}
			*v = int16(order.Uint16(p))
		case *uint32:
			p, err := b.Next(4)
			if err != nil {
				return err
			}
			*v = order.Uint32(p)
		case *int32:
			p, err := b.Next(4)
			if err != nil {
				return err
			}
			*v = int32(order.Uint32(p))
		case *uint64:
			p, err := b.Next(8)
			if err != nil {
				return err
			}
			*v = order.Uint64(p)
		case *int64:
			p, err := b.Next(8)
			if err != nil {
				return err
			}
			*v = int64(order.Uint64(p))
		case []byte:
			p, err := b.Next(len(v))
			if err != nil {
				return err
			}
			copy(v, p)
		default:
			return ErrUnsupportedType
		}
	}
	return nil
}

// ReadLength reads an A-XDR length, either a single byte below 0x80 or
// 0x81/0x82 followed by one or two length bytes.
func (b *Buffer) ReadLength() (int, error) {
	var l uint8
	if err := b.ReadRaw(&l); err != nil {
		return 0, err
	}
	switch {
	case l < 0x80:
		return int(l), nil
	case l == 0x81:
		var n uint8
		err := b.ReadRaw(&n)
		return int(n), err
	case l == 0x82:
		var n uint16
		err := b.ReadRaw(&n)
		return int(n), err
	}
	return 0, ErrUnsupportedType
}
