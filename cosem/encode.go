package cosem

import (
	"time"
)

// Constructors for building payloads, mostly used to produce test input
// and replay captures.

func Structure(children ...Element) Element {
	return Element{Tag: TagStructure, Children: children}
}

func Array(children ...Element) Element {
	return Element{Tag: TagArray, Children: children}
}

func OctetString(b []byte) Element {
	return Element{Tag: TagOctetString, Bytes: append([]byte{}, b...)}
}

func VisibleString(s string) Element {
	return Element{Tag: TagVisibleString, Bytes: []byte(s)}
}

func ObisElement(o Obis) Element {
	return OctetString(o[:])
}

func Unsigned(tag Tag, v uint64) Element {
	return Element{Tag: tag, Uint: v}
}

func Signed(tag Tag, v int64) Element {
	return Element{Tag: tag, Int: v}
}

func Enum(v uint8) Element {
	return Element{Tag: TagEnum, Uint: uint64(v)}
}

func ScalerUnitElement(s ScalerUnit) Element {
	return Structure(Signed(TagInteger, int64(s.Scaler)), Enum(uint8(s.Unit)))
}

// AppendBinary appends the A-XDR encoding of e to b.
func (e Element) AppendBinary(b []byte) []byte {
	b = append(b, uint8(e.Tag))
	switch e.Tag {
	case TagArray, TagStructure:
		b = appendLength(b, len(e.Children))
		for _, c := range e.Children {
			b = c.AppendBinary(b)
		}
		return b
	case TagOctetString, TagVisibleString, TagUTF8String:
		b = appendLength(b, len(e.Bytes))
		return append(b, e.Bytes...)
	}
	w, _ := e.Tag.width()
	v := e.Uint
	if e.Kind() == KindSigned {
		v = uint64(e.Int)
	}
	for i := w - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*uint(i))))
	}
	return b
}

func appendLength(b []byte, n int) []byte {
	switch {
	case n < 0x80:
		return append(b, byte(n))
	case n <= 0xff:
		return append(b, 0x81, byte(n))
	}
	return append(b, 0x82, byte(n>>8), byte(n))
}

// EncodeNotification builds a data-notification with LLC header. A zero
// timestamp is sent as absent.
func EncodeNotification(invokeID uint32, ts time.Time, body Element) []byte {
	b := append([]byte{}, llcHeader...)
	b = append(b, apduDataNotification,
		byte(invokeID>>24), byte(invokeID>>16), byte(invokeID>>8), byte(invokeID))
	if ts.IsZero() {
		b = append(b, 0x00)
	} else {
		b = append(b, uint8(TagOctetString), dateTimeLength)
		b = appendDateTime(b, ts)
	}
	return body.AppendBinary(b)
}

func appendDateTime(b []byte, ts time.Time) []byte {
	wd := int(ts.Weekday())
	if wd == 0 {
		wd = 7
	}
	_, offset := ts.Zone()
	dev := int16(-offset / 60)
	return append(b,
		byte(ts.Year()>>8), byte(ts.Year()),
		byte(ts.Month()), byte(ts.Day()), byte(wd),
		byte(ts.Hour()), byte(ts.Minute()), byte(ts.Second()),
		byte(ts.Nanosecond()/int(10*time.Millisecond)),
		byte(uint16(dev)>>8), byte(uint16(dev)),
		0x00,
	)
}
