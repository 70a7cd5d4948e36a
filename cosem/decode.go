package cosem

import (
	"bytes"
	"errors"
	"math"
	"time"
)

const (
	DefaultMaxDepth = 8

	apduDataNotification = 0x0f
	// general-glo-ciphering through general-signing
	apduCipheredFirst = 0xdb
	apduCipheredLast  = 0xdf

	dateTimeLength = 12
)

// LLC header in front of the APDU: destination and source LSAP, quality
var llcHeader = []byte{0xe6, 0xe7, 0x00}

type options struct {
	maxDepth int
}

type Option func(*options)

// WithMaxDepth bounds the nesting of arrays and structures.
func WithMaxDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDepth = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Decode decodes the information field of a HDLC frame carrying a
// data-notification. On error the returned frame holds everything decoded
// before the failure, so complete pairs can still be used.
func Decode(payload []byte, opts ...Option) (*Frame, error) {
	buf := NewBuffer(payload)
	f := &Frame{}
	if err := readHeader(buf, f); err != nil {
		return f, err
	}
	return f, decodeBody(buf, f, newOptions(opts))
}

// DecodeBody decodes a bare data element without any APDU envelope.
func DecodeBody(payload []byte, opts ...Option) (*Frame, error) {
	f := &Frame{}
	return f, decodeBody(NewBuffer(payload), f, newOptions(opts))
}

func readHeader(buf *Buffer, f *Frame) error {
	if bytes.HasPrefix(buf.data, llcHeader) {
		_, _ = buf.Next(len(llcHeader))
	}

	start := buf.Offset()
	var tag uint8
	if err := buf.ReadRaw(&tag); err != nil {
		return &DecodeError{Err: ErrTruncated, Offset: start}
	}
	switch {
	case tag == apduDataNotification:
	case tag >= apduCipheredFirst && tag <= apduCipheredLast:
		return &DecodeError{Err: ErrUnsupportedType, Offset: start, Tag: Tag(tag)}
	default:
		return &DecodeError{Err: ErrNotNotification, Offset: start, Tag: Tag(tag)}
	}

	if err := buf.ReadRaw(&f.InvokeID); err != nil {
		return &DecodeError{Err: ErrTruncated, Offset: buf.Offset()}
	}

	// Optional date-time, either absent (00), tagged (09 0C) or bare (0C)
	start = buf.Offset()
	b, ok := buf.Peek()
	if !ok {
		return &DecodeError{Err: ErrTruncated, Offset: start}
	}
	var ts []byte
	switch b {
	case 0x00:
		_, _ = buf.Next(1)
		return nil
	case uint8(TagOctetString):
		_, _ = buf.Next(1)
		n, err := buf.ReadLength()
		if err != nil {
			return &DecodeError{Err: err, Offset: start}
		}
		if ts, err = buf.Next(n); err != nil {
			return &DecodeError{Err: err, Offset: start}
		}
	case dateTimeLength:
		_, _ = buf.Next(1)
		var err error
		if ts, err = buf.Next(dateTimeLength); err != nil {
			return &DecodeError{Err: err, Offset: start}
		}
	default:
		// No date-time, the body starts here
		return nil
	}

	var err error
	if f.Timestamp, err = parseTimestamp(ts); err != nil {
		return &DecodeError{Err: err, Offset: start}
	}
	return nil
}

func decodeBody(buf *Buffer, f *Frame, o options) error {
	if buf.Len() == 0 {
		return nil
	}
	root, err := decodeElement(buf, 1, o.maxDepth)
	f.Root = root
	f.Pairs = flatten(root, nil)
	if err == nil && len(f.Pairs) == 0 {
		f.Pairs, f.Positional = positional(root)
	}
	f.List = classify(f.Pairs)
	if err == nil && buf.Len() > 0 {
		err = &DecodeError{Err: ErrTrailingData, Offset: buf.Offset()}
	}
	return err
}

// decodeElement reads one element and its children. When a child fails,
// the returned compound element holds the children decoded so far. A
// failed element keeps its tag when it was read.
func decodeElement(buf *Buffer, depth, maxDepth int) (Element, error) {
	start := buf.Offset()
	var tag uint8
	if err := buf.ReadRaw(&tag); err != nil {
		return Element{}, &DecodeError{Err: ErrTruncated, Offset: start}
	}
	e := Element{Tag: Tag(tag), Offset: start}

	switch e.Tag {
	case TagArray, TagStructure:
		e.partial = true
		if depth > maxDepth {
			return e, &DecodeError{Err: ErrTooDeep, Offset: start, Tag: e.Tag}
		}
		n, err := buf.ReadLength()
		if err != nil {
			return e, &DecodeError{Err: err, Offset: start, Tag: e.Tag}
		}
		// Every child takes at least one byte
		if n > buf.Len() {
			return e, &DecodeError{Err: ErrTruncated, Offset: start, Tag: e.Tag}
		}
		e.Children = make([]Element, 0, n)
		for i := 0; i < n; i++ {
			c, err := decodeElement(buf, depth+1, maxDepth)
			if err != nil {
				annotate(err, e.Children)
				// A failed child with no tag read reports TagNull, which
				// cannot fail otherwise
				e.cutScaler = c.Tag == TagStructure || c.Tag == TagNull
				if c.Compound() {
					e.Children = append(e.Children, c)
				}
				return e, err
			}
			e.Children = append(e.Children, c)
		}
		e.partial = false
		return e, nil

	case TagOctetString, TagVisibleString, TagUTF8String:
		n, err := buf.ReadLength()
		if err != nil {
			return e, &DecodeError{Err: err, Offset: start, Tag: e.Tag}
		}
		p, err := buf.Next(n)
		if err != nil {
			return e, &DecodeError{Err: err, Offset: start, Tag: e.Tag}
		}
		e.Bytes = append([]byte{}, p...)
		return e, nil
	}

	w, ok := e.Tag.width()
	if !ok {
		return e, &DecodeError{Err: ErrUnsupportedType, Offset: start, Tag: e.Tag}
	}
	p, err := buf.Next(w)
	if err != nil {
		return e, &DecodeError{Err: err, Offset: start, Tag: e.Tag}
	}
	switch e.Tag {
	case TagInteger:
		e.Int = int64(int8(p[0]))
	case TagLong:
		e.Int = int64(int16(order.Uint16(p)))
	case TagDoubleLong:
		e.Int = int64(int32(order.Uint32(p)))
	case TagLong64:
		e.Int = int64(order.Uint64(p))
	case TagBoolean, TagUnsigned, TagEnum:
		e.Uint = uint64(p[0])
	case TagLongUnsigned:
		e.Uint = uint64(order.Uint16(p))
	case TagDoubleLongUnsigned:
		e.Uint = uint64(order.Uint32(p))
	case TagLong64Unsigned:
		e.Uint = order.Uint64(p)
	}
	return e, nil
}

// annotate names the OBIS code a failing value belonged to, when the
// sibling before it was one.
func annotate(err error, siblings []Element) {
	var de *DecodeError
	if !errors.As(err, &de) || !de.Obis.IsZero() || len(siblings) == 0 {
		return
	}
	if o, ok := siblings[len(siblings)-1].Obis(); ok {
		de.Obis = o
	}
}

// flatten collects OBIS/value pairs depth first. A value may be followed
// by a structure{scaler, unit}.
func flatten(e Element, pairs []Pair) []Pair {
	ch := e.Children
	complete := len(ch)
	if complete > 0 && ch[complete-1].partial {
		complete--
	}
	for i := 0; i < len(ch); i++ {
		c := ch[i]
		if c.Compound() {
			pairs = flatten(c, pairs)
			continue
		}
		o, ok := c.Obis()
		if !ok || i+1 >= len(ch) || !isValue(ch[i+1]) {
			continue
		}
		if e.cutScaler && i+2 >= complete {
			// The scaler of the last value may be what failed
			break
		}
		p := Pair{Obis: o, Value: ch[i+1], Offset: c.Offset}
		i++
		if i+1 < len(ch) {
			if su, ok := scalerUnit(ch[i+1]); ok {
				p.Scale = &su
				i++
			}
		}
		pairs = append(pairs, p)
	}
	return pairs
}

func isValue(e Element) bool {
	if e.Compound() || e.Tag == TagNull {
		return false
	}
	_, obis := e.Obis()
	return !obis
}

// parseTimestamp decodes a DLMS date-time. Unspecified dates give the zero
// time, an unspecified deviation means local time.
func parseTimestamp(data []byte) (time.Time, error) {
	if len(data) < 8 {
		return time.Time{}, ErrTruncated
	}
	year := order.Uint16(data[0:2])
	if year == 0xffff || data[2] == 0xff || data[3] == 0xff {
		return time.Time{}, nil
	}
	field := func(b byte) int {
		if b == 0xff {
			return 0
		}
		return int(b)
	}
	loc := time.Local
	nsec := 0
	if len(data) >= dateTimeLength {
		if data[8] != 0xff {
			nsec = int(data[8]) * int(10*time.Millisecond)
		}
		if dev := int16(order.Uint16(data[9:11])); dev != math.MinInt16 {
			// Deviation is minutes from local time to UTC
			loc = time.FixedZone("", -int(dev)*60)
		}
	}
	return time.Date(
		int(year),
		time.Month(data[2]),
		int(data[3]),
		field(data[5]), // data[4] is the day of week
		field(data[6]),
		field(data[7]),
		nsec,
		loc,
	), nil
}
