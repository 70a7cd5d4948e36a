package cosem

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Tag is an A-XDR data type tag.
type Tag uint8

const (
	TagNull               Tag = 0x00
	TagArray              Tag = 0x01
	TagStructure          Tag = 0x02
	TagBoolean            Tag = 0x03
	TagDoubleLong         Tag = 0x05 // int32
	TagDoubleLongUnsigned Tag = 0x06 // uint32
	TagOctetString        Tag = 0x09
	TagVisibleString      Tag = 0x0a
	TagUTF8String         Tag = 0x0c
	TagInteger            Tag = 0x0f // int8
	TagLong               Tag = 0x10 // int16
	TagUnsigned           Tag = 0x11 // uint8
	TagLongUnsigned       Tag = 0x12 // uint16
	TagLong64             Tag = 0x14
	TagLong64Unsigned     Tag = 0x15
	TagEnum               Tag = 0x16
)

var tagNames = map[Tag]string{
	TagNull:               "null",
	TagArray:              "array",
	TagStructure:          "structure",
	TagBoolean:            "boolean",
	TagDoubleLong:         "int32",
	TagDoubleLongUnsigned: "uint32",
	TagOctetString:        "octet-string",
	TagVisibleString:      "visible-string",
	TagUTF8String:         "utf8-string",
	TagInteger:            "int8",
	TagLong:               "int16",
	TagUnsigned:           "uint8",
	TagLongUnsigned:       "uint16",
	TagLong64:             "int64",
	TagLong64Unsigned:     "uint64",
	TagEnum:               "enum",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return fmt.Sprintf("tag(0x%02x)", uint8(t))
}

// width returns the encoded size of fixed width types.
func (t Tag) width() (int, bool) {
	switch t {
	case TagNull:
		return 0, true
	case TagBoolean, TagInteger, TagUnsigned, TagEnum:
		return 1, true
	case TagLong, TagLongUnsigned:
		return 2, true
	case TagDoubleLong, TagDoubleLongUnsigned:
		return 4, true
	case TagLong64, TagLong64Unsigned:
		return 8, true
	}
	return 0, false
}

// Kind groups tags by how a value may be used. Kinds are bit flags so a
// set of accepted kinds fits in one value.
type Kind uint8

const (
	KindNull Kind = 1 << iota
	KindUnsigned
	KindSigned
	KindText
	KindEnum
	KindBoolean
	KindCompound

	KindInteger = KindUnsigned | KindSigned
)

func (k Kind) String() string {
	var names []string
	for _, n := range []struct {
		k    Kind
		name string
	}{
		{KindNull, "null"},
		{KindUnsigned, "unsigned"},
		{KindSigned, "signed"},
		{KindText, "text"},
		{KindEnum, "enum"},
		{KindBoolean, "boolean"},
		{KindCompound, "compound"},
	} {
		if k&n.k != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

func (t Tag) Kind() Kind {
	switch t {
	case TagNull:
		return KindNull
	case TagArray, TagStructure:
		return KindCompound
	case TagBoolean:
		return KindBoolean
	case TagEnum:
		return KindEnum
	case TagOctetString, TagVisibleString, TagUTF8String:
		return KindText
	case TagInteger, TagLong, TagDoubleLong, TagLong64:
		return KindSigned
	}
	return KindUnsigned
}

// Element is one decoded data element. Integer values are kept in Int or
// Uint depending on signedness, strings in Bytes.
type Element struct {
	Tag      Tag
	Int      int64
	Uint     uint64
	Bytes    []byte
	Children []Element
	// Offset of the type tag in the payload
	Offset int
	// set on compound elements cut short by a decode error
	partial bool
	// set on partial elements whose failed child may have been the
	// scaler_unit of the value before it
	cutScaler bool
}

func (e Element) Kind() Kind {
	return e.Tag.Kind()
}

func (e Element) Compound() bool {
	return e.Kind() == KindCompound
}

// Number returns the numeric value of integer, enum and boolean elements.
func (e Element) Number() (float64, bool) {
	switch e.Kind() {
	case KindSigned:
		return float64(e.Int), true
	case KindUnsigned, KindEnum, KindBoolean:
		return float64(e.Uint), true
	}
	return 0, false
}

// Text returns string elements as text. Octet strings that are not
// printable are rendered as hex.
func (e Element) Text() (string, bool) {
	if e.Kind() != KindText {
		return "", false
	}
	if e.Tag == TagOctetString && !printable(e.Bytes) {
		return fmt.Sprintf("%X", e.Bytes), true
	}
	return string(e.Bytes), true
}

// Obis interprets e as an OBIS code.
func (e Element) Obis() (Obis, bool) {
	var o Obis
	if e.Tag != TagOctetString || len(e.Bytes) != len(o) {
		return o, false
	}
	copy(o[:], e.Bytes)
	return o, true
}

// Value returns e as a plain Go value, for printing.
func (e Element) Value() interface{} {
	switch e.Kind() {
	case KindNull:
		return nil
	case KindCompound:
		v := make([]interface{}, len(e.Children))
		for i, c := range e.Children {
			v[i] = c.Value()
		}
		return v
	case KindBoolean:
		return e.Uint != 0
	case KindSigned:
		return e.Int
	case KindText:
		if o, ok := e.Obis(); ok && !printable(e.Bytes) {
			return o.String()
		}
		s, _ := e.Text()
		return s
	}
	return e.Uint
}

func (e Element) String() string {
	return fmt.Sprintf("%s(%v)", e.Tag, e.Value())
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// Unit is the DLMS unit enumeration.
type Unit uint8

const (
	UnitNone Unit = 0
	UnitW    Unit = 27
	UnitVA   Unit = 28
	UnitVar  Unit = 29
	UnitWh   Unit = 30
	UnitVAh  Unit = 31
	UnitVarh Unit = 32
	UnitA    Unit = 33
	UnitV    Unit = 35
	UnitHz   Unit = 44
	// UnitCount is DLMS "unitless count"
	UnitCount Unit = 255
)

var unitNames = map[Unit]string{
	UnitW:    "W",
	UnitVA:   "VA",
	UnitVar:  "var",
	UnitWh:   "Wh",
	UnitVAh:  "VAh",
	UnitVarh: "varh",
	UnitA:    "A",
	UnitV:    "V",
	UnitHz:   "Hz",
}

func (u Unit) String() string {
	if n, ok := unitNames[u]; ok {
		return n
	}
	if u == UnitNone || u == UnitCount {
		return ""
	}
	return fmt.Sprintf("unit(%d)", uint8(u))
}

func (u Unit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// ScalerUnit is the value of a register's scaler_unit attribute. The
// physical value is raw * 10^Scaler in Unit.
type ScalerUnit struct {
	Scaler int8
	Unit   Unit
}

func (s ScalerUnit) Apply(raw float64) float64 {
	if s.Scaler == 0 {
		return raw
	}
	return raw * math.Pow10(int(s.Scaler))
}

// scalerUnit recognizes structure{int8 scaler, enum unit}.
func scalerUnit(e Element) (ScalerUnit, bool) {
	if e.Tag != TagStructure || len(e.Children) != 2 {
		return ScalerUnit{}, false
	}
	s, u := e.Children[0], e.Children[1]
	if s.Tag != TagInteger || u.Tag != TagEnum {
		return ScalerUnit{}, false
	}
	return ScalerUnit{Scaler: int8(s.Int), Unit: Unit(u.Uint)}, true
}
