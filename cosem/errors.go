package cosem

import "fmt"

type Err string

func (e Err) Error() string {
	return string(e)
}

const (
	ErrTruncated       = Err("truncated payload")
	ErrTypeMismatch    = Err("type mismatch")
	ErrUnsupportedType = Err("unsupported type")
	ErrTooDeep         = Err("nesting too deep")
	ErrTrailingData    = Err("trailing data")
	ErrNotNotification = Err("not a data-notification")
)

// DecodeError carries the payload offset and, when known, the OBIS
// identifier of the value that failed.
type DecodeError struct {
	Err    error
	Offset int
	Obis   Obis
	// Tag is the offending type tag for ErrTypeMismatch and ErrUnsupportedType
	Tag Tag
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("cosem: %v at offset %d", e.Err, e.Offset)
	if !e.Obis.IsZero() {
		msg += fmt.Sprintf(" (%s)", e.Obis)
	}
	switch e.Err {
	case ErrTypeMismatch, ErrUnsupportedType:
		msg += fmt.Sprintf(": tag 0x%02X", uint8(e.Tag))
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
