package hdlc

import "fmt"

type Err string

func (e Err) Error() string {
	return string(e)
}

const (
	// ErrDesync is reported when bytes that do not belong to any frame
	// had to be skipped to find the next opening flag.
	ErrDesync       = Err("desync")
	ErrHeaderCRC    = Err("header crc mismatch")
	ErrFrameCRC     = Err("frame crc mismatch")
	ErrTruncated    = Err("truncated frame")
	ErrFrameTooLong = Err("frame too long")
)

// FrameError describes a rejected candidate frame. The framer has already
// resynchronized when it is returned, so reading can simply continue.
type FrameError struct {
	Err error
	// Offset is the stream offset of the opening flag (or of the first
	// skipped byte for ErrDesync).
	Offset int64
	// Want and Got hold the computed and transmitted check sequence for
	// CRC errors.
	Want, Got uint16
	// Skipped is the number of discarded bytes for ErrDesync.
	Skipped int
	// Length is the declared frame length, when known.
	Length int
}

func (e *FrameError) Error() string {
	switch e.Err {
	case ErrHeaderCRC, ErrFrameCRC:
		return fmt.Sprintf("hdlc: %v at offset %d: computed %04X, received %04X", e.Err, e.Offset, e.Want, e.Got)
	case ErrDesync:
		return fmt.Sprintf("hdlc: %v at offset %d: skipped %d bytes", e.Err, e.Offset, e.Skipped)
	case ErrFrameTooLong, ErrTruncated:
		return fmt.Sprintf("hdlc: %v at offset %d (declared length %d)", e.Err, e.Offset, e.Length)
	}
	return fmt.Sprintf("hdlc: %v at offset %d", e.Err, e.Offset)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
