package hdlc

import (
	"bytes"
	"encoding/binary"
)

type State int

const (
	// StateSeeking discards bytes until an opening flag is found
	StateSeeking State = iota
	// StateInFrame reads and checks the frame header
	StateInFrame
	// StateValidating waits for the rest of the frame and checks the FCS
	StateValidating
)

func (s State) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateInFrame:
		return "in-frame"
	case StateValidating:
		return "validating"
	}
	return "unknown"
}

type Option func(*Framer)

// WithMaxFrameLength caps the declared length of a frame, and with it the
// number of bytes buffered while waiting for one.
func WithMaxFrameLength(n int) Option {
	return func(f *Framer) {
		if n >= minFrameLength {
			f.maxLen = n
		}
	}
}

// Framer splits a byte stream into validated HDLC frames. Input is added
// with Write and frames are taken out with Next; it never waits for input
// itself. A Framer is not safe for concurrent use.
type Framer struct {
	maxLen int
	buf    []byte
	// stream offset of buf[0]
	base  int64
	state State
	// set after a rejected frame until the next good one, silences
	// desync reports while skipping the remains of the bad frame
	resync bool

	// header of the frame being read, indexes relative to buf
	length    int
	format    uint16
	dest, src uint32
	control   byte
	infoStart int
}

func NewFramer(opts ...Option) *Framer {
	f := &Framer{maxLen: DefaultMaxFrameLength}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Write buffers p. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// State returns the current parser state.
func (f *Framer) State() State {
	return f.state
}

// Buffered returns the number of bytes held by the framer.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// InProgress reports whether a partial frame is buffered. A lone flag
// kept from the end of the previous frame does not count.
func (f *Framer) InProgress() bool {
	return f.state != StateSeeking && len(f.buf) > 1
}

// Reset drops all buffered bytes and starts looking for a new frame.
func (f *Framer) Reset() {
	f.base += int64(len(f.buf))
	f.buf = nil
	f.state = StateSeeking
	f.resync = false
}

// Next returns the next validated frame. A nil frame with a nil error
// means more input is needed. Errors are always *FrameError and never
// stop the framer, calling Next again continues after the rejected bytes.
func (f *Framer) Next() (*Frame, error) {
	for {
		var (
			more bool
			fr   *Frame
			err  error
		)
		switch f.state {
		case StateSeeking:
			more, err = f.seek()
		case StateInFrame:
			more, err = f.readHeader()
		case StateValidating:
			fr, more, err = f.validate()
		}
		if err != nil || fr != nil {
			return fr, err
		}
		if more {
			return nil, nil
		}
	}
}

func (f *Framer) seek() (bool, error) {
	i := bytes.IndexByte(f.buf, flag)
	skipped := i
	if i < 0 {
		skipped = len(f.buf)
	}
	offset := f.base
	f.discard(skipped)
	if i >= 0 {
		f.state = StateInFrame
	}
	if skipped > 0 && !f.resync {
		f.resync = true
		return false, &FrameError{Err: ErrDesync, Offset: offset, Skipped: skipped}
	}
	return i < 0, nil
}

func (f *Framer) readHeader() (bool, error) {
	// Back to back frames often carry both a closing and an opening flag
	for len(f.buf) >= 2 && f.buf[1] == flag {
		f.discard(1)
	}
	if len(f.buf) < 3 {
		return true, nil
	}

	format := binary.BigEndian.Uint16(f.buf[1:3])
	length := int(format & lengthMask)
	if format&formatTypeMask != formatType || length < minFrameLength {
		// Not a frame start, most likely a closing flag followed by noise
		return false, f.skip()
	}
	if length > f.maxLen {
		return false, f.reject(&FrameError{Err: ErrFrameTooLong, Length: length})
	}
	fcsStart := 1 + length - 2

	pos := 3
	var addrs [2]uint32
	for i := range addrs {
		start := pos
		for {
			if pos >= fcsStart {
				return false, f.reject(&FrameError{Err: ErrTruncated, Length: length})
			}
			if pos >= len(f.buf) {
				return true, nil
			}
			pos++
			if f.buf[pos-1]&1 == 1 {
				break
			}
			if pos-start >= maxAddressLength {
				return false, f.skip()
			}
		}
		addrs[i] = decodeAddress(f.buf[start:pos])
	}
	if pos >= fcsStart {
		return false, f.reject(&FrameError{Err: ErrTruncated, Length: length})
	}
	if pos >= len(f.buf) {
		return true, nil
	}
	control := f.buf[pos]
	pos++

	infoStart := pos
	if pos < fcsStart {
		// Frames with an information field protect the header with a HCS
		if pos+2 > fcsStart {
			return false, f.reject(&FrameError{Err: ErrTruncated, Length: length})
		}
		if pos+2 > len(f.buf) {
			return true, nil
		}
		want := Checksum(f.buf[1:pos])
		got := binary.BigEndian.Uint16(f.buf[pos : pos+2])
		if want != got {
			return false, f.reject(&FrameError{Err: ErrHeaderCRC, Want: want, Got: got, Length: length})
		}
		infoStart = pos + 2
	}

	f.length = length
	f.format = format
	f.dest, f.src = addrs[0], addrs[1]
	f.control = control
	f.infoStart = infoStart
	f.state = StateValidating
	return false, nil
}

func (f *Framer) validate() (*Frame, bool, error) {
	end := 1 + f.length
	if len(f.buf) < end+1 {
		return nil, true, nil
	}
	if f.buf[end] != flag {
		return nil, false, f.reject(&FrameError{Err: ErrTruncated, Length: f.length})
	}
	fcsStart := end - 2
	want := Checksum(f.buf[1:fcsStart])
	got := binary.BigEndian.Uint16(f.buf[fcsStart:end])
	if want != got {
		return nil, false, f.reject(&FrameError{Err: ErrFrameCRC, Want: want, Got: got, Length: f.length})
	}

	fr := &Frame{
		Offset:      f.base,
		Format:      f.format,
		Segmented:   f.format&segmentBit != 0,
		Length:      f.length,
		Destination: f.dest,
		Source:      f.src,
		Control:     f.control,
		Info:        append([]byte(nil), f.buf[f.infoStart:fcsStart]...),
	}
	// Keep the closing flag, it may open the next frame as well
	f.discard(end)
	f.state = StateSeeking
	f.resync = false
	return fr, false, nil
}

// reject drops the opening flag of the current candidate and resumes
// seeking from the byte after it.
func (f *Framer) reject(e *FrameError) error {
	e.Offset = f.base
	f.skip()
	f.resync = true
	return e
}

func (f *Framer) skip() error {
	f.discard(1)
	f.state = StateSeeking
	return nil
}

func (f *Framer) discard(n int) {
	f.buf = f.buf[n:]
	f.base += int64(n)
}
