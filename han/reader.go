package han

import (
	"fmt"
	"hemtjan.st/han/hdlc"
	"io"
	"time"
)

type Err string

func (e Err) Error() string {
	return string(e)
}

const (
	ErrFrameTimeout = Err("frame timeout")

	// DefaultFrameTimeout is the longest pause allowed inside a frame
	DefaultFrameTimeout = 2 * time.Second

	readSize = 4096
)

// TimeoutError is returned when a partial frame was dropped because the
// line went quiet in the middle of it.
type TimeoutError struct {
	Dropped int
	Idle    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("han: %v: dropped %d bytes after %s", ErrFrameTimeout, e.Dropped, e.Idle)
}

func (e *TimeoutError) Unwrap() error {
	return ErrFrameTimeout
}

type Reader interface {
	// ReadFrame returns the next valid frame. Rejected frames are
	// reported as *hdlc.FrameError or *TimeoutError, after which
	// ReadFrame may be called again. Errors from the underlying reader
	// are returned as is.
	ReadFrame() (*hdlc.Frame, error)
}

type ReaderOption func(*reader)

// WithFrameTimeout sets the longest pause allowed inside a frame, zero
// disables the check.
func WithFrameTimeout(d time.Duration) ReaderOption {
	return func(r *reader) {
		r.timeout = d
	}
}

func WithMaxFrameLength(n int) ReaderOption {
	return func(r *reader) {
		r.framerOpts = append(r.framerOpts, hdlc.WithMaxFrameLength(n))
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ReaderOption {
	return func(r *reader) {
		r.now = now
	}
}

type reader struct {
	r          io.Reader
	framer     *hdlc.Framer
	framerOpts []hdlc.Option
	buf        []byte
	timeout    time.Duration
	now        func() time.Time
	last       time.Time
	// error returned with the last read
	err error
}

func NewReader(r io.Reader, opts ...ReaderOption) Reader {
	rd := &reader{
		r:       r,
		buf:     make([]byte, readSize),
		timeout: DefaultFrameTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(rd)
	}
	rd.framer = hdlc.NewFramer(rd.framerOpts...)
	return rd
}

func (r *reader) ReadFrame() (*hdlc.Frame, error) {
	for {
		if fr, err := r.framer.Next(); fr != nil || err != nil {
			return fr, err
		}
		// Frames completed by the last read go out before its error
		if err := r.err; err != nil {
			r.err = nil
			return nil, err
		}
		n, err := r.r.Read(r.buf)
		r.err = err
		if n > 0 {
			if terr := r.write(r.buf[:n]); terr != nil {
				return nil, terr
			}
		}
	}
}

func (r *reader) write(p []byte) error {
	now := r.now()
	var terr error
	if idle := now.Sub(r.last); r.timeout > 0 && !r.last.IsZero() && idle > r.timeout && r.framer.InProgress() {
		terr = &TimeoutError{Dropped: r.framer.Buffered(), Idle: idle}
		r.framer.Reset()
	}
	r.last = now
	_, _ = r.framer.Write(p)
	return terr
}
