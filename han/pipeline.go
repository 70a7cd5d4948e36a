package han

import (
	"context"
	"encoding/hex"
	"errors"
	"github.com/sirupsen/logrus"
	"hemtjan.st/han/cosem"
	"hemtjan.st/han/hdlc"
	"hemtjan.st/han/meter"
	"io"
	"strings"
	"sync"
)

type Config struct {
	Dispatch meter.Config
	// MaxDepth bounds nesting in payloads, zero means cosem.DefaultMaxDepth
	MaxDepth int
	Log      logrus.FieldLogger
}

// Pipeline decodes frames and hands their fields to a sink, one frame at
// a time.
type Pipeline struct {
	dispatcher *meter.Dispatcher
	decodeOpts []cosem.Option
	log        logrus.FieldLogger

	mu    sync.Mutex
	stats Stats
}

func NewPipeline(sink meter.Sink, cfg Config) *Pipeline {
	p := &Pipeline{
		log:   cfg.Log,
		stats: newStats(),
	}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	if cfg.MaxDepth > 0 {
		p.decodeOpts = append(p.decodeOpts, cosem.WithMaxDepth(cfg.MaxDepth))
	}
	p.dispatcher = meter.NewDispatcher(countingSink{p, sink}, cfg.Dispatch)
	return p
}

type countingSink struct {
	p    *Pipeline
	sink meter.Sink
}

func (c countingSink) Publish(f meter.Field) {
	c.p.count(func(s *Stats) { s.Fields++ })
	c.sink.Publish(f)
}

func (c countingSink) Flush() {
	if f, ok := c.sink.(meter.Flusher); ok {
		f.Flush()
	}
}

// Run reads frames from r until it is exhausted or ctx is done. Link and
// payload errors are logged and counted, only errors from the underlying
// reader stop it. io.EOF is not an error.
func (p *Pipeline) Run(ctx context.Context, r Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fr, err := r.ReadFrame()
		if err != nil {
			if p.linkError(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		_ = p.Process(fr)
	}
}

func (p *Pipeline) linkError(err error) bool {
	var fe *hdlc.FrameError
	var te *TimeoutError
	switch {
	case errors.As(err, &fe):
		key := strings.ReplaceAll(fe.Err.Error(), " ", "_")
		p.count(func(s *Stats) { s.LinkErrors[key]++ })
		log := p.log.WithField("offset", fe.Offset)
		if errors.Is(fe, hdlc.ErrDesync) {
			log.WithField("skipped", fe.Skipped).Debug("Skipping noise")
		} else {
			log.WithError(err).Warn("Dropping frame")
		}
		return true
	case errors.As(err, &te):
		p.count(func(s *Stats) { s.Timeouts++ })
		p.log.WithError(err).Debug("Dropping partial frame")
		return true
	}
	return false
}

// Process decodes one frame and dispatches its fields. Fields decoded
// before a payload error are still dispatched.
func (p *Pipeline) Process(fr *hdlc.Frame) error {
	p.count(func(s *Stats) { s.Frames++ })
	log := p.log.WithField("offset", fr.Offset)
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		log.Debugf("Frame:\n%s", hex.Dump(fr.Info))
	}
	if fr.Segmented {
		log.Warn("Segmented frame, payload may be incomplete")
	}

	f, err := cosem.Decode(fr.Info, p.decodeOpts...)
	if err != nil {
		p.count(func(s *Stats) { s.DecodeErrors++ })
		log.WithError(err).Warnf("Error decoding frame, data: %X", fr.Info)
	} else {
		p.count(func(s *Stats) {
			s.Decoded++
			s.Lists[f.List.String()]++
		})
	}

	derr := p.dispatcher.Dispatch(f)
	if derr != nil {
		n := 1
		if j, ok := derr.(interface{ Unwrap() []error }); ok {
			n = len(j.Unwrap())
		}
		p.count(func(s *Stats) { s.FieldErrors += uint64(n) })
		log.WithError(derr).Warn("Error dispatching fields")
	}
	return errors.Join(err, derr)
}

func (p *Pipeline) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

// Stats returns a copy of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.clone()
}
