package han

import (
	"github.com/sirupsen/logrus"
)

type Stats struct {
	// Frames passed the link layer checks
	Frames uint64
	// Decoded frames had a payload without errors
	Decoded      uint64
	DecodeErrors uint64
	Fields       uint64
	FieldErrors  uint64
	Timeouts     uint64
	// LinkErrors counts rejected frames by reason
	LinkErrors map[string]uint64
	// Lists counts decoded frames by list kind
	Lists map[string]uint64
}

func newStats() Stats {
	return Stats{
		LinkErrors: map[string]uint64{},
		Lists:      map[string]uint64{},
	}
}

func (s Stats) clone() Stats {
	c := s
	c.LinkErrors = make(map[string]uint64, len(s.LinkErrors))
	for k, v := range s.LinkErrors {
		c.LinkErrors[k] = v
	}
	c.Lists = make(map[string]uint64, len(s.Lists))
	for k, v := range s.Lists {
		c.Lists[k] = v
	}
	return c
}

func (s Stats) LogFields() logrus.Fields {
	f := logrus.Fields{
		"frames":        s.Frames,
		"decoded":       s.Decoded,
		"decode_errors": s.DecodeErrors,
		"fields":        s.Fields,
		"field_errors":  s.FieldErrors,
		"timeouts":      s.Timeouts,
	}
	for k, v := range s.LinkErrors {
		f["link_"+k] = v
	}
	for k, v := range s.Lists {
		f[k] = v
	}
	return f
}
