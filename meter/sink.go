package meter

import (
	"github.com/sirupsen/logrus"
)

// Sink receives decoded fields. Publish is called synchronously from the
// decoding loop and must not block for long.
type Sink interface {
	Publish(Field)
}

// Flusher is implemented by sinks that want to know when all fields of a
// frame have been published.
type Flusher interface {
	Flush()
}

type SinkFunc func(Field)

func (f SinkFunc) Publish(field Field) {
	f(field)
}

// Tee publishes to every sink in order.
type Tee []Sink

func (t Tee) Publish(field Field) {
	for _, s := range t {
		s.Publish(field)
	}
}

func (t Tee) Flush() {
	for _, s := range t {
		if f, ok := s.(Flusher); ok {
			f.Flush()
		}
	}
}

// LogSink logs every field, at info level unless Level is set.
type LogSink struct {
	Log   logrus.FieldLogger
	Level logrus.Level
}

func (s LogSink) Publish(f Field) {
	log := s.Log.WithFields(logrus.Fields{
		"slot": f.Slot.String(),
		"obis": f.Obis.String(),
		"list": f.List.String(),
	})
	msg := "Field update"
	if f.Info().Measure == MeasureIdentity {
		log = log.WithField("text", f.Text)
	} else {
		log = log.WithFields(logrus.Fields{"value": f.Value, "unit": f.Unit.String()})
	}
	if s.Level == logrus.PanicLevel {
		log.Info(msg)
		return
	}
	log.Log(s.Level, msg)
}

// Collector records fields in the order they are published.
type Collector struct {
	Fields []Field
}

func (c *Collector) Publish(f Field) {
	c.Fields = append(c.Fields, f)
}

func (c *Collector) Reset() {
	c.Fields = nil
}

// Slots returns the slots of the recorded fields.
func (c *Collector) Slots() []Slot {
	s := make([]Slot, len(c.Fields))
	for i, f := range c.Fields {
		s[i] = f.Slot
	}
	return s
}

// Last returns the latest field published for s.
func (c *Collector) Last(s Slot) (Field, bool) {
	for i := len(c.Fields) - 1; i >= 0; i-- {
		if c.Fields[i].Slot == s {
			return c.Fields[i], true
		}
	}
	return Field{}, false
}
