package meter

import (
	"encoding/json"
	"errors"
	"fmt"
	"hemtjan.st/han/cosem"
	"time"
)

// Field is one decoded measurement.
type Field struct {
	Slot Slot       `json:"slot"`
	Obis cosem.Obis `json:"obis"`
	// Value is set for numeric slots, in the unit of the slot
	Value float64 `json:"value"`
	// Text is set for identity slots
	Text string     `json:"text,omitempty"`
	Unit cosem.Unit `json:"unit,omitempty"`
	// Time is the meter timestamp of the frame, zero if it sent none
	Time time.Time  `json:"time"`
	List cosem.List `json:"list"`
}

func (f Field) Info() SlotInfo {
	return f.Slot.Info()
}

// MarshalJSON leaves out the value of identity fields. Numeric fields
// always carry one, zero included.
func (f Field) MarshalJSON() ([]byte, error) {
	type plain Field
	v := struct {
		plain
		Value *float64 `json:"value,omitempty"`
	}{plain: plain(f)}
	if f.Info().Measure != MeasureIdentity {
		v.Value = &f.Value
	}
	return json.Marshal(v)
}

func (f Field) String() string {
	if f.Info().Measure == MeasureIdentity {
		return fmt.Sprintf("%s=%q", f.Slot, f.Text)
	}
	return fmt.Sprintf("%s=%g%s", f.Slot, f.Value, f.Unit)
}

type Config struct {
	// ShortFrameOwnSlot reports power from list 1 frames under
	// SlotPowerShortFrame instead of SlotPower.
	ShortFrameOwnSlot bool
	// Table defaults to DefaultTable
	Table Table
}

type Dispatcher struct {
	sink  Sink
	cfg   Config
	table Table
}

func NewDispatcher(sink Sink, cfg Config) *Dispatcher {
	d := &Dispatcher{
		sink:  sink,
		cfg:   cfg,
		table: cfg.Table,
	}
	if d.table == nil {
		d.table = DefaultTable
	}
	return d
}

// Dispatch publishes every known pair of f, in order, then flushes the
// sink if it is a Flusher. Pairs with unknown OBIS codes are skipped. A
// value of the wrong kind fails only that field; all such failures are
// returned joined.
func (d *Dispatcher) Dispatch(f *cosem.Frame) error {
	var errs []error
	for _, p := range f.Pairs {
		e, ok := d.table.Lookup(p.Obis)
		if !ok {
			continue
		}
		field, err := d.field(f, p, e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d.sink.Publish(field)
	}
	if fl, ok := d.sink.(Flusher); ok {
		fl.Flush()
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) field(f *cosem.Frame, p cosem.Pair, e Entry) (Field, error) {
	if p.Value.Kind()&e.Accept == 0 {
		return Field{}, &cosem.DecodeError{
			Err:    cosem.ErrTypeMismatch,
			Offset: p.Value.Offset,
			Obis:   p.Obis,
			Tag:    p.Value.Tag,
		}
	}

	field := Field{
		Slot: d.route(e.Slot, f.List),
		Obis: p.Obis,
		Time: f.Timestamp,
		List: f.List,
	}
	field.Unit = field.Slot.Info().Unit

	if field.Slot.Info().Measure == MeasureIdentity {
		field.Text, _ = p.Value.Text()
		return field, nil
	}

	raw, _ := p.Value.Number()
	scale := e.Scale
	if p.Scale != nil {
		scale = *p.Scale
	}
	field.Value = scale.Apply(raw)
	return field, nil
}

func (d *Dispatcher) route(s Slot, l cosem.List) Slot {
	if s == SlotPower && l == cosem.List1 && d.cfg.ShortFrameOwnSlot {
		return SlotPowerShortFrame
	}
	return s
}
