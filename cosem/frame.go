package cosem

import (
	"time"
)

// List is the kind of list a meter pushed, recognized from its content.
type List int

const (
	ListUnknown List = iota
	// List1 carries active power import only, sent every few seconds
	List1
	// List2 adds identity, reactive power and per phase values
	List2
	// List3 adds the cumulative energy registers, sent once an hour
	List3
)

func (l List) String() string {
	switch l {
	case List1:
		return "list1"
	case List2:
		return "list2"
	case List3:
		return "list3"
	}
	return "unknown"
}

func (l List) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Pair is a value tagged with the OBIS code that preceded it.
type Pair struct {
	Obis  Obis
	Value Element
	// Scale is set when the meter sent a scaler_unit next to the value
	Scale *ScalerUnit
	// Offset of the OBIS code in the payload
	Offset int
}

type Frame struct {
	InvokeID uint32
	// Timestamp is the zero time when the meter sent none
	Timestamp time.Time
	Root      Element
	Pairs     []Pair
	List      List
	// Positional is set for lists without OBIS codes, mapped by position
	Positional bool
}

func classify(pairs []Pair) List {
	var power, other, energy bool
	for _, p := range pairs {
		switch {
		case p.Obis.Cumulative():
			energy = true
		case p.Obis.Channel(0) == ObisActivePowerImport:
			power = true
		case p.Obis == ObisClock:
		default:
			other = true
		}
	}
	switch {
	case energy:
		return List3
	case other:
		return List2
	case power:
		return List1
	}
	return ListUnknown
}
