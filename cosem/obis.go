package cosem

import (
	"fmt"
	"strconv"
	"strings"
)

// Obis is an OBIS code, the six group values A to F.
type Obis [6]byte

var (
	ObisListVersion = Obis{1, 1, 0, 2, 129, 255}
	ObisMeterID     = Obis{0, 0, 96, 1, 0, 255}
	ObisMeterType   = Obis{0, 0, 96, 1, 7, 255}
	ObisClock       = Obis{0, 0, 1, 0, 0, 255}

	ObisActivePowerImport   = Obis{1, 0, 1, 7, 0, 255}
	ObisActivePowerExport   = Obis{1, 0, 2, 7, 0, 255}
	ObisReactivePowerImport = Obis{1, 0, 3, 7, 0, 255}
	ObisReactivePowerExport = Obis{1, 0, 4, 7, 0, 255}

	ObisCurrentL1 = Obis{1, 0, 31, 7, 0, 255}
	ObisCurrentL2 = Obis{1, 0, 51, 7, 0, 255}
	ObisCurrentL3 = Obis{1, 0, 71, 7, 0, 255}
	ObisVoltageL1 = Obis{1, 0, 32, 7, 0, 255}
	ObisVoltageL2 = Obis{1, 0, 52, 7, 0, 255}
	ObisVoltageL3 = Obis{1, 0, 72, 7, 0, 255}

	ObisActiveEnergyImport   = Obis{1, 0, 1, 8, 0, 255}
	ObisActiveEnergyExport   = Obis{1, 0, 2, 8, 0, 255}
	ObisReactiveEnergyImport = Obis{1, 0, 3, 8, 0, 255}
	ObisReactiveEnergyExport = Obis{1, 0, 4, 8, 0, 255}
)

// ParseObis accepts both "1-0:1.7.0.255" and "1.0.1.7.0.255".
func ParseObis(s string) (Obis, error) {
	var o Obis
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == ':' || r == '.'
	})
	if len(fields) != len(o) {
		return o, fmt.Errorf("obis %q: want 6 groups, got %d", s, len(fields))
	}
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			return o, fmt.Errorf("obis %q: %w", s, err)
		}
		o[i] = byte(v)
	}
	return o, nil
}

func MustObis(s string) Obis {
	o, err := ParseObis(s)
	if err != nil {
		panic(err)
	}
	return o
}

func (o Obis) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d.%d", o[0], o[1], o[2], o[3], o[4], o[5])
}

func (o Obis) IsZero() bool {
	return o == Obis{}
}

// Electricity reports whether o belongs to the electricity medium (A=1).
func (o Obis) Electricity() bool {
	return o[0] == 1
}

// Channel returns o with the B group set to ch.
func (o Obis) Channel(ch byte) Obis {
	o[1] = ch
	return o
}

// Cumulative reports whether o is an energy register, C in 1..4 and D=8.
func (o Obis) Cumulative() bool {
	return o.Electricity() && o[2] >= 1 && o[2] <= 4 && o[3] == 8
}

func (o Obis) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
