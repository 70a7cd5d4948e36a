package meter

import (
	"hemtjan.st/han/cosem"
)

// Slot is a named output a field is reported under.
type Slot int

const (
	SlotNone Slot = iota
	SlotPower
	// SlotPowerShortFrame receives power from list 1 frames when configured
	SlotPowerShortFrame
	SlotPowerExport
	SlotReactivePower
	SlotReactivePowerExport
	SlotCurrentL1
	SlotCurrentL2
	SlotCurrentL3
	SlotVoltageL1
	SlotVoltageL2
	SlotVoltageL3
	SlotEnergy
	SlotEnergyExport
	SlotReactiveEnergy
	SlotReactiveEnergyExport
	SlotListVersion
	SlotMeterID
	SlotMeterType
)

type Measure int

const (
	MeasurePower Measure = iota
	MeasureCurrent
	MeasureVoltage
	MeasureEnergy
	MeasureIdentity
)

func (m Measure) String() string {
	switch m {
	case MeasurePower:
		return "power"
	case MeasureCurrent:
		return "current"
	case MeasureVoltage:
		return "voltage"
	case MeasureEnergy:
		return "energy"
	case MeasureIdentity:
		return "identity"
	}
	return "unknown"
}

type Direction int

const (
	DirectionNone Direction = iota
	DirectionImport
	DirectionExport
)

func (d Direction) String() string {
	switch d {
	case DirectionImport:
		return "import"
	case DirectionExport:
		return "export"
	}
	return ""
}

const (
	StateMeasurement     = "measurement"
	StateTotalIncreasing = "total_increasing"
)

// SlotInfo describes how a slot is presented downstream.
type SlotInfo struct {
	Name      string
	Measure   Measure
	Reactive  bool
	Direction Direction
	// Phase is 1 to 3 for per phase values, 0 otherwise
	Phase       int
	Unit        cosem.Unit
	DeviceClass string
	StateClass  string
}

func power(name string, dir Direction, reactive bool) SlotInfo {
	unit := cosem.UnitW
	if reactive {
		unit = cosem.UnitVar
	}
	return SlotInfo{
		Name:        name,
		Measure:     MeasurePower,
		Reactive:    reactive,
		Direction:   dir,
		Unit:        unit,
		DeviceClass: "power",
		StateClass:  StateMeasurement,
	}
}

func energy(name string, dir Direction, reactive bool) SlotInfo {
	unit := cosem.UnitWh
	if reactive {
		unit = cosem.UnitVarh
	}
	return SlotInfo{
		Name:        name,
		Measure:     MeasureEnergy,
		Reactive:    reactive,
		Direction:   dir,
		Unit:        unit,
		DeviceClass: "energy",
		StateClass:  StateTotalIncreasing,
	}
}

func phase(name string, m Measure, phase int) SlotInfo {
	i := SlotInfo{
		Name:       name,
		Measure:    m,
		Phase:      phase,
		StateClass: StateMeasurement,
	}
	switch m {
	case MeasureCurrent:
		i.Unit, i.DeviceClass = cosem.UnitA, "current"
	case MeasureVoltage:
		i.Unit, i.DeviceClass = cosem.UnitV, "voltage"
	}
	return i
}

func identity(name string) SlotInfo {
	return SlotInfo{Name: name, Measure: MeasureIdentity}
}

var slotInfo = map[Slot]SlotInfo{
	SlotPower:                power("power", DirectionImport, false),
	SlotPowerShortFrame:      power("power_2a_frame", DirectionImport, false),
	SlotPowerExport:          power("power_export", DirectionExport, false),
	SlotReactivePower:        power("reactive_power", DirectionImport, true),
	SlotReactivePowerExport:  power("reactive_power_export", DirectionExport, true),
	SlotCurrentL1:            phase("current_l1", MeasureCurrent, 1),
	SlotCurrentL2:            phase("current_l2", MeasureCurrent, 2),
	SlotCurrentL3:            phase("current_l3", MeasureCurrent, 3),
	SlotVoltageL1:            phase("voltage_l1", MeasureVoltage, 1),
	SlotVoltageL2:            phase("voltage_l2", MeasureVoltage, 2),
	SlotVoltageL3:            phase("voltage_l3", MeasureVoltage, 3),
	SlotEnergy:               energy("energy", DirectionImport, false),
	SlotEnergyExport:         energy("energy_export", DirectionExport, false),
	SlotReactiveEnergy:       energy("reactive_energy", DirectionImport, true),
	SlotReactiveEnergyExport: energy("reactive_export_energy", DirectionExport, true),
	SlotListVersion:          identity("obis_version"),
	SlotMeterID:              identity("meter_id"),
	SlotMeterType:            identity("meter_type"),
}

func (s Slot) Info() SlotInfo {
	return slotInfo[s]
}

func (s Slot) String() string {
	if i, ok := slotInfo[s]; ok {
		return i.Name
	}
	return "none"
}

func (s Slot) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Slots returns every slot in declaration order.
func Slots() []Slot {
	s := make([]Slot, 0, len(slotInfo))
	for i := SlotPower; i <= SlotMeterType; i++ {
		s = append(s, i)
	}
	return s
}
