package meter

import (
	"hemtjan.st/han/cosem"
)

// Entry maps an OBIS code to a slot. Scale is used when the meter does not
// send a scaler_unit of its own.
type Entry struct {
	Obis   cosem.Obis
	Slot   Slot
	Accept cosem.Kind
	Scale  cosem.ScalerUnit
}

type Table []Entry

var (
	scaleW    = cosem.ScalerUnit{Unit: cosem.UnitW}
	scaleVar  = cosem.ScalerUnit{Unit: cosem.UnitVar}
	scaleA    = cosem.ScalerUnit{Scaler: -2, Unit: cosem.UnitA}
	scaleV    = cosem.ScalerUnit{Unit: cosem.UnitV}
	scaleWh   = cosem.ScalerUnit{Scaler: 1, Unit: cosem.UnitWh}
	scaleVarh = cosem.ScalerUnit{Scaler: 1, Unit: cosem.UnitVarh}
)

// DefaultTable covers the Norwegian HAN lists. The fallback scales are
// those of Kamstrup meters, the only ones sending OBIS codes without a
// scaler_unit.
var DefaultTable = Table{
	{cosem.ObisListVersion, SlotListVersion, cosem.KindText, cosem.ScalerUnit{}},
	{cosem.ObisMeterID, SlotMeterID, cosem.KindText, cosem.ScalerUnit{}},
	{cosem.ObisMeterType, SlotMeterType, cosem.KindText, cosem.ScalerUnit{}},
	// Kamstrup identity codes
	{cosem.Obis{1, 1, 0, 0, 5, 255}, SlotMeterID, cosem.KindText, cosem.ScalerUnit{}},
	{cosem.Obis{1, 1, 96, 1, 1, 255}, SlotMeterType, cosem.KindText, cosem.ScalerUnit{}},

	{cosem.ObisActivePowerImport, SlotPower, cosem.KindUnsigned, scaleW},
	{cosem.ObisActivePowerExport, SlotPowerExport, cosem.KindUnsigned, scaleW},
	{cosem.ObisReactivePowerImport, SlotReactivePower, cosem.KindUnsigned, scaleVar},
	{cosem.ObisReactivePowerExport, SlotReactivePowerExport, cosem.KindUnsigned, scaleVar},

	{cosem.ObisCurrentL1, SlotCurrentL1, cosem.KindInteger, scaleA},
	{cosem.ObisCurrentL2, SlotCurrentL2, cosem.KindInteger, scaleA},
	{cosem.ObisCurrentL3, SlotCurrentL3, cosem.KindInteger, scaleA},
	{cosem.ObisVoltageL1, SlotVoltageL1, cosem.KindUnsigned, scaleV},
	{cosem.ObisVoltageL2, SlotVoltageL2, cosem.KindUnsigned, scaleV},
	{cosem.ObisVoltageL3, SlotVoltageL3, cosem.KindUnsigned, scaleV},

	{cosem.ObisActiveEnergyImport, SlotEnergy, cosem.KindUnsigned, scaleWh},
	{cosem.ObisActiveEnergyExport, SlotEnergyExport, cosem.KindUnsigned, scaleWh},
	{cosem.ObisReactiveEnergyImport, SlotReactiveEnergy, cosem.KindUnsigned, scaleVarh},
	{cosem.ObisReactiveEnergyExport, SlotReactiveEnergyExport, cosem.KindUnsigned, scaleVarh},
}

// Lookup finds the entry for o. Electricity codes with a B group other
// than 0 fall back to channel 0, Kamstrup meters send B=1.
func (t Table) Lookup(o cosem.Obis) (Entry, bool) {
	if e, ok := t.find(o); ok {
		return e, true
	}
	if o.Electricity() && o[1] != 0 {
		return t.find(o.Channel(0))
	}
	return Entry{}, false
}

func (t Table) find(o cosem.Obis) (Entry, bool) {
	for _, e := range t {
		if e.Obis == o {
			return e, true
		}
	}
	return Entry{}, false
}
