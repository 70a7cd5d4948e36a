package mqttsink

import (
	"fmt"
	"hemtjan.st/han/meter"
	"lib.hemtjan.st/feature"
	"strings"
)

const (
	// Re-use currentPower from hemtjanst for imported power (i.e. power flowing into the system from the grid)
	currentPower = string(feature.CurrentPower)
	// Custom feature for produced power (e.g. if exporting Solar power to the grid)
	currentPowerProduced = "currentPowerProduced"
	// Power from the frequent short frames, when kept apart
	currentPowerShortFrame = "currentPowerShortFrame"
	reactivePower          = "reactivePower"
	reactivePowerProduced  = "reactivePowerProduced"
	energyUsed             = string(feature.EnergyUsed)
	energyProduced         = "energyProduced"
	reactiveEnergyUsed     = "reactiveEnergyUsed"
	reactiveEnergyProduced = "reactiveEnergyProduced"
	phaseCurrent           = "phase%dCurrent"
	phaseVoltage           = "phase%dVoltage"
)

type featureFormat struct {
	name   string
	format string
	// value is divided by this before formatting
	div float64
}

var features = map[meter.Slot]featureFormat{
	// Power in Watts
	meter.SlotPower:           {currentPower, "%.0f", 1},
	meter.SlotPowerShortFrame: {currentPowerShortFrame, "%.0f", 1},
	meter.SlotPowerExport:     {currentPowerProduced, "%.0f", 1},
	// Reactive power in var
	meter.SlotReactivePower:       {reactivePower, "%.0f", 1},
	meter.SlotReactivePowerExport: {reactivePowerProduced, "%.0f", 1},
	// Current in Amperes
	meter.SlotCurrentL1: {fmt.Sprintf(phaseCurrent, 1), "%.3f", 1},
	meter.SlotCurrentL2: {fmt.Sprintf(phaseCurrent, 2), "%.3f", 1},
	meter.SlotCurrentL3: {fmt.Sprintf(phaseCurrent, 3), "%.3f", 1},
	// Voltage in Volts
	meter.SlotVoltageL1: {fmt.Sprintf(phaseVoltage, 1), "%.1f", 1},
	meter.SlotVoltageL2: {fmt.Sprintf(phaseVoltage, 2), "%.1f", 1},
	meter.SlotVoltageL3: {fmt.Sprintf(phaseVoltage, 3), "%.1f", 1},
	// Energy in kWh and kvarh
	meter.SlotEnergy:               {energyUsed, "%.3f", 1000},
	meter.SlotEnergyExport:         {energyProduced, "%.3f", 1000},
	meter.SlotReactiveEnergy:       {reactiveEnergyUsed, "%.3f", 1000},
	meter.SlotReactiveEnergyExport: {reactiveEnergyProduced, "%.3f", 1000},
}

// featureValue returns the hemtjanst feature name and state for f.
func featureValue(f meter.Field) (string, string, bool) {
	ff, ok := features[f.Slot]
	if !ok {
		return "", "", false
	}
	return ff.name, fmt.Sprintf(ff.format, f.Value/ff.div), true
}

// manufacturer guesses the meter vendor from the list version identifier.
func manufacturer(listVersion string) string {
	v := strings.ToUpper(listVersion)
	switch {
	case strings.HasPrefix(v, "AIDON"):
		return "Aidon"
	case strings.HasPrefix(v, "KAMSTRUP"):
		return "Kamstrup"
	case strings.HasPrefix(v, "KFM"):
		return "Kaifa"
	}
	return ""
}
