package cosem

// Kaifa meters send their lists without OBIS codes. The number of items
// tells which values are present and in what order.

type position struct {
	obis  Obis
	scale *ScalerUnit
}

var (
	scaleW    = &ScalerUnit{Unit: UnitW}
	scaleVar  = &ScalerUnit{Unit: UnitVar}
	scaleMA   = &ScalerUnit{Scaler: -3, Unit: UnitA}
	scaleDV   = &ScalerUnit{Scaler: -1, Unit: UnitV}
	scaleWh   = &ScalerUnit{Unit: UnitWh}
	scaleVarh = &ScalerUnit{Unit: UnitVarh}
)

var kaifaLists = map[int][]position{
	// For a single item only the Active Power imported from the grid is reported
	1: {{ObisActivePowerImport, scaleW}},
	// Single phase, no accumulated energy
	9: kaifaLayout(1, false),
	// Three phases, no accumulated energy
	13: kaifaLayout(3, false),
	// Single phase with accumulated energy
	14: kaifaLayout(1, true),
	// Three phases with accumulated energy
	18: kaifaLayout(3, true),
}

func kaifaLayout(phases int, energy bool) []position {
	l := []position{
		{ObisListVersion, nil},
		{ObisMeterID, nil},
		{ObisMeterType, nil},
		{ObisActivePowerImport, scaleW},
		{ObisActivePowerExport, scaleW},
		{ObisReactivePowerImport, scaleVar},
		{ObisReactivePowerExport, scaleVar},
	}
	currents := []Obis{ObisCurrentL1, ObisCurrentL2, ObisCurrentL3}
	voltages := []Obis{ObisVoltageL1, ObisVoltageL2, ObisVoltageL3}
	for i := 0; i < phases; i++ {
		l = append(l, position{currents[i], scaleMA})
	}
	for i := 0; i < phases; i++ {
		l = append(l, position{voltages[i], scaleDV})
	}
	if energy {
		l = append(l,
			position{ObisClock, nil},
			position{ObisActiveEnergyImport, scaleWh},
			position{ObisActiveEnergyExport, scaleWh},
			position{ObisReactiveEnergyImport, scaleVarh},
			position{ObisReactiveEnergyExport, scaleVarh},
		)
	}
	return l
}

// positional maps the children of a flat root to implicit OBIS codes.
func positional(root Element) ([]Pair, bool) {
	if !root.Compound() {
		return nil, false
	}
	layout, ok := kaifaLists[len(root.Children)]
	if !ok {
		return nil, false
	}
	for _, c := range root.Children {
		if c.Compound() || c.Tag == TagNull {
			return nil, false
		}
	}
	pairs := make([]Pair, len(layout))
	for i, pos := range layout {
		c := root.Children[i]
		pairs[i] = Pair{Obis: pos.obis, Value: c, Offset: c.Offset}
		if pos.scale != nil {
			su := *pos.scale
			pairs[i].Scale = &su
		}
	}
	return pairs, true
}
