package config

import "strings"

const (
	// DefaultGas is the gas selected when the configuration names none.
	DefaultGas = "LPG"
	// DefaultSlope and DefaultIntercept describe the MQ-6 curve.
	DefaultSlope     = -0.318
	DefaultIntercept = 1.133
	// MolarVolume is the volume of one mole of gas at 25 °C and 1 atm, in litres.
	MolarVolume = 24.45
)

// GasPreset bundles the alert thresholds and molecular weight of a gas.
type GasPreset struct {
	Name            string
	Thresholds      Thresholds
	MolecularWeight float64 // g/mol
}

var presets = []GasPreset{
	{Name: "LPG", Thresholds: Thresholds{Safe: 200, Warning: 500, Danger: 800, Critical: 1000}, MolecularWeight: 44.1},
	{Name: "Butane", Thresholds: Thresholds{Safe: 150, Warning: 400, Danger: 700, Critical: 900}, MolecularWeight: 58.12},
	{Name: "Methane", Thresholds: Thresholds{Safe: 100, Warning: 300, Danger: 600, Critical: 800}, MolecularWeight: 16.04},
	{Name: "Propane", Thresholds: Thresholds{Safe: 180, Warning: 450, Danger: 750, Critical: 950}, MolecularWeight: 44.1},
	{Name: "Hydrogen", Thresholds: Thresholds{Safe: 50, Warning: 200, Danger: 400, Critical: 600}, MolecularWeight: 2.016},
}

// Preset looks up a gas preset by name, case-insensitively.
func Preset(name string) (GasPreset, bool) {
	for _, p := range presets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return GasPreset{}, false
}

// MassConcentration converts a volume concentration in ppm to mg/m³.
func (p GasPreset) MassConcentration(ppm float64) float64 {
	return ppm * p.MolecularWeight / MolarVolume
}

// Presets returns the names of all known gases.
func Presets() []string {
	names := make([]string, len(presets))
	for i, p := range presets {
		names[i] = p.Name
	}
	return names
}
