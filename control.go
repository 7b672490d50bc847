package webcamctl

import (
	"math"
	"sort"
)

// Well-known control names as printed by v4l2-ctl
const (
	ControlBrightness              = "brightness"
	ControlWhiteBalanceAutomatic   = "white_balance_automatic"
	ControlWhiteBalanceTemperature = "white_balance_temperature"
	ControlZoomAbsolute            = "zoom_absolute"
)

// Control describes one numeric device control
type Control struct {
	Name  string `json:"name" yaml:"name"`
	Min   int64  `json:"min" yaml:"min"`
	Max   int64  `json:"max" yaml:"max"`
	Step  int64  `json:"step" yaml:"step"`
	Value int64  `json:"value" yaml:"value"`
}

// Position returns the current value as a fraction of the control range.
// Degenerate ranges (Max <= Min) report 0.
func (c Control) Position() float64 {
	if c.Max <= c.Min {
		return 0
	}
	// float64 differences, int64 ones overflow for full-width ranges
	lo, hi := float64(c.Min), float64(c.Max)
	pos := (float64(c.Value) - lo) / (hi - lo)
	return clampPosition(pos)
}

// ValueAt converts a normalized position back to a device value within [Min, Max]
func (c Control) ValueAt(pos float64) int64 {
	if c.Max <= c.Min || math.IsNaN(pos) {
		return c.Min
	}
	lo, hi := float64(c.Min), float64(c.Max)
	value := lo + math.Round(clampPosition(pos)*(hi-lo))
	// float64(c.Max) may round up past the int64 range
	if value <= lo {
		return c.Min
	}
	if value >= hi {
		return c.Max
	}
	return int64(value)
}

func clampPosition(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}

// Table maps control names to their descriptors. A missing name means the
// device does not expose that control.
type Table map[string]Control

// Names returns control names in lexical order
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the table
func (t Table) Clone() Table {
	res := make(Table, len(t))
	for name, c := range t {
		res[name] = c
	}
	return res
}
