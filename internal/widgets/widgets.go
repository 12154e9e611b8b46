// Package widgets contains the built-in dashboard widgets and their text formatting.
package widgets

import (
	"fmt"
	"math"
	"strings"

	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/schema"
)

// Placeholder is shown for missing or non-numeric readings.
const Placeholder = "---"

// WaitingForGPS is shown by position widgets without a fix.
const WaitingForGPS = "waiting for GPS..."

var builtin = []catalog.Definition{
	{Name: "Accelerometer", Render: catalog.RenderVector, Title: "Accelerometer", Unit: "m/s²", Fields: []string{"accel_x", "accel_y", "accel_z"}, Precision: 2},
	{Name: "Altitude", Render: catalog.RenderValue, Title: "Altitude", Unit: "m", Fields: []string{"bmp_altitude"}, Precision: 1},
	{Name: "AltitudeChart", Render: catalog.RenderChart, Title: "Altitude (25s)", Unit: "m", Fields: []string{"bmp_altitude"}, Precision: 0},
	{Name: "Gyroscope", Render: catalog.RenderVector, Title: "Gyroscope", Unit: "deg/s", Fields: []string{"rotation_x", "rotation_y", "rotation_z"}, Precision: 2},
	{Name: "Latitude", Render: catalog.RenderValue, Title: "Latitude", Unit: "°", Fields: []string{"latitude"}, Precision: 6},
	{Name: "Longitude", Render: catalog.RenderValue, Title: "Longitude", Unit: "°", Fields: []string{"longitude"}, Precision: 6},
	{Name: "Map", Render: catalog.RenderMap, Title: "Position", Fields: []string{"latitude", "longitude"}, Precision: 5},
	{Name: "Pressure", Render: catalog.RenderValue, Title: "Pressure", Unit: "hPa", Fields: []string{"pressure"}, Precision: 2},
	{Name: "Temperature", Render: catalog.RenderValue, Title: "Temperature", Unit: "°C", Fields: []string{"temperature"}, Precision: 1},
}

// Register installs the built-in widgets into reg.
func Register(reg *catalog.Registry) error {
	for _, def := range builtin {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in widgets.
func NewRegistry() *catalog.Registry {
	reg := catalog.NewRegistry()
	for _, def := range builtin {
		reg.MustRegister(def)
	}
	return reg
}

// Catalog scans the built-in registry.
func Catalog() []catalog.Definition {
	return NewRegistry().Scan()
}

// FormatValue renders v with the given precision, or Placeholder when missing.
func FormatValue(v float64, ok bool, precision int) string {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	return fmt.Sprintf("%.*f", precision, v)
}

// FormatSigned renders v with an explicit sign, as vector components are shown.
func FormatSigned(v float64, ok bool, precision int) string {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	return fmt.Sprintf("%+.*f", precision, v)
}

// Lines returns the body text for a non-chart widget given the latest snapshot.
func Lines(def catalog.Definition, snapshot schema.TelemetrySnapshot) []string {
	switch def.Render {
	case catalog.RenderVector:
		labels := []string{"X", "Y", "Z"}
		out := make([]string, 0, len(def.Fields)+1)
		for i, field := range def.Fields {
			label := field
			if i < len(labels) {
				label = labels[i]
			}
			v, ok := snapshot.Float(field)
			out = append(out, fmt.Sprintf("%s %s", label, FormatSigned(v, ok, def.Precision)))
		}
		if def.Unit != "" {
			out = append(out, def.Unit)
		}
		return out
	case catalog.RenderMap:
		if len(def.Fields) < 2 {
			return []string{WaitingForGPS}
		}
		lat, latOK := snapshot.Float(def.Fields[0])
		lng, lngOK := snapshot.Float(def.Fields[1])
		if !latOK || !lngOK {
			return []string{WaitingForGPS}
		}
		return []string{
			fmt.Sprintf("lat %s", FormatValue(lat, true, def.Precision)),
			fmt.Sprintf("lng %s", FormatValue(lng, true, def.Precision)),
		}
	default:
		if len(def.Fields) == 0 {
			return []string{Placeholder}
		}
		v, ok := snapshot.Float(def.Fields[0])
		value := FormatValue(v, ok, def.Precision)
		if def.Unit != "" {
			value += " " + def.Unit
		}
		return []string{value}
	}
}

var sparkTicks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as a block sparkline no wider than width.
// Values are scaled into [lo, hi]; a degenerate range scales to the data.
func Sparkline(values []float64, width int, lo, hi float64) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if hi <= lo {
		lo, hi = values[0], values[0]
		for _, v := range values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	var b strings.Builder
	span := hi - lo
	for _, v := range values {
		idx := 0
		if span > 0 {
			ratio := (v - lo) / span
			ratio = math.Max(0, math.Min(1, ratio))
			idx = int(math.Round(ratio * float64(len(sparkTicks)-1)))
		}
		b.WriteRune(sparkTicks[idx])
	}
	return b.String()
}

// ChartRange is the fixed y range of the altitude chart.
var ChartRange = [2]float64{100, 700}
