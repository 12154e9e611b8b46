package datasource

import (
	"math"
	"time"

	"pkt.systems/groundstation/schema"
)

// SimulatorPort is the pseudo-port name that selects synthetic telemetry.
const SimulatorPort = "SIMULATOR"

// Simulator produces synthetic flight telemetry. The counter advances by 0.1
// per reading.
type Simulator struct {
	start   time.Time
	counter float64
	maxAlt  float64
}

// NewSimulator constructs a simulator whose clock starts at start.
func NewSimulator(start time.Time) *Simulator {
	return &Simulator{start: start}
}

// Next returns the reading for now and advances the counter.
func (s *Simulator) Next(now time.Time) schema.TelemetrySnapshot {
	ms := now.Sub(s.start).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	c := s.counter
	status := 0
	if ms%5000 < 2500 {
		status = 1
	}
	temperature := 25.0 + 5.0*math.Sin(c*0.1)
	pressure := 1013.25 + 2.0*math.Sin(c*0.05)
	bmpAltitude := 500.0 + 100.0*math.Sin(c*0.02)
	if bmpAltitude > s.maxAlt {
		s.maxAlt = bmpAltitude
	}
	snapshot := schema.TelemetrySnapshot{
		"time":         ms,
		"status":       status,
		"pressure":     round(pressure, 4),
		"temperature":  round(temperature, 2),
		"bmp_altitude": round(bmpAltitude, 2),
		"max_altitude": round(s.maxAlt, 2),
		"accel_x":      round(0.5*math.Sin(c*5.0), 4),
		"accel_y":      round(0.5*math.Cos(c*5.0), 4),
		"accel_z":      round(9.81+0.2*math.Sin(c*10.0), 4),
		"rotation_x":   round(math.Mod(c*10.0, 360.0), 2),
		"rotation_y":   0.0,
		"rotation_z":   0.0,
		"latitude":     round(-23.5505+0.001*math.Sin(c*0.01), 6),
		"longitude":    round(-46.6333+0.001*math.Cos(c*0.01), 6),
		"gps_altitude": round(bmpAltitude+5.0, 2),
		"voltage":      round(4.2-0.01*(c*0.1), 2),
	}
	s.counter += 0.1
	return snapshot
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
