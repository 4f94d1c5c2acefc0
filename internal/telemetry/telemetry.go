// Package telemetry holds the canonical decoded telemetry unit shared by the
// codecs, the connection controller and the analysis scheduler.
package telemetry

import "time"

// Battery readings of the traction pack.
type Battery struct {
	Voltage     float64 `json:"voltage"`
	Temperature int     `json:"temperature"`
	// Current is negative while regenerating.
	Current float64 `json:"current"`
	// SoC is the state of charge in percent.
	SoC int `json:"soc"`
}

// Motor readings.
type Motor struct {
	Voltage     float64 `json:"voltage"`
	Temperature int     `json:"temperature"`
	RPM         int     `json:"rpm"`
	Current     float64 `json:"current"`
}

// Vehicle readings. Speed is in km/h.
type Vehicle struct {
	Speed int `json:"speed"`
}

// Record is one decoded telemetry sample. Records are passed by value and
// never mutated after the controller has stamped CapturedAt.
type Record struct {
	Battery    Battery   `json:"battery"`
	Motor      Motor     `json:"motor"`
	Vehicle    Vehicle   `json:"vehicle"`
	CapturedAt time.Time `json:"timestamp"`
}

// Zero returns the seed record used before any real data arrives.
func Zero(at time.Time) Record {
	return Record{CapturedAt: at}
}

// HasData reports whether the record carries real readings. The battery
// voltage of a live pack is never zero, so a zero voltage means the record is
// still the seed.
func (r Record) HasData() bool {
	return r.Battery.Voltage != 0
}

// Readings is the transport-independent payload of a record, without the
// receipt timestamp. It is what the remote analysis service receives.
type Readings struct {
	Battery Battery `json:"battery"`
	Motor   Motor   `json:"motor"`
	Vehicle Vehicle `json:"vehicle"`
}

// Readings strips the receipt timestamp.
func (r Record) Readings() Readings {
	return Readings{Battery: r.Battery, Motor: r.Motor, Vehicle: r.Vehicle}
}
