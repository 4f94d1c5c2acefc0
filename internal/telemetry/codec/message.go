package codec

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/telemetry"
)

// Numbers are decoded as float64 and integer fields rounded afterwards, so a
// producer that prints 28.0 for a temperature is still accepted.
type wireBattery struct {
	Voltage     float64 `json:"voltage"`
	Temperature float64 `json:"temperature"`
	Current     float64 `json:"current"`
	SoC         float64 `json:"soc"`
}

type wireMotor struct {
	Voltage     float64 `json:"voltage"`
	Temperature float64 `json:"temperature"`
	RPM         float64 `json:"rpm"`
	Current     float64 `json:"current"`
}

type wireVehicle struct {
	Speed float64 `json:"speed"`
}

type wireMessage struct {
	Battery *wireBattery `json:"battery"`
	Motor   *wireMotor   `json:"motor"`
	Vehicle *wireVehicle `json:"vehicle"`
}

// DecodeMessage decodes one Link-B text message. A message is accepted whole
// or rejected whole.
func DecodeMessage(data []byte) (telemetry.Record, error) {
	if !json.Valid(data) {
		return telemetry.Record{}, core.Errorf(core.KindMalformedMessage, "codec.message",
			"not a well-formed JSON document (%d bytes)", len(data))
	}

	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return telemetry.Record{}, core.Wrap(core.KindSchemaViolation, "codec.message", err, "unexpected value type")
		}
		return telemetry.Record{}, core.Wrap(core.KindMalformedMessage, "codec.message", err, "decode failed")
	}

	var missing []string
	if msg.Battery == nil {
		missing = append(missing, "battery")
	}
	if msg.Motor == nil {
		missing = append(missing, "motor")
	}
	if msg.Vehicle == nil {
		missing = append(missing, "vehicle")
	}
	if len(missing) > 0 {
		return telemetry.Record{}, core.Errorf(core.KindSchemaViolation, "codec.message",
			"missing %s", strings.Join(missing, ", "))
	}

	var ints integers
	rec := telemetry.Record{
		Battery: telemetry.Battery{
			Voltage:     msg.Battery.Voltage,
			Temperature: ints.round("battery.temperature", msg.Battery.Temperature),
			Current:     msg.Battery.Current,
			SoC:         ints.round("battery.soc", msg.Battery.SoC),
		},
		Motor: telemetry.Motor{
			Voltage:     msg.Motor.Voltage,
			Temperature: ints.round("motor.temperature", msg.Motor.Temperature),
			RPM:         ints.round("motor.rpm", msg.Motor.RPM),
			Current:     msg.Motor.Current,
		},
		Vehicle: telemetry.Vehicle{
			Speed: ints.round("vehicle.speed", msg.Vehicle.Speed),
		},
	}
	if len(ints.overflow) > 0 {
		return telemetry.Record{}, core.Errorf(core.KindSchemaViolation, "codec.message",
			"%s out of integer range", strings.Join(ints.overflow, ", "))
	}
	return rec, nil
}

// EncodeMessage renders readings the way a Link-B producer does.
func EncodeMessage(r telemetry.Readings) ([]byte, error) {
	return json.Marshal(r)
}

// integers rounds integer fields and collects the ones that do not fit
// in 32 bits.
type integers struct {
	overflow []string
}

func (i *integers) round(field string, v float64) int {
	r := math.Round(v)
	if r < math.MinInt32 || r > math.MaxInt32 {
		i.overflow = append(i.overflow, field)
		return 0
	}
	return int(r)
}
