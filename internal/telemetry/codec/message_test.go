package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/telemetry"
)

func TestDecodeMessage(t *testing.T) {
	msg := `{
		"battery": {"voltage": 401.2, "temperature": 28, "current": -15.25, "soc": 88},
		"motor":   {"voltage": 399.8, "temperature": 55, "rpm": 1500, "current": 45.5},
		"vehicle": {"speed": 65}
	}`

	r, err := DecodeMessage([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, telemetry.Readings{
		Battery: telemetry.Battery{Voltage: 401.2, Temperature: 28, Current: -15.25, SoC: 88},
		Motor:   telemetry.Motor{Voltage: 399.8, Temperature: 55, RPM: 1500, Current: 45.5},
		Vehicle: telemetry.Vehicle{Speed: 65},
	}, r.Readings())
	assert.True(t, r.CapturedAt.IsZero())
}

func TestDecodeMessageFailures(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"truncated", `{"battery": {"voltage": 40`, core.ErrMalformedMessage},
		{"not json", `battery=401.2`, core.ErrMalformedMessage},
		{"empty", ``, core.ErrMalformedMessage},
		{"battery only", `{"battery":{"voltage":401.2}}`, core.ErrSchemaViolation},
		{"no vehicle", `{"battery":{},"motor":{}}`, core.ErrSchemaViolation},
		{"null group", `{"battery":{},"motor":{},"vehicle":null}`, core.ErrSchemaViolation},
		{"array document", `[1,2,3]`, core.ErrSchemaViolation},
		{"string voltage", `{"battery":{"voltage":"high"},"motor":{},"vehicle":{}}`, core.ErrSchemaViolation},
		{"group is number", `{"battery":1,"motor":{},"vehicle":{}}`, core.ErrSchemaViolation},
		{"rpm overflow", `{"battery":{},"motor":{"rpm":1e300},"vehicle":{}}`, core.ErrSchemaViolation},
		{"speed underflow", `{"battery":{},"motor":{},"vehicle":{"speed":-3e9}}`, core.ErrSchemaViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeMessage([]byte(tt.in))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, telemetry.Record{}, r, "no partial acceptance")
		})
	}
}

func TestDecodeMessageMissingGroupsNamed(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"battery":{"voltage":401.2}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "motor, vehicle")
}

func TestDecodeMessageRoundsIntegerFields(t *testing.T) {
	r, err := DecodeMessage([]byte(`{"battery":{"temperature":28.6,"soc":87.5},"motor":{"rpm":1499.9},"vehicle":{"speed":64.4}}`))
	require.NoError(t, err)
	assert.Equal(t, 29, r.Battery.Temperature)
	assert.Equal(t, 88, r.Battery.SoC)
	assert.Equal(t, 1500, r.Motor.RPM)
	assert.Equal(t, 64, r.Vehicle.Speed)
}

func TestDecodeMessageNamesOverflowingFields(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"battery":{"soc":1e12},"motor":{"rpm":1e300},"vehicle":{"speed":65}}`))
	require.ErrorIs(t, err, core.ErrSchemaViolation)
	assert.Contains(t, err.Error(), "battery.soc, motor.rpm")

	r, err := DecodeMessage([]byte(`{"battery":{},"motor":{"rpm":2147483647},"vehicle":{}}`))
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, r.Motor.RPM)
}

func TestEncodeMessageDecodes(t *testing.T) {
	in := telemetry.Readings{
		Battery: telemetry.Battery{Voltage: 380.5, Temperature: 31, Current: 12.5, SoC: 40},
		Motor:   telemetry.Motor{Voltage: 377.1, Temperature: 70, RPM: 3200, Current: 80.25},
		Vehicle: telemetry.Vehicle{Speed: 90},
	}

	data, err := EncodeMessage(in)
	require.NoError(t, err)
	out, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, in, out.Readings())
}
