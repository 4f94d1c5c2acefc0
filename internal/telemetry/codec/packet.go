package codec

import (
	"encoding/binary"
	"math"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/telemetry"
)

// PacketSize is the length of a Link-A telemetry packet.
const PacketSize = 14

// DecodePacket decodes the first PacketSize bytes of data. Trailing bytes are
// ignored. Values are taken verbatim: the producer's fixed-point range is
// trusted and health judgement belongs to the analysis service.
func DecodePacket(data []byte) (telemetry.Record, error) {
	if len(data) < PacketSize {
		return telemetry.Record{}, core.Errorf(core.KindIncompletePacket, "codec.packet",
			"got %d bytes, need %d", len(data), PacketSize)
	}

	le := binary.LittleEndian
	return telemetry.Record{
		Battery: telemetry.Battery{
			Voltage:     float64(le.Uint16(data[0:2])) / 10,
			Temperature: int(data[2]),
			Current:     float64(int16(le.Uint16(data[3:5]))) / 100,
			SoC:         int(data[5]),
		},
		Motor: telemetry.Motor{
			Voltage:     float64(le.Uint16(data[6:8])) / 10,
			Temperature: int(data[8]),
			Current:     float64(int16(le.Uint16(data[9:11]))) / 100,
			RPM:         int(le.Uint16(data[11:13])),
		},
		Vehicle: telemetry.Vehicle{
			Speed: int(data[13]),
		},
	}, nil
}

// EncodePacket is the producer side of DecodePacket, used by device
// simulators. Out-of-range values wrap the same way the firmware's integer
// casts do.
func EncodePacket(r telemetry.Readings) [PacketSize]byte {
	var b [PacketSize]byte
	le := binary.LittleEndian

	le.PutUint16(b[0:2], uint16(math.Round(r.Battery.Voltage*10)))
	b[2] = uint8(r.Battery.Temperature)
	le.PutUint16(b[3:5], uint16(int16(math.Round(r.Battery.Current*100))))
	b[5] = uint8(r.Battery.SoC)
	le.PutUint16(b[6:8], uint16(math.Round(r.Motor.Voltage*10)))
	b[8] = uint8(r.Motor.Temperature)
	le.PutUint16(b[9:11], uint16(int16(math.Round(r.Motor.Current*100))))
	le.PutUint16(b[11:13], uint16(r.Motor.RPM))
	b[13] = uint8(r.Vehicle.Speed)

	return b
}
