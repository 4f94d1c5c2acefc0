// Package codec decodes the two device wire formats into telemetry records.
//
// Link-A packet (14 bytes, little-endian):
//
//	[0:2]   u16 battery voltage  x10
//	[2]     u8  battery temp     C
//	[3:5]   i16 battery current  x100
//	[5]     u8  battery SoC      %
//	[6:8]   u16 motor voltage    x10
//	[8]     u8  motor temp       C
//	[9:11]  i16 motor current    x100
//	[11:13] u16 motor rpm
//	[13]    u8  vehicle speed    km/h
//
// Link-B messages are JSON objects with battery, motor and vehicle groups in
// engineering units.
package codec
