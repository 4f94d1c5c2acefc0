// Package ble implements Link-A: fixed-layout telemetry packets delivered as
// GATT notifications from a Bluetooth Low Energy peripheral.
package ble

import (
	"context"
)

const (
	// ServiceUUID is the GATT service every telemetry producer advertises.
	ServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	// CharacteristicUUID carries the telemetry notifications.
	CharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"

	// UnnamedDevice is the endpoint id of a peripheral without a local name.
	UnnamedDevice = "Unnamed Bluetooth Device"
)

// advertisement is a discovered telemetry peripheral.
type advertisement struct {
	Address   string
	LocalName string
}

// central is the part of the host BLE stack the transport drives.
type central interface {
	Enable() error

	// Discover scans until a peripheral advertising ServiceUUID, and whose
	// local name starts with name when name is set, is seen or ctx ends.
	Discover(ctx context.Context, name string) (advertisement, error)

	// Connect connects to adv and subscribes to CharacteristicUUID. onNotify
	// receives each notification value. onLost fires once if the link drops
	// without a local Disconnect.
	Connect(ctx context.Context, adv advertisement, onNotify func([]byte), onLost func(error)) (peripheral, error)
}

type peripheral interface {
	Disconnect() error
}
