// Package core defines the contracts shared between the connection
// controller, the transports and the analysis scheduler.
package core

import (
	"context"

	"github.com/autopeer-io/voltlink/internal/telemetry"
)

// TransportKind identifies a transport variant.
type TransportKind string

const (
	KindNone TransportKind = "none"
	// LinkA is the packet-oriented BLE GATT notification link.
	LinkA TransportKind = "link-a"
	// LinkB is the message-oriented WebSocket link.
	LinkB TransportKind = "link-b"
)

// ParseTransportKind accepts the canonical names and the friendlier
// "ble"/"bluetooth" and "ws"/"wifi" aliases.
func ParseTransportKind(s string) (TransportKind, bool) {
	switch s {
	case string(LinkA), "ble", "bluetooth":
		return LinkA, true
	case string(LinkB), "ws", "websocket", "wifi":
		return LinkB, true
	}
	return KindNone, false
}

// Events receives everything a transport reports after Connect has been
// called. Implementations must be safe for calls from transport goroutines.
type Events interface {
	// OnRecord is called once per successfully decoded inbound unit, in
	// receipt order.
	OnRecord(r telemetry.Record)

	// OnFailure reports a single inbound unit that could not be decoded.
	// The connection stays up.
	OnFailure(err error)

	// OnDisconnect reports that the remote end or the link went away. It
	// is never called as a consequence of a local Disconnect.
	OnDisconnect(reason error)
}

// Transport is one link variant.
type Transport interface {
	Kind() TransportKind

	// Connect resolves target and performs the handshake. It returns the
	// endpoint identifier shown while connected, or a classified error.
	Connect(ctx context.Context, target string, events Events) (string, error)

	// Disconnect releases the link. Safe to call repeatedly and before
	// Connect.
	Disconnect() error
}

// TransportFactory builds a fresh Transport for each connect attempt.
type TransportFactory func() Transport
