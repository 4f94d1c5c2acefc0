package mqtt

import (
	"context"
)

// MessageHandler receives one inbound message. name is the concrete topic,
// not the filter it matched.
type MessageHandler func(ctx context.Context, name string, payload []byte)

// Client is a broker connection that reconnects on its own. QoS values are
// 0, 1 or 2.
type Client interface {
	// Start dials in the background and returns without waiting for the
	// CONNACK. The connection ends when ctx is done or on Disconnect.
	Start(ctx context.Context) error
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, name string, qos int, retain bool, payload []byte) error

	// Subscribe routes messages matching filter to handler. The filter is
	// kept across reconnects until Unsubscribe.
	Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error
	Unsubscribe(ctx context.Context, filter string) error

	AwaitConnection(ctx context.Context) error
	IsConnected() bool
}
