package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var (
	_ IOptions = (*BLEOptions)(nil)
	_ IOptions = (*WebSocketOptions)(nil)
)

// BLEOptions configures the Bluetooth LE link.
type BLEOptions struct {
	// ScanTimeout bounds device discovery. Reaching it counts as a
	// cancelled device selection.
	ScanTimeout time.Duration `json:"scan-timeout" mapstructure:"scan-timeout"`
}

func NewBLEOptions() *BLEOptions {
	return &BLEOptions{ScanTimeout: 30 * time.Second}
}

func (o *BLEOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}
	if o.ScanTimeout <= 0 {
		errors = append(errors, fmt.Errorf("ble.scan-timeout must be positive"))
	}
	return errors
}

func (o *BLEOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.ScanTimeout, join(prefixes...)+"ble.scan-timeout", o.ScanTimeout, "How long to scan for a telemetry device.")
}

// WebSocketOptions configures the WebSocket link.
type WebSocketOptions struct {
	HandshakeTimeout time.Duration `json:"handshake-timeout" mapstructure:"handshake-timeout"`
	WriteTimeout     time.Duration `json:"write-timeout" mapstructure:"write-timeout"`
	// ReadLimit is the largest accepted message in bytes.
	ReadLimit int64 `json:"read-limit" mapstructure:"read-limit"`
}

func NewWebSocketOptions() *WebSocketOptions {
	return &WebSocketOptions{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     time.Second,
		ReadLimit:        64 << 10,
	}
}

func (o *WebSocketOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}
	if o.HandshakeTimeout <= 0 {
		errors = append(errors, fmt.Errorf("websocket.handshake-timeout must be positive"))
	}
	if o.ReadLimit <= 0 {
		errors = append(errors, fmt.Errorf("websocket.read-limit must be positive"))
	}
	return errors
}

func (o *WebSocketOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := join(prefixes...)
	fs.DurationVar(&o.HandshakeTimeout, p+"websocket.handshake-timeout", o.HandshakeTimeout, "Timeout for the WebSocket opening handshake.")
	fs.DurationVar(&o.WriteTimeout, p+"websocket.write-timeout", o.WriteTimeout, "Timeout for writing the close frame.")
	fs.Int64Var(&o.ReadLimit, p+"websocket.read-limit", o.ReadLimit, "Largest accepted telemetry message in bytes.")
}
