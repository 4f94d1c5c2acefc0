package ble

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/telemetry/codec"
	"github.com/autopeer-io/voltlink/pkg/log"
)

var _ core.Transport = (*Transport)(nil)

// Config tunes the BLE link.
type Config struct {
	// ScanTimeout bounds discovery. Running out of time is treated like a
	// cancelled device selection.
	ScanTimeout time.Duration
}

func setDefaultConfig(cfg *Config) {
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = 30 * time.Second
	}
}

// Transport is a BLE central subscribed to one telemetry peripheral.
type Transport struct {
	cfg     Config
	central central
	logger  log.Logger

	mu   sync.Mutex
	peer peripheral

	// session advances on every Connect and Disconnect; callbacks carrying
	// an older value are ignored.
	session atomic.Uint64
}

// New returns a transport on the host's default adapter.
func New(cfg Config) *Transport {
	return newTransport(sharedRadio(), cfg)
}

func newTransport(c central, cfg Config) *Transport {
	setDefaultConfig(&cfg)
	return &Transport{
		cfg:     cfg,
		central: c,
		logger:  log.WithName("link-a"),
	}
}

func (t *Transport) Kind() core.TransportKind { return core.LinkA }

// Connect discovers a peripheral whose name starts with target (any name
// when empty), subscribes to its telemetry characteristic and returns its
// local name.
func (t *Transport) Connect(ctx context.Context, target string, events core.Events) (string, error) {
	const op = "ble.connect"

	_ = t.Disconnect()

	if err := t.central.Enable(); err != nil {
		return "", core.Wrap(core.KindTransportUnavailable, op, err, "Bluetooth is not available on this host")
	}

	scanCtx, cancel := context.WithTimeout(ctx, t.cfg.ScanTimeout)
	adv, err := t.central.Discover(scanCtx, target)
	scanErr := scanCtx.Err()
	cancel()
	if err != nil {
		if scanErr != nil {
			return "", core.Wrap(core.KindDeviceSelectionCancelled, op, err, "Device selection was cancelled.")
		}
		return "", core.Wrap(core.KindTransportUnavailable, op, err, "scan failed")
	}

	endpoint := adv.LocalName
	if endpoint == "" {
		endpoint = UnnamedDevice
	}

	session := t.session.Add(1)
	onNotify := func(data []byte) {
		if t.session.Load() != session {
			return
		}
		rec, err := codec.DecodePacket(data)
		if err != nil {
			events.OnFailure(err)
			return
		}
		events.OnRecord(rec)
	}
	onLost := func(reason error) {
		if !t.session.CompareAndSwap(session, session+1) {
			return
		}
		t.logger.Warn("Peripheral lost", "device", endpoint, "error", reason.Error())
		events.OnDisconnect(core.Wrap(core.KindUnsolicitedDisconnect, "ble.notify", reason, "peripheral disconnected"))
	}

	peer, err := t.central.Connect(ctx, adv, onNotify, onLost)
	if err != nil {
		t.session.Add(1)
		return "", core.Wrap(core.KindHandshakeFailure, op, err,
			"could not subscribe to telemetry on "+endpoint+"; make sure the device is powered on and in range")
	}

	t.mu.Lock()
	t.peer = peer
	t.mu.Unlock()

	t.logger.Info("Connected", "device", endpoint, "address", adv.Address)
	return endpoint, nil
}

// Disconnect releases the peripheral. Pending notifications are dropped.
func (t *Transport) Disconnect() error {
	t.session.Add(1)

	t.mu.Lock()
	peer := t.peer
	t.peer = nil
	t.mu.Unlock()

	if peer == nil {
		return nil
	}
	t.logger.Info("Disconnecting")
	return peer.Disconnect()
}
