package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/autopeer-io/voltlink/pkg/log"
)

var _ central = (*radio)(nil)

// radio drives the host adapter through tinygo's bluetooth package.
type radio struct {
	adapter        *bluetooth.Adapter
	service        bluetooth.UUID
	characteristic bluetooth.UUID
	logger         log.Logger

	mu      sync.Mutex
	enabled bool
	// seen maps discovered addresses to their adapter representation.
	seen map[string]bluetooth.Address
	// lost holds the link-loss callback of each connected peripheral.
	lost map[string]func(error)
}

// sharedRadio is the radio on the default adapter. Every transport shares
// it so the adapter is enabled once and has a single connect handler.
var sharedRadio = sync.OnceValue(newRadio)

func newRadio() *radio {
	return &radio{
		adapter:        bluetooth.DefaultAdapter,
		service:        mustParseUUID(ServiceUUID),
		characteristic: mustParseUUID(CharacteristicUUID),
		logger:         log.WithName("link-a"),
		seen:           make(map[string]bluetooth.Address),
		lost:           make(map[string]func(error)),
	}
}

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("ble: bad uuid %q: %v", s, err))
	}
	return u
}

func (r *radio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		return nil
	}
	if err := r.adapter.Enable(); err != nil {
		return err
	}
	r.adapter.SetConnectHandler(r.onConnectChange)
	r.enabled = true
	r.logger.Info("Adapter enabled")
	return nil
}

func (r *radio) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := device.Address.String()

	r.mu.Lock()
	fn := r.lost[addr]
	delete(r.lost, addr)
	r.mu.Unlock()

	if fn != nil {
		fn(fmt.Errorf("peripheral %s disconnected", addr))
	}
}

func (r *radio) Discover(ctx context.Context, name string) (advertisement, error) {
	found := make(chan advertisement, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- r.adapter.Scan(func(a *bluetooth.Adapter, res bluetooth.ScanResult) {
			if !res.HasServiceUUID(r.service) {
				return
			}
			if name != "" && !strings.HasPrefix(res.LocalName(), name) {
				return
			}

			adv := advertisement{Address: res.Address.String(), LocalName: res.LocalName()}
			r.mu.Lock()
			r.seen[adv.Address] = res.Address
			r.mu.Unlock()

			select {
			case found <- adv:
				_ = a.StopScan()
			default:
			}
		})
	}()

	r.logger.Info("Scanning for telemetry peripherals", "service", ServiceUUID, "name", name)

	select {
	case adv := <-found:
		<-scanErr
		r.logger.Info("Found peripheral", "address", adv.Address, "name", adv.LocalName)
		return adv, nil
	case err := <-scanErr:
		if err == nil {
			err = errors.New("scan stopped")
		}
		return advertisement{}, err
	case <-ctx.Done():
		_ = r.adapter.StopScan()
		<-scanErr
		return advertisement{}, ctx.Err()
	}
}

func (r *radio) Connect(_ context.Context, adv advertisement, onNotify func([]byte), onLost func(error)) (peripheral, error) {
	r.mu.Lock()
	addr, ok := r.seen[adv.Address]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("peripheral %s was not discovered", adv.Address)
	}

	// The link can drop while services are still being discovered, so the
	// loss callback is armed before connecting.
	r.mu.Lock()
	r.lost[adv.Address] = onLost
	r.mu.Unlock()

	dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		r.forget(adv.Address)
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := r.subscribe(dev, onNotify); err != nil {
		r.forget(adv.Address)
		_ = dev.Disconnect()
		return nil, err
	}

	return &device{radio: r, dev: dev, address: adv.Address}, nil
}

func (r *radio) forget(address string) {
	r.mu.Lock()
	delete(r.lost, address)
	r.mu.Unlock()
}

func (r *radio) subscribe(dev bluetooth.Device, onNotify func([]byte)) error {
	services, err := dev.DiscoverServices([]bluetooth.UUID{r.service})
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return errors.New("telemetry service not found")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{r.characteristic})
	if err != nil {
		return fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return errors.New("telemetry characteristic not found")
	}

	return chars[0].EnableNotifications(func(buf []byte) {
		// The stack may reuse buf once the callback returns.
		onNotify(append([]byte(nil), buf...))
	})
}

type device struct {
	radio   *radio
	dev     bluetooth.Device
	address string
}

// Disconnect drops the link-loss callback before disconnecting so the local
// teardown is not reported as a loss.
func (d *device) Disconnect() error {
	d.radio.forget(d.address)
	return d.dev.Disconnect()
}
