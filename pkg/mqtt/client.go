package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/voltlink/pkg/log"
	"github.com/autopeer-io/voltlink/pkg/mqtt/topic"
)

var errNotStarted = errors.New("client not started")

var _ Client = (*pahoClient)(nil)

type pahoClient struct {
	cfg    *ClientConfig
	logger log.Logger

	// cm is set once by Start.
	cm atomic.Pointer[autopaho.ConnectionManager]

	connected atomic.Bool

	// mu guards subs. Every filter in subs is re-sent on each connection.
	mu   sync.RWMutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// NewClient validates cfg, fills in defaults and returns a client that is
// not yet connected.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config is required")
	}
	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg:    cfg,
		logger: log.WithName("mqtt").WithValues("clientID", cfg.ClientID),
		subs:   make(map[string]subscription),
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	broker, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return err
	}

	c.logger.Info("Starting MQTT client", "broker", c.cfg.BrokerURL)
	cm, err := autopaho.NewConnection(ctx, c.pahoConfig(broker))
	if err != nil {
		return err
	}
	c.cm.Store(cm)
	return nil
}

func (c *pahoClient) pahoConfig(broker *url.URL) autopaho.ClientConfig {
	return autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectDelay),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg:                        &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify},
		WillMessage:                   c.willMessage(),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError: func(err error) {
			c.down("MQTT connection failed, retrying", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnClientError: func(err error) {
				c.down("MQTT client error", err)
			},
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.dispatch},
		},
	}
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	cm := c.cm.Load()
	if cm == nil {
		return
	}
	_ = cm.Disconnect(ctx)
	c.connected.Store(false)
	c.logger.Info("MQTT client disconnected")
}

func (c *pahoClient) Publish(ctx context.Context, name string, qos int, retain bool, payload []byte) error {
	cm := c.cm.Load()
	if cm == nil {
		return errNotStarted
	}
	_, err := cm.Publish(ctx, &paho.Publish{Topic: name, QoS: byte(qos), Retain: retain, Payload: payload})
	return err
}

// Subscribe records the filter before anything goes on the wire, so a
// subscription made while offline is sent with the next CONNACK.
func (c *pahoClient) Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error {
	cm := c.cm.Load()
	if cm == nil {
		return errNotStarted
	}

	c.mu.Lock()
	c.subs[filter] = subscription{qos: byte(qos), handler: handler}
	c.mu.Unlock()

	if !c.connected.Load() {
		c.logger.Debug("Subscription deferred until connected", "topic", filter)
		return nil
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: byte(qos)}},
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	c.logger.Info("Subscribed to topic", "topic", filter)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, filter string) error {
	cm := c.cm.Load()
	if cm == nil {
		return errNotStarted
	}

	c.mu.Lock()
	delete(c.subs, filter)
	c.mu.Unlock()

	_, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	return err
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	cm := c.cm.Load()
	if cm == nil {
		return errNotStarted
	}
	return cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

// onConnectionUp re-sends every known filter in a single SUBSCRIBE.
func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")

	opts := c.subscribeOptions()
	if len(opts) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		defer cancel()
		if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts}); err != nil {
			c.logger.Error(err, "Failed to restore subscriptions", "count", len(opts))
			return
		}
		c.logger.Debug("Subscriptions restored", "count", len(opts))
	}()
}

func (c *pahoClient) subscribeOptions() []paho.SubscribeOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()

	opts := make([]paho.SubscribeOptions, 0, len(c.subs))
	for filter, s := range c.subs {
		opts = append(opts, paho.SubscribeOptions{Topic: filter, QoS: s.qos})
	}
	return opts
}

func (c *pahoClient) down(msg string, err error) {
	c.connected.Store(false)
	c.logger.Error(err, msg)
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	var reason string
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.logger.Warn("MQTT server requested disconnect", "code", d.ReasonCode, "reason", reason)
}

// dispatch hands an inbound message to every handler whose filter covers
// it. Handlers run off the reader loop.
func (c *pahoClient) dispatch(p paho.PublishReceived) (bool, error) {
	name, payload := p.Packet.Topic, p.Packet.Payload
	handlers := c.handlersFor(name)
	if len(handlers) == 0 {
		c.logger.Debug("Received message on unhandled topic", "topic", name)
		return true, nil
	}
	for _, h := range handlers {
		go h(context.Background(), name, payload)
	}
	return true, nil
}

func (c *pahoClient) handlersFor(name string) []MessageHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []MessageHandler
	for filter, s := range c.subs {
		if s.handler != nil && topic.Match(filter, name) {
			out = append(out, s.handler)
		}
	}
	return out
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}
