// Package relay forwards records, analysis results and link status to an
// MQTT broker, and accepts remote connect/disconnect commands.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autopeer-io/voltlink/internal/analysis"
	"github.com/autopeer-io/voltlink/internal/controller"
	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/pkg/metrics"
	"github.com/autopeer-io/voltlink/internal/telemetry"
	"github.com/autopeer-io/voltlink/pkg/log"
	"github.com/autopeer-io/voltlink/pkg/mqtt"
	"github.com/autopeer-io/voltlink/pkg/mqtt/topic"
)

// Topic classes, used as metric labels.
const (
	classTelemetry = "telemetry"
	classAnalysis  = "analysis"
	classOnline    = "online"
)

// Config describes where and how to publish.
type Config struct {
	DeviceID  string
	TopicRoot string
	QoS       int
	// QueueSize bounds the messages waiting for the broker. Further
	// messages are dropped.
	QueueSize int
	// PublishTimeout bounds a single publish.
	PublishTimeout time.Duration
}

func setDefaultConfig(cfg *Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
}

// Commander is what remote commands act on.
type Commander interface {
	Connect(ctx context.Context, kind core.TransportKind, target string) (string, error)
	Disconnect()
}

type message struct {
	class   string
	topic   string
	retain  bool
	payload []byte
}

// Publisher is the relay worker. Its publish methods never block.
type Publisher struct {
	cfg       Config
	client    mqtt.Client
	topics    *topic.Builder
	commander Commander
	logger    log.Logger

	queue chan message
}

// New returns a Publisher on client. commander may be nil, which disables
// remote commands.
func New(client mqtt.Client, cfg Config, commander Commander) *Publisher {
	setDefaultConfig(&cfg)
	return &Publisher{
		cfg:       cfg,
		client:    client,
		topics:    topic.NewBuilder(cfg.TopicRoot),
		commander: commander,
		logger:    log.WithName("relay").WithValues("device", cfg.DeviceID),
		queue:     make(chan message, cfg.QueueSize),
	}
}

// ApplyWill makes the broker publish an offline status for cfg.DeviceID if
// the agent disappears.
func ApplyWill(cc *mqtt.ClientConfig, cfg Config) {
	cc.WillTopic = topic.NewBuilder(cfg.TopicRoot).Online(cfg.DeviceID)
	cc.WillPayload, _ = json.Marshal(onlinePayload{
		Device: cfg.DeviceID,
		Online: false,
		State:  controller.StateDisconnected,
		Kind:   core.KindNone,
		Reason: "agent offline",
	})
	cc.WillQoS = 1
	cc.WillRetain = true
}

type telemetryPayload struct {
	Device string `json:"device"`
	telemetry.Record
}

type analysisPayload struct {
	Device         string                `json:"device"`
	Status         telemetry.FaultStatus `json:"status,omitempty"`
	Analysis       string                `json:"analysis,omitempty"`
	Recommendation string                `json:"recommendation,omitempty"`
	ErrorKind      core.ErrorKind        `json:"errorKind,omitempty"`
	Error          string                `json:"error,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

type onlinePayload struct {
	Device   string             `json:"device"`
	Online   bool               `json:"online"`
	State    controller.State   `json:"state"`
	Kind     core.TransportKind `json:"kind"`
	Endpoint string             `json:"endpoint,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Since    time.Time          `json:"since"`
}

type commandPayload struct {
	Action string `json:"action"`
	Kind   string `json:"kind,omitempty"`
	Target string `json:"target,omitempty"`
}

// PublishRecord queues r for the telemetry topic.
func (p *Publisher) PublishRecord(r telemetry.Record) {
	p.enqueue(classTelemetry, p.topics.Telemetry(p.cfg.DeviceID), false,
		telemetryPayload{Device: p.cfg.DeviceID, Record: r})
}

// PublishAnalysis queues res for the analysis topic.
func (p *Publisher) PublishAnalysis(res analysis.Result) {
	payload := analysisPayload{Device: p.cfg.DeviceID, Timestamp: res.At}
	if res.Err != nil {
		payload.ErrorKind = core.KindOf(res.Err)
		payload.Error = res.Err.Error()
	} else if res.Analysis != nil {
		payload.Status = res.Analysis.Status
		payload.Analysis = res.Analysis.Analysis
		payload.Recommendation = res.Analysis.Recommendation
	}
	p.enqueue(classAnalysis, p.topics.Analysis(p.cfg.DeviceID), false, payload)
}

// OnNotification queues the retained link status. Connecting is not
// published.
func (p *Publisher) OnNotification(n controller.Notification) {
	if n.Status.State == controller.StateConnecting {
		return
	}
	p.enqueue(classOnline, p.topics.Online(p.cfg.DeviceID), true, statusPayload(p.cfg.DeviceID, n))
}

func statusPayload(device string, n controller.Notification) onlinePayload {
	payload := onlinePayload{
		Device:   device,
		Online:   n.Status.State == controller.StateConnected,
		State:    n.Status.State,
		Kind:     n.Status.Kind,
		Endpoint: n.Status.Endpoint,
		Since:    n.Status.Since,
	}
	if n.Reason != nil {
		payload.Reason = n.Reason.Error()
	}
	return payload
}

func (p *Publisher) enqueue(class, topic string, retain bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error(err, "Failed to encode relay payload", "class", class)
		return
	}

	select {
	case p.queue <- message{class: class, topic: topic, retain: retain, payload: payload}:
	default:
		metrics.RelayPublished.WithLabelValues(class, "dropped").Inc()
		p.logger.Debug("Relay queue full, dropping message", "class", class)
	}
}

// Start starts the client and publishes until ctx ends. On the way out it
// marks the device offline and disconnects.
func (p *Publisher) Start(ctx context.Context) error {
	// The connection outlives ctx so the offline status can still be sent.
	if err := p.client.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if p.commander != nil {
		if err := p.client.Subscribe(ctx, p.topics.Command(p.cfg.DeviceID), p.cfg.QoS, p.handleCommand); err != nil {
			return err
		}
	}

	p.logger.Info("Relay started", "root", p.cfg.TopicRoot)
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case m := <-p.queue:
			p.publish(context.Background(), m)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, m message) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, m.topic, p.cfg.QoS, m.retain, m.payload); err != nil {
		metrics.RelayPublished.WithLabelValues(m.class, "error").Inc()
		p.logger.Warn("Relay publish failed", "topic", m.topic, "error", err.Error())
		return
	}
	metrics.RelayPublished.WithLabelValues(m.class, "ok").Inc()
}

func (p *Publisher) shutdown() {
	payload, _ := json.Marshal(onlinePayload{
		Device: p.cfg.DeviceID,
		State:  controller.StateDisconnected,
		Kind:   core.KindNone,
		Reason: "agent stopped",
	})
	p.publish(context.Background(), message{
		class:   classOnline,
		topic:   p.topics.Online(p.cfg.DeviceID),
		retain:  true,
		payload: payload,
	})

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
	defer cancel()
	p.client.Disconnect(ctx)
	p.logger.Info("Relay stopped")
}

func (p *Publisher) handleCommand(ctx context.Context, topic string, payload []byte) {
	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		p.logger.Warn("Ignoring malformed command", "topic", topic, "error", err.Error())
		return
	}

	switch cmd.Action {
	case "connect":
		kind, ok := core.ParseTransportKind(cmd.Kind)
		if !ok {
			p.logger.Warn("Ignoring connect command with unknown kind", "kind", cmd.Kind)
			return
		}
		endpoint, err := p.commander.Connect(ctx, kind, cmd.Target)
		if err != nil {
			p.logger.Error(err, "Remote connect failed", "kind", kind, "target", cmd.Target)
			return
		}
		p.logger.Info("Remote connect handled", "kind", kind, "endpoint", endpoint)
	case "disconnect":
		p.commander.Disconnect()
		p.logger.Info("Remote disconnect handled")
	default:
		p.logger.Warn("Ignoring unknown command", "action", cmd.Action)
	}
}
