package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/voltlink/internal/analysis"
	"github.com/autopeer-io/voltlink/internal/controller"
	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/pkg/metrics"
	"github.com/autopeer-io/voltlink/internal/telemetry"
	"github.com/autopeer-io/voltlink/pkg/mqtt"
)

type published struct {
	topic   string
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	startErr     error
	published    []published
	handlers     map[string]mqtt.MessageHandler
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeClient) Start(context.Context) error { return f.startErr }

func (f *fakeClient) Disconnect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeClient) Publish(_ context.Context, topic string, _ int, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, retain: retain, payload: payload})
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, topic string, _ int, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeClient) Unsubscribe(context.Context, string) error { return nil }
func (f *fakeClient) AwaitConnection(context.Context) error     { return nil }
func (f *fakeClient) IsConnected() bool                         { return true }

func (f *fakeClient) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func (f *fakeClient) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

type fakeCommander struct {
	mu          sync.Mutex
	kind        core.TransportKind
	target      string
	connects    int
	disconnects int
}

func (f *fakeCommander) Connect(_ context.Context, kind core.TransportKind, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.kind, f.target = kind, target
	return target, nil
}

func (f *fakeCommander) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

var testConfig = Config{DeviceID: "scooter-1", TopicRoot: "voltlink", QoS: 1}

func runPublisher(t *testing.T, p *Publisher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestPublishRecord(t *testing.T) {
	client := newFakeClient()
	p := New(client, testConfig, nil)
	stop := runPublisher(t, p)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.PublishRecord(telemetry.Record{
		Battery:    telemetry.Battery{Voltage: 401.2, Temperature: 28},
		CapturedAt: at,
	})

	require.Eventually(t, func() bool { return len(client.messages()) == 1 }, time.Second, 5*time.Millisecond)
	msg := client.messages()[0]
	assert.Equal(t, "voltlink/telemetry/scooter-1", msg.topic)
	assert.False(t, msg.retain)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "scooter-1", got["device"])
	assert.Contains(t, got, "battery")
	assert.Contains(t, got, "timestamp")

	stop()
}

func TestPublishAnalysis(t *testing.T) {
	client := newFakeClient()
	p := New(client, testConfig, nil)
	stop := runPublisher(t, p)

	p.PublishAnalysis(analysis.Result{
		Analysis: &telemetry.FaultAnalysis{Status: telemetry.FaultStatusWarning, Analysis: "hot", Recommendation: "slow down"},
	})
	p.PublishAnalysis(analysis.Result{
		Err: core.Errorf(core.KindRemoteAnalysisFailure, "analyze", "service returned 502"),
	})

	require.Eventually(t, func() bool { return len(client.messages()) == 2 }, time.Second, 5*time.Millisecond)

	var ok, failed analysisPayload
	require.NoError(t, json.Unmarshal(client.messages()[0].payload, &ok))
	require.NoError(t, json.Unmarshal(client.messages()[1].payload, &failed))
	assert.Equal(t, telemetry.FaultStatusWarning, ok.Status)
	assert.Equal(t, "slow down", ok.Recommendation)
	assert.Empty(t, ok.Error)
	assert.Equal(t, core.KindRemoteAnalysisFailure, failed.ErrorKind)
	assert.Contains(t, failed.Error, "502")

	stop()
}

func TestOnNotification(t *testing.T) {
	client := newFakeClient()
	p := New(client, testConfig, nil)
	stop := runPublisher(t, p)

	p.OnNotification(controller.Notification{Status: controller.Status{State: controller.StateConnecting}})
	p.OnNotification(controller.Notification{Status: controller.Status{
		State: controller.StateConnected, Kind: core.LinkB, Endpoint: "ws://scooter.local:81/",
	}})
	p.OnNotification(controller.Notification{
		Status: controller.Status{State: controller.StateDisconnected, Kind: core.KindNone},
		Reason: errors.New("link lost"),
	})

	require.Eventually(t, func() bool { return len(client.messages()) == 2 }, time.Second, 5*time.Millisecond)

	msgs := client.messages()
	var up, down onlinePayload
	require.NoError(t, json.Unmarshal(msgs[0].payload, &up))
	require.NoError(t, json.Unmarshal(msgs[1].payload, &down))

	assert.Equal(t, "voltlink/online/scooter-1", msgs[0].topic)
	assert.True(t, msgs[0].retain)
	assert.True(t, up.Online)
	assert.Equal(t, core.LinkB, up.Kind)
	assert.False(t, down.Online)
	assert.Equal(t, "link lost", down.Reason)

	stop()
}

func TestQueueFullDrops(t *testing.T) {
	cfg := testConfig
	cfg.QueueSize = 1
	p := New(newFakeClient(), cfg, nil)

	dropped := metrics.RelayPublished.WithLabelValues(classTelemetry, "dropped")
	before := testutil.ToFloat64(dropped)

	p.PublishRecord(telemetry.Record{})
	p.PublishRecord(telemetry.Record{})
	p.PublishRecord(telemetry.Record{})

	assert.Len(t, p.queue, 1)
	assert.Equal(t, before+2, testutil.ToFloat64(dropped))
}

func TestRunStartError(t *testing.T) {
	client := newFakeClient()
	client.startErr = errors.New("bad broker")
	p := New(client, testConfig, nil)

	assert.EqualError(t, p.Start(context.Background()), "bad broker")
}

func TestShutdownPublishesOffline(t *testing.T) {
	client := newFakeClient()
	p := New(client, testConfig, nil)
	stop := runPublisher(t, p)
	stop()

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "voltlink/online/scooter-1", msgs[0].topic)
	assert.True(t, msgs[0].retain)

	var got onlinePayload
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.False(t, got.Online)
	assert.Equal(t, "agent stopped", got.Reason)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.True(t, client.disconnected)
}

func TestCommands(t *testing.T) {
	client := newFakeClient()
	commander := &fakeCommander{}
	p := New(client, testConfig, commander)
	stop := runPublisher(t, p)
	defer stop()

	cmdTopic := "voltlink/command/scooter-1"
	require.Eventually(t, func() bool { return client.handler(cmdTopic) != nil }, time.Second, 5*time.Millisecond)
	h := client.handler(cmdTopic)

	ctx := context.Background()
	h(ctx, cmdTopic, []byte(`{"action":"connect","kind":"ws","target":"ws://10.0.0.5:81/"}`))
	h(ctx, cmdTopic, []byte(`{"action":"connect","kind":"carrier-pigeon"}`))
	h(ctx, cmdTopic, []byte(`not json`))
	h(ctx, cmdTopic, []byte(`{"action":"reboot"}`))
	h(ctx, cmdTopic, []byte(`{"action":"disconnect"}`))

	commander.mu.Lock()
	defer commander.mu.Unlock()
	assert.Equal(t, 1, commander.connects)
	assert.Equal(t, core.LinkB, commander.kind)
	assert.Equal(t, "ws://10.0.0.5:81/", commander.target)
	assert.Equal(t, 1, commander.disconnects)
}

func TestNoCommanderNoSubscription(t *testing.T) {
	client := newFakeClient()
	p := New(client, testConfig, nil)
	stop := runPublisher(t, p)
	stop()

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.handlers)
}

func TestApplyWill(t *testing.T) {
	cc := mqtt.ClientConfig{}
	ApplyWill(&cc, testConfig)

	assert.Equal(t, "voltlink/online/scooter-1", cc.WillTopic)
	assert.True(t, cc.WillRetain)
	assert.EqualValues(t, 1, cc.WillQoS)

	var got onlinePayload
	require.NoError(t, json.Unmarshal(cc.WillPayload, &got))
	assert.False(t, got.Online)
	assert.Equal(t, "scooter-1", got.Device)
}
