package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/voltlink/internal/controller"
	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/pkg/mqtt"
	"github.com/autopeer-io/voltlink/pkg/options"
)

type fakeTransport struct{}

func (fakeTransport) Kind() core.TransportKind { return core.LinkB }

func (fakeTransport) Connect(_ context.Context, target string, _ core.Events) (string, error) {
	return target, nil
}

func (fakeTransport) Disconnect() error { return nil }

type fakeClient struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeClient) Start(context.Context) error { return nil }
func (f *fakeClient) Disconnect(context.Context)  {}

func (f *fakeClient) Publish(_ context.Context, topic string, _ int, _ bool, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeClient) Subscribe(context.Context, string, int, mqtt.MessageHandler) error { return nil }
func (f *fakeClient) Unsubscribe(context.Context, string) error                         { return nil }
func (f *fakeClient) AwaitConnection(context.Context) error                             { return nil }
func (f *fakeClient) IsConnected() bool                                                 { return true }

func (f *fakeClient) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

func newTestConfig() *Config {
	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"

	return &Config{
		HttpOptions:      httpOpts,
		MqttOptions:      options.NewMqttOptions(),
		BLEOptions:       options.NewBLEOptions(),
		WebSocketOptions: options.NewWebSocketOptions(),
		AnalysisOptions:  options.NewAnalysisOptions(),
		HistoryOptions:   options.NewHistoryOptions(),
		RelayOptions:     options.NewRelayOptions(),
		ConnectKind:      core.KindNone,
		ConnectTimeout:   time.Second,
		Factories: map[core.TransportKind]core.TransportFactory{
			core.LinkB: func() core.Transport { return fakeTransport{} },
		},
	}
}

func TestNewAgentMinimal(t *testing.T) {
	a, err := newTestConfig().NewAgent()
	require.NoError(t, err)

	assert.Len(t, a.servers, 1)
	assert.Equal(t, controller.StateDisconnected, a.Controller().Status().State)
	assert.Len(t, a.Controller().History(), 1)
}

func TestNewAgentBadAnalysisEndpoint(t *testing.T) {
	cfg := newTestConfig()
	cfg.AnalysisOptions.Endpoint = "ftp://analysis.local"

	_, err := cfg.NewAgent()
	assert.Error(t, err)
}

func TestRunAutoConnectAndRelay(t *testing.T) {
	client := &fakeClient{}
	cfg := newTestConfig()
	cfg.RelayOptions.Enabled = true
	cfg.RelayOptions.DeviceID = "scooter-1"
	cfg.MqttOptions.TopicRoot = "voltlink"
	cfg.MqttClient = client
	cfg.ConnectKind = core.LinkB
	cfg.ConnectTarget = "ws://10.0.0.5:81/"

	a, err := cfg.NewAgent()
	require.NoError(t, err)
	require.Len(t, a.servers, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.Controller().Status().State == controller.StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ws://10.0.0.5:81/", a.Controller().Status().Endpoint)
	require.Eventually(t, func() bool {
		return len(client.published()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "voltlink/online/scooter-1", client.published()[0])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
	assert.Equal(t, controller.StateDisconnected, a.Controller().Status().State)
}

func TestDiscoverDeviceID(t *testing.T) {
	file := filepath.Join(t.TempDir(), "device-id")
	require.NoError(t, os.WriteFile(file, []byte(" scooter-file \n"), 0o600))

	t.Setenv(DeviceIDEnv, "scooter-env")
	assert.Equal(t, "scooter-env", discoverDeviceID(file))

	t.Setenv(DeviceIDEnv, "")
	assert.Equal(t, "scooter-file", discoverDeviceID(file))

	hostname, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, hostname, discoverDeviceID(filepath.Join(t.TempDir(), "missing")))
}
