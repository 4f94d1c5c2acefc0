package agent

import (
	"fmt"
	"net/http"
	"time"

	"github.com/autopeer-io/voltlink/internal/analysis"
	"github.com/autopeer-io/voltlink/internal/apiserver"
	"github.com/autopeer-io/voltlink/internal/controller"
	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/history"
	"github.com/autopeer-io/voltlink/internal/link/ble"
	"github.com/autopeer-io/voltlink/internal/link/ws"
	"github.com/autopeer-io/voltlink/internal/relay"
	"github.com/autopeer-io/voltlink/internal/telemetry"
	"github.com/autopeer-io/voltlink/pkg/log"
	"github.com/autopeer-io/voltlink/pkg/mqtt"
	"github.com/autopeer-io/voltlink/pkg/options"
)

type Config struct {
	HttpOptions      *options.HttpOptions
	MqttOptions      *options.MqttOptions
	BLEOptions       *options.BLEOptions
	WebSocketOptions *options.WebSocketOptions
	AnalysisOptions  *options.AnalysisOptions
	HistoryOptions   *options.HistoryOptions
	RelayOptions     *options.RelayOptions

	// ConnectKind and ConnectTarget describe a link opened at start.
	// KindNone skips it.
	ConnectKind    core.TransportKind
	ConnectTarget  string
	ConnectTimeout time.Duration

	// Factories overrides the link factories. Used by tests.
	Factories map[core.TransportKind]core.TransportFactory
	// MqttClient overrides the relay client. Used by tests.
	MqttClient mqtt.Client
}

func (cfg *Config) NewAgent() (*Agent, error) {
	logger := log.WithName("agent")

	factories := cfg.Factories
	if factories == nil {
		factories = cfg.defaultFactories()
	}

	// The scheduler and relay read from the controller, which is built last.
	var ctrl *controller.Controller
	latest := func() telemetry.Record { return ctrl.Latest() }

	var (
		analyzer  *analysis.HTTPAnalyzer
		scheduler *analysis.Scheduler
		publisher *relay.Publisher
		err       error
	)

	if cfg.RelayOptions.Enabled {
		publisher, err = cfg.newPublisher(func() *controller.Controller { return ctrl })
		if err != nil {
			return nil, fmt.Errorf("failed to init relay: %w", err)
		}
	}

	if cfg.AnalysisOptions.Enabled() {
		analyzer, err = analysis.NewHTTPAnalyzer(cfg.AnalysisOptions.Endpoint, cfg.AnalysisOptions.APIKey,
			&http.Client{Timeout: cfg.AnalysisOptions.Timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to init analyzer: %w", err)
		}

		opts := []analysis.Option{
			analysis.WithInterval(cfg.AnalysisOptions.Interval),
			analysis.WithTimeout(cfg.AnalysisOptions.Timeout),
			analysis.WithLogger(log.WithName("analysis")),
		}
		if publisher != nil {
			opts = append(opts, analysis.WithObserver(publisher.PublishAnalysis))
		}
		scheduler = analysis.NewScheduler(analyzer, latest, opts...)
	}

	ccfg := controller.Config{
		Factories: factories,
		History:   history.New(cfg.HistoryOptions.Capacity),
		Logger:    log.WithName("controller"),
	}
	if scheduler != nil {
		ccfg.Scheduler = scheduler
	}
	if publisher != nil {
		ccfg.RecordSink = publisher.PublishRecord
	}
	ctrl = controller.New(ccfg)

	if publisher != nil {
		ctrl.Subscribe(publisher.OnNotification)
	}
	ctrl.Subscribe(logNotification(logger))

	apiCfg := &apiserver.Config{
		HttpOptions:    cfg.HttpOptions,
		Controller:     ctrl,
		ConnectTimeout: cfg.ConnectTimeout,
	}
	// Typed nils would defeat the nil checks in the API.
	if scheduler != nil {
		apiCfg.Analysis = scheduler
		apiCfg.Analyzer = analyzer
	}

	servers := []Server{apiserver.NewServer(apiCfg)}
	if publisher != nil {
		servers = append(servers, publisher)
	}

	return &Agent{
		controller:     ctrl,
		servers:        servers,
		connectKind:    cfg.ConnectKind,
		connectTarget:  cfg.ConnectTarget,
		connectTimeout: cfg.ConnectTimeout,
		logger:         logger,
	}, nil
}

func (cfg *Config) defaultFactories() map[core.TransportKind]core.TransportFactory {
	bleCfg := ble.Config{ScanTimeout: cfg.BLEOptions.ScanTimeout}
	wsCfg := ws.Config{
		HandshakeTimeout: cfg.WebSocketOptions.HandshakeTimeout,
		ReadLimit:        cfg.WebSocketOptions.ReadLimit,
		WriteTimeout:     cfg.WebSocketOptions.WriteTimeout,
	}

	return map[core.TransportKind]core.TransportFactory{
		core.LinkA: func() core.Transport { return ble.New(bleCfg) },
		core.LinkB: func() core.Transport { return ws.New(wsCfg) },
	}
}

func (cfg *Config) newPublisher(ctrl func() *controller.Controller) (*relay.Publisher, error) {
	deviceID := cfg.RelayOptions.DeviceID
	if deviceID == "" {
		deviceID = DiscoverDeviceID()
	}
	if deviceID == "" {
		return nil, fmt.Errorf("unable to determine a device id, set --relay.device-id")
	}

	rcfg := relay.Config{
		DeviceID:  deviceID,
		TopicRoot: cfg.MqttOptions.TopicRoot,
		QoS:       cfg.MqttOptions.QoS,
		QueueSize: cfg.RelayOptions.QueueSize,
	}

	client := cfg.MqttClient
	if client == nil {
		mqttConfig := cfg.MqttOptions.ToClientConfig()
		if mqttConfig.ClientID == "" {
			mqttConfig.ClientID = fmt.Sprintf("voltlink-%s", deviceID)
		}
		relay.ApplyWill(mqttConfig, rcfg)

		var err error
		if client, err = mqtt.NewClient(mqttConfig); err != nil {
			return nil, err
		}
	}

	var commander relay.Commander
	if cfg.RelayOptions.Commands {
		commander = lazyCommander(ctrl)
	}
	return relay.New(client, rcfg, commander), nil
}

func logNotification(logger log.Logger) controller.Listener {
	return func(n controller.Notification) {
		switch {
		case n.Reason != nil:
			logger.Warn("Device disconnected", "reason", n.Reason.Error())
		case n.Status.State == controller.StateConnected:
			logger.Info("Device connected", "kind", n.Status.Kind, "endpoint", n.Status.Endpoint)
		}
	}
}
