package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/voltlink/cmd/voltlink-agent/app/options"
	"github.com/autopeer-io/voltlink/pkg/app"
)

const (
	commandName = "voltlink-agent"
	commandDesc = `The voltlink agent connects to an electric vehicle's telemetry device
over Bluetooth LE or WebSocket, keeps a short history of readings, asks a
remote service for fault analysis and serves everything on a local HTTP API.
Records and analysis results can be relayed to an MQTT broker.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch the voltlink telemetry agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithWatchConfig(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
