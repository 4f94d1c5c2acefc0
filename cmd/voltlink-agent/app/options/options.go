package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/voltlink/internal/agent"
	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/pkg/app"
	"github.com/autopeer-io/voltlink/pkg/log"
	"github.com/autopeer-io/voltlink/pkg/options"
)

// ConnectOptions describes a link opened as soon as the agent starts.
type ConnectOptions struct {
	Kind    string        `json:"kind" mapstructure:"kind"`
	Target  string        `json:"target" mapstructure:"target"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

func NewConnectOptions() *ConnectOptions {
	return &ConnectOptions{Timeout: time.Minute}
}

func (o *ConnectOptions) Validate() []error {
	errs := []error{}
	if o.Kind != "" {
		if _, ok := core.ParseTransportKind(o.Kind); !ok {
			errs = append(errs, fmt.Errorf("connect.kind %q is not one of ble, ws", o.Kind))
		}
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("connect.timeout must be positive"))
	}
	return errs
}

func (o *ConnectOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Kind, "connect.kind", o.Kind, "Link opened at start: ble or ws. Empty waits for a connect request.")
	fs.StringVar(&o.Target, "connect.target", o.Target, "Device name prefix (ble) or ws:// URL (ws) for the start-up link.")
	fs.DurationVar(&o.Timeout, "connect.timeout", o.Timeout, "Upper bound of a single connect attempt.")
}

type AgentOptions struct {
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	BLEOptions       *options.BLEOptions       `json:"ble" mapstructure:"ble"`
	WebSocketOptions *options.WebSocketOptions `json:"websocket" mapstructure:"websocket"`
	AnalysisOptions  *options.AnalysisOptions  `json:"analysis" mapstructure:"analysis"`
	HistoryOptions   *options.HistoryOptions   `json:"history" mapstructure:"history"`
	RelayOptions     *options.RelayOptions     `json:"relay" mapstructure:"relay"`
	ConnectOptions   *ConnectOptions           `json:"connect" mapstructure:"connect"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		HttpOptions:      options.NewHttpOptions(),
		MqttOptions:      options.NewMqttOptions(),
		BLEOptions:       options.NewBLEOptions(),
		WebSocketOptions: options.NewWebSocketOptions(),
		AnalysisOptions:  options.NewAnalysisOptions(),
		HistoryOptions:   options.NewHistoryOptions(),
		RelayOptions:     options.NewRelayOptions(),
		ConnectOptions:   NewConnectOptions(),
		Log:              log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.BLEOptions.AddFlags(fss.FlagSet("ble"))
	o.WebSocketOptions.AddFlags(fss.FlagSet("websocket"))
	o.ConnectOptions.AddFlags(fss.FlagSet("connect"))
	o.HistoryOptions.AddFlags(fss.FlagSet("history"))
	o.AnalysisOptions.AddFlags(fss.FlagSet("analysis"))
	o.RelayOptions.AddFlags(fss.FlagSet("relay"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.BLEOptions.Validate()...)
	errs = append(errs, o.WebSocketOptions.Validate()...)
	errs = append(errs, o.ConnectOptions.Validate()...)
	errs = append(errs, o.HistoryOptions.Validate()...)
	errs = append(errs, o.AnalysisOptions.Validate()...)
	errs = append(errs, o.RelayOptions.Validate()...)
	if o.RelayOptions.Enabled {
		errs = append(errs, o.MqttOptions.Validate()...)
	}
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// LogOptions lets the app framework initialise logging.
func (o *AgentOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *AgentOptions) Config() (*agent.Config, error) {
	kind := core.KindNone
	if o.ConnectOptions.Kind != "" {
		var ok bool
		if kind, ok = core.ParseTransportKind(o.ConnectOptions.Kind); !ok {
			return nil, fmt.Errorf("unknown connect kind %q", o.ConnectOptions.Kind)
		}
	}

	return &agent.Config{
		HttpOptions:      o.HttpOptions,
		MqttOptions:      o.MqttOptions,
		BLEOptions:       o.BLEOptions,
		WebSocketOptions: o.WebSocketOptions,
		AnalysisOptions:  o.AnalysisOptions,
		HistoryOptions:   o.HistoryOptions,
		RelayOptions:     o.RelayOptions,
		ConnectKind:      kind,
		ConnectTarget:    o.ConnectOptions.Target,
		ConnectTimeout:   o.ConnectOptions.Timeout,
	}, nil
}
