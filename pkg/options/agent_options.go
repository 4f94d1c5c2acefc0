package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

var (
	_ IOptions = (*AnalysisOptions)(nil)
	_ IOptions = (*HistoryOptions)(nil)
	_ IOptions = (*RelayOptions)(nil)
)

// AnalysisOptions configures the remote fault analysis service. Analysis is
// disabled when Endpoint is empty.
type AnalysisOptions struct {
	Endpoint string        `json:"endpoint" mapstructure:"endpoint"`
	APIKey   string        `json:"api-key" mapstructure:"api-key"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
}

func NewAnalysisOptions() *AnalysisOptions {
	return &AnalysisOptions{
		Interval: 10 * time.Second,
		Timeout:  30 * time.Second,
	}
}

func (o *AnalysisOptions) Enabled() bool {
	return o != nil && o.Endpoint != ""
}

func (o *AnalysisOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}
	if o.Endpoint != "" {
		u, err := url.Parse(o.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, fmt.Errorf("analysis.endpoint %q must be an http(s) URL", o.Endpoint))
		}
	}
	if o.Interval <= 0 {
		errors = append(errors, fmt.Errorf("analysis.interval must be positive"))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("analysis.timeout must be positive"))
	}
	return errors
}

func (o *AnalysisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := join(prefixes...)
	fs.StringVar(&o.Endpoint, p+"analysis.endpoint", o.Endpoint, "Base URL of the fault analysis service. Empty disables analysis.")
	fs.StringVar(&o.APIKey, p+"analysis.api-key", o.APIKey, "Bearer token for the fault analysis service.")
	fs.DurationVar(&o.Interval, p+"analysis.interval", o.Interval, "Period between analysis requests while connected.")
	fs.DurationVar(&o.Timeout, p+"analysis.timeout", o.Timeout, "Timeout of a single analysis request.")
}

// HistoryOptions configures the record history.
type HistoryOptions struct {
	Capacity int `json:"capacity" mapstructure:"capacity"`
}

func NewHistoryOptions() *HistoryOptions {
	return &HistoryOptions{Capacity: 100}
}

func (o *HistoryOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}
	if o.Capacity <= 0 {
		errors = append(errors, fmt.Errorf("history.capacity must be positive, got %d", o.Capacity))
	}
	return errors
}

func (o *HistoryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.Capacity, join(prefixes...)+"history.capacity", o.Capacity, "Number of records kept in history.")
}

// RelayOptions configures forwarding to MQTT. The broker itself is
// described by MqttOptions.
type RelayOptions struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	DeviceID  string `json:"device-id" mapstructure:"device-id"`
	QueueSize int    `json:"queue-size" mapstructure:"queue-size"`
	// Commands enables remote connect/disconnect over {root}/command/{device}.
	Commands bool `json:"commands" mapstructure:"commands"`
}

func NewRelayOptions() *RelayOptions {
	return &RelayOptions{QueueSize: 256}
}

func (o *RelayOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errors := []error{}
	if o.QueueSize <= 0 {
		errors = append(errors, fmt.Errorf("relay.queue-size must be positive, got %d", o.QueueSize))
	}
	return errors
}

func (o *RelayOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := join(prefixes...)
	fs.BoolVar(&o.Enabled, p+"relay.enabled", o.Enabled, "Forward telemetry and analysis to the MQTT broker.")
	fs.StringVar(&o.DeviceID, p+"relay.device-id", o.DeviceID, "Device id used in relay topics. Defaults to the hostname.")
	fs.IntVar(&o.QueueSize, p+"relay.queue-size", o.QueueSize, "Messages buffered for the broker before dropping.")
	fs.BoolVar(&o.Commands, p+"relay.commands", o.Commands, "Accept connect/disconnect commands from the broker.")
}
