package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/voltlink/pkg/log"
)

const (
	configFlagName = "config"
	logLevelKey    = "log.level"
)

// EnvPrefix prefixes every environment override: --mqtt.broker is read
// from VOLTLINK_MQTT_BROKER.
const EnvPrefix = "VOLTLINK"

func addConfigFlag(file *string, fs *pflag.FlagSet) {
	fs.StringVarP(file, configFlagName, "c", "", "Read configuration from specified `FILE`, "+
		"support JSON, TOML, YAML, HCL, or Java properties formats.")
}

// loadConfig reads file, or <name>.yaml from the working directory,
// $HOME/.voltlink and /etc/voltlink when file is empty. A missing default
// file is not an error.
func loadConfig(file string, name string) error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".voltlink"))
		}
		viper.AddConfigPath("/etc/voltlink")
		viper.SetConfigName(name)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read configuration file(%s): %w", file, err)
	}
	return nil
}

func watchConfig(name string) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
			onConfigChange(name, e.Name)
		}
	})
	viper.WatchConfig()
}

// onConfigChange applies the log level on the fly. Everything else is
// read once at startup.
func onConfigChange(name, file string) {
	if level := viper.GetString(logLevelKey); level != "" {
		if err := log.SetLevel(level); err != nil {
			log.Warn("Ignoring invalid log level", "app", name, "level", level)
		} else {
			log.Info("Log level updated", "app", name, "level", level)
		}
	}
	log.Warn("Config file changed, restart to apply other settings", "app", name, "file", file)
}
