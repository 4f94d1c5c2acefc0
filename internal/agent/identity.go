package agent

import (
	"os"
	"strings"

	"github.com/autopeer-io/voltlink/pkg/log"
)

const (
	// DeviceIDEnv overrides the discovered device id.
	DeviceIDEnv = "VOLTLINK_DEVICE_ID"
	// DeviceIDFile is read when DeviceIDEnv is unset.
	DeviceIDFile = "/etc/voltlink/device-id"
)

// DiscoverDeviceID returns the id used in relay topics: DeviceIDEnv, then
// DeviceIDFile, then the hostname. It returns "" when all of them fail.
func DiscoverDeviceID() string {
	return discoverDeviceID(DeviceIDFile)
}

func discoverDeviceID(file string) string {
	if id := strings.TrimSpace(os.Getenv(DeviceIDEnv)); id != "" {
		log.Info("Device id detected from env", "id", id)
		return id
	}

	if content, err := os.ReadFile(file); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			log.Info("Device id detected from file", "id", id, "file", file)
			return id
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return ""
}
