package sh

import (
	"flag"
	"os"
	"time"
)

// Config locates the payload the shell commands.
type Config struct {
	// ID is the payload to connect on start, empty to pick after discovery.
	ID string
	// BrokerURL is the MQTT broker, e.g. mqtt://host:port/topic-prefix/.
	BrokerURL string
	// Timeout bounds the wait for a command reply. A flash download of a
	// large file may need more than the default.
	Timeout time.Duration
}

// Environment variables overriding the built-in defaults.
const (
	EnvID        = "PAYLOAD_ID"
	EnvBrokerURL = "PAYLOAD_MQTT_URL"
	EnvTimeout   = "PAYLOAD_CMD_TIMEOUT"
)

var flagConfig = fromEnv(Config{
	BrokerURL: "mqtt://localhost:1883/",
	Timeout:   30 * time.Second,
})

func fromEnv(c Config) Config {
	if v := os.Getenv(EnvID); v != "" {
		c.ID = v
	}
	if v := os.Getenv(EnvBrokerURL); v != "" {
		c.BrokerURL = v
	}
	if d, err := time.ParseDuration(os.Getenv(EnvTimeout)); err == nil && d > 0 {
		c.Timeout = d
	}
	return c
}

// SetupFlags binds -id, -mqtt and -timeout to the config returned by
// NewConfig.
func SetupFlags() {
	flag.StringVar(&flagConfig.ID, "id", flagConfig.ID, "Payload ID to connect.")
	flag.StringVar(&flagConfig.BrokerURL, "mqtt", flagConfig.BrokerURL, "MQTT broker URL.")
	flag.DurationVar(&flagConfig.Timeout, "timeout", flagConfig.Timeout, "Command reply timeout.")
}

// NewConfig returns a copy of the defaults, environment and flags applied.
func NewConfig() *Config {
	conf := flagConfig
	return &conf
}
