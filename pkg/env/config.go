// Package env assembles the payload configuration from defaults, the
// environment, command line flags and an optional YAML file.
package env

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/payload.go/pkg/channels"
	"github.com/robotalks/payload.go/pkg/flash"
	"github.com/robotalks/payload.go/pkg/recovery"
	"github.com/robotalks/payload.go/pkg/telemetry"
)

// SamplingConfig configures the sampling context.
type SamplingConfig struct {
	Interval time.Duration   `yaml:"interval"`
	Recovery recovery.Config `yaml:"recovery"`
	// LowSensorCount raises the indicator when fewer channels verify.
	LowSensorCount int `yaml:"low_sensor_count"`
}

// StorageConfig configures the storage context and the cross-core queue.
type StorageConfig struct {
	Interval      time.Duration   `yaml:"interval"`
	TextMode      bool            `yaml:"text_mode"`
	QueueCapacity int             `yaml:"queue_capacity"`
	RecordSize    int             `yaml:"record_size"`
	Recovery      recovery.Config `yaml:"recovery"`
}

// ArchiveConfig configures the archive sink, disabled when Dir is empty.
type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

// RadioConfig configures the radio sink.
type RadioConfig struct {
	Enabled   bool          `yaml:"enabled"`
	MinPeriod time.Duration `yaml:"min_period"`
	QoS       byte          `yaml:"qos"`
}

// HTTPConfig configures the metrics and live feed endpoint, disabled when
// Addr is empty.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StatusConfig configures periodic status reports.
type StatusConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Config is the complete payload configuration.
type Config struct {
	ID string `yaml:"id"`
	// MQTTBrokerURL specifies the MQTT broker, e.g. mqtt://host:port/prefix.
	// No uplink is used when empty.
	MQTTBrokerURL string `yaml:"mqtt_url"`
	// File is the YAML file loaded over the defaults.
	File string `yaml:"-"`

	Sampling SamplingConfig    `yaml:"sampling"`
	Storage  StorageConfig     `yaml:"storage"`
	Flash    flash.Config      `yaml:"flash"`
	Archive  ArchiveConfig     `yaml:"archive"`
	Radio    RadioConfig       `yaml:"radio"`
	HTTP     HTTPConfig        `yaml:"http"`
	Status   StatusConfig      `yaml:"status"`
	Channels []channels.Config `yaml:"channels"`
}

// Defaults.
const (
	DefaultMQTTBrokerURL  = "mqtt://localhost:1883/"
	DefaultSampleInterval = 500 * time.Millisecond
	DefaultStoreInterval  = 10 * time.Millisecond
	DefaultQueueCapacity  = 10
	DefaultLowSensorCount = 5
	DefaultStatusInterval = 30 * time.Second
	DefaultMinTransmit    = 10 * time.Second
)

var defaultConfig = Config{
	MQTTBrokerURL: DefaultMQTTBrokerURL,
	Sampling: SamplingConfig{
		Interval:       DefaultSampleInterval,
		Recovery:       recovery.Config{MaxAttempts: 5, WaitFactor: time.Second},
		LowSensorCount: DefaultLowSensorCount,
	},
	Storage: StorageConfig{
		Interval:      DefaultStoreInterval,
		QueueCapacity: DefaultQueueCapacity,
		RecordSize:    telemetry.DefaultPacketSize,
		Recovery:      recovery.Config{MaxAttempts: recovery.Unbounded, WaitFactor: time.Second},
	},
	Flash: flash.Config{
		MaxSize:    flash.DefaultMaxSize,
		SectorSize: flash.DefaultSectorSize,
	},
	Radio:  RadioConfig{MinPeriod: DefaultMinTransmit},
	Status: StatusConfig{Interval: DefaultStatusInterval},
}

func init() {
	defaultConfig.ID = MachineID()
	if val := os.Getenv("PAYLOAD_ID"); val != "" {
		defaultConfig.ID = val
	}
	if val := os.Getenv("PAYLOAD_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("PAYLOAD_CONFIG"); val != "" {
		defaultConfig.File = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Payload ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.File, "config", defaultConfig.File, "YAML configuration file")
	flag.StringVar(&defaultConfig.Flash.Image, "flash-image", defaultConfig.Flash.Image, "Flash image file, in-memory if empty")
	flag.StringVar(&defaultConfig.Archive.Dir, "archive", defaultConfig.Archive.Dir, "Archive directory, disabled if empty")
	flag.StringVar(&defaultConfig.HTTP.Addr, "http", defaultConfig.HTTP.Addr, "Listen address for metrics and live feed")
	flag.BoolVar(&defaultConfig.Storage.TextMode, "text", defaultConfig.Storage.TextMode, "Store decoded CSV rows instead of packets")
	flag.BoolVar(&defaultConfig.Radio.Enabled, "radio", defaultConfig.Radio.Enabled, "Relay records over MQTT")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Channels = append([]channels.Config(nil), defaultConfig.Channels...)
	return &conf
}

// LoadFile merges the YAML file at path into c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.LoadYAML(data)
}

// LoadYAML merges YAML content into c. Absent keys keep their values.
func (c *Config) LoadYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.ID == "" {
		c.ID = MachineID()
	}
	if c.Sampling.Interval <= 0 {
		c.Sampling.Interval = DefaultSampleInterval
	}
	if c.Storage.Interval <= 0 {
		c.Storage.Interval = DefaultStoreInterval
	}
	if c.Storage.QueueCapacity <= 0 {
		c.Storage.QueueCapacity = DefaultQueueCapacity
	}
	if c.Storage.RecordSize <= 0 {
		c.Storage.RecordSize = telemetry.DefaultPacketSize
	}
	if c.Flash.SectorSize <= 0 {
		c.Flash.SectorSize = flash.DefaultSectorSize
	}
	if c.Flash.MaxSize <= 0 {
		c.Flash.MaxSize = flash.DefaultMaxSize
	}
	if c.Radio.MinPeriod <= 0 {
		c.Radio.MinPeriod = DefaultMinTransmit
	}
	if c.Status.Interval <= 0 {
		c.Status.Interval = DefaultStatusInterval
	}
	if len(c.Channels) == 0 {
		c.Channels = channels.DefaultConfigs()
	}
}

// Validate rejects impossible settings.
func (c *Config) Validate() error {
	switch {
	case len(c.Channels) == 0:
		return errors.New("no channels configured")
	case len(c.Channels) > telemetry.MaxChannels:
		return fmt.Errorf("%d channels exceed the limit of %d", len(c.Channels), telemetry.MaxChannels)
	case c.Storage.RecordSize < telemetry.MinPacketSize:
		return fmt.Errorf("record size %d is smaller than an empty packet", c.Storage.RecordSize)
	case c.Storage.RecordSize > 0xffff:
		return fmt.Errorf("record size %d exceeds the length field", c.Storage.RecordSize)
	case c.Flash.MaxSize < int64(c.Flash.SectorSize):
		return fmt.Errorf("flash size %d is smaller than a sector", c.Flash.MaxSize)
	case c.Radio.Enabled && c.MQTTBrokerURL == "":
		return errors.New("radio requires an MQTT broker")
	case c.Radio.QoS > 2:
		return fmt.Errorf("invalid QoS %d", c.Radio.QoS)
	}
	return nil
}

// Load applies the file, normalizes and validates.
func (c *Config) Load() error {
	if c.File != "" {
		if err := c.LoadFile(c.File); err != nil {
			return err
		}
	}
	c.Normalize()
	return c.Validate()
}

// MustLoad loads the configuration and fails on error.
func (c *Config) MustLoad() *Config {
	if err := c.Load(); err != nil {
		log.Fatalln(err)
	}
	return c
}
