package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/payload.go/pkg/channels"
	"github.com/robotalks/payload.go/pkg/recovery"
)

func TestMachineIDIsShort(t *testing.T) {
	id := MachineID()
	require.NotEmpty(t, id)
	require.LessOrEqual(t, len(id), MachineIDLength)
}

func TestNewConfigIsACopy(t *testing.T) {
	conf := NewConfig()
	conf.Storage.QueueCapacity = 99
	require.Equal(t, DefaultQueueCapacity, Default().Storage.QueueCapacity)
}

func TestDefaultsAreValid(t *testing.T) {
	conf := NewConfig()
	conf.File = ""
	require.NoError(t, conf.Load())
	require.Equal(t, channels.DefaultConfigs(), conf.Channels)
	require.Equal(t, 500*time.Millisecond, conf.Sampling.Interval)
	require.Equal(t, 10*time.Millisecond, conf.Storage.Interval)
	require.Equal(t, 10, conf.Storage.QueueCapacity)
	require.Equal(t, 500, conf.Storage.RecordSize)
	require.Equal(t, int64(15000000), conf.Flash.MaxSize)
	require.Equal(t, 4096, conf.Flash.SectorSize)
	require.Equal(t, recovery.Unbounded, conf.Storage.Recovery.MaxAttempts)
	require.Equal(t, 5, conf.Sampling.Recovery.MaxAttempts)
}

func TestLoadYAML(t *testing.T) {
	conf := NewConfig()
	conf.File = ""
	require.NoError(t, conf.LoadYAML([]byte(`
id: balloon-7
storage:
  text_mode: true
  queue_capacity: 4
flash:
  image: /tmp/flash.img
  manifest: true
radio:
  enabled: true
  min_period: 5s
sampling:
  recovery:
    max_attempts: 3
    wait_factor: 2s
channels:
  - kind: barometer
  - kind: powermeter
    address: 10.0.0.5:502
    unit: 2
    min_period: 1s
`)))
	require.NoError(t, conf.Load())
	require.Equal(t, "balloon-7", conf.ID)
	require.True(t, conf.Storage.TextMode)
	require.Equal(t, 4, conf.Storage.QueueCapacity)
	require.Equal(t, 500, conf.Storage.RecordSize)
	require.Equal(t, "/tmp/flash.img", conf.Flash.Image)
	require.True(t, conf.Flash.Manifest)
	require.Equal(t, 5*time.Second, conf.Radio.MinPeriod)
	require.Equal(t, recovery.Config{MaxAttempts: 3, WaitFactor: 2 * time.Second}, conf.Sampling.Recovery)
	require.Equal(t, []channels.Config{
		{Kind: channels.KindBarometer},
		{Kind: channels.KindPowerMeter, Address: "10.0.0.5:502", Unit: 2, MinPeriod: time.Second},
	}, conf.Channels)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("archive:\n  dir: /data/card\n"), 0644))
	conf := NewConfig()
	conf.File = path
	require.NoError(t, conf.Load())
	require.Equal(t, "/data/card", conf.Archive.Dir)

	conf.File = filepath.Join(t.TempDir(), "missing.yaml")
	require.Error(t, conf.Load())
	require.Error(t, NewConfig().LoadYAML([]byte("storage: [")))
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
	}{
		{"too many channels", func(c *Config) {
			c.Channels = make([]channels.Config, 33)
		}},
		{"record too small", func(c *Config) { c.Storage.RecordSize = 14 }},
		{"record too large", func(c *Config) { c.Storage.RecordSize = 70000 }},
		{"flash below a sector", func(c *Config) { c.Flash.MaxSize = 100 }},
		{"radio without broker", func(c *Config) {
			c.Radio.Enabled, c.MQTTBrokerURL = true, ""
		}},
		{"bad qos", func(c *Config) { c.Radio.QoS = 3 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf := NewConfig()
			conf.File = ""
			conf.Normalize()
			tc.modify(conf)
			require.Error(t, conf.Validate())
		})
	}
}
