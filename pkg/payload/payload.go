// Package payload assembles the flight process: the sampling context
// (Context A) producing packets and the storage context (Context B)
// consuming them, connected by the cross-core queue and the command
// mailbox.
package payload

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/payload.go/pkg/channels"
	"github.com/robotalks/payload.go/pkg/comm/mqtt"
	"github.com/robotalks/payload.go/pkg/env"
	"github.com/robotalks/payload.go/pkg/flash"
	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/metrics"
	"github.com/robotalks/payload.go/pkg/msgs"
	"github.com/robotalks/payload.go/pkg/recovery"
	"github.com/robotalks/payload.go/pkg/sink"
	"github.com/robotalks/payload.go/pkg/telemetry"
	"github.com/robotalks/payload.go/pkg/xcore"
)

// Options overrides what New would otherwise create from the config.
type Options struct {
	Clock fx.Clock
	// Device replaces the flash device.
	Device flash.Device
	// Channels replaces the configured channels.
	Channels []telemetry.Channel
	// Console receives command output, stdout by default.
	Console io.Writer
	// Uplink replaces the MQTT connection.
	Uplink UplinkQueue
}

// Payload is the assembled flight process.
type Payload struct {
	Config    *env.Config
	Clock     *fx.BootClock
	Indicator *Indicator
	Channels  *telemetry.ChannelRegistry
	Queue     *xcore.Queue
	Mailbox   *xcore.Mailbox
	Flash     *flash.Log
	Sinks     *sink.Registry
	Archive   *sink.Archive
	Radio     *sink.Radio
	Live      *sink.Live
	Metrics   *metrics.Metrics
	Sampler   *Sampler
	Storage   *Storage
	Uplink    *Uplink
	Announcer *mqtt.Announcer
	Local     *Local
	Console   io.Writer
}

// New builds a Payload from a loaded configuration.
func New(conf *env.Config, opts Options) (*Payload, error) {
	clock := opts.Clock
	if clock == nil {
		clock = fx.RealClock{}
	}
	p := &Payload{
		Config:    conf,
		Clock:     fx.NewBootClock(clock),
		Indicator: NewIndicator(),
		Channels:  telemetry.NewChannelRegistry(clock),
		Queue:     xcore.NewQueue(conf.Storage.QueueCapacity, conf.Storage.RecordSize),
		Mailbox:   &xcore.Mailbox{},
		Sinks:     sink.NewRegistry(clock),
		Metrics:   metrics.New(),
		Console:   opts.Console,
	}
	if p.Console == nil {
		p.Console = os.Stdout
	}

	chs := opts.Channels
	if chs == nil {
		var err error
		if chs, err = channels.Build(conf.Channels, clock); err != nil {
			return nil, err
		}
	}
	for _, ch := range chs {
		if _, err := p.Channels.Add(ch, conf.Sampling.Recovery); err != nil {
			return nil, err
		}
	}

	if err := p.setupUplink(opts.Uplink); err != nil {
		return nil, err
	}
	if p.Uplink != nil {
		p.Console = io.MultiWriter(p.Console, p.Uplink)
	}
	p.setupSinks(opts.Device, clock)

	p.Sampler = &Sampler{
		Channels:       p.Channels,
		Queue:          p.Queue,
		Indicator:      p.Indicator,
		Clock:          p.Clock,
		Metrics:        p.Metrics,
		LowSensorCount: conf.Sampling.LowSensorCount,
	}
	p.Storage = &Storage{
		Queue:     p.Queue,
		Mailbox:   p.Mailbox,
		Sinks:     p.Sinks,
		Flash:     p.Flash,
		Executor:  &Executor{Flash: p.Flash},
		Indicator: p.Indicator,
		Metrics:   p.Metrics,
		TextMode:  conf.Storage.TextMode,
		Decoder:   p.Channels.Decoder(),
		Console:   p.Console,
	}
	p.Local = &Local{Mailbox: p.Mailbox}
	p.Storage.OnCommandDone = p.commandDone
	return p, nil
}

func (p *Payload) setupUplink(q UplinkQueue) error {
	conf := p.Config
	topics := mqtt.TopicsFor(conf.ID)
	if q == nil && conf.MQTTBrokerURL != "" {
		opts, prefix, err := mqtt.ClientOptionsFromURL(conf.MQTTBrokerURL)
		if err != nil {
			return err
		}
		opts.SetClientID("payload-" + conf.ID)
		// meta is published once the channels and sinks are known.
		p.Announcer = mqtt.NewAnnouncer(opts, prefix, topics.Meta(), nil)
		p.Metrics.WatchLink(p.Announcer.Queue)
		q = p.Announcer.Queue
	}
	if q == nil {
		return nil
	}
	p.Uplink = &Uplink{
		Queue:    q,
		Topics:   topics,
		Mailbox:  p.Mailbox,
		Status:   p.StatusReport,
		Interval: conf.Status.Interval,
	}
	return nil
}

func (p *Payload) setupSinks(dev flash.Device, clock fx.Clock) {
	conf := p.Config
	rc := conf.Storage.Recovery
	if conf.Archive.Dir != "" {
		p.Archive = sink.NewArchive(conf.Archive.Dir, conf.Storage.TextMode)
		p.Archive.OnPowerCycled = func() { p.Indicator.Raise(CodePowerCycled) }
		p.Archive.OnFailure = func(err error) {
			glog.Errorf("[Core 1] archive: %v", err)
			p.Indicator.Raise(CodeSDCardFail)
		}
		p.Sinks.Add(p.Archive, rc)
	}
	if conf.Radio.Enabled && p.Uplink != nil {
		p.Radio = sink.NewRadio(p.Uplink.Queue, p.Uplink.Topics, conf.Radio.MinPeriod).WithClock(clock)
		p.Radio.QoS = conf.Radio.QoS
		if p.Announcer != nil {
			p.Radio.Connected = p.Announcer.Queue.Connected
		}
		p.Sinks.Add(p.Radio, rc)
	}

	if dev == nil {
		sectorSize := int64(conf.Flash.SectorSize)
		size := (conf.Flash.MaxSize + sectorSize - 1) / sectorSize * sectorSize
		if conf.Flash.Image != "" {
			dev = flash.NewFileDevice(conf.Flash.Image, size, conf.Flash.SectorSize)
		} else {
			dev = flash.NewMemoryDevice(size, conf.Flash.SectorSize)
		}
	}
	p.Flash = flash.NewLog(dev, conf.Flash.MaxSize).WithClock(clock)
	if conf.Flash.Manifest {
		p.Flash.Manifest = func() []byte { return []byte(p.Channels.Header() + "\n") }
	}
	p.Sinks.Add(p.Flash, rc)

	if conf.HTTP.Addr != "" {
		p.Live = sink.NewLive()
		p.Sinks.Add(p.Live, rc)
	}
	p.Sinks.Observer = p.Metrics
}

func (p *Payload) commandDone(cmd xcore.Command, output []byte, err error) {
	if p.Uplink != nil {
		p.Uplink.CommandDone(cmd, output, err)
	}
	p.Local.CommandDone(cmd, output, err)
}

// Meta describes the payload for the ground.
func (p *Payload) Meta() *msgs.Meta {
	m := &msgs.Meta{
		ID:         p.Config.ID,
		Header:     p.Channels.Header(),
		RecordSize: p.Queue.RecordSize(),
		TextMode:   p.Config.Storage.TextMode,
	}
	for _, ch := range p.Channels.Channels() {
		m.Channels = append(m.Channels, ch.Name())
		m.Kinds = append(m.Kinds, channels.KindOf(ch))
	}
	for _, e := range p.Sinks.Entries() {
		m.Sinks = append(m.Sinks, e.Name())
	}
	return m
}

// StatusReport builds a report from the latest snapshots. It is safe to
// call from any goroutine.
func (p *Payload) StatusReport() *msgs.StatusReport {
	fs := p.Storage.FlashStatus()
	r := &msgs.StatusReport{
		PayloadId:  p.Config.ID,
		UptimeMs:   uint64(p.Clock.Uptime().Milliseconds()),
		Address:    uint64(fs.Address),
		Remaining:  uint64(fs.Remaining),
		QueueDepth: uint32(p.Queue.Len()),
		Dropped:    p.Queue.Dropped(),
		Indicator:  p.Indicator.Code().String(),
	}
	for _, f := range fs.Files {
		r.Files = append(r.Files, &msgs.FileInfo{
			Number: int32(f.Number),
			Size:   uint64(f.Size()),
			Commit: f.Commit.String(),
		})
	}
	for _, e := range p.Channels.Entries() {
		r.Devices = append(r.Devices, deviceHealth("channel", e.Recovery.Snapshot()))
	}
	for _, s := range p.Storage.SinkStates() {
		r.Devices = append(r.Devices, deviceHealth("sink", s))
	}
	return r
}

func deviceHealth(kind string, s recovery.State) *msgs.DeviceHealth {
	return &msgs.DeviceHealth{
		Name:      s.Name,
		Kind:      kind,
		Verified:  s.Verified,
		Attempts:  int32(s.Attempts),
		Exhausted: s.Exhausted,
	}
}

// Handler serves /metrics and the /live websocket feed.
func (p *Payload) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Metrics.Handler())
	if p.Live != nil {
		mux.Handle("/live", p.Live)
	}
	return mux
}

// Run sets up both contexts and runs them until ctx is done. Without any
// verified channel the sampling context halts and blinks the indicator.
func (p *Payload) Run(ctx context.Context) error {
	if closer, ok := p.Flash.Device().(io.Closer); ok {
		defer closer.Close()
	}
	meta, err := msgs.EncodeMeta(p.Meta())
	if err != nil {
		return err
	}
	runner := fx.NewRunnerWith(ctx)

	samplerErr := p.Sampler.Setup()
	if samplerErr != nil {
		runner.Go(fx.NamedRun("halt", fx.RunnableFunc(p.Sampler.Halt)))
	} else {
		core0 := fx.NewLoop("core0", p.Config.Sampling.Interval).Add(p.Sampler)
		core0.OnCycle = p.Metrics.ObserveCycle
		runner.Go(fx.NamedRun(core0.Name, core0))
	}

	p.Storage.Setup()
	core1 := fx.NewLoop("core1", p.Config.Storage.Interval).Add(p.Storage)
	core1.OnCycle = p.Metrics.ObserveCycle
	runner.Go(fx.NamedRun(core1.Name, core1))

	if p.Live != nil {
		p.Live.Hello = meta
	}
	if p.Announcer != nil {
		p.Announcer.Meta = meta
		runner.Go(fx.NamedRun("announcer", p.Announcer))
	}
	if p.Uplink != nil {
		runner.Go(fx.NamedRun("uplink", p.Uplink))
	}
	if addr := p.Config.HTTP.Addr; addr != "" {
		server := &http.Server{Addr: addr, Handler: p.Handler()}
		glog.Infof("serving metrics and live feed on %s", addr)
		runner.Go(fx.NamedRun("http", fx.RunnableFunc(func(ctx context.Context) error {
			return fx.RunWithContextCloser(ctx, server, server.ListenAndServe)
		})))
	}
	return runner.Wait()
}
