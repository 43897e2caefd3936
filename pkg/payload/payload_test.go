package payload

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/payload.go/pkg/comm/mqtt"
	"github.com/robotalks/payload.go/pkg/env"
	"github.com/robotalks/payload.go/pkg/flash"
	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/msgs"
	"github.com/robotalks/payload.go/pkg/recovery"
	"github.com/robotalks/payload.go/pkg/sink"
	"github.com/robotalks/payload.go/pkg/telemetry"
	"github.com/robotalks/payload.go/pkg/xcore"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type counterChannel struct {
	name      string
	verifyErr error
	count     uint32
}

func (c *counterChannel) Name() string                 { return c.name }
func (c *counterChannel) Verify() error                { return c.verifyErr }
func (c *counterChannel) Fields() []string             { return []string{c.name + "_count"} }
func (c *counterChannel) MinimumPeriod() time.Duration { return 0 }

func (c *counterChannel) Encode(cur *telemetry.Cursor) error {
	c.count++
	return cur.PutUint32(c.count)
}

func (c *counterChannel) Decode(cur *telemetry.Cursor) ([]string, error) {
	v, err := cur.Uint32()
	if err != nil {
		return nil, err
	}
	return []string{strconv.FormatUint(uint64(v), 10)}, nil
}

var testRecovery = recovery.Config{MaxAttempts: 3, WaitFactor: time.Second}

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Error() error                   { return nil }

type published struct {
	topic   string
	payload []byte
}

// fakeQueue keeps the subscription dispatch of mqtt.Queue without a
// client and records publishes.
type fakeQueue struct {
	*mqtt.Queue

	lock sync.Mutex
	pubs []published
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{Queue: &mqtt.Queue{}}
}

func (q *fakeQueue) PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.pubs = append(q.pubs, published{topic: topic, payload: payload})
	return fakeToken{}
}

func (q *fakeQueue) on(topic string) []msgs.Message {
	q.lock.Lock()
	defer q.lock.Unlock()
	var result []msgs.Message
	for _, p := range q.pubs {
		if p.topic == topic {
			msg, _, err := msgs.Decode(p.payload)
			if err == nil {
				result = append(result, msg)
			}
		}
	}
	return result
}

type storageFixture struct {
	clock    *testClock
	channels *telemetry.ChannelRegistry
	sampler  *Sampler
	storage  *Storage
	log      *flash.Log
	done     []xcore.Command
	outputs  []string
	errs     []error
}

func newStorageFixture(t *testing.T, textMode bool) *storageFixture {
	f := &storageFixture{clock: &testClock{now: time.Unix(1000, 0)}}
	f.channels = telemetry.NewChannelRegistry(f.clock)
	_, err := f.channels.Add(&counterChannel{name: "a"}, testRecovery)
	require.NoError(t, err)
	_, err = f.channels.Add(&counterChannel{name: "b"}, testRecovery)
	require.NoError(t, err)
	queue := xcore.NewQueue(4, 64)
	indicator := NewIndicator()
	f.sampler = &Sampler{
		Channels:  f.channels,
		Queue:     queue,
		Indicator: indicator,
		Clock:     fx.NewBootClock(f.clock),
	}
	f.log = flash.NewLog(flash.NewMemoryDevice(16*256, 256), 0).WithClock(f.clock)
	sinks := sink.NewRegistry(f.clock)
	sinks.Add(f.log, testRecovery)
	f.storage = &Storage{
		Queue:     queue,
		Mailbox:   &xcore.Mailbox{},
		Sinks:     sinks,
		Flash:     f.log,
		Executor:  &Executor{Flash: f.log},
		Indicator: indicator,
		TextMode:  textMode,
		Decoder:   f.channels.Decoder(),
		OnCommandDone: func(cmd xcore.Command, output []byte, err error) {
			f.done = append(f.done, cmd)
			f.outputs = append(f.outputs, string(output))
			f.errs = append(f.errs, err)
		},
	}
	require.NoError(t, f.sampler.Setup())
	f.storage.Setup()
	return f
}

func TestIndicator(t *testing.T) {
	ind := NewIndicator()
	var shown []uint8
	ind.Output = func(bits uint8) { shown = append(shown, bits) }
	require.Equal(t, CodeNone, ind.Code())

	ind.Raise(CodeLowSensorCount)
	ind.Raise(CodePowerCycled)
	require.Equal(t, CodeLowSensorCount, ind.Code())
	ind.Raise(CodeCriticalFail)
	require.Equal(t, CodeCriticalFail, ind.Code())

	require.Equal(t, uint8(0), ind.Toggle())
	require.Equal(t, uint8(7), ind.Toggle())
	require.Equal(t, []uint8{0, 7}, shown)

	testCases := []struct {
		code    Code
		pattern uint8
	}{
		{CodeCriticalFail, 7},
		{CodeSDCardFail, 6},
		{CodeLowSensorCount, 5},
		{CodePowerCycled, 4},
		{CodeNone, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.code.String(), func(t *testing.T) {
			require.Equal(t, tc.pattern, tc.code.Pattern())
		})
	}
}

func TestSamplerSetup(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	newSampler := func(errs ...error) *Sampler {
		reg := telemetry.NewChannelRegistry(clock)
		for n, err := range errs {
			_, e := reg.Add(&counterChannel{name: strconv.Itoa(n), verifyErr: err}, testRecovery)
			require.NoError(t, e)
		}
		return &Sampler{
			Channels:       reg,
			Queue:          xcore.NewQueue(2, 64),
			Indicator:      NewIndicator(),
			Clock:          fx.NewBootClock(clock),
			LowSensorCount: 2,
		}
	}
	absent := errors.New("absent")

	s := newSampler(absent, absent)
	require.ErrorIs(t, s.Setup(), ErrNoChannels)
	require.Equal(t, CodeCriticalFail, s.Indicator.Code())

	s = newSampler(nil, absent)
	require.NoError(t, s.Setup())
	require.Equal(t, CodeLowSensorCount, s.Indicator.Code())

	s = newSampler(nil, nil)
	require.NoError(t, s.Setup())
	require.Equal(t, CodeNone, s.Indicator.Code())
}

func TestSamplerQueueFull(t *testing.T) {
	f := newStorageFixture(t, false)
	for n := 0; n < 4; n++ {
		queued, err := f.sampler.Sample()
		require.NoError(t, err)
		require.True(t, queued)
	}
	queued, err := f.sampler.Sample()
	require.NoError(t, err)
	require.False(t, queued)
	require.Equal(t, uint64(1), f.sampler.Queue.Dropped())
}

func TestStoragePackets(t *testing.T) {
	f := newStorageFixture(t, false)
	start := f.log.Address()
	queued, err := f.sampler.Sample()
	require.NoError(t, err)
	require.True(t, queued)

	require.True(t, f.storage.StoreNext())
	require.False(t, f.storage.StoreNext())
	// two uint32 channels
	require.Equal(t, start+int64(telemetry.MinPacketSize+8), f.log.Address())
	require.Equal(t, f.log.Address(), f.storage.FlashStatus().Address)
	require.Len(t, f.storage.SinkStates(), 1)
	require.True(t, f.storage.SinkStates()[0].Verified)
}

func TestStorageText(t *testing.T) {
	f := newStorageFixture(t, true)
	start := f.log.Address()
	_, err := f.sampler.Sample()
	require.NoError(t, err)
	require.True(t, f.storage.StoreNext())

	var out bytes.Buffer
	require.NoError(t, f.log.Download(len(f.log.Files()), &out))
	require.Contains(t, out.String(), ",1,1,\n")
	require.Greater(t, f.log.Address(), start)
}

func TestStorageCommandWaitsForDrain(t *testing.T) {
	f := newStorageFixture(t, false)
	_, err := f.sampler.Sample()
	require.NoError(t, err)
	f.storage.Mailbox.Set(xcore.Command{Type: xcore.CommandStatus, SystemPaused: true, Seq: 3})

	require.False(t, f.storage.RunCommand())
	require.True(t, f.storage.Mailbox.Get().Pending())

	require.True(t, f.storage.StoreNext())
	require.True(t, f.storage.RunCommand())
	require.False(t, f.storage.Mailbox.Get().Pending())
	require.Len(t, f.done, 1)
	require.Equal(t, uint32(3), f.done[0].Seq)
	require.NoError(t, f.errs[0])
	require.Contains(t, f.outputs[0], "[Flash] START_DATA")
	require.Contains(t, f.outputs[0], "[Flash] File 1 ||")

	require.False(t, f.storage.RunCommand())
}

func TestStorageCommands(t *testing.T) {
	f := newStorageFixture(t, false)
	_, err := f.sampler.Sample()
	require.NoError(t, err)
	require.True(t, f.storage.StoreNext())

	run := func(cmd xcore.Command) (string, error) {
		cmd.SystemPaused = true
		f.storage.Mailbox.Set(cmd)
		require.True(t, f.storage.RunCommand())
		n := len(f.done) - 1
		return f.outputs[n], f.errs[n]
	}

	out, err := run(xcore.Command{Type: xcore.CommandDownload, FileNumber: 1})
	require.NoError(t, err)
	require.Contains(t, out, "[Flash] STOP_DATA")

	_, err = run(xcore.Command{Type: xcore.CommandDownload, FileNumber: 9})
	require.ErrorIs(t, err, flash.ErrNoSuchFile)

	_, err = run(xcore.Command{Type: xcore.CommandType(42)})
	require.ErrorIs(t, err, xcore.ErrInvalidCommand)
	require.False(t, f.storage.Mailbox.Get().Pending())

	_, err = run(xcore.Command{Type: xcore.CommandEraseAll})
	require.NoError(t, err)
	require.Len(t, f.log.Files(), 1)
	require.True(t, f.log.Active())
}

func TestUplinkCommands(t *testing.T) {
	q := newFakeQueue()
	topics := mqtt.TopicsFor("p1")
	mailbox := &xcore.Mailbox{}
	u := &Uplink{Queue: q, Topics: topics, Mailbox: mailbox}

	data, err := msgs.Encode(&msgs.CommandRequest{Type: "download", FileNumber: 2}, 7)
	require.NoError(t, err)
	u.HandleCommand(topics.Cmd(), data)
	cmd := mailbox.Get()
	require.True(t, cmd.Pending())
	require.Equal(t, xcore.CommandDownload, cmd.Type)
	require.Equal(t, 2, cmd.FileNumber)
	require.Equal(t, uint32(7), cmd.Seq)

	u.CommandDone(cmd, []byte("done"), nil)
	replies := q.on(topics.Reply())
	require.Len(t, replies, 1)
	require.True(t, replies[0].(*msgs.CommandReply).Ok)
	require.Equal(t, []byte("done"), replies[0].(*msgs.CommandReply).Output)

	mailbox.Clear()
	testCases := []struct {
		name string
		req  *msgs.CommandRequest
	}{
		{"unknown", &msgs.CommandRequest{Type: "reboot"}},
		{"none", &msgs.CommandRequest{Type: "none"}},
		{"missing file", &msgs.CommandRequest{Type: "delete"}},
	}
	for n, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := msgs.Encode(tc.req, uint32(10+n))
			require.NoError(t, err)
			u.HandleCommand(topics.Cmd(), data)
			require.False(t, mailbox.Get().Pending())
			replies := q.on(topics.Reply())
			reply := replies[len(replies)-1].(*msgs.CommandReply)
			require.False(t, reply.Ok)
			require.Contains(t, reply.Error, xcore.ErrInvalidCommand.Error())
		})
	}

	// local commands have no sequence and get no reply
	count := len(q.on(topics.Reply()))
	u.CommandDone(xcore.Command{Type: xcore.CommandStatus}, nil, nil)
	require.Len(t, q.on(topics.Reply()), count)
}

func TestUplinkRun(t *testing.T) {
	q := newFakeQueue()
	topics := mqtt.TopicsFor("p1")
	mailbox := &xcore.Mailbox{}
	u := &Uplink{
		Queue:    q,
		Topics:   topics,
		Mailbox:  mailbox,
		Status:   func() *msgs.StatusReport { return &msgs.StatusReport{PayloadId: "p1"} },
		Interval: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- u.Run(ctx) }()

	data, err := msgs.Encode(&msgs.CommandRequest{Type: "status"}, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		q.Deliver(topics.Cmd(), data)
		return mailbox.Get().Pending()
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(q.on(topics.Status())) > 0
	}, time.Second, 5*time.Millisecond)

	_, err = u.Write([]byte("hello"))
	require.NoError(t, err)
	console := q.on(topics.Console())
	require.Equal(t, []byte("hello"), console[len(console)-1].(*msgs.ConsoleOutput).Data)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func testConfig(t *testing.T) *env.Config {
	conf := env.NewConfig()
	conf.ID = "p1"
	conf.File = ""
	conf.MQTTBrokerURL = ""
	conf.HTTP.Addr = ""
	conf.Archive.Dir = t.TempDir()
	conf.Flash.Image = ""
	conf.Flash.MaxSize = 64 * 1024
	conf.Flash.Manifest = true
	conf.Storage.RecordSize = 64
	return conf
}

func TestPayloadAssembly(t *testing.T) {
	conf := testConfig(t)
	clock := &testClock{now: time.Unix(1000, 0)}
	q := newFakeQueue()
	conf.Radio.Enabled = true
	p, err := New(conf, Options{
		Clock:    clock,
		Channels: []telemetry.Channel{&counterChannel{name: "a"}, &counterChannel{name: "b"}},
		Console:  &bytes.Buffer{},
		Uplink:   q,
	})
	require.NoError(t, err)

	meta := p.Meta()
	require.Equal(t, "p1", meta.ID)
	require.Equal(t, []string{"a", "b"}, meta.Channels)
	require.Equal(t, []string{"archive", "radio", "flash"}, meta.Sinks)
	require.Equal(t, 64, meta.RecordSize)

	require.NoError(t, p.Sampler.Setup())
	p.Storage.Setup()
	// manifest plus boot file
	require.Len(t, p.Flash.Files(), 2)
	require.Equal(t, flash.CommitComplete, p.Flash.Files()[0].Commit)

	queued, err := p.Sampler.Sample()
	require.NoError(t, err)
	require.True(t, queued)
	require.True(t, p.Storage.StoreNext())

	report := p.StatusReport()
	require.Equal(t, "p1", report.PayloadId)
	require.Len(t, report.Files, 2)
	require.Len(t, report.Devices, 5)
	require.Equal(t, "channel", report.Devices[0].Kind)
	require.Equal(t, "sink", report.Devices[4].Kind)
	// two channels are below the default low sensor count.
	require.Equal(t, CodeLowSensorCount.String(), report.Indicator)

	// the radio publishes the first packet right away
	q.lock.Lock()
	var raw int
	for _, pub := range q.pubs {
		if pub.topic == mqtt.TopicsFor("p1").Telemetry() {
			raw++
		}
	}
	q.lock.Unlock()
	require.Equal(t, 1, raw)
}

func TestPayloadLowSensorCountFromConfig(t *testing.T) {
	testCases := []struct {
		threshold int
		code      Code
	}{
		{2, CodeNone},
		{3, CodeLowSensorCount},
	}
	for _, tc := range testCases {
		t.Run(tc.code.String(), func(t *testing.T) {
			conf := testConfig(t)
			conf.Sampling.LowSensorCount = tc.threshold
			p, err := New(conf, Options{
				Clock:    &testClock{now: time.Unix(1000, 0)},
				Channels: []telemetry.Channel{&counterChannel{name: "a"}, &counterChannel{name: "b"}},
				Console:  &bytes.Buffer{},
			})
			require.NoError(t, err)
			require.NoError(t, p.Sampler.Setup())
			require.Equal(t, tc.code, p.Indicator.Code())
		})
	}
}

func TestPayloadHaltsWithoutChannels(t *testing.T) {
	conf := testConfig(t)
	p, err := New(conf, Options{
		Channels: []telemetry.Channel{&counterChannel{name: "a", verifyErr: errors.New("absent")}},
		Console:  &bytes.Buffer{},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	require.ErrorIs(t, p.Run(ctx), ErrNoChannels)
	require.Equal(t, CodeCriticalFail, p.Indicator.Code())
}

func TestLocalCommands(t *testing.T) {
	f := newStorageFixture(t, false)
	local := &Local{Mailbox: f.storage.Mailbox}
	f.storage.OnCommandDone = local.CommandDone

	type result struct {
		reply *msgs.CommandReply
		err   error
	}
	run := func(cmdType string, n int) result {
		ch := make(chan result, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			reply, err := local.Command(ctx, cmdType, n)
			ch <- result{reply, err}
		}()
		require.Eventually(t, func() bool {
			return f.storage.Mailbox.Get().Pending()
		}, time.Second, time.Millisecond)
		require.True(t, f.storage.RunCommand())
		return <-ch
	}

	r := run("status", 0)
	require.NoError(t, r.err)
	require.Contains(t, string(r.reply.Output), "[Flash] File 1 ||")

	r = run("download", 7)
	require.Error(t, r.err)
	require.False(t, r.reply.Ok)

	_, err := local.Command(context.Background(), "delete", 0)
	require.ErrorIs(t, err, xcore.ErrInvalidCommand)
	_, err = local.Command(context.Background(), "reboot", 0)
	require.ErrorIs(t, err, xcore.ErrInvalidCommand)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = local.Command(ctx, "status", 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, local.waiters)
}
