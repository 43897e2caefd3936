package ground

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/payload.go/pkg/comm/mqtt"
	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/msgs"
	"github.com/robotalks/payload.go/pkg/telemetry"
)

// ExportTimeout bounds one export of a row.
const ExportTimeout = 5 * time.Second

// Monitor turns the telemetry of all payloads into CSV lines prefixed
// with the payload ID, and optionally exports them.
type Monitor struct {
	Decoders Decoders
	Output   io.Writer
	Exporter *InfluxExporter
	Clock    fx.Clock

	lock sync.Mutex
}

// NewMonitor creates a Monitor writing to w.
func NewMonitor(w io.Writer) *Monitor {
	return &Monitor{Output: w, Clock: fx.RealClock{}}
}

// HandleMeta handles a meta topic.
func (m *Monitor) HandleMeta(topic string, payload []byte) {
	id, _, err := mqtt.ParseTopic(topic)
	if err != nil {
		return
	}
	meta, err := msgs.DecodeMeta(payload)
	if err != nil {
		glog.Warningf("monitor: bad meta of %s: %v", id, err)
		return
	}
	if meta == nil {
		m.Decoders.Remove(id)
		m.println(fmt.Sprintf("# %s offline", id))
		return
	}
	meta.ID = id
	if err := m.Decoders.Update(meta); err != nil {
		glog.Warningf("monitor: %v", err)
		return
	}
	m.println(fmt.Sprintf("# %s %s", id, m.Decoders.Header(id)))
}

// HandleTelemetry handles a raw packet topic.
func (m *Monitor) HandleTelemetry(topic string, payload []byte) {
	id, _, err := mqtt.ParseTopic(topic)
	if err != nil {
		return
	}
	m.HandlePacket(id, payload)
}

// HandleText handles a CSV row topic.
func (m *Monitor) HandleText(topic string, payload []byte) {
	id, _, err := mqtt.ParseTopic(topic)
	if err != nil {
		return
	}
	m.println(id + "," + string(payload))
}

// HandlePacket decodes a packet of payload id.
func (m *Monitor) HandlePacket(id string, pkt []byte) {
	row, chs, err := m.Decoders.Decode(id, pkt)
	if err != nil {
		glog.Warningf("monitor: %s: %v", id, err)
		return
	}
	m.println(id + "," + row.CSV())
	if m.Exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ExportTimeout)
		defer cancel()
		if err := m.Exporter.Export(ctx, id, chs, row, m.Clock.Now()); err != nil {
			glog.Errorf("monitor: export: %v", err)
		}
	}
}

// PacketHandler adapts HandlePacket for a telemetry.Reader.
func (m *Monitor) PacketHandler(id string) telemetry.PacketHandler {
	return telemetry.HandlePacketFunc(func(_ context.Context, pkt []byte) {
		m.HandlePacket(id, pkt)
	})
}

// Subscribe subscribes the meta, telemetry and text topics of all
// payloads.
func (m *Monitor) Subscribe(sub mqtt.Subscriber) []*mqtt.Subscription {
	return []*mqtt.Subscription{
		sub.Sub(mqtt.AllMeta(), m.HandleMeta),
		sub.Sub(mqtt.AllOf(mqtt.KindTelemetry), m.HandleTelemetry),
		sub.Sub(mqtt.AllOf(mqtt.KindText), m.HandleText),
	}
}

func (m *Monitor) println(line string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	fmt.Fprintln(m.Output, line)
}
