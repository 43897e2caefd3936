package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/payload.go/pkg/channels"
	"github.com/robotalks/payload.go/pkg/comm/mqtt"
	"github.com/robotalks/payload.go/pkg/env"
	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/ground"
	"github.com/robotalks/payload.go/pkg/msgs"
	"github.com/robotalks/payload.go/pkg/telemetry"
)

var (
	wsURL    string
	dumpFile string
	follow   bool
	influx   ground.InfluxConfig
)

func init() {
	env.SetupFlags()
	flag.StringVar(&wsURL, "ws", wsURL, "Live feed URL, e.g. ws://host:8080/live.")
	flag.StringVar(&dumpFile, "dump", dumpFile, "Decode a raw packet capture using the configured channels.")
	flag.BoolVar(&follow, "follow", follow, "Keep decoding the -dump file as it grows.")
	flag.StringVar(&influx.URL, "influx", os.Getenv("INFLUXDB_URL"), "InfluxDB URL to export telemetry.")
	flag.StringVar(&influx.Token, "influx-token", os.Getenv("INFLUXDB_TOKEN"), "InfluxDB token.")
	flag.StringVar(&influx.Org, "influx-org", os.Getenv("INFLUXDB_ORG"), "InfluxDB organization.")
	flag.StringVar(&influx.Bucket, "influx-bucket", os.Getenv("INFLUXDB_BUCKET"), "InfluxDB bucket.")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	mon := ground.NewMonitor(os.Stdout)
	if influx.URL != "" {
		mon.Exporter = ground.NewInfluxExporter(influx)
		defer mon.Exporter.Close()
	}

	runner := fx.NewRunner().HandleSignals()
	switch {
	case dumpFile != "":
		runner.Go(fx.NamedRun("dump", fx.RunnableFunc(func(ctx context.Context) error {
			return readDump(ctx, mon)
		})))
	case wsURL != "":
		runner.Go(fx.NamedRun("ws", fx.RunnableFunc(func(ctx context.Context) error {
			return readLive(ctx, mon)
		})))
	default:
		runner.Go(fx.NamedRun("mqtt", fx.RunnableFunc(func(ctx context.Context) error {
			return readMQTT(ctx, mon)
		})))
	}
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}

func readMQTT(ctx context.Context, mon *ground.Monitor) error {
	q, err := mqtt.NewQueueFromURL(env.Default().MQTTBrokerURL)
	if err != nil {
		return err
	}
	if err := mqtt.WaitToken(q.Connect(), mqtt.DefaultConnectTimeout); err != nil {
		return err
	}
	defer q.Close()
	for _, sub := range mon.Subscribe(q) {
		defer sub.Close()
	}
	<-ctx.Done()
	return ctx.Err()
}

// readLive reads the live feed of one payload. The first text frame is
// the payload meta.
func readLive(ctx context.Context, mon *ground.Monitor) error {
	origin := "http://" + strings.TrimPrefix(strings.TrimPrefix(wsURL, "ws://"), "wss://")
	conn, err := websocket.Dial(wsURL, "", origin)
	if err != nil {
		return err
	}
	return fx.RunWithContextCloser(ctx, conn, func() error {
		var hello string
		if err := websocket.Message.Receive(conn, &hello); err != nil {
			return err
		}
		meta, err := msgs.DecodeMeta([]byte(hello))
		if err != nil || meta == nil {
			return fmt.Errorf("bad meta from live feed: %v", err)
		}
		mon.HandleMeta(mqtt.TopicsFor(meta.ID).Meta(), []byte(hello))
		for {
			var data []byte
			if err := websocket.Message.Receive(conn, &data); err != nil {
				return err
			}
			if telemetry.HasSync(data) {
				mon.HandlePacket(meta.ID, data)
			} else {
				mon.HandleText(mqtt.TopicsFor(meta.ID).Text(), data)
			}
		}
	})
}

// readDump decodes a capture, e.g. a downloaded flash file or an archive
// RAWDATA file, with the channels of the loaded configuration.
func readDump(ctx context.Context, mon *ground.Monitor) error {
	conf := env.NewConfig()
	if err := conf.Load(); err != nil {
		return err
	}
	chs, err := channels.Build(conf.Channels, nil)
	if err != nil {
		return err
	}
	meta := &msgs.Meta{ID: conf.ID}
	for _, ch := range chs {
		meta.Channels = append(meta.Channels, ch.Name())
		meta.Kinds = append(meta.Kinds, channels.KindOf(ch))
	}
	data, err := msgs.EncodeMeta(meta)
	if err != nil {
		return err
	}
	mon.HandleMeta(mqtt.TopicsFor(meta.ID).Meta(), data)
	var src io.ReadCloser
	if follow {
		src, err = ground.Follow(ctx, dumpFile)
	} else {
		src, err = os.Open(dumpFile)
	}
	if err != nil {
		return err
	}
	defer src.Close()
	return telemetry.NewReader(src, mon.PacketHandler(conf.ID)).Run(ctx)
}
