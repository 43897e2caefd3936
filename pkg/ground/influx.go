package ground

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/robotalks/payload.go/pkg/telemetry"
)

// DefaultMeasurement is the measurement of telemetry points.
const DefaultMeasurement = "payload_telemetry"

// PointWriter writes points, implemented by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig locates an InfluxDB bucket.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// InfluxExporter writes decoded telemetry rows as InfluxDB points, one
// point per present channel tagged with the payload and channel.
type InfluxExporter struct {
	Writer      PointWriter
	Measurement string

	client influxdb2.Client
}

// NewInfluxExporter connects an exporter to a bucket.
func NewInfluxExporter(conf InfluxConfig) *InfluxExporter {
	client := influxdb2.NewClient(conf.URL, conf.Token)
	return &InfluxExporter{
		Writer:      client.WriteAPIBlocking(conf.Org, conf.Bucket),
		Measurement: DefaultMeasurement,
		client:      client,
	}
}

// Points converts a row decoded with chs. Numeric values become float
// fields, the rest string fields. Channels without new data are skipped.
// received is the point time as the packet timestamp is boot relative.
func (e *InfluxExporter) Points(id string, chs []telemetry.Channel, row *telemetry.Row, received time.Time) []*write.Point {
	var points []*write.Point
	for _, cell := range row.Cells {
		if cell.Ordinal >= len(chs) {
			continue
		}
		names := chs[cell.Ordinal].Fields()
		values := make(map[string]interface{})
		for n, v := range cell.Fields {
			if v == "" || n >= len(names) {
				continue
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				values[names[n]] = f
			} else {
				values[names[n]] = v
			}
		}
		if len(values) == 0 {
			continue
		}
		values["boot_ms"] = int64(row.Timestamp)
		points = append(points, influxdb2.NewPoint(
			e.Measurement,
			map[string]string{"payload": id, "channel": cell.Channel},
			values,
			received,
		))
	}
	return points
}

// Export writes the points of a row.
func (e *InfluxExporter) Export(ctx context.Context, id string, chs []telemetry.Channel, row *telemetry.Row, received time.Time) error {
	points := e.Points(id, chs, row, received)
	if len(points) == 0 {
		return nil
	}
	return e.Writer.WritePoint(ctx, points...)
}

// Close releases the client.
func (e *InfluxExporter) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
