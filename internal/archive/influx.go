// Package archive mirrors pushed sensor readings into InfluxDB for long-term
// storage and external dashboards.
package archive

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/lox/plantwatch/internal/metrics"
	"github.com/lox/plantwatch/internal/models"
)

const Measurement = "plant_reading"

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Influx writes readings synchronously so callers see write failures.
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

func NewInflux(cfg Config) (*Influx, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete: url, org and bucket are required")
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(10))
	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// RecordReading writes one point per update. Updates with no metrics are skipped.
func (i *Influx) RecordReading(ctx context.Context, u models.SensorUpdate) error {
	p, ok := NewPoint(u, time.Now())
	if !ok {
		return nil
	}
	if err := i.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	metrics.ReadingsArchived.WithLabelValues("influx").Inc()
	return nil
}

func (i *Influx) Close() {
	i.client.Close()
}

// NewPoint builds the line-protocol point for an update, using fallback when
// the update carries no timestamp.
func NewPoint(u models.SensorUpdate, fallback time.Time) (*write.Point, bool) {
	values := u.Readings.Values()
	if len(values) == 0 {
		return nil, false
	}
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		fields[k] = v
	}
	ts := u.Timestamp.Time
	if ts.IsZero() {
		ts = fallback
	}
	tags := map[string]string{"plant_id": strconv.Itoa(u.PlantID)}
	return influxdb2.NewPoint(Measurement, tags, fields, ts), true
}
