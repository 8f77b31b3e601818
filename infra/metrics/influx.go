package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/parlock/core/metrics"
	"github.com/kilianp07/parlock/core/logger"
	infralogger "github.com/kilianp07/parlock/infra/logger"
)

// InfluxConfig describes the InfluxDB endpoint.
type InfluxConfig struct {
	URL      string `json:"url"`
	Token    string `json:"token"`
	Org      string `json:"org"`
	Bucket   string `json:"bucket"`
	LockerID string `json:"locker_id"`
}

// InfluxSink writes scan events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	lockerID string
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		lockerID: cfg.LockerID,
		log:      infralogger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) point(measurement string) *write.Point {
	p := write.NewPointWithMeasurement(measurement)
	if s.lockerID != "" {
		p.AddTag("locker_id", s.lockerID)
	}
	return p
}

// RecordScan writes the scan as one line protocol point.
func (s *InfluxSink) RecordScan(ev coremetrics.ScanEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := s.point("scan_event").
		AddTag("kind", ev.Kind).
		AddTag("outcome", ev.Outcome).
		AddTag("state", ev.State)
	if ev.UnitID != "" {
		p.AddTag("unit_id", ev.UnitID)
	}
	p.AddField("transaction_id", ev.TransactionID).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000))
	if ev.Dimensions.Valid() {
		p.AddField("length_mm", round3(ev.Dimensions.Length)).
			AddField("width_mm", round3(ev.Dimensions.Width)).
			AddField("height_mm", round3(ev.Dimensions.Height))
	}
	if ev.Error != "" {
		p.AddField("error", ev.Error)
	}
	p.SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordUnits writes an inventory snapshot.
func (s *InfluxSink) RecordUnits(total, available int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := s.point("unit_inventory").
		AddField("total", total).
		AddField("available", available).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
