package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/parlock/core/metrics"
	"github.com/kilianp07/parlock/core/model"
)

func TestPromSinkRecordScan(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	ev := coremetrics.ScanEvent{Kind: "deposit", Outcome: coremetrics.OutcomeCompleted, State: "REPORTED", Duration: 3 * time.Second}
	require.NoError(t, sink.RecordScan(ev))
	require.NoError(t, sink.RecordScan(ev))
	require.NoError(t, sink.RecordUnits(4, 3))
	require.NoError(t, sink.RecordDistance(251.5, time.Now()))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.scans.WithLabelValues("deposit", "completed", "REPORTED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(sink.units.WithLabelValues("available")))
	assert.Equal(t, 251.5, testutil.ToFloat64(sink.distance))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.duration))

	// a second sink on the same registry shares the collectors
	again, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	assert.Same(t, sink.scans, again.scans)
}

func TestInfluxSinkRecordScan(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket", LockerID: "base-1"})
	defer sink.Close()
	now := time.Unix(1700000000, 0)
	ev := coremetrics.ScanEvent{
		TransactionID: "tx1",
		Kind:          "deposit",
		Outcome:       coremetrics.OutcomeCompleted,
		State:         "REPORTED",
		UnitID:        "u1",
		Dimensions:    model.Dimensions{Length: 100, Width: 50, Height: 20},
		Duration:      1500 * time.Millisecond,
		Time:          now,
	}
	require.NoError(t, sink.RecordScan(ev))

	p := write.NewPointWithMeasurement("scan_event").
		AddTag("locker_id", "base-1").
		AddTag("kind", "deposit").
		AddTag("outcome", "completed").
		AddTag("state", "REPORTED").
		AddTag("unit_id", "u1").
		AddField("transaction_id", "tx1").
		AddField("duration_ms", 1500.0).
		AddField("length_mm", 100.0).
		AddField("width_mm", 50.0).
		AddField("height_mm", 20.0).
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	assert.Equal(t, expected, strings.TrimSpace(body))
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called)
}

func TestServeMuxRoutes(t *testing.T) {
	mux := NewServeMux(Route{Pattern: "/api/ping", Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for path, want := range map[string]int{"/healthz": http.StatusOK, "/metrics": http.StatusOK, "/api/ping": http.StatusOK, "/nope": http.StatusNotFound} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
		if path == "/api/ping" {
			assert.Equal(t, "pong", string(body))
		}
	}
}
