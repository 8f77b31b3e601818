package metrics

import (
	"github.com/kilianp07/parlock/core/factory"
	coremetrics "github.com/kilianp07/parlock/core/metrics"
)

// init registers built-in metrics sinks.
func init() {
	_ = coremetrics.RegisterSink("nop", func(map[string]any) (coremetrics.Sink, error) {
		return coremetrics.NopSink{}, nil
	})

	_ = coremetrics.RegisterSink("prometheus", func(map[string]any) (coremetrics.Sink, error) {
		return NewPromSink()
	})

	_ = coremetrics.RegisterSink("influx", func(conf map[string]any) (coremetrics.Sink, error) {
		var c InfluxConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewInfluxSinkWithFallback(c), nil
	})
}
