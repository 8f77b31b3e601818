package metrics

import "github.com/kilianp07/parlock/core/factory"

var sinkRegistry = factory.NewRegistry[Sink]()

// RegisterSink adds a metrics sink factory identified by name.
func RegisterSink(name string, f factory.Factory[Sink]) error {
	return sinkRegistry.Register(name, f)
}

// NewSink creates a Sink from the provided configuration.
func NewSink(cfgs []factory.ModuleConfig) (Sink, error) {
	if len(cfgs) == 0 {
		return NopSink{}, nil
	}
	if len(cfgs) == 1 {
		return sinkRegistry.Create(cfgs[0])
	}
	sinks := make([]Sink, len(cfgs))
	for i, c := range cfgs {
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, err
		}
		sinks[i] = s
	}
	return NewMultiSink(sinks...), nil
}
