package ranging

import (
	"github.com/kilianp07/parlock/core/factory"
	"github.com/kilianp07/parlock/core/ranging"
)

// Registry maps ranging driver names to constructors.
var Registry = factory.NewRegistry[ranging.Sensor]()

func init() {
	_ = Registry.Register("gpio", func(conf map[string]any) (ranging.Sensor, error) {
		var c GPIOConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewGPIO(c)
	})
	_ = Registry.Register("serial", func(conf map[string]any) (ranging.Sensor, error) {
		var c SerialConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewSerial(c)
	})
	_ = Registry.Register("static", func(conf map[string]any) (ranging.Sensor, error) {
		var c StaticConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewStatic(c), nil
	})
}
