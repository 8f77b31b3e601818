// Package factory builds pluggable components, such as ranging drivers and
// metric sinks, from a type name and a map of raw options taken from the
// configuration file.
//
// A driver package registers its constructors once:
//
//	var Registry = factory.NewRegistry[ranging.Sensor]()
//
//	Registry.Register("serial", func(conf map[string]any) (ranging.Sensor, error) {
//	    var c SerialConfig
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return NewSerial(c)
//	})
//
// and the application picks one by name:
//
//	sensor, err := Registry.Create(factory.ModuleConfig{
//	    Type: "serial",
//	    Conf: map[string]any{"port": "/dev/ttyUSB0", "read_timeout": "200ms"},
//	})
//
// Options are decoded with json tags; strings are accepted for durations and
// numbers.
package factory
