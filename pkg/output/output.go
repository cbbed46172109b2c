package output

import "github.com/ericogr/ltc2990-to-mqtt/pkg/sensor"

type Output interface {
	Publish([]sensor.Reading) error
	Close() error
}

// helper constructors are in subpackages; outputs that expose per-channel
// endpoints also implement registry.Listener
