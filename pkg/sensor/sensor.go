package sensor

import (
	"time"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
)

// Reading is one decoded channel sample. Value is in Unit; Milliamps is only
// set for current channels with a configured sense resistor.
type Reading struct {
	Channel   ltc2990.Channel `json:"-"`
	Name      string          `json:"channel"`
	Kind      string          `json:"kind"`
	Raw       uint16          `json:"raw"`
	Value     int             `json:"value"`
	Unit      string          `json:"unit"`
	Milliamps *float64        `json:"milliamps,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type Sensor interface {
	Read() ([]Reading, error)
	Close() error
}

// ModeController is the mode get/set endpoint of an attached chip.
type ModeController interface {
	Mode() ltc2990.Mode
	SetMode(ltc2990.Mode) error
}
