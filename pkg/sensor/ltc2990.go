package sensor

import (
	"fmt"
	"io"
	"time"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/bus"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/registry"
)

type LTC2990Sensor struct {
	mon      *ltc2990.Monitor
	tr       ltc2990.Transport
	closer   io.Closer
	jitter   *jitter
	selected ltc2990.ChannelSet
	sense    map[ltc2990.Channel]float64
	now      func() time.Time
}

// NewLTC2990Sensor opens the configured bus and attaches the chip. The
// attach-time channel set is published to reg before this returns.
func NewLTC2990Sensor(cfg config.Config, reg *registry.Registry) (*LTC2990Sensor, error) {
	selected, sense, err := buildChannelSettings(cfg)
	if err != nil {
		return nil, err
	}
	s := &LTC2990Sensor{selected: selected, sense: sense, now: time.Now}

	addr := uint16(cfg.I2C.Address)
	switch cfg.SensorType {
	case config.SensorSimulation:
		sim := bus.NewSimulator(addr)
		s.tr = bus.NewTinyGo(sim, addr)
		s.jitter = newJitter(sim, time.Now().UnixNano())
	default:
		t, err := bus.OpenPeriph(cfg.I2C.Bus, addr)
		if err != nil {
			return nil, err
		}
		s.tr, s.closer = t, t
	}

	s.mon, err = ltc2990.Attach(s.tr, cfg.Mode, reg)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("attach ltc2990: %w", err)
	}
	return s, nil
}

func (s *LTC2990Sensor) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Read samples every channel that is both enabled in the current mode and
// selected in the config.
func (s *LTC2990Sensor) Read() ([]Reading, error) {
	if s.jitter != nil {
		s.jitter.step()
	}
	chs := (s.mon.EnabledChannels() & s.selected).Channels()
	out := make([]Reading, 0, len(chs))
	now := s.now()
	for _, ch := range chs {
		smp, err := s.mon.Sample(ch)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ch, err)
		}
		r := Reading{
			Channel:   ch,
			Name:      ch.String(),
			Kind:      ch.Kind().String(),
			Raw:       smp.Raw,
			Value:     smp.Value,
			Unit:      ch.Kind().Unit(),
			Timestamp: now,
		}
		if mohm, ok := s.sense[ch]; ok {
			ma := milliamps(smp.Value, mohm)
			r.Milliamps = &ma
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *LTC2990Sensor) Mode() ltc2990.Mode { return s.mon.Mode() }

// SetMode changes the measurement mode; the registry is refreshed before it
// returns.
func (s *LTC2990Sensor) SetMode(m ltc2990.Mode) error { return s.mon.SetMode(m) }

// EnabledChannels lists the channels meaningful in the current mode.
func (s *LTC2990Sensor) EnabledChannels() ltc2990.ChannelSet { return s.mon.EnabledChannels() }
