package statsd

import (
	"fmt"
	"sync"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/sensor"
)

type gauger interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Close() error
}

type StatsDOutput struct {
	client gauger
	modes  sensor.ModeController

	mu      sync.Mutex
	visible ltc2990.ChannelSet
}

func tag(key, value string) string {
	return fmt.Sprintf("%s:%s", key, value)
}

func NewStatsD(cfg config.StatsDConfig, modes sensor.ModeController) (*StatsDOutput, error) {
	c, err := statsd.New(cfg.Address,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(cfg.Tags),
		statsd.WithoutTelemetry(),
	)
	if err != nil {
		return nil, fmt.Errorf("statsd: %w", err)
	}
	return &StatsDOutput{client: c, modes: modes, visible: ltc2990.SetOf(ltc2990.AllChannels...)}, nil
}

func (s *StatsDOutput) Publish(readings []sensor.Reading) error {
	s.mu.Lock()
	visible := s.visible
	s.mu.Unlock()
	for _, r := range readings {
		if !visible.Has(r.Channel) {
			continue
		}
		tags := []string{tag("channel", r.Name), tag("unit", r.Unit)}
		if err := s.client.Gauge("reading", float64(r.Value), tags, 1); err != nil {
			return err
		}
		if r.Milliamps != nil {
			if err := s.client.Gauge("current_milliamps", *r.Milliamps, tags[:1], 1); err != nil {
				return err
			}
		}
	}
	if s.modes != nil {
		return s.client.Gauge("mode", float64(s.modes.Mode()), nil, 1)
	}
	return nil
}

// RefreshChannels stops reporting hidden channels. StatsD has no deletion;
// gauges simply stop arriving.
func (s *StatsDOutput) RefreshChannels(set ltc2990.ChannelSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = set
	return nil
}

func (s *StatsDOutput) Close() error { return s.client.Close() }
