// Package prometheus exposes the latest LTC2990 readings as Prometheus gauges.
package prometheus

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/sensor"
)

type PrometheusOutput struct {
	reading   *prometheus.GaugeVec
	milliamps *prometheus.GaugeVec
	mode      prometheus.Gauge
	registry  *prometheus.Registry
	modes     sensor.ModeController

	mu      sync.Mutex // guards visible against concurrent Publish/Refresh
	visible ltc2990.ChannelSet

	ln     net.Listener
	server *http.Server
}

func newCollectors(modes sensor.ModeController) *PrometheusOutput {
	p := &PrometheusOutput{
		reading: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ltc2990_reading",
				Help: "Last decoded LTC2990 channel value in its native unit.",
			},
			[]string{
				"channel",
				"unit",
			},
		),
		milliamps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ltc2990_current_milliamps",
				Help: "Current derived from a differential channel and its sense resistor.",
			},
			[]string{
				"channel",
			},
		),
		mode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ltc2990_mode",
				Help: "Active LTC2990 measurement mode.",
			},
		),
		registry: prometheus.NewRegistry(),
		modes:    modes,
		visible:  ltc2990.SetOf(ltc2990.AllChannels...),
	}
	p.registry.MustRegister(p.reading, p.milliamps, p.mode)
	return p
}

// NewPrometheus starts serving metrics on cfg.Listen.
func NewPrometheus(cfg config.PrometheusConfig, modes sensor.ModeController) (*PrometheusOutput, error) {
	p := newCollectors(modes)
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("prometheus listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	p.ln = ln
	p.server = &http.Server{Handler: mux}
	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("prometheus server error: %v", err)
		}
	}()
	return p, nil
}

// Addr is the address metrics are served on.
func (p *PrometheusOutput) Addr() string {
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

func (p *PrometheusOutput) Publish(readings []sensor.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range readings {
		if !p.visible.Has(r.Channel) {
			continue
		}
		p.reading.WithLabelValues(r.Name, r.Unit).Set(float64(r.Value))
		if r.Milliamps != nil {
			p.milliamps.WithLabelValues(r.Name).Set(*r.Milliamps)
		}
	}
	return nil
}

// RefreshChannels drops series for channels the current mode hides.
func (p *PrometheusOutput) RefreshChannels(set ltc2990.ChannelSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = set
	for _, ch := range ltc2990.AllChannels {
		if set.Has(ch) {
			continue
		}
		p.reading.Delete(prometheus.Labels{"channel": ch.String(), "unit": ch.Kind().Unit()})
		p.milliamps.Delete(prometheus.Labels{"channel": ch.String()})
	}
	if p.modes != nil {
		p.mode.Set(float64(p.modes.Mode()))
	}
	return nil
}

func (p *PrometheusOutput) Close() error {
	if p.server != nil {
		return p.server.Close()
	}
	return nil
}
