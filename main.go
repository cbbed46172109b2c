package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/output"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/output/console"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/output/modbus"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/output/mqtt"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/output/prometheus"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/output/statsd"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/registry"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/sensor"
)

const defaultIntervalMs = 1000

type outputEntry struct {
	Name       string
	Out        output.Output
	IntervalMs int
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log.Printf("starting ltc2990 monitor (sensor=%s bus=%s addr=0x%02X)", cfg.SensorType, cfg.I2C.Bus, cfg.I2C.Address)

	reg := registry.New()
	s, err := sensor.NewLTC2990Sensor(cfg, reg)
	if err != nil {
		return err
	}
	defer s.Close()
	log.Printf("ltc2990 attached in mode %d, channels %s", s.Mode(), s.EnabledChannels())

	interval := computeSensorInterval(cfg)
	entries, err := initOutputs(&cfg, interval, s)
	if err != nil {
		return err
	}
	defer func() {
		for _, e := range entries {
			if err := e.Out.Close(); err != nil {
				log.Printf("close %s: %v", e.Name, err)
			}
		}
	}()
	for _, e := range entries {
		if l, ok := e.Out.(registry.Listener); ok {
			if err := reg.Subscribe(l); err != nil {
				log.Printf("%s channel refresh: %v", e.Name, err)
			}
		}
	}

	loop(ctx, s, entries, interval)
	log.Printf("shutting down")
	return nil
}

// initOutputs builds the configured outputs. Outputs without an interval
// inherit defaultInterval, written back into cfg.
func initOutputs(cfg *config.Config, defaultInterval int, modes sensor.ModeController) ([]outputEntry, error) {
	var entries []outputEntry
	fail := func(err error) ([]outputEntry, error) {
		for _, e := range entries {
			_ = e.Out.Close()
		}
		return nil, err
	}
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs <= 0 {
			oc.IntervalMs = defaultInterval
		}
		var (
			out output.Output
			err error
		)
		switch oc.Type {
		case config.OutputConsole:
			out = console.NewConsole()
		case config.OutputMQTT:
			if oc.MQTT == nil {
				return fail(fmt.Errorf("output %d: mqtt block missing", i))
			}
			out, err = mqtt.NewMQTT(*oc.MQTT, modes)
		case config.OutputPrometheus:
			if oc.Prometheus == nil {
				return fail(fmt.Errorf("output %d: prometheus block missing", i))
			}
			out, err = prometheus.NewPrometheus(*oc.Prometheus, modes)
		case config.OutputStatsD:
			if oc.StatsD == nil {
				return fail(fmt.Errorf("output %d: statsd block missing", i))
			}
			out, err = statsd.NewStatsD(*oc.StatsD, modes)
		case config.OutputModbus:
			if oc.Modbus == nil {
				return fail(fmt.Errorf("output %d: modbus block missing", i))
			}
			out, err = modbus.NewModbus(*oc.Modbus, modes)
		default:
			return fail(fmt.Errorf("output %d: unknown type %q", i, oc.Type))
		}
		if err != nil {
			return fail(fmt.Errorf("output %s: %w", oc.Type, err))
		}
		log.Printf("output %s every %dms", oc.Type, oc.IntervalMs)
		entries = append(entries, outputEntry{Name: oc.Type, Out: out, IntervalMs: oc.IntervalMs})
	}
	return entries, nil
}

// computeSensorInterval samples as often as the fastest output publishes.
func computeSensorInterval(cfg config.Config) int {
	fastest := 0
	for _, o := range cfg.Outputs {
		if o.IntervalMs > 0 && (fastest == 0 || o.IntervalMs < fastest) {
			fastest = o.IntervalMs
		}
	}
	if fastest > 0 {
		return fastest
	}
	if cfg.IntervalMs > 0 {
		return cfg.IntervalMs
	}
	return defaultIntervalMs
}

// loop samples the sensor every intervalMs and lets each output publish the
// latest readings on its own schedule until ctx is done.
func loop(ctx context.Context, s sensor.Sensor, entries []outputEntry, intervalMs int) {
	var (
		mu     sync.Mutex
		latest []sensor.Reading
	)
	sample := func() {
		rs, err := s.Read()
		if err != nil {
			log.Printf("sensor read: %v", err)
			return
		}
		mu.Lock()
		latest = rs
		mu.Unlock()
	}
	sample()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e outputEntry) {
			defer wg.Done()
			t := time.NewTicker(time.Duration(e.IntervalMs) * time.Millisecond)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					mu.Lock()
					rs := latest
					mu.Unlock()
					if len(rs) == 0 {
						continue
					}
					if err := e.Out.Publish(rs); err != nil && !errors.Is(err, context.Canceled) {
						log.Printf("%s publish: %v", e.Name, err)
					}
				}
			}
		}(e)
	}

	t := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-t.C:
			sample()
		}
	}
}
