package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
)

type I2CConfig struct {
	Bus     string `json:"bus" yaml:"bus"`
	Address int    `json:"address" yaml:"address"`
}

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	Topic             string `json:"topic" yaml:"topic"`
	DiscoveryPrefix   string `json:"discovery_prefix,omitempty" yaml:"discovery_prefix,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty" yaml:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty" yaml:"discovery_unique_id,omitempty"`
}

type PrometheusConfig struct {
	Listen string `json:"listen" yaml:"listen"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

type StatsDConfig struct {
	Address   string   `json:"address" yaml:"address"`
	Namespace string   `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Tags      []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

type ModbusConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	UnitID    uint8  `json:"unit_id" yaml:"unit_id"`
	Address   uint16 `json:"address" yaml:"address"`
	TimeoutMs int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

type OutputConfig struct {
	Type       string            `json:"type" yaml:"type"`
	IntervalMs int               `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig       `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Prometheus *PrometheusConfig `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
	StatsD     *StatsDConfig     `json:"statsd,omitempty" yaml:"statsd,omitempty"`
	Modbus     *ModbusConfig     `json:"modbus,omitempty" yaml:"modbus,omitempty"`
}

// ChannelConfig selects a channel for publishing. SenseResistorMilliOhm only
// applies to curr1/curr2 and turns the differential voltage into milliamps.
type ChannelConfig struct {
	Name                  string  `json:"name" yaml:"name"`
	Enabled               bool    `json:"enabled" yaml:"enabled"`
	SenseResistorMilliOhm float64 `json:"sense_resistor_mohm,omitempty" yaml:"sense_resistor_mohm,omitempty"`
}

type Config struct {
	I2C        I2CConfig       `json:"i2c" yaml:"i2c"`
	Mode       *int            `json:"mode,omitempty" yaml:"mode,omitempty"`
	SensorType string          `json:"sensor_type" yaml:"sensor_type"`
	IntervalMs int             `json:"interval_ms" yaml:"interval_ms"`
	Outputs    []OutputConfig  `json:"outputs" yaml:"outputs"`
	Channels   []ChannelConfig `json:"channels" yaml:"channels"`
}

const (
	SensorReal       = "real"
	SensorSimulation = "simulation"

	OutputConsole    = "console"
	OutputMQTT       = "mqtt"
	OutputPrometheus = "prometheus"
	OutputStatsD     = "statsd"
	OutputModbus     = "modbus"
)

func DefaultConfig() Config {
	return Config{
		I2C:        I2CConfig{Bus: "1", Address: ltc2990.AddressDefault},
		SensorType: SensorReal,
		Outputs:    []OutputConfig{{Type: OutputConsole, IntervalMs: 1000}},
		IntervalMs: 1000,
	}
}

// LoadFromFlags loads configuration from the process arguments.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load reads an optional JSON or YAML config file and applies flag overrides
// from args. Flags win over values in the file.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("ltc2990-to-mqtt", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagMode := fs.Int("mode", -1, "LTC2990 measurement mode 0-7 (default 6)")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,prometheus,statsd,modbus)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT topic base")
	flagMetricsListen := fs.String("metrics-listen", "", "Prometheus listen address e.g. :9102")
	flagStatsDAddr := fs.String("statsd-addr", "", "StatsD address e.g. 127.0.0.1:8125")
	flagModbusEndpoint := fs.String("modbus-endpoint", "", "Modbus TCP target host:port")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagChannels := fs.String("channels", "", "Comma-separated channels to publish e.g. in0,curr1,temp1")
	flagSense := fs.String("sense-resistors", "", "Sense resistors in mOhm e.g. curr1=10,curr2=20")
	flagInterval := fs.Int("interval-ms", -1, "Publish interval in ms")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Unmarshal(*cfgPath, b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if *flagI2CBus != "" {
		cfg.I2C.Bus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.I2C.Address = v
	}
	if *flagMode != -1 {
		m := *flagMode
		cfg.Mode = &m
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagOutputs != "" {
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p), IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		for _, p := range parseCSV(*flagOutputIntervals) {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
			if err != nil {
				return cfg, fmt.Errorf("output-intervals %q: %w", p, err)
			}
			for i := range cfg.Outputs {
				if cfg.Outputs[i].Type == strings.TrimSpace(kv[0]) {
					cfg.Outputs[i].IntervalMs = v
				}
			}
		}
	}
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		for _, m := range outputBlocks(&cfg, OutputMQTT) {
			if m.MQTT == nil {
				m.MQTT = &MQTTConfig{}
			}
			setIf(&m.MQTT.Server, *flagMQTTServer)
			setIf(&m.MQTT.Username, *flagMQTTUser)
			setIf(&m.MQTT.Password, *flagMQTTPass)
			setIf(&m.MQTT.ClientID, *flagClientID)
			setIf(&m.MQTT.Topic, *flagTopic)
		}
	}
	if *flagMetricsListen != "" {
		for _, o := range outputBlocks(&cfg, OutputPrometheus) {
			if o.Prometheus == nil {
				o.Prometheus = &PrometheusConfig{}
			}
			o.Prometheus.Listen = *flagMetricsListen
		}
	}
	if *flagStatsDAddr != "" {
		for _, o := range outputBlocks(&cfg, OutputStatsD) {
			if o.StatsD == nil {
				o.StatsD = &StatsDConfig{}
			}
			o.StatsD.Address = *flagStatsDAddr
		}
	}
	if *flagModbusEndpoint != "" {
		for _, o := range outputBlocks(&cfg, OutputModbus) {
			if o.Modbus == nil {
				o.Modbus = &ModbusConfig{}
			}
			o.Modbus.Endpoint = *flagModbusEndpoint
		}
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagChannels != "" {
		cfg.Channels = mergeChannels(cfg.Channels, parseCSV(*flagChannels))
	}
	if *flagSense != "" {
		sense, err := parseKeyFloatMap(*flagSense)
		if err != nil {
			return cfg, fmt.Errorf("sense-resistors: %w", err)
		}
		cfg.Channels = applySense(cfg.Channels, sense)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Unmarshal decodes b as YAML when path ends in .yaml/.yml, JSON otherwise.
func Unmarshal(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	}
	return json.Unmarshal(b, cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = 1000
	}
	for i := range cfg.Outputs {
		o := &cfg.Outputs[i]
		if o.IntervalMs == 0 {
			o.IntervalMs = cfg.IntervalMs
		}
		switch o.Type {
		case OutputMQTT:
			if o.MQTT == nil {
				o.MQTT = &MQTTConfig{}
			}
			setIf(&o.MQTT.Server, "tcp://localhost:1883", o.MQTT.Server == "")
			setIf(&o.MQTT.ClientID, "ltc2990-client", o.MQTT.ClientID == "")
			setIf(&o.MQTT.Topic, "ltc2990", o.MQTT.Topic == "")
		case OutputPrometheus:
			if o.Prometheus == nil {
				o.Prometheus = &PrometheusConfig{}
			}
			setIf(&o.Prometheus.Listen, ":9102", o.Prometheus.Listen == "")
			setIf(&o.Prometheus.Path, "/metrics", o.Prometheus.Path == "")
		case OutputStatsD:
			if o.StatsD == nil {
				o.StatsD = &StatsDConfig{}
			}
			setIf(&o.StatsD.Address, "127.0.0.1:8125", o.StatsD.Address == "")
			setIf(&o.StatsD.Namespace, "ltc2990.", o.StatsD.Namespace == "")
		case OutputModbus:
			if o.Modbus != nil && o.Modbus.TimeoutMs == 0 {
				o.Modbus.TimeoutMs = 1000
			}
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.SensorType != SensorReal && c.SensorType != SensorSimulation {
		return fmt.Errorf("sensor_type %q: want %s or %s", c.SensorType, SensorReal, SensorSimulation)
	}
	if c.I2C.Address <= 0 || c.I2C.Address > 0x7F {
		return fmt.Errorf("i2c address 0x%x out of 7-bit range", c.I2C.Address)
	}
	if len(c.Outputs) == 0 {
		return errors.New("no outputs configured")
	}
	for _, o := range c.Outputs {
		if o.IntervalMs < 0 {
			return fmt.Errorf("output %s: interval_ms must be >= 0", o.Type)
		}
		switch o.Type {
		case OutputConsole, OutputMQTT, OutputPrometheus, OutputStatsD:
		case OutputModbus:
			if o.Modbus == nil || o.Modbus.Endpoint == "" {
				return errors.New("output modbus: endpoint required")
			}
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	for _, ch := range c.Channels {
		id, err := ltc2990.ParseChannel(ch.Name)
		if err != nil {
			return err
		}
		if ch.SenseResistorMilliOhm < 0 || (ch.SenseResistorMilliOhm > 0 && id.Kind() != ltc2990.KindCurrent) {
			return fmt.Errorf("channel %s: sense_resistor_mohm only applies to current channels and must be positive", ch.Name)
		}
	}
	return nil
}

func outputBlocks(cfg *Config, typ string) []*OutputConfig {
	var out []*OutputConfig
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == typ {
			out = append(out, &cfg.Outputs[i])
		}
	}
	if len(out) == 0 {
		cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: typ, IntervalMs: cfg.IntervalMs})
		out = append(out, &cfg.Outputs[len(cfg.Outputs)-1])
	}
	return out
}

// setIf assigns v to *dst when v is non-empty and every extra condition holds.
func setIf(dst *string, v string, conds ...bool) {
	if v == "" {
		return
	}
	for _, c := range conds {
		if !c {
			return
		}
	}
	*dst = v
}

func mergeChannels(existing []ChannelConfig, names []string) []ChannelConfig {
	byName := make(map[string]ChannelConfig, len(existing))
	for _, c := range existing {
		byName[strings.ToLower(c.Name)] = c
	}
	out := make([]ChannelConfig, 0, len(names))
	for _, n := range names {
		c := byName[strings.ToLower(n)]
		c.Name = strings.ToLower(n)
		c.Enabled = true
		out = append(out, c)
	}
	return out
}

// applySense attaches sense resistors to channels. With no channel list the
// list is first expanded to every channel, so the all-channels default holds.
func applySense(chs []ChannelConfig, sense map[string]float64) []ChannelConfig {
	if len(chs) == 0 && len(sense) > 0 {
		for _, ch := range ltc2990.AllChannels {
			chs = append(chs, ChannelConfig{Name: ch.String(), Enabled: true})
		}
	}
	for name, mohm := range sense {
		found := false
		for i := range chs {
			if strings.EqualFold(chs[i].Name, name) {
				chs[i].SenseResistorMilliOhm = mohm
				found = true
			}
		}
		if !found {
			chs = append(chs, ChannelConfig{Name: name, Enabled: true, SenseResistorMilliOhm: mohm})
		}
	}
	return chs
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	return strconv.Atoi(s)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseKeyFloatMap(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid pair %q", p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", p, err)
		}
		out[strings.ToLower(strings.TrimSpace(kv[0]))] = v
	}
	return out, nil
}
