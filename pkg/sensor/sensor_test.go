package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/bus"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/registry"
)

var _ Sensor = (*LTC2990Sensor)(nil)
var _ ModeController = (*LTC2990Sensor)(nil)

func simConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.SensorType = config.SensorSimulation
	return cfg
}

// newTestSensor attaches a sensor to a fixed-value simulator.
func newTestSensor(t *testing.T, cfg config.Config) (*LTC2990Sensor, *bus.Simulator, *registry.Registry) {
	t.Helper()
	selected, sense, err := buildChannelSettings(cfg)
	require.NoError(t, err)
	sim := bus.NewSimulator(ltc2990.AddressDefault)
	reg := registry.New()
	s := &LTC2990Sensor{
		tr:       bus.NewTinyGo(sim, ltc2990.AddressDefault),
		selected: selected,
		sense:    sense,
		now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	s.mon, err = ltc2990.Attach(s.tr, cfg.Mode, reg)
	require.NoError(t, err)
	return s, sim, reg
}

func TestBuildChannelSettings(t *testing.T) {
	cfg := config.Config{}
	sel, sense, err := buildChannelSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, ltc2990.SetOf(ltc2990.AllChannels...), sel)
	assert.Empty(t, sense)

	cfg.Channels = []config.ChannelConfig{
		{Name: "curr1", Enabled: true, SenseResistorMilliOhm: 10},
		{Name: "in0", Enabled: false},
		{Name: "temp1", Enabled: true},
	}
	sel, sense, err = buildChannelSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, ltc2990.SetOf(ltc2990.CURR1, ltc2990.TEMP1), sel)
	assert.Equal(t, map[ltc2990.Channel]float64{ltc2990.CURR1: 10}, sense)

	cfg.Channels = []config.ChannelConfig{{Name: "nope", Enabled: true}}
	_, _, err = buildChannelSettings(cfg)
	assert.ErrorIs(t, err, ltc2990.ErrInvalidChannel)
}

func TestReadVisibleChannels(t *testing.T) {
	s, sim, _ := newTestSensor(t, simConfig())
	sim.Set(0x06, 0x0001) // curr1: 19 µV
	sim.Set(0x0A, 0x3FFF) // curr2: -19 µV

	rs, err := s.Read()
	require.NoError(t, err)
	require.Len(t, rs, 4)

	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"in0", "curr1", "curr2", "temp1"}, names)
	assert.Equal(t, 4999, rs[0].Value)
	assert.Equal(t, "mV", rs[0].Unit)
	assert.Equal(t, uint16(0x0001), rs[1].Raw)
	assert.Equal(t, 19, rs[1].Value)
	assert.Equal(t, "µV", rs[1].Unit)
	assert.Equal(t, -19, rs[2].Value)
	assert.Equal(t, 25000, rs[3].Value)
	assert.Equal(t, "temperature", rs[3].Kind)
	assert.Nil(t, rs[1].Milliamps)
}

func TestReadFollowsModeChange(t *testing.T) {
	s, _, reg := newTestSensor(t, simConfig())
	require.NoError(t, s.SetMode(7))
	assert.Equal(t, ltc2990.Mode(7), s.Mode())
	assert.Equal(t, s.EnabledChannels(), reg.Visible())

	rs, err := s.Read()
	require.NoError(t, err)
	require.Len(t, rs, 6)
	for _, r := range rs[1:5] {
		assert.Equal(t, "voltage", r.Kind)
		assert.Equal(t, 1000, r.Value)
	}

	assert.ErrorIs(t, s.SetMode(9), ltc2990.ErrInvalidArgument)
	assert.Equal(t, ltc2990.Mode(7), s.Mode())
}

func TestReadAfterFailedModeChange(t *testing.T) {
	s, sim, reg := newTestSensor(t, simConfig())
	sim.FailWrites(0x02, true)
	var te *ltc2990.TransportError
	require.ErrorAs(t, s.SetMode(7), &te)
	assert.Equal(t, ltc2990.Mode(7), s.Mode())
	sim.FailWrites(0x02, false)

	rs, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, byte(0x1F), sim.Control())
	assert.Equal(t, s.EnabledChannels(), reg.Visible())

	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"in0", "in1", "in2", "in3", "in4", "temp1"}, names)
	for _, r := range rs[1:5] {
		assert.Equal(t, "voltage", r.Kind)
		assert.Equal(t, 1000, r.Value)
	}
}

func TestReadSelectionAndSense(t *testing.T) {
	cfg := simConfig()
	cfg.Channels = []config.ChannelConfig{
		{Name: "curr2", Enabled: true, SenseResistorMilliOhm: 2},
		{Name: "in3", Enabled: true}, // not visible in mode 6
	}
	s, sim, _ := newTestSensor(t, cfg)
	sim.Set(0x0A, 0x0064) // 100 LSB -> 1942 µV

	rs, err := s.Read()
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, ltc2990.CURR2, rs[0].Channel)
	assert.Equal(t, 1942, rs[0].Value)
	require.NotNil(t, rs[0].Milliamps)
	assert.InDelta(t, 971.0, *rs[0].Milliamps, 1e-9)
}

func TestReadTransportError(t *testing.T) {
	s, sim, _ := newTestSensor(t, simConfig())
	sim.FailReads(true)
	_, err := s.Read()
	var te *ltc2990.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestNewLTC2990SensorSimulation(t *testing.T) {
	cfg := simConfig()
	m := 0
	cfg.Mode = &m
	reg := registry.New()
	s, err := NewLTC2990Sensor(cfg, reg)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, ltc2990.Mode(0), s.Mode())
	assert.Equal(t, ltc2990.SetOf(ltc2990.IN0, ltc2990.IN1, ltc2990.IN2, ltc2990.TEMP1, ltc2990.TEMP3), reg.Visible())

	rs, err := s.Read()
	require.NoError(t, err)
	require.Len(t, rs, 5)
	assert.InDelta(t, 4900, rs[0].Value, 50, "jittered supply stays near 4.9 V")
	assert.InDelta(t, 25000, rs[3].Value, 600, "jittered die temperature stays near 25 °C")
}
