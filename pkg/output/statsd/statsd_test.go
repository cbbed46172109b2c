package statsd

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/sensor"
)

type gauge struct {
	name  string
	value float64
	tags  []string
}

type recorder struct{ got []gauge }

func (r *recorder) Gauge(name string, value float64, tags []string, _ float64) error {
	r.got = append(r.got, gauge{name, value, tags})
	return nil
}
func (r *recorder) Close() error { return nil }

type staticMode ltc2990.Mode

func (m staticMode) Mode() ltc2990.Mode         { return ltc2990.Mode(m) }
func (m staticMode) SetMode(ltc2990.Mode) error { return nil }

func TestPublishGauges(t *testing.T) {
	rec := &recorder{}
	s := &StatsDOutput{client: rec, modes: staticMode(4), visible: ltc2990.SetOf(ltc2990.AllChannels...)}
	ma := 10.5
	rs := []sensor.Reading{
		{Channel: ltc2990.CURR2, Name: "curr2", Value: 105, Unit: "µV", Milliamps: &ma},
		{Channel: ltc2990.IN3, Name: "in3", Value: 1200, Unit: "mV"},
	}
	require.NoError(t, s.Publish(rs))
	assert.Equal(t, []gauge{
		{"reading", 105, []string{"channel:curr2", "unit:µV"}},
		{"current_milliamps", 10.5, []string{"channel:curr2"}},
		{"reading", 1200, []string{"channel:in3", "unit:mV"}},
		{"mode", 4, nil},
	}, rec.got)

	rec.got = nil
	set, _ := ltc2990.Lookup(4)
	require.NoError(t, s.RefreshChannels(set))
	require.NoError(t, s.Publish(rs))
	require.Len(t, rec.got, 3, "in3 is hidden in mode 4")
}

func TestNewStatsDSendsUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	s, err := NewStatsD(config.StatsDConfig{Address: pc.LocalAddr().String(), Namespace: "ltc2990."}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Publish([]sensor.Reading{{Channel: ltc2990.IN0, Name: "in0", Value: 4999, Unit: "mV"}}))
	require.NoError(t, s.Close())

	buf := make([]byte, 4096)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(buf[:n]), "ltc2990.reading:4999|g|#channel:in0,unit:mV"), string(buf[:n]))
}
