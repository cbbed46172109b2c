package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/registry"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/sensor"
)

var _ registry.Listener = (*MQTTOutput)(nil)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  string
}

// fakeClient records publishes and subscriptions; other Client methods are
// not used by the output.
type fakeClient struct {
	mqtt.Client
	mu       sync.Mutex
	pubs     []published
	handlers map[string]mqtt.MessageHandler
	pubErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, published{topic, retained, string(payload.([]byte))})
	return doneToken{f.pubErr}
}

func (f *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = cb
	return doneToken{}
}

func (f *fakeClient) Disconnect(uint) {}

func (f *fakeClient) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	h(f, fakeMessage{topic: topic, payload: []byte(payload)})
}

func (f *fakeClient) take() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.pubs
	f.pubs = nil
	return p
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type fakeModes struct {
	mode ltc2990.Mode
	reg  *registry.Registry
	err  error
}

func (f *fakeModes) Mode() ltc2990.Mode { return f.mode }
func (f *fakeModes) SetMode(m ltc2990.Mode) error {
	if m > ltc2990.MaxMode {
		return ltc2990.ErrModeOutOfRange
	}
	f.mode = m
	if f.err != nil {
		return f.err
	}
	set, _ := ltc2990.Lookup(m)
	return f.reg.Refresh(set | ltc2990.AlwaysEnabled)
}

func newTestOutput(cfg config.MQTTConfig) (*MQTTOutput, *fakeClient, *fakeModes, *registry.Registry) {
	c := newFakeClient()
	reg := registry.New()
	modes := &fakeModes{mode: ltc2990.DefaultMode, reg: reg}
	m := &MQTTOutput{client: c, cfg: cfg, modes: modes}
	return m, c, modes, reg
}

func byTopic(pubs []published) map[string]published {
	out := make(map[string]published, len(pubs))
	for _, p := range pubs {
		out[p.topic] = p
	}
	return out
}

func TestTopicFormatting(t *testing.T) {
	m := &MQTTOutput{}
	assert.Equal(t, "ltc2990/in0", m.topic("in0"))
	m.cfg.Topic = "bench/ltc/"
	assert.Equal(t, "bench/ltc/curr1", m.topic("curr1"))
	m.cfg.Topic = "sensors/%s/state"
	assert.Equal(t, "sensors/mode/state", m.topic("mode"))
	assert.Equal(t, "sensors/mode/state/set", m.modeCommandTopic())
}

func TestPublishReadings(t *testing.T) {
	m, c, _, _ := newTestOutput(config.MQTTConfig{Topic: "ltc"})
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	err := m.Publish([]sensor.Reading{
		{Channel: ltc2990.TEMP1, Name: "temp1", Kind: "temperature", Raw: 0x0190, Value: 25000, Unit: "m°C", Timestamp: ts},
	})
	require.NoError(t, err)

	pubs := c.take()
	require.Len(t, pubs, 1)
	assert.Equal(t, "ltc/temp1", pubs[0].topic)
	assert.False(t, pubs[0].retained)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(pubs[0].payload), &got))
	assert.Equal(t, "temp1", got["channel"])
	assert.Equal(t, float64(25000), got["value"])
	assert.Equal(t, float64(0x0190), got["raw"])
	assert.NotContains(t, got, "milliamps")

	c.pubErr = errors.New("broker gone")
	assert.EqualError(t, m.Publish([]sensor.Reading{{Name: "in0"}}), "broker gone")
}

func TestRefreshChannelsDiscovery(t *testing.T) {
	m, c, _, _ := newTestOutput(config.MQTTConfig{ClientID: "bench", DiscoveryPrefix: "homeassistant"})
	set := ltc2990.SetOf(ltc2990.CURR1, ltc2990.CURR2) | ltc2990.AlwaysEnabled
	require.NoError(t, m.RefreshChannels(set))

	pubs := byTopic(c.take())
	require.Len(t, pubs, len(ltc2990.AllChannels)+2)
	for _, ch := range ltc2990.AllChannels {
		p, ok := pubs["homeassistant/sensor/bench_"+ch.String()+"/config"]
		require.True(t, ok, ch.String())
		assert.True(t, p.retained)
		if !set.Has(ch) {
			assert.Empty(t, p.payload, "hidden %s must be removed", ch)
			continue
		}
		var d map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(p.payload), &d))
		assert.Equal(t, "ltc2990/"+ch.String(), d[keyStateTopic])
		assert.Equal(t, "bench_"+ch.String(), d[keyUniqueID])
	}

	var temp map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(pubs["homeassistant/sensor/bench_temp1/config"].payload), &temp))
	assert.Equal(t, "°C", temp[keyUnitOfMeasurement])
	assert.Equal(t, valueTemplateMilli, temp[keyValueTemplate])

	var num map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(pubs["homeassistant/number/bench_mode/config"].payload), &num))
	assert.Equal(t, "ltc2990/mode/set", num[keyCommandTopic])
	assert.Equal(t, float64(7), num[keyMax])

	mode := pubs["ltc2990/mode"]
	assert.True(t, mode.retained)
	assert.Equal(t, "6", mode.payload)
}

func TestRefreshWithoutDiscoveryOnlyPublishesMode(t *testing.T) {
	m, c, _, _ := newTestOutput(config.MQTTConfig{})
	require.NoError(t, m.RefreshChannels(ltc2990.AlwaysEnabled))
	assert.Equal(t, []published{{"ltc2990/mode", true, "6"}}, c.take())
}

func TestModeCommand(t *testing.T) {
	m, c, modes, reg := newTestOutput(config.MQTTConfig{DiscoveryPrefix: "ha", ClientID: "x"})
	require.NoError(t, reg.Subscribe(m))
	require.NoError(t, m.subscribe(c))
	require.Contains(t, c.handlers, "ltc2990/mode/set")

	c.deliver("ltc2990/mode/set", " 5\n")
	assert.Equal(t, ltc2990.Mode(5), modes.mode)
	pubs := byTopic(c.take())
	assert.Equal(t, "5", pubs["ltc2990/mode"].payload)
	assert.Empty(t, pubs["ha/sensor/x_curr1/config"].payload)
	assert.NotEmpty(t, pubs["ha/sensor/x_temp2/config"].payload)

	c.deliver("ltc2990/mode/set", "8")
	assert.Equal(t, ltc2990.Mode(5), modes.mode)
	assert.Equal(t, []published{{"ltc2990/mode", true, "5"}}, c.take())

	c.deliver("ltc2990/mode/set", "-1")
	c.deliver("ltc2990/mode/set", "auto")
	assert.Equal(t, ltc2990.Mode(5), modes.mode)
	assert.Empty(t, c.take())

	modes.err = errors.New("trigger nack")
	c.deliver("ltc2990/mode/set", "2")
	assert.Equal(t, ltc2990.Mode(2), modes.mode)
	assert.Equal(t, []published{{"ltc2990/mode", true, "2"}}, c.take())
}

func TestSubscribeWithoutModes(t *testing.T) {
	c := newFakeClient()
	m := &MQTTOutput{client: c}
	require.NoError(t, m.subscribe(c))
	assert.Empty(t, c.handlers)
	require.NoError(t, m.RefreshChannels(ltc2990.AlwaysEnabled))
	assert.Empty(t, c.take())
}
