package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/sensor"
)

const (
	// defaults
	DefaultServer    = "tcp://localhost:1883"
	DefaultClientID  = "ltc2990-client"
	DefaultBaseTopic = "ltc2990"
	modeTopicName    = "mode"
	setSuffix        = "/set"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyCommandTopic        = "command_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	keyMin                 = "min"
	keyMax                 = "max"
	keyStep                = "step"
	deviceClassVoltage     = "voltage"
	deviceClassTemperature = "temperature"
	stateClassMeasurement  = "measurement"
	valueTemplateRaw       = "{{ value_json.value }}"
	valueTemplateMilli     = "{{ (value_json.value | float / 1000) | round(3) }}"
)

type MQTTOutput struct {
	client mqtt.Client
	cfg    config.MQTTConfig
	modes  sensor.ModeController
	mu     sync.Mutex // serializes discovery refreshes
}

// NewMQTT connects to the broker. The mode command topic is (re)subscribed
// on every connect so a broker restart does not lose it.
func NewMQTT(cfg config.MQTTConfig, modes sensor.ModeController) (*MQTTOutput, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	m := &MQTTOutput{cfg: cfg, modes: modes}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	// mode changes publish discovery from inside the message handler
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := m.subscribe(c); err != nil {
			log.Printf("mqtt subscribe error: %v", err)
		}
	})
	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return m, nil
}

func (m *MQTTOutput) subscribe(c mqtt.Client) error {
	if m.modes == nil {
		return nil
	}
	token := c.Subscribe(m.modeCommandTopic(), 1, m.handleModeSet)
	token.Wait()
	return token.Error()
}

// handleModeSet accepts a decimal mode 0-7 on the command topic.
func (m *MQTTOutput) handleModeSet(_ mqtt.Client, msg mqtt.Message) {
	s := strings.TrimSpace(string(msg.Payload()))
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		log.Printf("mqtt mode command %q rejected: %v", s, err)
		return
	}
	if err := m.modes.SetMode(ltc2990.Mode(v)); err != nil {
		log.Printf("mqtt mode command %d failed: %v", v, err)
		// mode may have advanced even though the chip rejected it
		m.publishMode()
		return
	}
	log.Printf("mqtt mode set to %d", v)
}

func (m *MQTTOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		token := m.client.Publish(m.topic(r.Name), 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

// RefreshChannels announces discovery entries for visible channels, removes
// the entries of hidden ones and publishes the current mode.
func (m *MQTTOutput) RefreshChannels(set ltc2990.ChannelSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.DiscoveryPrefix != "" {
		for _, ch := range ltc2990.AllChannels {
			topic := m.discoveryTopic("sensor", ch.String())
			if !set.Has(ch) {
				// an empty retained config removes the entity
				if err := m.PublishRaw(topic, []byte{}, true); err != nil {
					return err
				}
				continue
			}
			if err := publishJSON(m.client, topic, true, m.channelDiscovery(ch)); err != nil {
				return err
			}
		}
		if m.modes != nil {
			if err := publishJSON(m.client, m.discoveryTopic("number", modeTopicName), true, m.modeDiscovery()); err != nil {
				return err
			}
		}
	}
	return m.publishMode()
}

func (m *MQTTOutput) publishMode() error {
	if m.modes == nil {
		return nil
	}
	mode := strconv.FormatUint(uint64(m.modes.Mode()), 10)
	return m.PublishRaw(m.topic(modeTopicName), []byte(mode), true)
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for discovery messages.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}
	token := m.client.Publish(topic, 0, retained, payload)
	token.Wait()
	return token.Error()
}

// topic formats the state topic for name. A %s in the configured topic is
// replaced by name, otherwise name is appended as a level.
func (m *MQTTOutput) topic(name string) string {
	base := m.cfg.Topic
	if base == "" {
		base = DefaultBaseTopic
	}
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, name)
	}
	return strings.TrimSuffix(base, "/") + "/" + name
}

func (m *MQTTOutput) modeCommandTopic() string { return m.topic(modeTopicName) + setSuffix }

func (m *MQTTOutput) discoveryTopic(component, name string) string {
	return fmt.Sprintf("%s/%s/%s/config", strings.TrimSuffix(m.cfg.DiscoveryPrefix, "/"), component, discoveryUniqueID(m.cfg, name))
}

func (m *MQTTOutput) channelDiscovery(ch ltc2990.Channel) map[string]interface{} {
	stateTopic := m.topic(ch.String())
	payload := baseDiscoveryPayload(discoveryName(m.cfg, ch.String()), stateTopic, discoveryUniqueID(m.cfg, ch.String()))
	payload[keyStateClass] = stateClassMeasurement
	payload[keyJSONAttributesTopic] = stateTopic
	switch ch.Kind() {
	case ltc2990.KindTemperature:
		payload[keyDeviceClass] = deviceClassTemperature
		payload[keyUnitOfMeasurement] = "°C"
		payload[keyValueTemplate] = valueTemplateMilli
	case ltc2990.KindCurrent:
		payload[keyDeviceClass] = deviceClassVoltage
		payload[keyUnitOfMeasurement] = "µV"
		payload[keyValueTemplate] = valueTemplateRaw
	default:
		payload[keyDeviceClass] = deviceClassVoltage
		payload[keyUnitOfMeasurement] = "mV"
		payload[keyValueTemplate] = valueTemplateRaw
	}
	return payload
}

func (m *MQTTOutput) modeDiscovery() map[string]interface{} {
	payload := baseDiscoveryPayload(discoveryName(m.cfg, modeTopicName), m.topic(modeTopicName), discoveryUniqueID(m.cfg, modeTopicName))
	payload[keyCommandTopic] = m.modeCommandTopic()
	payload[keyMin] = 0
	payload[keyMax] = int(ltc2990.MaxMode)
	payload[keyStep] = 1
	return payload
}

// helper: build a human-friendly discovery name for an entity
func discoveryName(cfg config.MQTTConfig, entity string) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("LTC2990 %s", cfg.ClientID)
	}
	return fmt.Sprintf("%s %s", name, entity)
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, entity string) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	return fmt.Sprintf("%s_%s", uid, entity)
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:       name,
		keyStateTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
