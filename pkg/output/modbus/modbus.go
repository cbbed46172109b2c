package modbus

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/sensor"
)

// Holding register layout, relative to the configured base address:
//
//	0..19  channel values, int32 big-endian word pairs at 2*bit index
//	20     current mode
//	21     visible channel bitmask
const (
	slotMode   = 2 * 10
	slotMask   = slotMode + 1
	blockWords = slotMask + 1
)

type registerWriter interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type ModbusOutput struct {
	client  registerWriter
	closer  func() error
	base    uint16
	modes   sensor.ModeController
	mu      sync.Mutex
	block   [blockWords * 2]byte
	visible ltc2990.ChannelSet
}

func NewModbus(cfg config.ModbusConfig, modes sensor.ModeController) (*ModbusOutput, error) {
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.SlaveId = cfg.UnitID
	if cfg.TimeoutMs > 0 {
		h.Timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus connect %s: %w", cfg.Endpoint, err)
	}
	return newOutput(modbus.NewClient(h), h.Close, cfg.Address, modes), nil
}

func newOutput(w registerWriter, closer func() error, base uint16, modes sensor.ModeController) *ModbusOutput {
	return &ModbusOutput{
		client:  w,
		closer:  closer,
		base:    base,
		modes:   modes,
		visible: ltc2990.SetOf(ltc2990.AllChannels...),
	}
}

// Publish stores visible readings into the block and writes it in one
// transaction.
func (m *ModbusOutput) Publish(readings []sensor.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range readings {
		if !m.visible.Has(r.Channel) {
			continue
		}
		m.putValue(r.Channel, int32(r.Value))
	}
	return m.flush()
}

// RefreshChannels zeroes hidden channel slots and records mode and mask.
func (m *ModbusOutput) RefreshChannels(set ltc2990.ChannelSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible = set
	for _, ch := range ltc2990.AllChannels {
		if !set.Has(ch) {
			m.putValue(ch, 0)
		}
	}
	return m.flush()
}

func (m *ModbusOutput) putValue(ch ltc2990.Channel, v int32) {
	off := 2 * 2 * ch.Index()
	binary.BigEndian.PutUint32(m.block[off:off+4], uint32(v))
}

func (m *ModbusOutput) flush() error {
	var mode uint16
	if m.modes != nil {
		mode = uint16(m.modes.Mode())
	}
	binary.BigEndian.PutUint16(m.block[slotMode*2:], mode)
	binary.BigEndian.PutUint16(m.block[slotMask*2:], uint16(m.visible))
	if _, err := m.client.WriteMultipleRegisters(m.base, blockWords, m.block[:]); err != nil {
		return fmt.Errorf("modbus write: %w", err)
	}
	return nil
}

func (m *ModbusOutput) Close() error {
	if m.closer != nil {
		return m.closer()
	}
	return nil
}
