package ltc2990

import (
	"log"
	"sync"
	"sync/atomic"
)

// Transport performs register transactions with one LTC2990.
type Transport interface {
	// ReadWord reads the big-endian register pair starting at reg.
	ReadWord(reg uint8) (uint16, error)
	WriteByte(reg, val uint8) error
}

// Registry is told which channels are meaningful whenever that changes.
type Registry interface {
	Refresh(ChannelSet) error
}

// State of the acquisition loop.
type State uint8

const (
	Idle State = iota
	Acquiring
)

func (s State) String() string {
	if s == Acquiring {
		return "acquiring"
	}
	return "idle"
}

// Monitor is the controller for one attached LTC2990.
type Monitor struct {
	t   Transport
	reg Registry

	mu    sync.Mutex // serializes bus access and mode changes
	mode  atomic.Uint32
	state State
}

// Attach configures the chip for continuous conversion in the configured
// mode and publishes the enabled channels to reg. A nil or out of range mode
// falls back to DefaultMode. On error nothing is published.
func Attach(t Transport, configured *int, reg Registry) (*Monitor, error) {
	mode := DefaultMode
	if configured != nil {
		if *configured < 0 || *configured > int(MaxMode) {
			log.Printf("ltc2990: mode %d out of range, defaulting to %d", *configured, DefaultMode)
		} else {
			mode = Mode(*configured)
		}
	}

	m := &Monitor{t: t, reg: reg}
	m.mode.Store(uint32(mode))
	if err := m.trigger(); err != nil {
		return nil, err
	}
	if reg != nil {
		if err := reg.Refresh(m.EnabledChannels()); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// trigger writes the control register and starts continuous conversion.
// Callers hold mu or own m exclusively.
func (m *Monitor) trigger() error {
	m.state = Idle
	ctrl := uint8(controlMeasureAll) | uint8(m.mode.Load())
	if err := m.t.WriteByte(regControl, ctrl); err != nil {
		log.Printf("ltc2990: failed to set control mode: %v", err)
		return &TransportError{Op: "write", Reg: regControl, Err: err}
	}
	if err := m.t.WriteByte(regTrigger, triggerStart); err != nil {
		log.Printf("ltc2990: failed to start acquisition: %v", err)
		return &TransportError{Op: "write", Reg: regTrigger, Err: err}
	}
	m.state = Acquiring
	return nil
}

// Sample is a decoded reading and the register word it came from.
type Sample struct {
	Channel Channel
	Raw     uint16
	Value   int
}

// ReadChannel reads and decodes c. Channels outside EnabledChannels are read
// anyway; their values are only meaningful in a mode that enables them.
func (m *Monitor) ReadChannel(c Channel) (int, error) {
	s, err := m.Sample(c)
	return s.Value, err
}

// Sample is ReadChannel keeping the raw register word.
func (m *Monitor) Sample(c Channel) (Sample, error) {
	reg, err := c.register()
	if err != nil {
		return Sample{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Acquiring {
		if err := m.trigger(); err != nil {
			return Sample{}, err
		}
		// a failed SetMode skipped the refresh; publish the mode now running
		if m.reg != nil {
			if err := m.reg.Refresh(m.EnabledChannels()); err != nil {
				log.Printf("ltc2990: channel refresh after retrigger: %v", err)
			}
		}
	}
	raw, err := m.t.ReadWord(reg)
	if err != nil {
		return Sample{}, &TransportError{Op: "read", Reg: reg, Err: err}
	}
	v, err := Decode(c.Kind(), raw)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Channel: c, Raw: raw, Value: v}, nil
}

// SetMode switches the chip to mode and restarts acquisition. The new mode is
// recorded before the bus writes, so it sticks even when they fail.
func (m *Monitor) SetMode(mode Mode) error {
	if _, err := Lookup(mode); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.mode.Store(uint32(mode))
	if err := m.trigger(); err != nil {
		return err
	}
	if m.reg != nil {
		return m.reg.Refresh(m.EnabledChannels())
	}
	return nil
}

// Mode returns the current mode without waiting for in-flight bus traffic.
func (m *Monitor) Mode() Mode { return Mode(m.mode.Load()) }

// EnabledChannels returns the channels meaningful in the current mode.
func (m *Monitor) EnabledChannels() ChannelSet {
	set, _ := Lookup(m.Mode())
	return set | AlwaysEnabled
}

// State reports whether continuous conversion was started for the current mode.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
