package bus

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*Simulator)(nil)

var (
	ErrNoDevice    = errors.New("sim: no device at address")
	ErrInjected    = errors.New("sim: injected bus failure")
	ErrBadTransfer = errors.New("sim: unsupported transfer")
)

// Simulator is a register-level LTC2990 stand-in. Measurement registers hold
// whatever was last Set; CONTROL and TRIGGER writes are recorded.
type Simulator struct {
	mu       sync.Mutex
	addr     uint16
	regs     [16]byte
	triggers int
	failW    map[uint8]bool
	failR    bool
}

// NewSimulator returns a simulated chip answering at addr, preloaded with a
// plausible bench setup: 5 V supply, 25 °C die, ~1 V inputs.
func NewSimulator(addr uint16) *Simulator {
	s := &Simulator{addr: addr, failW: map[uint8]bool{}}
	s.Set(0x0E, 0x1FFF) // Vcc 4999 mV
	s.Set(0x04, 0x0190) // 25 °C
	s.Set(0x06, 0x0CCD)
	s.Set(0x08, 0x0CCD)
	s.Set(0x0A, 0x0CCD)
	s.Set(0x0C, 0x0CCD)
	return s
}

// Set stores a big-endian word at the register pair starting at reg.
func (s *Simulator) Set(reg uint8, word uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg&0x0F] = byte(word >> 8)
	s.regs[(reg+1)&0x0F] = byte(word)
}

// Control returns the last value written to the control register.
func (s *Simulator) Control() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[0x01]
}

// Triggers counts writes to the trigger register.
func (s *Simulator) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers
}

// FailWrites makes writes to reg fail until cleared.
func (s *Simulator) FailWrites(reg uint8, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failW[reg] = fail
}

// FailReads makes every read fail until cleared.
func (s *Simulator) FailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failR = fail
}

func (s *Simulator) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr != s.addr {
		return ErrNoDevice
	}
	if len(w) == 0 || int(w[0]) >= len(s.regs) {
		return ErrBadTransfer
	}
	ptr := w[0]
	switch {
	case len(w) == 2 && len(r) == 0:
		if s.failW[ptr] {
			return ErrInjected
		}
		s.regs[ptr] = w[1]
		if ptr == 0x02 {
			s.triggers++
		}
		return nil
	case len(w) == 1 && len(r) > 0:
		if s.failR {
			return ErrInjected
		}
		for i := range r {
			r[i] = s.regs[(int(ptr)+i)%len(s.regs)]
		}
		return nil
	}
	return ErrBadTransfer
}
