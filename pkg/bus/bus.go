// Package bus provides LTC2990 register transports over periph.io and
// TinyGo I2C buses, plus an in-memory chip simulator.
package bus

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// txer is the one method both periph and TinyGo devices share.
type txer interface {
	Tx(w, r []byte) error
}

// I2CTransport implements ltc2990.Transport with SMBus-style byte writes and
// big-endian word reads.
type I2CTransport struct {
	dev    txer
	closer func() error
	w      [2]byte
	r      [2]byte
}

// OpenPeriph initialises the periph host drivers and opens the named I2C bus
// (e.g. "1" for /dev/i2c-1).
func OpenPeriph(busName string, addr uint16) (*I2CTransport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	return &I2CTransport{dev: &i2c.Dev{Addr: addr, Bus: b}, closer: b.Close}, nil
}

// NewTinyGo wraps an already configured TinyGo I2C bus.
func NewTinyGo(b drivers.I2C, addr uint16) *I2CTransport {
	return &I2CTransport{dev: tinygoDev{bus: b, addr: addr}}
}

type tinygoDev struct {
	bus  drivers.I2C
	addr uint16
}

func (d tinygoDev) Tx(w, r []byte) error { return d.bus.Tx(d.addr, w, r) }

func (t *I2CTransport) ReadWord(reg uint8) (uint16, error) {
	t.w[0] = reg
	if err := t.dev.Tx(t.w[:1], t.r[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(t.r[:]), nil
}

func (t *I2CTransport) WriteByte(reg, val uint8) error {
	t.w[0], t.w[1] = reg, val
	return t.dev.Tx(t.w[:], nil)
}

func (t *I2CTransport) Close() error {
	if t.closer != nil {
		return t.closer()
	}
	return nil
}
