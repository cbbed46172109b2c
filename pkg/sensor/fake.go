package sensor

import (
	"math/rand"
	"sync"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/bus"
)

// jitter keeps a simulated chip's measurement registers wandering around
// their preset values so simulated outputs are not flat lines.
type jitter struct {
	sim  *bus.Simulator
	mu   sync.Mutex
	base map[uint8]uint16
	rnd  *rand.Rand
}

func newJitter(sim *bus.Simulator, seed int64) *jitter {
	return &jitter{
		sim: sim,
		base: map[uint8]uint16{
			0x04: 0x0190, // 25 °C die
			0x06: 0x0CCD, // ~1 V, or 19 µV steps in differential modes
			0x08: 0x0CCD,
			0x0A: 0x0CCD,
			0x0C: 0x0CCD,
			0x0E: 0x1F00, // ~4.9 V supply
		},
		rnd: rand.New(rand.NewSource(seed)),
	}
}

func (j *jitter) step() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for reg, v := range j.base {
		n := int(v) + j.rnd.Intn(17) - 8
		if n < 0 {
			n = 0
		}
		j.sim.Set(reg, uint16(n))
	}
}
