package ltc2990

import "fmt"

// Mode selects which shared registers carry which measurements.
type Mode uint32

const (
	MaxMode     Mode = 7
	DefaultMode Mode = 6
)

// AlwaysEnabled channels have dedicated registers and are valid in every mode.
const AlwaysEnabled = ChannelSet(TEMP1 | IN0)

var modeTable = [MaxMode + 1]ChannelSet{
	ChannelSet(IN1 | IN2 | TEMP3),
	ChannelSet(CURR1 | TEMP3),
	ChannelSet(CURR1 | IN3 | IN4),
	ChannelSet(TEMP2 | IN3 | IN4),
	ChannelSet(TEMP2 | CURR2),
	ChannelSet(TEMP2 | TEMP3),
	ChannelSet(CURR1 | CURR2),
	ChannelSet(IN1 | IN2 | IN3 | IN4),
}

// Lookup returns the mode-dependent channels enabled by m. AlwaysEnabled is
// not included.
func Lookup(m Mode) (ChannelSet, error) {
	if m > MaxMode {
		return 0, fmt.Errorf("%w: %d", ErrModeOutOfRange, m)
	}
	return modeTable[m], nil
}
