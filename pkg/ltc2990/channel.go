package ltc2990

import (
	"fmt"
	"math/bits"
	"strings"
)

// Channel is a logical measurement. Values are single bits so they can be
// combined into a ChannelSet.
type Channel uint16

const (
	IN0 Channel = 1 << iota // Vcc supply
	IN1
	IN2
	IN3
	IN4
	CURR1 // V1-V2
	CURR2 // V3-V4
	TEMP1 // internal
	TEMP2 // remote diode on V1/V2
	TEMP3 // remote diode on V3/V4
)

// AllChannels lists every logical channel in publication order.
var AllChannels = []Channel{IN0, IN1, IN2, IN3, IN4, CURR1, CURR2, TEMP1, TEMP2, TEMP3}

// Kind selects the conversion rule applied to a raw register word.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSupply
	KindVoltage
	KindCurrent
	KindTemperature
)

func (k Kind) String() string {
	switch k {
	case KindSupply:
		return "supply"
	case KindVoltage:
		return "voltage"
	case KindCurrent:
		return "current"
	case KindTemperature:
		return "temperature"
	}
	return "unknown"
}

// Unit is the unit of Decode's result for the kind.
func (k Kind) Unit() string {
	switch k {
	case KindSupply, KindVoltage:
		return "mV"
	case KindCurrent:
		return "µV"
	case KindTemperature:
		return "m°C"
	}
	return ""
}

var channelNames = map[Channel]string{
	IN0:   "in0",
	IN1:   "in1",
	IN2:   "in2",
	IN3:   "in3",
	IN4:   "in4",
	CURR1: "curr1",
	CURR2: "curr2",
	TEMP1: "temp1",
	TEMP2: "temp2",
	TEMP3: "temp3",
}

func (c Channel) String() string {
	if n, ok := channelNames[c]; ok {
		return n
	}
	return fmt.Sprintf("channel(0x%x)", uint16(c))
}

// Kind reports the conversion rule for c, KindUnknown if c is not a single
// known channel.
func (c Channel) Kind() Kind {
	switch c {
	case IN0:
		return KindSupply
	case IN1, IN2, IN3, IN4:
		return KindVoltage
	case CURR1, CURR2:
		return KindCurrent
	case TEMP1, TEMP2, TEMP3:
		return KindTemperature
	}
	return KindUnknown
}

// Index is the bit position of c, used as a stable slot number.
func (c Channel) Index() int { return bits.TrailingZeros16(uint16(c)) }

// register returns the MSB address of the register pair backing c.
func (c Channel) register() (uint8, error) {
	switch c {
	case IN0:
		return regVcc, nil
	case IN1, CURR1, TEMP2:
		return regV1, nil
	case IN2:
		return regV2, nil
	case IN3, CURR2, TEMP3:
		return regV3, nil
	case IN4:
		return regV4, nil
	case TEMP1:
		return regTInt, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidChannel, c)
}

// ParseChannel resolves a channel name such as "curr1" (case-insensitive).
func ParseChannel(name string) (Channel, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for c, cn := range channelNames {
		if cn == n {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, name)
}

// ChannelSet is a bitset of channels.
type ChannelSet uint16

// Has reports whether every channel in c is in s.
func (s ChannelSet) Has(c Channel) bool { return c != 0 && uint16(s)&uint16(c) == uint16(c) }

// With returns s plus c.
func (s ChannelSet) With(c Channel) ChannelSet { return s | ChannelSet(c) }

// Channels returns the members of s in AllChannels order.
func (s ChannelSet) Channels() []Channel {
	out := make([]Channel, 0, bits.OnesCount16(uint16(s)))
	for _, c := range AllChannels {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s ChannelSet) String() string {
	chs := s.Channels()
	names := make([]string, len(chs))
	for i, c := range chs {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

// SetOf builds a ChannelSet from channels.
func SetOf(chs ...Channel) ChannelSet {
	var s ChannelSet
	for _, c := range chs {
		s = s.With(c)
	}
	return s
}
