package sensor

import (
	"github.com/ericogr/ltc2990-to-mqtt/pkg/config"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
)

// buildChannelSettings extracts the publish filter and sense resistors from
// the config. With no channels configured every visible channel is published.
func buildChannelSettings(cfg config.Config) (selected ltc2990.ChannelSet, sense map[ltc2990.Channel]float64, err error) {
	sense = make(map[ltc2990.Channel]float64)
	if len(cfg.Channels) == 0 {
		return ltc2990.SetOf(ltc2990.AllChannels...), sense, nil
	}
	for _, c := range cfg.Channels {
		ch, err := ltc2990.ParseChannel(c.Name)
		if err != nil {
			return 0, nil, err
		}
		if c.SenseResistorMilliOhm > 0 {
			sense[ch] = c.SenseResistorMilliOhm
		}
		if c.Enabled {
			selected = selected.With(ch)
		}
	}
	return selected, sense, nil
}

// milliamps converts a differential sense voltage across mohm into mA.
func milliamps(uV int, mohm float64) float64 {
	return float64(uV) / mohm
}
