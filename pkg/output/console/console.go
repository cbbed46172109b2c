package console

import (
	"fmt"
	"time"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/output"
	"github.com/ericogr/ltc2990-to-mqtt/pkg/sensor"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		line := fmt.Sprintf("%s channel=%s raw=0x%04X value=%d%s", r.Timestamp.Format(time.RFC3339), r.Name, r.Raw, r.Value, r.Unit)
		if r.Milliamps != nil {
			line += fmt.Sprintf(" current=%.3fmA", *r.Milliamps)
		}
		fmt.Println(line)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
