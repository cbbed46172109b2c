// Package ltc2990 decodes LTC2990 quad I2C voltage, current and temperature
// monitor registers and drives its continuous acquisition modes.
package ltc2990

const (
	// 7-bit I2C address with ADR1=ADR0=0.
	AddressDefault = 0x4C

	regStatus  = 0x00
	regControl = 0x01
	regTrigger = 0x02
	regTInt    = 0x04 // internal temperature MSB
	regV1      = 0x06
	regV2      = 0x08
	regV3      = 0x0A
	regV4      = 0x0C
	regVcc     = 0x0E

	controlMeasureAll = 0x3 << 3
	triggerStart      = 0x01
)
