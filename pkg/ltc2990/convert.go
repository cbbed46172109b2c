package ltc2990

import "fmt"

// SignExtend14 interprets the low 14 bits of raw as two's complement with
// bit 13 as the sign and scales the result by 4 into a 16-bit range.
// Bits 14 and 15 are ignored.
func SignExtend14(raw uint16) int {
	v := int(raw & 0x3FFF)
	if raw&0x2000 != 0 {
		return -(0x4000 - v) << 2
	}
	return v << 2
}

// Decode converts a big-endian register word into an integer physical value:
// millivolts for supply and voltage kinds, microvolts of differential sense
// voltage for current kinds and millidegrees Celsius for temperature kinds.
// Division truncates toward zero.
func Decode(kind Kind, raw uint16) (int, error) {
	switch kind {
	case KindTemperature:
		// 0.0625 °C/LSB, 13-bit
		v := int(raw&0x1FFF) << 3
		return (v * 1000) >> 7, nil
	case KindCurrent:
		// 19.42 µV/LSB
		return SignExtend14(raw) * 1942 / (4 * 100), nil
	case KindSupply:
		// 305.18 µV/LSB, 2.5 V offset
		return SignExtend14(raw)*30518/(4*100*1000) + 2500, nil
	case KindVoltage:
		// 305.18 µV/LSB
		return SignExtend14(raw) * 30518 / (4 * 100 * 1000), nil
	}
	return 0, fmt.Errorf("%w: kind %s", ErrInvalidChannel, kind)
}
