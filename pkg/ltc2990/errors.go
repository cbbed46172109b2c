package ltc2990

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("ltc2990: invalid argument")
	ErrModeOutOfRange  = fmt.Errorf("%w: mode out of range", ErrInvalidArgument)
	ErrInvalidChannel  = errors.New("ltc2990: invalid channel")
)

// TransportError reports a failed bus transaction.
type TransportError struct {
	Op  string // "read" or "write"
	Reg uint8
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ltc2990: %s register 0x%02x: %v", e.Op, e.Reg, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
