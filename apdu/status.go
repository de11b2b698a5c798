package apdu

import (
	"errors"
	"fmt"
)

// Status is the two-byte status word that ends every response
type Status uint16

// ISO 7816-4 status words used by the device
const (
	StatusOK                     Status = 0x9000
	StatusWrongLength            Status = 0x6700
	StatusDataInvalid            Status = 0x6984
	StatusConditionsNotSatisfied Status = 0x6985
	StatusFileNotFound           Status = 0x6A82
	StatusIncorrectP1P2          Status = 0x6A86
	StatusInsNotSupported        Status = 0x6D00
	StatusClassNotSupported      Status = 0x6E00
	StatusUnknown                Status = 0x6F00
)

var statusNames = map[Status]string{
	StatusOK:                     "no error",
	StatusWrongLength:            "wrong length",
	StatusDataInvalid:            "data invalid",
	StatusConditionsNotSatisfied: "conditions of use not satisfied",
	StatusFileNotFound:           "file or application not found",
	StatusIncorrectP1P2:          "incorrect parameters P1-P2",
	StatusInsNotSupported:        "instruction not supported",
	StatusClassNotSupported:      "class not supported",
	StatusUnknown:                "no precise diagnosis",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("%04X (%s)", uint16(s), name)
	}
	return fmt.Sprintf("%04X", uint16(s))
}

// StatusError is a rejected command: the status word the device answered with, and optionally why
type StatusError struct {
	Status Status
	Reason string
}

// Errorf returns a *StatusError for status with a formatted reason
func Errorf(status Status, format string, args ...interface{}) *StatusError {
	return &StatusError{Status: status, Reason: fmt.Sprintf(format, args...)}
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("apdu: status %s: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("apdu: status %s", e.Status)
}

// Is matches any *StatusError carrying the same status word, so callers can compare against a bare
// &StatusError{Status: ...} with errors.Is
func (e *StatusError) Is(target error) bool {
	var t *StatusError
	if !errors.As(target, &t) {
		return false
	}
	return t.Status == e.Status
}

// StatusOf returns the status word an error should be reported with.
// nil maps to StatusOK and errors that carry no status map to StatusUnknown.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusUnknown
}
