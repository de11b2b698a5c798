// Package apdu encodes the short command/response frames (ISO 7816-4 APDUs) exchanged with the device.
//
// A command carries a 4-byte header (class, instruction, P1, P2) and at most [MaxPayload] bytes of data.
// A response carries data followed by a two-byte status word.
package apdu

import (
	"errors"
	"fmt"
)

// MaxPayload is the largest data field a short command can carry
const MaxPayload = 0xFF

const headerLen = 4

var (
	// ErrShortFrame is returned when a frame is too short to hold its header or declared data
	ErrShortFrame = errors.New("apdu: frame too short")
	// ErrPayloadTooLong is returned when command data does not fit a short APDU
	ErrPayloadTooLong = errors.New("apdu: payload exceeds 255 bytes")
	// ErrMalformed is returned when the length fields of a command do not add up
	ErrMalformed = errors.New("apdu: malformed command")
)

// Command is a request frame
type Command struct {
	Class       byte
	Instruction byte
	P1          byte
	P2          byte
	Data        []byte
}

// MarshalBinary encodes c as CLA INS P1 P2 [Lc DATA]
func (c Command) MarshalBinary() ([]byte, error) {
	if len(c.Data) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(c.Data))
	}

	out := make([]byte, headerLen, headerLen+1+len(c.Data))
	out[0], out[1], out[2], out[3] = c.Class, c.Instruction, c.P1, c.P2
	if len(c.Data) > 0 {
		out = append(out, byte(len(c.Data)))
		out = append(out, c.Data...)
	}
	return out, nil
}

// ParseCommand decodes a short command frame.
// All four ISO cases are accepted; a trailing Le byte is ignored.
func ParseCommand(b []byte) (Command, error) {
	if len(b) < headerLen {
		return Command{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}

	cmd := Command{Class: b[0], Instruction: b[1], P1: b[2], P2: b[3]}
	body := b[headerLen:]

	switch {
	case len(body) == 0, len(body) == 1:
		// case 1 (header only) or case 2 (header + Le)
		return cmd, nil
	default:
		lc := int(body[0])
		if lc == 0 {
			return Command{}, fmt.Errorf("%w: extended length is not supported", ErrMalformed)
		}
		// case 3 (Lc + data) or case 4 (Lc + data + Le)
		if len(body) != 1+lc && len(body) != 2+lc {
			if len(body) < 1+lc {
				return Command{}, fmt.Errorf("%w: declared %d data bytes, got %d", ErrShortFrame, lc, len(body)-1)
			}
			return Command{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(body)-1-lc)
		}
		cmd.Data = append([]byte(nil), body[1:1+lc]...)
		return cmd, nil
	}
}

// String summarises the header and data length, never the data itself
func (c Command) String() string {
	return fmt.Sprintf("CLA=%02X INS=%02X P1=%02X P2=%02X Lc=%d", c.Class, c.Instruction, c.P1, c.P2, len(c.Data))
}

// Response is a reply frame
type Response struct {
	Data   []byte
	Status Status
}

// OK returns a successful response carrying data
func OK(data []byte) Response {
	return Response{Data: data, Status: StatusOK}
}

// MarshalBinary encodes r as DATA SW1 SW2
func (r Response) MarshalBinary() ([]byte, error) {
	out := make([]byte, len(r.Data), len(r.Data)+2)
	copy(out, r.Data)
	return append(out, byte(r.Status>>8), byte(r.Status)), nil
}

// ParseResponse decodes a reply frame
func ParseResponse(b []byte) (Response, error) {
	if len(b) < 2 {
		return Response{}, fmt.Errorf("%w: response of %d bytes has no status word", ErrShortFrame, len(b))
	}
	n := len(b) - 2
	return Response{
		Data:   append([]byte(nil), b[:n]...),
		Status: Status(b[n])<<8 | Status(b[n+1]),
	}, nil
}

// Err returns nil for a successful response and a *StatusError otherwise
func (r Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &StatusError{Status: r.Status}
}
