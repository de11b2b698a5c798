package clientsign

import (
	"bytes"

	"github.com/bastionzero/clientsign/apdu"
	"github.com/bastionzero/clientsign/segment"
)

// Class byte and instruction codes of the client signing protocol
const (
	ClassID        byte = 0x1C
	InsSetKeys     byte = 0x10
	InsSign        byte = 0x20
	InsSelfTest    byte = 0x30
	classISO       byte = 0x00
	insSelect      byte = 0xA4
	selectByName   byte = 0x04
	selectFirstOcc byte = 0x00
)

// DefaultAID is the application identifier answered to by SELECT
var DefaultAID = []byte("SMPCRSACli")

// An Instruction is a command decoded once at the dispatcher boundary, with its parameters typed
type Instruction interface {
	instruction()
}

// SelectCmd is the ISO SELECT-by-name command
type SelectCmd struct {
	AID []byte
}

// SetKeyCmd carries one chunk of one field of key material
type SetKeyCmd struct {
	Field Field
	Tag   segment.Tag
	Data  []byte
}

// SignCmd asks for the partial signature of a message representative
type SignCmd struct {
	Message []byte
}

// SelfTestCmd asks for the encrypt/decrypt consistency check of the key pair
type SelfTestCmd struct{}

func (SelectCmd) instruction()   {}
func (SetKeyCmd) instruction()   {}
func (SignCmd) instruction()     {}
func (SelfTestCmd) instruction() {}

// Decode validates the header of cmd and returns its typed instruction.
// The returned error is always an *apdu.StatusError.
func Decode(cmd apdu.Command) (Instruction, error) {
	if cmd.Class == classISO && cmd.Instruction == insSelect {
		if cmd.P1 != selectByName || cmd.P2 != selectFirstOcc {
			return nil, apdu.Errorf(apdu.StatusIncorrectP1P2, "only select by name is supported")
		}
		return SelectCmd{AID: cmd.Data}, nil
	}

	if cmd.Class != ClassID {
		return nil, apdu.Errorf(apdu.StatusClassNotSupported, "class %#02x", cmd.Class)
	}

	switch cmd.Instruction {
	case InsSetKeys:
		field, err := ParseField(cmd.P1)
		if err != nil {
			return nil, apdu.Errorf(apdu.StatusIncorrectP1P2, "%s", err)
		}
		tag, err := segment.ParseTag(cmd.P2)
		if err != nil {
			return nil, apdu.Errorf(apdu.StatusIncorrectP1P2, "%s", err)
		}
		return SetKeyCmd{Field: field, Tag: tag, Data: cmd.Data}, nil

	case InsSign:
		if cmd.P1 != 0 || cmd.P2 != 0 {
			return nil, apdu.Errorf(apdu.StatusIncorrectP1P2, "P1 and P2 must be zero")
		}
		return SignCmd{Message: cmd.Data}, nil

	case InsSelfTest:
		if cmd.P1 != 0 || cmd.P2 != 0 {
			return nil, apdu.Errorf(apdu.StatusIncorrectP1P2, "P1 and P2 must be zero")
		}
		return SelfTestCmd{}, nil

	default:
		return nil, apdu.Errorf(apdu.StatusInsNotSupported, "instruction %#02x", cmd.Instruction)
	}
}

// SelectCommand builds the SELECT command for aid
func SelectCommand(aid []byte) apdu.Command {
	return apdu.Command{Class: classISO, Instruction: insSelect, P1: selectByName, P2: selectFirstOcc, Data: aid}
}

func matchAID(want, got []byte) bool {
	return len(got) > 0 && bytes.Equal(want, got)
}
