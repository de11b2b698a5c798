package clientsign

import (
	"fmt"

	"github.com/bastionzero/clientsign/bignat"
)

// Field selects one component of the key material. Its value is the P1 byte of a SET_KEYS command.
type Field byte

const (
	FieldE Field = 0x00 // public exponent, only needed by the self-test
	FieldD Field = 0x01 // private exponent (this party's share)
	FieldN Field = 0x02 // modulus

	numFields = 3
)

// Fields lists every field in provisioning order
var Fields = []Field{FieldE, FieldD, FieldN}

// ParseField validates a field selector
func ParseField(b byte) (Field, error) {
	if b >= numFields {
		return 0, fmt.Errorf("unknown field selector %#02x", b)
	}
	return Field(b), nil
}

func (f Field) String() string {
	switch f {
	case FieldE:
		return "E"
	case FieldD:
		return "D"
	case FieldN:
		return "N"
	default:
		return fmt.Sprintf("Field(%#02x)", byte(f))
	}
}

// FieldStatus records which fields hold a complete value
type FieldStatus [numFields]bool

// Has reports whether f is complete
func (s FieldStatus) Has(f Field) bool {
	return s[f]
}

// Ready reports whether signing is possible: D and N are complete. E plays no part.
func (s FieldStatus) Ready() bool {
	return s[FieldD] && s[FieldN]
}

// KeyMaterial is the persistent key of this party: (E, D, N), each in a fixed-capacity buffer
type KeyMaterial struct {
	E *bignat.Nat
	D *bignat.Nat
	N *bignat.Nat
}

func newKeyMaterial(capacity int) KeyMaterial {
	return KeyMaterial{
		E: bignat.New(capacity),
		D: bignat.New(capacity),
		N: bignat.New(capacity),
	}
}

func (k *KeyMaterial) field(f Field) *bignat.Nat {
	switch f {
	case FieldE:
		return k.E
	case FieldD:
		return k.D
	default:
		return k.N
	}
}

// State is the provisioning state of the device
type State int

const (
	// StateEmpty means no field holds or is receiving any data
	StateEmpty State = iota
	// StatePartial means some material is present or in transit, but D and N are not both complete
	StatePartial
	// StateReady means D and N are both complete
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StatePartial:
		return "PARTIAL"
	case StateReady:
		return "READY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
