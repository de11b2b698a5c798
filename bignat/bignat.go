/*
Package bignat implements a fixed-capacity unsigned big integer, the value type the device keeps its key material in.

A Nat owns a buffer of exactly Cap() bytes holding a big-endian value flush against the right edge of the buffer.
Its logical length Len() counts the bytes from the first stored byte to the end of the buffer; Shrink drops leading
zero bytes from that count. Nothing ever grows the buffer: a value that would not fit is rejected with [ErrOverflow].

Modular exponentiation is delegated to github.com/cronokirby/saferith so that the private exponent never drives a
variable-time code path.
*/
package bignat

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/cronokirby/saferith"
)

var (
	// ErrOverflow is returned when a value does not fit into the capacity of a Nat
	ErrOverflow = errors.New("bignat: value exceeds capacity")
	// ErrZeroModulus is returned by ModExp when the modulus is zero
	ErrZeroModulus = errors.New("bignat: modulus is zero")
)

// Nat is an unsigned integer stored in a fixed-capacity big-endian buffer
type Nat struct {
	buf  []byte
	size int
}

// New returns a zero-valued Nat able to hold capacity bytes
func New(capacity int) *Nat {
	if capacity <= 0 {
		panic(fmt.Sprintf("bignat: invalid capacity %d", capacity))
	}
	return &Nat{buf: make([]byte, capacity)}
}

// FromBytes returns a Nat of the given capacity holding the big-endian value b
func FromBytes(capacity int, b []byte) (*Nat, error) {
	n := New(capacity)
	if err := n.SetBytes(b); err != nil {
		return nil, err
	}
	return n, nil
}

// Cap returns the capacity of n in bytes
func (n *Nat) Cap() int {
	return len(n.buf)
}

// Len returns the logical length of n in bytes
func (n *Nat) Len() int {
	return n.size
}

// IsZero reports whether every byte of n is zero
func (n *Nat) IsZero() bool {
	var acc byte
	for _, b := range n.buf {
		acc |= b
	}
	return acc == 0
}

// SetBytes replaces the value of n with the big-endian value b.
// Leading zero bytes of b do not count against the capacity.
func (n *Nat) SetBytes(b []byte) error {
	b = trim(b)
	if len(b) > len(n.buf) {
		return fmt.Errorf("%w: %d significant bytes, capacity %d", ErrOverflow, len(b), len(n.buf))
	}
	n.Wipe()
	copy(n.buf[len(n.buf)-len(b):], b)
	n.size = len(b)
	return nil
}

// SetAt copies data into the buffer starting at offset, leaving the other bytes untouched.
// The logical length grows to cover the written bytes.
func (n *Nat) SetAt(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > len(n.buf) {
		return fmt.Errorf("%w: cannot place %d bytes at offset %d, capacity %d", ErrOverflow, len(data), offset, len(n.buf))
	}
	copy(n.buf[offset:], data)
	if covered := len(n.buf) - offset; covered > n.size {
		n.size = covered
	}
	return nil
}

// Set copies the value of x into n. x may have a different capacity as long as its value fits.
func (n *Nat) Set(x *Nat) error {
	return n.SetBytes(x.Trimmed())
}

// Shrink reduces the logical length of n to its significant bytes
func (n *Nat) Shrink() {
	n.size = len(trim(n.buf))
}

// Bytes returns a copy of the whole buffer: the value as a fixed-width, Cap()-byte big-endian array
func (n *Nat) Bytes() []byte {
	out := make([]byte, len(n.buf))
	copy(out, n.buf)
	return out
}

// Trimmed returns a copy of the significant bytes of n (empty for zero)
func (n *Nat) Trimmed() []byte {
	sig := trim(n.buf)
	out := make([]byte, len(sig))
	copy(out, sig)
	return out
}

// Equal reports whether n and x hold the same value, independently of capacity and logical length
func (n *Nat) Equal(x *Nat) bool {
	a, b := n.buf, x.buf
	// left-pad the shorter buffer so both compare at the same width
	if len(a) != len(b) {
		width := len(a)
		if len(b) > width {
			width = len(b)
		}
		a, b = pad(a, width), pad(b, width)
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Clone returns an independent copy of n with the same capacity
func (n *Nat) Clone() *Nat {
	return &Nat{buf: n.Bytes(), size: n.size}
}

// ModExp sets n to base^exp mod m. The result is shrunk to its significant bytes.
// n may alias base.
func (n *Nat) ModExp(base *Nat, exp *Nat, m *Nat) error {
	modBytes := trim(m.buf)
	if len(modBytes) == 0 {
		return ErrZeroModulus
	}
	if len(modBytes) > len(n.buf) {
		return fmt.Errorf("%w: modulus of %d bytes, capacity %d", ErrOverflow, len(modBytes), len(n.buf))
	}

	modulus := saferith.ModulusFromBytes(modBytes)
	x := new(saferith.Nat).Mod(new(saferith.Nat).SetBytes(trim(base.buf)), modulus)
	y := new(saferith.Nat).SetBytes(trim(exp.buf))

	result := new(saferith.Nat).Exp(x, y, modulus)

	// the result is below the modulus, so it always fits
	n.Wipe()
	result.FillBytes(n.buf)
	n.Shrink()
	return nil
}

// Wipe zeroes the buffer and the logical length
func (n *Nat) Wipe() {
	for i := range n.buf {
		n.buf[i] = 0
	}
	n.size = 0
}

// String returns the significant bytes in hex, for debugging
func (n *Nat) String() string {
	return fmt.Sprintf("%x", trim(n.buf))
}

// drops leading zero bytes without copying
func trim(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return b[i:]
}

func pad(b []byte, width int) []byte {
	if len(b) >= width {
		return b
	}
	out := make([]byte, width)
	copy(out[width-len(b):], b)
	return out
}
