package segment

import (
	"fmt"

	"github.com/bastionzero/clientsign/bignat"
)

// An Assembler rebuilds one value from its chunks into a staging buffer of fixed capacity.
//
// Chunks must arrive in the order Split produces them. A rejected chunk leaves the assembler exactly as it was,
// except for a first chunk that can only be followed by a last one: that abandons the whole transfer.
// The staging buffer is only ever handed out once the final chunk has been accepted.
type Assembler struct {
	maxFrame int
	staging  *bignat.Nat
	part     int  // chunks accepted so far in the current transfer
	active   bool // a divided transfer has started and not yet finished
}

// NewAssembler returns an idle assembler for values of up to capacity bytes
func NewAssembler(capacity int, maxFrame int) *Assembler {
	if maxFrame <= 0 {
		panic(fmt.Sprintf("segment: invalid frame size %d", maxFrame))
	}
	return &Assembler{
		maxFrame: maxFrame,
		staging:  bignat.New(capacity),
	}
}

// Active reports whether a divided transfer is in progress
func (a *Assembler) Active() bool {
	return a.active
}

// Parts returns how many chunks of the current transfer have been accepted
func (a *Assembler) Parts() int {
	return a.part
}

// StartsTransfer reports whether a chunk with this tag would begin a new transfer rather than continue one
func (a *Assembler) StartsTransfer(tag Tag) bool {
	return tag == Single || (tag == First && !a.active)
}

// Accept places one chunk. It returns true once the value is complete, at which point Value holds it,
// shrunk to its significant bytes.
//
// A single chunk always starts over, abandoning any transfer in progress.
// A first chunk past the room left for a last chunk returns ErrOutOfOrder and abandons it as well.
func (a *Assembler) Accept(tag Tag, data []byte) (bool, error) {
	capacity := a.staging.Cap()

	switch tag {
	case Single:
		if len(data) > a.maxFrame {
			return false, fmt.Errorf("%w: single chunk of %d bytes exceeds frame size %d", ErrChunkLength, len(data), a.maxFrame)
		}
		if len(data) > capacity {
			return false, fmt.Errorf("%w: %d bytes into %d", bignat.ErrOverflow, len(data), capacity)
		}

		a.reset()
		if err := a.staging.SetAt(capacity-len(data), data); err != nil {
			return false, err
		}
		a.staging.Shrink()
		return true, nil

	case First:
		part := 0
		if a.active {
			part = a.part
		}
		// every chunk but the last one is exactly one frame long
		if len(data) != a.maxFrame {
			return false, fmt.Errorf("%w: chunk %d is %d bytes, expected %d", ErrChunkLength, part, len(data), a.maxFrame)
		}
		offset := capacity - (part*a.maxFrame + len(data))
		// leave room for at least one byte of the last chunk
		if offset < 1 {
			if part == 0 {
				return false, fmt.Errorf("%w: a divided value does not fit %d bytes", bignat.ErrOverflow, capacity)
			}
			// only a last chunk can follow, so the transfer cannot be completed as sent
			a.reset()
			return false, fmt.Errorf("%w: chunk %d leaves no room for a last chunk, transfer abandoned", ErrOutOfOrder, part)
		}

		if !a.active {
			a.reset()
			a.active = true
		}
		if err := a.staging.SetAt(offset, data); err != nil {
			return false, err
		}
		a.part++
		return false, nil

	case Last:
		if !a.active {
			return false, fmt.Errorf("%w: last chunk without a preceding first chunk", ErrOutOfOrder)
		}
		if len(data) == 0 || len(data) > a.maxFrame {
			return false, fmt.Errorf("%w: last chunk is %d bytes", ErrChunkLength, len(data))
		}
		offset := capacity - (a.part*a.maxFrame + len(data))
		if offset < 0 {
			return false, fmt.Errorf("%w: chunk %d ends %d bytes before the buffer", bignat.ErrOverflow, a.part, -offset)
		}

		if err := a.staging.SetAt(offset, data); err != nil {
			return false, err
		}
		a.staging.Shrink()
		a.part++
		a.active = false
		return true, nil

	default:
		return false, fmt.Errorf("%w: %#02x", ErrInvalidTag, byte(tag))
	}
}

// Value returns the staging buffer. Its contents are only meaningful right after Accept returned true.
func (a *Assembler) Value() *bignat.Nat {
	return a.staging
}

// Reset abandons any transfer in progress and wipes the staging buffer
func (a *Assembler) Reset() {
	a.reset()
}

func (a *Assembler) reset() {
	a.staging.Wipe()
	a.part = 0
	a.active = false
}
