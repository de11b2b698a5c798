/*
Package segment moves big-endian integers longer than one frame across the command channel.

The sender cuts the value from its least-significant end: the first chunk holds the last MaxFrame bytes, the next
chunk the MaxFrame bytes before those, and so on, until the most-significant remainder goes out tagged as the last
chunk. The receiver places chunk number i (counting from zero) flush against the right edge of whatever has already
been written:

	offset = capacity - (i * maxFrame + len(chunk))

so the least-significant byte always lands at the same offset, whatever the length of the value.

The tag byte answers exactly one question, "is this the last chunk of the transfer?". Whether a field of key
material is complete is tracked by the receiver's owner, never read off the wire.
*/
package segment

import (
	"errors"
	"fmt"
)

// MaxFrame is the default number of value bytes carried by a single chunk
const MaxFrame = 0xFF

// tag bits, as carried in P2
const (
	flagLast    byte = 0x01
	flagDivided byte = 0x10
)

// Tag is the segmentation tag carried with every chunk
type Tag byte

const (
	// Single marks a value sent in one frame
	Single Tag = 0x00
	// First marks a chunk of a divided value with more chunks to follow
	First Tag = Tag(flagDivided)
	// Last marks the final, most-significant chunk of a divided value
	Last Tag = Tag(flagDivided | flagLast)
)

var (
	// ErrInvalidTag is returned for a tag byte that is none of Single, First or Last
	ErrInvalidTag = errors.New("segment: invalid segmentation tag")
	// ErrOutOfOrder is returned for a last chunk that does not follow a first chunk
	ErrOutOfOrder = errors.New("segment: chunk out of order")
	// ErrChunkLength is returned for a chunk whose length cannot occur at its position
	ErrChunkLength = errors.New("segment: invalid chunk length")
)

// ParseTag validates a tag byte received from the wire
func ParseTag(b byte) (Tag, error) {
	switch t := Tag(b); t {
	case Single, First, Last:
		return t, nil
	default:
		return 0, fmt.Errorf("%w: %#02x", ErrInvalidTag, b)
	}
}

// Divided reports whether the chunk belongs to a multi-chunk transfer
func (t Tag) Divided() bool {
	return byte(t)&flagDivided != 0
}

// Final reports whether no chunk follows this one
func (t Tag) Final() bool {
	return t == Single || byte(t)&flagLast != 0
}

func (t Tag) String() string {
	switch t {
	case Single:
		return "single"
	case First:
		return "first"
	case Last:
		return "last"
	default:
		return fmt.Sprintf("Tag(%#02x)", byte(t))
	}
}

// Chunk is one frame's worth of a value
type Chunk struct {
	Tag  Tag
	Data []byte
}

// Split cuts a big-endian value into the chunks the receiver expects, least-significant chunk first.
// A value of at most maxFrame bytes (including the empty value) travels as a single chunk.
// The chunks share memory with value.
func Split(value []byte, maxFrame int) []Chunk {
	if maxFrame <= 0 {
		panic(fmt.Sprintf("segment: invalid frame size %d", maxFrame))
	}

	if len(value) <= maxFrame {
		return []Chunk{{Tag: Single, Data: value}}
	}

	chunks := make([]Chunk, 0, (len(value)+maxFrame-1)/maxFrame)
	for end := len(value); end > 0; end -= maxFrame {
		start := end - maxFrame
		tag := First
		if start <= 0 {
			start = 0
			tag = Last
		}
		chunks = append(chunks, Chunk{Tag: tag, Data: value[start:end]})
	}
	return chunks
}
