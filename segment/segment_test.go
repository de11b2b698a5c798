package segment

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/bastionzero/clientsign/bignat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSegment(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Segment Suite")
}

// random value whose most significant byte is non-zero, so its trimmed form is itself
func randomValue(length int) []byte {
	v := make([]byte, length)
	_, _ = rand.Read(v)
	v[0] |= 0x80
	return v
}

// feed every chunk to a, failing on the first rejection
func assemble(a *Assembler, chunks []Chunk) *bignat.Nat {
	for i, c := range chunks {
		done, err := a.Accept(c.Tag, c.Data)
		Expect(err).To(BeNil(), fmt.Sprintf("chunk %d rejected: %s", i, err))
		Expect(done).To(Equal(i == len(chunks)-1), fmt.Sprintf("unexpected completion at chunk %d", i))
	}
	return a.Value()
}

var _ = Describe("Segmented transfer", func() {

	Context("Tags", func() {
		It("Parses the three wire values", func() {
			for b, want := range map[byte]Tag{0x00: Single, 0x10: First, 0x11: Last} {
				tag, err := ParseTag(b)
				Expect(err).To(BeNil())
				Expect(tag).To(Equal(want))
			}
		})

		It("Rejects anything else", func() {
			for _, b := range []byte{0x01, 0x02, 0x12, 0x20, 0xFF} {
				_, err := ParseTag(b)
				Expect(err).To(MatchError(ErrInvalidTag), fmt.Sprintf("tag %#02x", b))
			}
		})

		It("Keeps 'divided' and 'final' as separate questions", func() {
			Expect(Single.Divided()).To(BeFalse())
			Expect(Single.Final()).To(BeTrue())
			Expect(First.Divided()).To(BeTrue())
			Expect(First.Final()).To(BeFalse())
			Expect(Last.Divided()).To(BeTrue())
			Expect(Last.Final()).To(BeTrue())
		})
	})

	Context("Splitting", func() {
		It("Sends short values in one frame", func() {
			v := randomValue(MaxFrame)
			chunks := Split(v, MaxFrame)
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].Tag).To(Equal(Single))
			Expect(chunks[0].Data).To(Equal(v))
		})

		It("Cuts a 256-byte value from its least-significant end", func() {
			v := randomValue(256)
			chunks := Split(v, MaxFrame)
			Expect(chunks).To(HaveLen(2))
			Expect(chunks[0]).To(Equal(Chunk{Tag: First, Data: v[1:]}))
			Expect(chunks[1]).To(Equal(Chunk{Tag: Last, Data: v[:1]}))
		})

		It("Tags a full-frame most-significant chunk as last", func() {
			v := randomValue(2 * MaxFrame)
			chunks := Split(v, MaxFrame)
			Expect(chunks).To(HaveLen(2))
			Expect(chunks[1].Tag).To(Equal(Last))
			Expect(chunks[1].Data).To(HaveLen(MaxFrame))
		})

		It("Needs ceil(length / frame) chunks", func() {
			for _, length := range []int{256, 300, 510, 511, 1024} {
				chunks := Split(randomValue(length), MaxFrame)
				Expect(chunks).To(HaveLen((length+MaxFrame-1)/MaxFrame), fmt.Sprintf("length %d", length))
			}
		})
	})

	Context("Reassembling", func() {
		It("Round-trips every length up to the capacity", func() {
			for length := 1; length <= 256; length++ {
				v := randomValue(length)
				a := NewAssembler(256, MaxFrame)
				Expect(assemble(a, Split(v, MaxFrame)).Trimmed()).To(Equal(v), fmt.Sprintf("length %d", length))
			}
		})

		It("Round-trips values needing three chunks", func() {
			v := randomValue(600)
			a := NewAssembler(1024, MaxFrame)
			got := assemble(a, Split(v, MaxFrame))
			Expect(got.Trimmed()).To(Equal(v))
			Expect(a.Parts()).To(Equal(3))
		})

		It("Drops leading zero bytes when the transfer completes", func() {
			v := append([]byte{0x00, 0x00}, randomValue(254)...)
			a := NewAssembler(256, MaxFrame)
			got := assemble(a, Split(v, MaxFrame))
			Expect(got.Len()).To(Equal(254))
			Expect(got.Trimmed()).To(Equal(v[2:]))
		})

		It("Fills the buffer identically whether or not the value was divided", func() {
			v := randomValue(40)

			single := NewAssembler(64, MaxFrame)
			assemble(single, Split(v, MaxFrame))

			divided := NewAssembler(64, 16)
			chunks := Split(v, 16)
			Expect(len(chunks)).To(BeNumerically(">", 1))
			assemble(divided, chunks)

			Expect(divided.Value().Bytes()).To(Equal(single.Value().Bytes()))
		})

		It("Clears leftovers of a longer previous value", func() {
			a := NewAssembler(256, MaxFrame)
			assemble(a, Split(randomValue(256), MaxFrame))

			short := randomValue(3)
			Expect(assemble(a, Split(short, MaxFrame)).Trimmed()).To(Equal(short))
		})

		It("Lets a single chunk abandon a transfer in progress", func() {
			a := NewAssembler(256, MaxFrame)
			chunks := Split(randomValue(256), MaxFrame)
			_, err := a.Accept(chunks[0].Tag, chunks[0].Data)
			Expect(err).To(BeNil())
			Expect(a.Active()).To(BeTrue())

			done, err := a.Accept(Single, []byte{0x05})
			Expect(err).To(BeNil())
			Expect(done).To(BeTrue())
			Expect(a.Active()).To(BeFalse())
			Expect(a.Value().Trimmed()).To(Equal([]byte{0x05}))
		})
	})

	Context("Rejecting inconsistent chunks", func() {
		var a *Assembler
		var chunks []Chunk
		var value []byte

		BeforeEach(func() {
			a = NewAssembler(256, MaxFrame)
			value = randomValue(256)
			chunks = Split(value, MaxFrame)
		})

		It("Rejects a last chunk that does not follow a first chunk", func() {
			_, err := a.Accept(Last, chunks[1].Data)
			Expect(err).To(MatchError(ErrOutOfOrder))
			Expect(a.Active()).To(BeFalse())
			Expect(a.Value().IsZero()).To(BeTrue())
		})

		It("Never reproduces the value from chunks delivered in reverse order", func() {
			reversed := []Chunk{chunks[1], chunks[0]}
			matched := true
			for _, c := range reversed {
				done, err := a.Accept(c.Tag, c.Data)
				if err != nil {
					matched = false
					break
				}
				if done {
					matched = bytes.Equal(a.Value().Trimmed(), value)
				}
			}
			Expect(matched).To(BeFalse())
		})

		It("Never reproduces the value from swapped chunk payloads", func() {
			_, err := a.Accept(First, chunks[1].Data)
			Expect(err).To(MatchError(ErrChunkLength))

			_, err = a.Accept(First, chunks[0].Data)
			Expect(err).To(BeNil())
			done, err := a.Accept(Last, chunks[0].Data)
			if err == nil {
				Expect(done).To(BeTrue())
				Expect(a.Value().Trimmed()).NotTo(Equal(value))
			}
		})

		It("Rejects a short non-final chunk without touching the staging buffer", func() {
			_, err := a.Accept(First, chunks[0].Data)
			Expect(err).To(BeNil())
			before := a.Value().Bytes()

			_, err = a.Accept(First, chunks[0].Data[:10])
			Expect(err).To(MatchError(ErrChunkLength))
			Expect(a.Value().Bytes()).To(Equal(before))
			Expect(a.Parts()).To(Equal(1))
		})

		It("Rejects a last chunk that would run past the front of the buffer", func() {
			_, err := a.Accept(First, chunks[0].Data)
			Expect(err).To(BeNil())

			_, err = a.Accept(Last, randomValue(2))
			Expect(err).To(MatchError(bignat.ErrOverflow))
			Expect(a.Active()).To(BeTrue(), "rejections leave the transfer where it was")

			done, err := a.Accept(Last, chunks[1].Data)
			Expect(err).To(BeNil())
			Expect(done).To(BeTrue())
			Expect(a.Value().Trimmed()).To(Equal(value))
		})

		It("Abandons the transfer on a first chunk with no room left for a last chunk", func() {
			_, err := a.Accept(First, chunks[0].Data)
			Expect(err).To(BeNil())

			_, err = a.Accept(First, chunks[0].Data)
			Expect(err).To(MatchError(ErrOutOfOrder))
			Expect(a.Active()).To(BeFalse())
			Expect(a.Value().IsZero()).To(BeTrue())

			// the stale first chunk cannot be completed any more
			_, err = a.Accept(Last, chunks[1].Data)
			Expect(err).To(MatchError(ErrOutOfOrder))
		})

		It("Restarts cleanly after an abandoned transfer", func() {
			other := randomValue(256)
			_, err := a.Accept(First, Split(other, MaxFrame)[0].Data)
			Expect(err).To(BeNil())
			_, err = a.Accept(First, chunks[0].Data)
			Expect(err).To(MatchError(ErrOutOfOrder))

			Expect(assemble(a, chunks).Trimmed()).To(Equal(value))
		})

		It("Reports a divided value wider than the capacity as an overflow", func() {
			small := NewAssembler(8, MaxFrame)
			_, err := small.Accept(First, chunks[0].Data)
			Expect(err).To(MatchError(bignat.ErrOverflow))
			Expect(small.Active()).To(BeFalse())
		})

		It("Rejects an empty last chunk", func() {
			_, err := a.Accept(First, chunks[0].Data)
			Expect(err).To(BeNil())
			_, err = a.Accept(Last, nil)
			Expect(err).To(MatchError(ErrChunkLength))
		})

		It("Rejects a single chunk larger than the capacity", func() {
			small := NewAssembler(8, MaxFrame)
			_, err := small.Accept(Single, randomValue(9))
			Expect(err).To(MatchError(bignat.ErrOverflow))
		})

		It("Rejects unknown tags", func() {
			_, err := a.Accept(Tag(0x02), []byte{1})
			Expect(err).To(MatchError(ErrInvalidTag))
		})
	})
})
