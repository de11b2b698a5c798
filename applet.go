package clientsign

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bastionzero/clientsign/apdu"
	"github.com/bastionzero/clientsign/bignat"
	"github.com/bastionzero/clientsign/segment"
)

// DefaultCapacity is the widest supported key, in bytes (2048-bit RSA)
const DefaultCapacity = 256

// the fixed plaintext round-tripped by the self-test
var selfTestPlaintext = []byte("This is a test!")

// An Applet is the client party of a split-key RSA signature. It receives its key material in segments,
// computes partial signatures m^D mod N, and can check that E and D belong together.
//
// Process handles one command at a time: decoding the chunk, writing the field and updating its status happen
// under one lock, so the completeness of a field is never observed half-way.
type Applet struct {
	mu       sync.Mutex
	capacity int
	maxFrame int
	aid      []byte
	store    Store
	log      zerolog.Logger

	keys       KeyMaterial
	status     FieldStatus
	assemblers [numFields]*segment.Assembler
}

// Option configures an Applet
type Option func(*Applet)

// WithCapacity sets the key buffer capacity in bytes
func WithCapacity(capacity int) Option {
	return func(a *Applet) {
		a.capacity = capacity
	}
}

// WithAID sets the application identifier the applet answers SELECT for
func WithAID(aid []byte) Option {
	return func(a *Applet) {
		a.aid = append([]byte(nil), aid...)
	}
}

// WithStore sets where key material persists. The default keeps it in memory.
func WithStore(store Store) Option {
	return func(a *Applet) {
		a.store = store
	}
}

// WithLogger replaces the global zerolog logger
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Applet) {
		a.log = logger
	}
}

// New creates an applet and restores any key material found in its store
func New(opts ...Option) (*Applet, error) {
	a := &Applet{
		capacity: DefaultCapacity,
		maxFrame: segment.MaxFrame,
		aid:      DefaultAID,
		log:      log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.capacity <= 0 {
		return nil, fmt.Errorf("invalid capacity %d", a.capacity)
	}
	if a.store == nil {
		a.store = NewMemoryStore()
	}

	a.keys = newKeyMaterial(a.capacity)
	for _, f := range Fields {
		a.assemblers[f] = segment.NewAssembler(a.capacity, a.maxFrame)
	}

	snap, err := a.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load key material: %w", err)
	}
	if snap != nil {
		for _, f := range Fields {
			if err := a.keys.field(f).SetBytes(snap.field(f)); err != nil {
				return nil, fmt.Errorf("stored field %s does not fit: %w", f, err)
			}
		}
		a.status = snap.Status
		a.log.Debug().Str("state", a.state().String()).Msg("Restored key material")
	}

	return a, nil
}

// Process executes one command and returns its response. Rejected commands leave the applet unchanged.
func (a *Applet) Process(cmd apdu.Command) apdu.Response {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := a.process(cmd)
	if err != nil {
		status := apdu.StatusOf(err)
		a.log.Warn().Err(err).Str("cmd", cmd.String()).Msg("Rejected command")
		return apdu.Response{Status: status}
	}

	a.log.Debug().Str("cmd", cmd.String()).Int("le", len(data)).Msg("Processed command")
	return apdu.OK(data)
}

func (a *Applet) process(cmd apdu.Command) ([]byte, error) {
	ins, err := Decode(cmd)
	if err != nil {
		return nil, err
	}

	switch ins := ins.(type) {
	case SelectCmd:
		return nil, a.selectApplet(ins)
	case SetKeyCmd:
		return nil, a.setKey(ins)
	case SignCmd:
		return a.sign(ins)
	case SelfTestCmd:
		return nil, a.selfTest()
	default:
		return nil, apdu.Errorf(apdu.StatusInsNotSupported, "%T", ins)
	}
}

// Deselect drops all transient state. Transfers in progress are abandoned and their fields stay incomplete.
func (a *Applet) Deselect() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, asm := range a.assemblers {
		asm.Reset()
	}
}

// Status returns which fields are complete
func (a *Applet) Status() FieldStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Ready reports whether the applet can sign
func (a *Applet) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status.Ready()
}

// State returns the provisioning state
func (a *Applet) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state()
}

func (a *Applet) state() State {
	if a.status.Ready() {
		return StateReady
	}
	for _, f := range Fields {
		if a.status[f] || a.assemblers[f].Active() {
			return StatePartial
		}
	}
	return StateEmpty
}

func (a *Applet) selectApplet(c SelectCmd) error {
	if !matchAID(a.aid, c.AID) {
		return apdu.Errorf(apdu.StatusFileNotFound, "no applet with AID %X", c.AID)
	}
	return nil
}

func (a *Applet) setKey(c SetKeyCmd) error {
	// no key field can be zero; a single chunk is checked before it abandons anything in progress
	if c.Tag == segment.Single {
		if len(c.Data) == 0 {
			return apdu.Errorf(apdu.StatusWrongLength, "field %s: empty value", c.Field)
		}
		if len(bytes.TrimLeft(c.Data, "\x00")) == 0 {
			return apdu.Errorf(apdu.StatusDataInvalid, "field %s: value is zero", c.Field)
		}
	}

	asm := a.assemblers[c.Field]
	starts := asm.StartsTransfer(c.Tag)

	done, err := asm.Accept(c.Tag, c.Data)
	if err != nil {
		return chunkError(c.Field, err)
	}
	if done && asm.Value().IsZero() {
		asm.Reset()
		return apdu.Errorf(apdu.StatusDataInvalid, "field %s: value is zero", c.Field)
	}

	next := a.status
	if starts {
		// re-provisioning: the field is incomplete until its last chunk is in
		next[c.Field] = false
	}
	if done {
		next[c.Field] = true
	}

	var value *bignat.Nat
	if done {
		value = asm.Value()
	}
	if err := a.commit(c.Field, next, value); err != nil {
		asm.Reset()
		return err
	}
	if done {
		// the committed copy lives in the key material now
		asm.Reset()
		a.log.Debug().Str("field", c.Field.String()).Int("len", a.keys.field(c.Field).Len()).Msg("Field complete")
	}
	return nil
}

// commit persists the new status (and completed value, if any) and only then applies it
func (a *Applet) commit(f Field, next FieldStatus, value *bignat.Nat) error {
	if value == nil && next == a.status {
		return nil
	}

	snap := a.snapshot()
	snap.Status = next
	if value != nil {
		snap.setField(f, value.Trimmed())
	}
	if err := a.store.Save(snap); err != nil {
		return apdu.Errorf(apdu.StatusUnknown, "failed to persist field %s: %s", f, err)
	}

	if value != nil {
		if err := a.keys.field(f).Set(value); err != nil {
			return apdu.Errorf(apdu.StatusDataInvalid, "field %s: %s", f, err)
		}
	}

	wasReady := a.status.Ready()
	a.status = next
	switch {
	case !wasReady && next.Ready():
		a.log.Info().Msg("Key material complete, ready to sign")
	case wasReady && !next.Ready():
		a.log.Info().Str("field", f.String()).Msg("Re-provisioning, signing disabled until complete")
	}
	return nil
}

func (a *Applet) snapshot() *Snapshot {
	return &Snapshot{
		E:      a.keys.E.Trimmed(),
		D:      a.keys.D.Trimmed(),
		N:      a.keys.N.Trimmed(),
		Status: a.status,
	}
}

// sign computes message^D mod N into a scratch buffer that is wiped before returning
func (a *Applet) sign(c SignCmd) ([]byte, error) {
	if !a.status.Ready() {
		return nil, apdu.Errorf(apdu.StatusConditionsNotSatisfied, "key material incomplete")
	}
	if len(c.Message) == 0 {
		return nil, apdu.Errorf(apdu.StatusWrongLength, "empty message")
	}

	sgn := bignat.New(a.capacity)
	defer sgn.Wipe()

	if err := sgn.SetBytes(c.Message); err != nil {
		return nil, apdu.Errorf(apdu.StatusDataInvalid, "message: %s", err)
	}
	if err := sgn.ModExp(sgn, a.keys.D, a.keys.N); err != nil {
		return nil, apdu.Errorf(apdu.StatusDataInvalid, "%s", err)
	}
	return sgn.Bytes(), nil
}

// selfTest checks (p^E)^D == p mod N for a fixed p
func (a *Applet) selfTest() error {
	if !a.status.Ready() || !a.status.Has(FieldE) {
		return apdu.Errorf(apdu.StatusConditionsNotSatisfied, "self-test needs E, D and N")
	}

	plain, err := bignat.FromBytes(a.capacity, selfTestPlaintext)
	if err != nil {
		return apdu.Errorf(apdu.StatusDataInvalid, "plaintext: %s", err)
	}
	defer plain.Wipe()

	text := plain.Clone()
	defer text.Wipe()

	if err := text.ModExp(text, a.keys.E, a.keys.N); err != nil {
		return apdu.Errorf(apdu.StatusDataInvalid, "%s", err)
	}
	if err := text.ModExp(text, a.keys.D, a.keys.N); err != nil {
		return apdu.Errorf(apdu.StatusDataInvalid, "%s", err)
	}

	if !text.Equal(plain) {
		a.log.Warn().Msg("Self-test failed, E and D do not match")
		return apdu.Errorf(apdu.StatusDataInvalid, "self-test mismatch")
	}
	a.log.Info().Msg("Self-test passed")
	return nil
}

// maps a rejected chunk to its status word
func chunkError(f Field, err error) error {
	if errors.Is(err, bignat.ErrOverflow) {
		return apdu.Errorf(apdu.StatusDataInvalid, "field %s: %s", f, err)
	}
	return apdu.Errorf(apdu.StatusIncorrectP1P2, "field %s: %s", f, err)
}
