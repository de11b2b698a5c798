/*
Package host drives the device from the signing host: it selects the applet, provisions a key share, and asks for
partial signatures.

Any status other than 9000 is a hard error. Values wider than one frame are sent as a divided transfer whose
chunks go out least-significant first.
*/
package host

import (
	"context"
	"crypto"
	"crypto/rsa"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bastionzero/clientsign"
	"github.com/bastionzero/clientsign/apdu"
	"github.com/bastionzero/clientsign/keyshare"
	"github.com/bastionzero/clientsign/segment"
)

// ErrNoResponse is returned when a command that must return data came back empty
var ErrNoResponse = errors.New("device returned no data")

// Client talks to one device over a Transport. It serialises its commands, since a divided transfer
// must not interleave with anything else.
type Client struct {
	mu        sync.Mutex
	transport Transport
	aid       []byte
	maxFrame  int
	log       zerolog.Logger
}

// Options configure a Client. The zero value selects the default applet with the global logger.
type Options struct {
	AID    []byte
	Logger *zerolog.Logger
}

// NewClient returns a client that sends its commands through t
func NewClient(t Transport, opts Options) *Client {
	c := &Client{
		transport: t,
		aid:       clientsign.DefaultAID,
		maxFrame:  segment.MaxFrame,
		log:       log.Logger,
	}
	if len(opts.AID) > 0 {
		c.aid = append([]byte(nil), opts.AID...)
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	return c
}

// Select makes the applet the current one
func (c *Client) Select(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.transmit(ctx, clientsign.SelectCommand(c.aid))
	return errors.Wrapf(err, "failed to select applet %X", c.aid)
}

// SetKey sends one field of key material, divided into as many chunks as it needs
func (c *Client) SetKey(ctx context.Context, field clientsign.Field, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setKey(ctx, field, value)
}

func (c *Client) setKey(ctx context.Context, field clientsign.Field, value []byte) error {
	chunks := segment.Split(value, c.maxFrame)
	for i, chunk := range chunks {
		cmd := apdu.Command{
			Class:       clientsign.ClassID,
			Instruction: clientsign.InsSetKeys,
			P1:          byte(field),
			P2:          byte(chunk.Tag),
			Data:        chunk.Data,
		}
		if _, err := c.transmit(ctx, cmd); err != nil {
			return errors.Wrapf(err, "failed to send chunk %d/%d of field %s", i+1, len(chunks), field)
		}
	}
	c.log.Debug().Str("field", field.String()).Int("chunks", len(chunks)).Msg("Sent key field")
	return nil
}

// SetKeys provisions a whole share: E first, then D and N, so the device becomes ready with the last command
func (c *Client) SetKeys(ctx context.Context, share *keyshare.Share) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := map[clientsign.Field][]byte{
		clientsign.FieldE: share.EncodedE(),
		clientsign.FieldD: share.EncodedD(),
		clientsign.FieldN: share.EncodedN(),
	}
	for _, f := range clientsign.Fields {
		if err := c.setKey(ctx, f, values[f]); err != nil {
			return err
		}
	}
	c.log.Info().Int("bits", share.PublicKey.N.BitLen()).Msg("Provisioned key share")
	return nil
}

// Sign returns the partial signature message^D mod N, as wide as the device's buffers
func (c *Client) Sign(ctx context.Context, message []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sign(ctx, message)
}

func (c *Client) sign(ctx context.Context, message []byte) ([]byte, error) {
	cmd := apdu.Command{Class: clientsign.ClassID, Instruction: clientsign.InsSign, Data: message}
	data, err := c.transmit(ctx, cmd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign")
	}
	if len(data) == 0 {
		return nil, ErrNoResponse
	}
	return data, nil
}

// SignPKCS1v15 returns this party's partial RSASSA-PKCS1-V1_5 signature of hashed, sized to the public key.
// Multiplied with the other party's partial signature mod N it gives the ordinary signature.
func (c *Client) SignPKCS1v15(ctx context.Context, pub *rsa.PublicKey, hash crypto.Hash, hashed []byte) ([]byte, error) {
	em, err := keyshare.EncodePKCS1v15(hash, hashed, pub.Size())
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	rep, err := keyshare.Representative(em, c.maxFrame)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sig, err := c.sign(ctx, rep)
	if err != nil {
		return nil, err
	}
	if len(sig) < pub.Size() {
		return nil, errors.Errorf("partial signature of %d bytes is shorter than the %d-byte modulus", len(sig), pub.Size())
	}
	return sig[len(sig)-pub.Size():], nil
}

// SelfTest asks the device to check that its E and D belong together
func (c *Client) SelfTest(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := apdu.Command{Class: clientsign.ClassID, Instruction: clientsign.InsSelfTest}
	_, err := c.transmit(ctx, cmd)
	return errors.Wrap(err, "self-test failed")
}

// Close closes the underlying transport
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.transport.Close()
}

func (c *Client) transmit(ctx context.Context, cmd apdu.Command) ([]byte, error) {
	resp, err := c.transport.Transmit(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		c.log.Debug().Str("cmd", cmd.String()).Str("status", resp.Status.String()).Msg("Device rejected command")
		return nil, err
	}
	return resp.Data, nil
}
