package host

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bastionzero/clientsign"
	"github.com/bastionzero/clientsign/apdu"
)

// A Transport carries one command to the device and brings back its response
type Transport interface {
	Transmit(ctx context.Context, cmd apdu.Command) (apdu.Response, error)
	Close() error
}

// Loopback is a Transport to an in-process applet. Frames go through their binary encoding in both directions,
// exactly as they would over a card reader.
type Loopback struct {
	applet *clientsign.Applet
}

// NewLoopback returns a transport that talks to applet
func NewLoopback(applet *clientsign.Applet) *Loopback {
	return &Loopback{applet: applet}
}

func (l *Loopback) Transmit(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	if err := ctx.Err(); err != nil {
		return apdu.Response{}, err
	}

	raw, err := cmd.MarshalBinary()
	if err != nil {
		return apdu.Response{}, errors.Wrap(err, "failed to encode command")
	}

	resp, err := l.exchange(raw)
	if err != nil {
		return apdu.Response{}, err
	}
	return resp, nil
}

func (l *Loopback) exchange(raw []byte) (apdu.Response, error) {
	var resp apdu.Response
	if cmd, err := apdu.ParseCommand(raw); err != nil {
		resp = apdu.Response{Status: apdu.StatusWrongLength}
	} else {
		resp = l.applet.Process(cmd)
	}

	out, err := resp.MarshalBinary()
	if err != nil {
		return apdu.Response{}, errors.Wrap(err, "failed to encode response")
	}
	parsed, err := apdu.ParseResponse(out)
	if err != nil {
		return apdu.Response{}, errors.Wrap(err, "failed to decode response")
	}
	return parsed, nil
}

// Close ends the session, which deselects the applet
func (l *Loopback) Close() error {
	l.applet.Deselect()
	return nil
}
