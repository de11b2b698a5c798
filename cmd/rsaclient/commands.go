package main

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/bastionzero/clientsign"
	"github.com/bastionzero/clientsign/host"
	"github.com/bastionzero/clientsign/keyshare"
)

var hashes = map[string]crypto.Hash{
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "rsaclient",
		Usage: "Client party of a split-key RSA signature, backed by a software device",
		Commands: []*cli.Command{
			provisionCommand(),
			signCommand(),
			selftestCommand(),
		},
	}
}

// flags shared by every subcommand
func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "state",
			Usage:   "Path to the device state file",
			Value:   "rsaclient.state",
			Sources: cli.EnvVars("RSACLIENT_STATE"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "warn",
			Sources: cli.EnvVars("RSACLIENT_LOG_LEVEL"),
		},
	}
}

func provisionCommand() *cli.Command {
	return &cli.Command{
		Name:  "provision",
		Usage: "Load a client key share into the device",
		Flags: append(deviceFlags(),
			&cli.StringFlag{
				Name:     "key",
				Usage:    "Path to the PEM-encoded client key share",
				Required: true,
			},
		),
		Action: runProvisionCommand,
	}
}

func signCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "Compute this party's partial PKCS#1 v1.5 signature of a message",
		Flags: append(deviceFlags(),
			&cli.StringFlag{
				Name:     "key",
				Usage:    "Path to the PEM-encoded client key share, for its public key",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "message",
				Usage:    "Path to the message to sign",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "hash",
				Usage: "Digest algorithm (sha256, sha384, sha512)",
				Value: "sha256",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Write the raw partial signature here instead of hex to stdout",
			},
		),
		Action: runSignCommand,
	}
}

func selftestCommand() *cli.Command {
	return &cli.Command{
		Name:   "selftest",
		Usage:  "Check that the device's E and D belong together",
		Flags:  deviceFlags(),
		Action: runSelftestCommand,
	}
}

func runProvisionCommand(ctx context.Context, cmd *cli.Command) error {
	share, err := keyshare.LoadFile(cmd.String("key"))
	if err != nil {
		return err
	}

	client, err := openDevice(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SetKeys(ctx, share); err != nil {
		return errors.Wrap(err, "failed to provision device")
	}
	fmt.Fprintf(cmd.Root().Writer, "provisioned %d-bit key share\n", share.PublicKey.N.BitLen())
	return nil
}

func runSignCommand(ctx context.Context, cmd *cli.Command) error {
	hash, ok := hashes[cmd.String("hash")]
	if !ok {
		return errors.Errorf("unsupported hash %q", cmd.String("hash"))
	}

	share, err := keyshare.LoadFile(cmd.String("key"))
	if err != nil {
		return err
	}

	message, err := os.ReadFile(cmd.String("message"))
	if err != nil {
		return errors.Wrap(err, "failed to read message")
	}
	h := hash.New()
	h.Write(message)
	hashed := h.Sum(nil)

	client, err := openDevice(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	partial, err := client.SignPKCS1v15(ctx, share.PublicKey, hash, hashed)
	if err != nil {
		return err
	}

	if out := cmd.String("out"); out != "" {
		if err := os.WriteFile(out, partial, 0o644); err != nil {
			return errors.Wrap(err, "failed to write signature")
		}
		return nil
	}
	return writeHex(cmd.Root().Writer, partial)
}

func runSelftestCommand(ctx context.Context, cmd *cli.Command) error {
	client, err := openDevice(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SelfTest(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, "self-test passed")
	return nil
}

// openDevice restores the software device from its state file and selects it
func openDevice(ctx context.Context, cmd *cli.Command) (*host.Client, error) {
	logger, err := newLogger(cmd.String("log-level"), cmd.Root().ErrWriter)
	if err != nil {
		return nil, err
	}

	store, err := clientsign.NewFileStore(cmd.String("state"))
	if err != nil {
		return nil, err
	}
	applet, err := clientsign.New(clientsign.WithStore(store), clientsign.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open device state %s", store.Path())
	}

	client := host.NewClient(host.NewLoopback(applet), host.Options{Logger: &logger})
	if err := client.Select(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func newLogger(level string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, errors.Wrapf(err, "invalid log level %q", level)
	}
	if w == nil {
		w = os.Stderr
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}

func writeHex(w io.Writer, b []byte) error {
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprintln(w, hex.EncodeToString(b))
	return err
}
