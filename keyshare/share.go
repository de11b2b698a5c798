/*
Package keyshare reads and writes this party's share of a split RSA key, and builds the message representative the
device exponentiates.

A share is produced by an external dealer that splits the private exponent D of an ordinary RSA key so that
dClient + dServer ≡ D (mod phi(N)). The client share file holds the full public key (N, E) together with dClient:

	-----BEGIN RSA CLIENT KEY SHARE-----
	...DER of SEQUENCE { SEQUENCE { N OCTET STRING, E INTEGER }, D OCTET STRING }...
	-----END RSA CLIENT KEY SHARE-----
*/
package keyshare

import (
	"bytes"
	"crypto/rsa"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
)

const pemType = "RSA CLIENT KEY SHARE"

// A Share is one party's piece of a split RSA key. The public key matches that of the whole original key
type Share struct {
	PublicKey *rsa.PublicKey // public part
	D         *big.Int       // split private exponent
}

// used exclusively as a placeholder for encoding-decoding
type publicKey struct {
	N []byte
	E int
}

// used exclusively as a placeholder for encoding-decoding
type share struct {
	PublicKey publicKey
	D         []byte
}

// Size returns the modulus size in bytes
func (s *Share) Size() int {
	return s.PublicKey.Size()
}

// EncodedE returns the public exponent as a minimal big-endian byte string
func (s *Share) EncodedE() []byte {
	return big.NewInt(int64(s.PublicKey.E)).Bytes()
}

// EncodedD returns the private exponent share padded to the modulus size
func (s *Share) EncodedD() []byte {
	return s.D.FillBytes(make([]byte, s.Size()))
}

// EncodedN returns the modulus as a big-endian byte string of Size() bytes
func (s *Share) EncodedN() []byte {
	return s.PublicKey.N.FillBytes(make([]byte, s.Size()))
}

// EncodePEM returns a PEM encoding of the share
func (s *Share) EncodePEM() (string, error) {
	if s.PublicKey == nil || s.PublicKey.N == nil || s.D == nil {
		return "", fmt.Errorf("incomplete key share")
	}

	// asn1.Marshal cannot handle pointer values or unexported fields
	b, err := asn1.Marshal(share{
		PublicKey: publicKey{
			N: s.PublicKey.N.Bytes(),
			E: s.PublicKey.E,
		},
		D: s.D.Bytes(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to DER-encode: %w", err)
	}

	keyPEM := new(bytes.Buffer)
	err = pem.Encode(keyPEM, &pem.Block{
		Type:  pemType,
		Bytes: b,
	})
	if err != nil {
		return "", fmt.Errorf("failed to PEM-encode: %w", err)
	}

	return keyPEM.String(), nil
}

// DecodePEM returns a share from its PEM encoding
func DecodePEM(encoded string) (*Share, error) {
	block, rest := pem.Decode([]byte(encoded))
	if block == nil || block.Type != pemType || len(bytes.TrimSpace(rest)) > 0 {
		return nil, fmt.Errorf("failed to decode PEM block containing a client key share")
	}

	var s share
	rest, err := asn1.Unmarshal(block.Bytes, &s)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal DER-encoded key share: %w", err)
	} else if len(rest) > 0 {
		return nil, fmt.Errorf("failed to unmarshal DER-encoded key share: %d trailing bytes", len(rest))
	}

	n := new(big.Int).SetBytes(s.PublicKey.N)
	if n.Sign() == 0 || s.PublicKey.E < 2 {
		return nil, fmt.Errorf("key share carries an invalid public key")
	}

	return &Share{
		PublicKey: &rsa.PublicKey{
			N: n,
			E: s.PublicKey.E,
		},
		D: new(big.Int).SetBytes(s.D),
	}, nil
}

// LoadFile reads a PEM-encoded share from path
func LoadFile(path string) (*Share, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key share: %w", err)
	}
	return DecodePEM(string(b))
}

// WriteFile writes the PEM encoding of s to path, readable by the owner only
func (s *Share) WriteFile(path string) error {
	encoded, err := s.EncodePEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("failed to write key share: %w", err)
	}
	return nil
}
