// Package testkeys plays the external dealer and the server party in tests: it splits a freshly generated RSA key
// into a client share and a server share, signs with the server share, and combines partial signatures.
package testkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/bastionzero/clientsign/keyshare"
)

// KeyBits is the size of the keys used throughout the tests; it fills the device's 256-byte buffers exactly
const KeyBits = 2048

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
)

// Key is a dealt key: the original private key and its two additive shares
type Key struct {
	Private *rsa.PrivateKey
	Client  *keyshare.Share
	Server  *keyshare.Share
}

// Generate creates a KeyBits-bit key and deals it
func Generate() (*Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	client, server, err := Deal(priv)
	if err != nil {
		return nil, err
	}
	return &Key{Private: priv, Client: client, Server: server}, nil
}

// Deal splits priv.D into two shares such that client.D + server.D ≡ D (mod phi(N))
func Deal(priv *rsa.PrivateKey) (client *keyshare.Share, server *keyshare.Share, err error) {
	phi := EulerTotient(priv.Primes)

	for {
		dClient, err := randomShare(phi, priv.D)
		if err != nil {
			return nil, nil, err
		}

		// dServer <- D - dClient mod phi
		dServer := new(big.Int).Sub(priv.D, dClient)
		dServer.Mod(dServer, phi)
		if dServer.Cmp(bigZero) == 0 || dServer.Cmp(dClient) == 0 {
			// astronomically unlikely, pick again
			continue
		}

		return &keyshare.Share{PublicKey: &priv.PublicKey, D: dClient},
			&keyshare.Share{PublicKey: &priv.PublicKey, D: dServer},
			nil
	}
}

// returns a random number between 2 and phi that is coprime to phi and not equal to seed
func randomShare(phi *big.Int, seed *big.Int) (*big.Int, error) {
	for {
		r, err := rand.Int(rand.Reader, phi)
		if err != nil {
			return nil, err
		}

		gcd := new(big.Int).GCD(nil, nil, r, phi)
		if gcd.Cmp(bigOne) != 0 {
			continue
		}
		if r.Cmp(bigZero) == 0 || r.Cmp(bigOne) == 0 || r.Cmp(seed) == 0 {
			continue
		}
		return r, nil
	}
}

// SignShare computes the partial signature em^D mod N of a share, as the server party would
func SignShare(s *keyshare.Share, em []byte) []byte {
	m := new(big.Int).SetBytes(em)
	sig := new(big.Int).Exp(m, s.D, s.PublicKey.N)
	return sig.FillBytes(make([]byte, s.Size()))
}

// Combine multiplies partial signatures together mod N
func Combine(pub *rsa.PublicKey, partials ...[]byte) []byte {
	result := big.NewInt(1)
	for _, p := range partials {
		result.Mul(result, new(big.Int).SetBytes(p))
		result.Mod(result, pub.N)
	}
	return result.FillBytes(make([]byte, pub.Size()))
}

// EulerTotient calculates phi(n) from the prime factors of n, however many there are
func EulerTotient(primes []*big.Int) *big.Int {
	phi := big.NewInt(1)
	for _, p := range primes {
		// phi <- phi * (p - 1)
		phi.Mul(phi, new(big.Int).Sub(p, bigOne))
	}
	return phi
}

// CongruentModN checks that n divides (a - b)
func CongruentModN(a *big.Int, b *big.Int, n *big.Int) bool {
	aModN := new(big.Int).Mod(a, n)
	bModN := new(big.Int).Mod(b, n)

	return aModN.Cmp(bModN) == 0
}

// FullKeyShare returns the undivided private key as a share, for exercising the self-test
func FullKeyShare(priv *rsa.PrivateKey) *keyshare.Share {
	return &keyshare.Share{PublicKey: &priv.PublicKey, D: new(big.Int).Set(priv.D)}
}
