package testkeys

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"
	"testing"

	"github.com/bastionzero/clientsign/keyshare"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTestkeys(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testkeys Suite")
}

var _ = Describe("Dealer", Ordered, func() {
	var key *Key

	It("Successfully deals a key", func() {
		var err error
		key, err = Generate()
		Expect(err).To(BeNil(), fmt.Sprintf("failed to deal key: %s", err))
	})

	It("Produces shares whose sum is congruent to the original key mod phi(N)", func() {
		phi := EulerTotient(key.Private.Primes)
		sum := new(big.Int).Add(key.Client.D, key.Server.D)
		Expect(CongruentModN(sum, key.Private.D, phi)).To(BeTrue(), fmt.Sprintf("%v ≢ %v (mod %v)", sum, key.Private.D, phi))
	})

	It("Produces a valid split signature", func() {
		hashed := sha256.Sum256([]byte("TEST MESSAGE"))
		em, err := keyshare.EncodePKCS1v15(crypto.SHA256, hashed[:], key.Private.Size())
		Expect(err).To(BeNil())

		client := SignShare(key.Client, em)
		server := SignShare(key.Server, em)
		Expect(rsa.VerifyPKCS1v15(&key.Private.PublicKey, crypto.SHA256, hashed[:], client)).NotTo(Succeed(), "partial signature must not verify")

		final := Combine(&key.Private.PublicKey, client, server)
		Expect(rsa.VerifyPKCS1v15(&key.Private.PublicKey, crypto.SHA256, hashed[:], final)).To(Succeed())
	})
})
