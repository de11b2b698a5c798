/*
Package clientsign implements the client party of a two-party split-key RSA signature, as a device that is
driven one APDU at a time

# Overview

An external dealer generates an ordinary RSA keypair and splits the private exponent additively, such that
dClient + dServer ≡ D (mod Φ). The client share is loaded into the device; the server keeps the other one.
Neither party ever holds D.

To sign, both parties raise the same PKCS#1 v1.5 encoded message to their share of D. The device answers with its
partial signature m^dClient mod N. Multiplying the two partial signatures mod N gives m^D mod N, which verifies
against the public key as usual:

	err = rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, hash, fullSig)

# Provisioning

The key material is three fields, each sent with SET_KEYS (P1 selects E, D or N). A value up to 255 bytes goes in a
single chunk. Longer values are divided: the host sends 255-byte chunks least-significant first, tagged as divided,
and ends with a chunk tagged as last that carries the most-significant bytes. The device stages a divided value and
commits it only when the last chunk arrives:

	applet, _ := clientsign.New(clientsign.WithStore(store))
	resp := applet.Process(apdu.Command{Class: clientsign.ClassID, Instruction: clientsign.InsSetKeys, P1: byte(clientsign.FieldN), P2: 0x10, Data: chunk})

The device is ready to sign once D and N are complete. E is only needed for SELF_TEST, which checks that
(p^E)^D ≡ p (mod N) for a fixed plaintext p. On a device holding a client share this check fails by construction.

Starting a new transfer of a field marks that field incomplete until its last chunk is in, so re-provisioning D or N
disables signing until the new value is complete.

# Sources

	[1] https://eprint.iacr.org/2001/060.pdf
	[2] ISO/IEC 7816-4, Interindustry commands for interchange
*/
package clientsign
