// PLEASE NOTE: this is not a homegrown cryptographic implementation. The hash prefixes and the EMSA-PKCS1-v1_5
// encoding are lifted from the Go stdlib crypto/rsa, which only exposes them through signing with a whole key.

package keyshare

import (
	"crypto"
	"errors"
)

// ErrMessageTooLong is returned when the hash does not fit the modulus, or the representative does not fit one frame
var ErrMessageTooLong = errors.New("keyshare: message too long for RSA key size")

// These are ASN1 DER structures:
//
//	DigestInfo ::= SEQUENCE {
//	  digestAlgorithm AlgorithmIdentifier,
//	  digest OCTET STRING
//	}
//
// For performance, we don't use the generic ASN1 encoder. Rather, we
// precompute a prefix of the digest value that makes a valid ASN1 DER string
// with the correct contents.
var hashPrefixes = map[crypto.Hash][]byte{
	crypto.SHA1:   {0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14},
	crypto.SHA224: {0x30, 0x2d, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x04, 0x05, 0x00, 0x04, 0x1c},
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// EncodePKCS1v15 builds the RSASSA-PKCS1-V1_5 encoded message EM = 0x00 || 0x01 || PS || 0x00 || T for a modulus of
// k bytes. Note that hashed must be the result of hashing the input message using the given hash function.
// If hash is zero, hashed is encoded directly.
//
// Every party exponentiates the same EM with its share of D; the product of the partial results is the ordinary
// PKCS#1 v1.5 signature.
func EncodePKCS1v15(hash crypto.Hash, hashed []byte, k int) ([]byte, error) {
	hashLen, prefix, err := pkcs1v15HashInfo(hash, len(hashed))
	if err != nil {
		return nil, err
	}

	tLen := len(prefix) + hashLen
	if k < tLen+11 {
		return nil, ErrMessageTooLong
	}

	em := make([]byte, k)
	em[1] = 1
	for i := 2; i < k-tLen-1; i++ {
		em[i] = 0xff
	}
	copy(em[k-tLen:k-hashLen], prefix)
	copy(em[k-hashLen:k], hashed)
	return em, nil
}

// Representative returns EM without its leading zero byte. For a 2048-bit key that is 255 bytes, exactly one frame.
func Representative(em []byte, maxLen int) ([]byte, error) {
	i := 0
	for i < len(em) && em[i] == 0 {
		i++
	}
	if len(em)-i > maxLen {
		return nil, ErrMessageTooLong
	}
	return em[i:], nil
}

func pkcs1v15HashInfo(hash crypto.Hash, inLen int) (hashLen int, prefix []byte, err error) {
	// Special case: crypto.Hash(0) is used to indicate that the data is
	// signed directly.
	if hash == 0 {
		return inLen, nil, nil
	}

	hashLen = hash.Size()
	if inLen != hashLen {
		return 0, nil, errors.New("keyshare: input must be hashed message")
	}
	prefix, ok := hashPrefixes[hash]
	if !ok {
		return 0, nil, errors.New("keyshare: unsupported hash function")
	}
	return
}
