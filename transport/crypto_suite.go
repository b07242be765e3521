package transport

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/tls"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// initialSalt is the version-specific salt used to derive Initial secrets,
// RFC 9001 Section 5.2.
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// hkdfExpandLabel implements HKDF-Expand-Label from RFC 8446 Section 7.1, as
// used for all QUIC key derivation (RFC 9001 Section 5.1). Grounded on
// golang.org/x/crypto/hkdf per SPEC_FULL.md's DOMAIN STACK — no repo in the
// pack hand-rolls HKDF, and this is the standard Go HKDF surface.
func hkdfExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	var hkdfLabel []byte
	hkdfLabel = append(hkdfLabel, byte(length>>8), byte(length))
	fullLabel := "tls13 " + label
	hkdfLabel = append(hkdfLabel, byte(len(fullLabel)))
	hkdfLabel = append(hkdfLabel, fullLabel...)
	hkdfLabel = append(hkdfLabel, byte(len(context)))
	hkdfLabel = append(hkdfLabel, context...)

	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, hkdfLabel)
	if _, err := r.Read(out); err != nil {
		panic("quic: hkdf expand: " + err.Error())
	}
	return out
}

// deriveInitialSecrets computes the client and server Initial secrets and
// keys from the client's first Destination Connection ID, RFC 9001
// Section 5.2.
func deriveInitialSecrets(clientDCID []byte) (client, server levelKeys) {
	initialSecret := hkdf.Extract(sha256.New, clientDCID, initialSalt)
	clientSecret := hkdfExpandLabel(initialSecret, "client in", nil, sha256.Size)
	serverSecret := hkdfExpandLabel(initialSecret, "server in", nil, sha256.Size)
	client = deriveLevelKeys(tls.TLS_AES_128_GCM_SHA256, clientSecret)
	server = deriveLevelKeys(tls.TLS_AES_128_GCM_SHA256, serverSecret)
	return client, server
}

// levelKeys is the AEAD + header-protection key material for one direction
// at one encryption level.
type levelKeys struct {
	suite      uint16
	secret     []byte
	aead       cipher.AEAD
	iv         []byte
	hpKey      []byte
	packetsUsed uint64
}

func aeadKeyLen(suite uint16) int {
	switch suite {
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		return chacha20poly1305.KeySize
	case tls.TLS_AES_256_GCM_SHA384:
		return 32
	default:
		return 16 // TLS_AES_128_GCM_SHA256
	}
}

func newAEAD(suite uint16, key []byte) (cipher.AEAD, error) {
	switch suite {
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		return chacha20poly1305.New(key)
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

func hashForSuite(suite uint16) crypto.Hash {
	if suite == tls.TLS_AES_256_GCM_SHA384 {
		return crypto.SHA384
	}
	return crypto.SHA256
}

// deriveLevelKeys derives the AEAD key, IV and header-protection key from a
// single direction's secret at a given level (RFC 9001 Section 5.1).
func deriveLevelKeys(suite uint16, secret []byte) levelKeys {
	keyLen := aeadKeyLen(suite)
	key := hkdfExpandLabel(secret, "quic key", nil, keyLen)
	iv := hkdfExpandLabel(secret, "quic iv", nil, 12)
	hp := hkdfExpandLabel(secret, "quic hp", nil, keyLen)
	aead, err := newAEAD(suite, key)
	if err != nil {
		panic("quic: new aead: " + err.Error())
	}
	return levelKeys{suite: suite, secret: secret, aead: aead, iv: iv, hpKey: hp}
}

// nextLevelKeys derives the next generation of 1-RTT keys from the current
// secret, RFC 9001 Section 6 (key update).
func nextLevelKeys(suite uint16, k levelKeys) levelKeys {
	next := hkdfExpandLabel(k.secret, "quic ku", nil, len(k.secret))
	return deriveLevelKeys(suite, next)
}

// headerProtectionMask computes the 5-byte header-protection mask sampled
// from ciphertext, RFC 9001 Section 5.4.
func headerProtectionMask(suite uint16, hpKey []byte, sample []byte) ([5]byte, error) {
	var mask [5]byte
	switch suite {
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		if len(sample) < 16 {
			return mask, fmt.Errorf("quic: short hp sample")
		}
		// RFC 9001 Section 5.4.4: the sample's first 4 bytes are the ChaCha20
		// block counter (little-endian), the next 12 are the nonce.
		counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		var nonce [12]byte
		copy(nonce[:], sample[4:16])
		c, err := chacha20.NewUnauthenticatedCipher(hpKey, nonce[:])
		if err != nil {
			return mask, err
		}
		c.SetCounter(counter)
		var out [5]byte
		c.XORKeyStream(out[:], out[:])
		return out, nil
	default:
		block, err := aes.NewCipher(hpKey)
		if err != nil {
			return mask, err
		}
		if len(sample) < block.BlockSize() {
			return mask, fmt.Errorf("quic: short hp sample")
		}
		var out [16]byte
		block.Encrypt(out[:], sample[:16])
		copy(mask[:], out[:5])
		return mask, nil
	}
}
