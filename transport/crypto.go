package transport

import (
	"crypto/tls"
	"time"
)

// retryIntegrityKey/Nonce are the fixed AES-128-GCM key and nonce used to
// authenticate Retry packets, RFC 9001 Section 5.8. Constant across all QUIC
// versions speaking this draft; not connection-specific secret material.
var (
	retryIntegrityKey = []byte{
		0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a,
		0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e,
	}
	retryIntegrityNonce = []byte{
		0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2,
		0x23, 0x98, 0x25, 0xbb,
	}
)

// retryIntegrityTag computes the 16-byte Retry Integrity Tag for a Retry
// packet, given the original destination connection ID the client used in
// its first Initial and the packet's bytes up to (not including) the tag.
func retryIntegrityTag(odcid, packetWithoutTag []byte) ([16]byte, error) {
	var out [16]byte
	aead, err := newAEAD(tls.TLS_AES_128_GCM_SHA256, retryIntegrityKey)
	if err != nil {
		return out, err
	}
	aad := make([]byte, 0, 1+len(odcid)+len(packetWithoutTag))
	aad = append(aad, byte(len(odcid)))
	aad = append(aad, odcid...)
	aad = append(aad, packetWithoutTag...)
	tag := aead.Seal(nil, retryIntegrityNonce, nil, aad)
	copy(out[:], tag)
	return out, nil
}

// cryptoLevel is one of the four encryption levels defined by RFC 9001.
// Distinct from packetSpace: 0-RTT and 1-RTT both use the Application
// packet-number space but are different encryption levels.
type cryptoLevel int

const (
	cryptoInitial cryptoLevel = iota
	cryptoEarly               // 0-RTT
	cryptoHandshake
	cryptoApp // 1-RTT
	numCryptoLevels
)

func (l cryptoLevel) packetSpace() packetSpace {
	switch l {
	case cryptoInitial:
		return packetSpaceInitial
	case cryptoHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

// keyDirection holds one direction's (read or write) key material at a level.
type keyDirection struct {
	set  bool
	keys levelKeys
}

// cryptographer owns AEAD and header-protection state for all four
// encryption levels of one connection, per spec.md §4.2. Exactly one
// cryptographer exists per Conn.
type cryptographer struct {
	read  [numCryptoLevels]keyDirection
	write [numCryptoLevels]keyDirection

	// 1-RTT key update state (RFC 9001 Section 6).
	keyPhase   bool // key phase bit we currently send with
	nextRead   levelKeys
	nextWrite  levelKeys
	lastUpdate time.Time
}

// installInitial derives and installs the Initial level keys from the
// client's first Destination Connection ID, RFC 9001 Section 5.2. Called by
// both client (when it picks a random DCID) and server (on first receipt of
// an Initial packet).
func (c *cryptographer) installInitial(clientDCID []byte, isClient bool) {
	clientKeys, serverKeys := deriveInitialSecrets(clientDCID)
	if isClient {
		c.write[cryptoInitial] = keyDirection{set: true, keys: clientKeys}
		c.read[cryptoInitial] = keyDirection{set: true, keys: serverKeys}
	} else {
		c.write[cryptoInitial] = keyDirection{set: true, keys: serverKeys}
		c.read[cryptoInitial] = keyDirection{set: true, keys: clientKeys}
	}
}

// setReadSecret / setWriteSecret are the TLS adapter's upcalls, spec.md §4.3.
func (c *cryptographer) setReadSecret(level cryptoLevel, suite uint16, secret []byte) {
	c.read[level] = keyDirection{set: true, keys: deriveLevelKeys(suite, secret)}
	if level == cryptoApp {
		c.nextRead = nextLevelKeys(suite, c.read[level].keys)
	}
}

func (c *cryptographer) setWriteSecret(level cryptoLevel, suite uint16, secret []byte) {
	c.write[level] = keyDirection{set: true, keys: deriveLevelKeys(suite, secret)}
	if level == cryptoApp {
		c.nextWrite = nextLevelKeys(suite, c.write[level].keys)
	}
}

func (c *cryptographer) canEncrypt(level cryptoLevel) bool { return c.write[level].set }
func (c *cryptographer) canDecrypt(level cryptoLevel) bool { return c.read[level].set }

func (c *cryptographer) drop(level cryptoLevel) {
	c.read[level] = keyDirection{}
	c.write[level] = keyDirection{}
}

// nonce computes AEAD nonce = IV XOR pn, RFC 9001 Section 5.3.
func nonceFor(iv []byte, pn packetNumber) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> (8 * i))
	}
	return nonce
}

// seal AEAD-protects the payload and applies header protection in place,
// spec.md §4.2. header is the fully-encoded (unprotected) packet header,
// used as AAD; on return the first byte's protected bits and the PN bytes
// within header have been updated in place, and the sealed payload
// (ciphertext||tag) is returned.
func (c *cryptographer) seal(level cryptoLevel, header []byte, pnOffset, pnLen int, plaintext []byte, pn packetNumber) ([]byte, error) {
	kd := c.write[level]
	if !kd.set {
		return nil, newError(InternalError, "no write keys for level")
	}
	nonce := nonceFor(kd.keys.iv, pn)
	ciphertext := kd.keys.aead.Seal(nil, nonce, plaintext, header)
	// The header-protection sample is taken from the ciphertext starting
	// 4 bytes after the packet-number field begins (RFC 9001 Section 5.4.2);
	// the 16-byte AEAD tag covers it when pnLen is 4, and a payload too short
	// for a shorter pnLen is rejected with errShortBuffer.
	sampleStart := 4 - pnLen
	if sampleStart < 0 {
		sampleStart = 0
	}
	if sampleStart+16 > len(ciphertext) {
		return nil, errShortBuffer
	}
	sample := ciphertext[sampleStart : sampleStart+16]
	mask, err := headerProtectionMask(kd.keys.suite, kd.keys.hpKey, sample)
	if err != nil {
		return nil, err
	}
	if header[0]&longHeaderForm != 0 {
		header[0] ^= mask[0] & 0x0f
	} else {
		header[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnLen; i++ {
		header[pnOffset+i] ^= mask[1+i]
	}
	kd.keys.packetsUsed++
	c.write[level] = kd
	return ciphertext, nil
}

// open removes header protection then AEAD-decrypts, spec.md §4.2. b is the
// full packet starting at the first header byte; pnOffset is the offset of
// the (protected) packet number field. Returns the plaintext payload and the
// decoded packet number.
func (c *cryptographer) open(level cryptoLevel, b []byte, pnOffset int, largestPN packetNumber) ([]byte, packetNumber, error) {
	kd := c.read[level]
	if !kd.set {
		return nil, 0, errDecryptionFailed
	}
	if len(b) < pnOffset+4+16 {
		return nil, 0, errDecryptionFailed
	}
	sample := b[pnOffset+4 : pnOffset+4+16]
	mask, err := headerProtectionMask(kd.keys.suite, kd.keys.hpKey, sample)
	if err != nil {
		return nil, 0, errDecryptionFailed
	}
	header := append([]byte(nil), b[:pnOffset]...)
	long := header[0]&longHeaderForm != 0
	if long {
		header[0] ^= mask[0] & 0x0f
	} else {
		header[0] ^= mask[0] & 0x1f
	}
	pnLen := int(header[0]&0x03) + 1
	pnBytes := append([]byte(nil), b[pnOffset:pnOffset+pnLen]...)
	for i := 0; i < pnLen; i++ {
		pnBytes[i] ^= mask[1+i]
	}
	var truncated uint64
	for i := 0; i < pnLen; i++ {
		truncated = truncated<<8 | uint64(pnBytes[i])
	}
	pn := decodePacketNumber(largestPN, truncated, pnLen)

	aad := append(header, pnBytes...)
	ciphertext := b[pnOffset+pnLen:]
	nonce := nonceFor(kd.keys.iv, pn)
	keys := kd.keys
	plaintext, err := keys.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		// Try the next key generation, in case the peer has rotated
		// (RFC 9001 Section 6.1); only applies at the Application level.
		if level == cryptoApp && c.nextRead.aead != nil {
			nonce2 := nonceFor(c.nextRead.iv, pn)
			plaintext2, err2 := c.nextRead.aead.Open(nil, nonce2, ciphertext, aad)
			if err2 == nil {
				c.promoteReadKeys()
				return plaintext2, pn, nil
			}
		}
		return nil, 0, errDecryptionFailed
	}
	return plaintext, pn, nil
}

// promoteReadKeys advances to the next 1-RTT key generation on receipt of a
// packet protected with it, RFC 9001 Section 6.3.
func (c *cryptographer) promoteReadKeys() {
	suite := c.read[cryptoApp].keys.suite
	c.read[cryptoApp] = keyDirection{set: true, keys: c.nextRead}
	c.nextRead = nextLevelKeys(suite, c.read[cryptoApp].keys)
	c.keyPhase = !c.keyPhase
}

// maybeInitiateKeyUpdate starts a sender-initiated key update unless the
// last one was less than minInterval ago.
func (c *cryptographer) maybeInitiateKeyUpdate(now time.Time, minInterval time.Duration) bool {
	if !c.lastUpdate.IsZero() && now.Sub(c.lastUpdate) < minInterval {
		return false
	}
	suite := c.write[cryptoApp].keys.suite
	c.write[cryptoApp] = keyDirection{set: true, keys: c.nextWrite}
	c.nextWrite = nextLevelKeys(suite, c.write[cryptoApp].keys)
	c.keyPhase = !c.keyPhase
	c.lastUpdate = now
	return true
}
