package transport

import (
	"time"

	"github.com/nebulaquic/quic/congestion"
)

// aeadOverhead bounds the AEAD expansion added by crypto.seal (16-byte tag
// for both the AES-GCM and ChaCha20-Poly1305 suites this implementation
// supports).
const aeadOverhead = 16

// Read produces the next outgoing UDP datagram and the ECN codepoint to mark
// it with, or a zero length and nil error if there is nothing to send right
// now, spec.md §4.1/§4.11. At most one QUIC packet is
// placed per datagram; RFC 9000 Section 12.2 permits coalescing several
// packet-number spaces into one datagram but does not require it, and a
// single-packet datagram keeps the send scheduler considerably simpler at
// the cost of a couple of extra datagrams during the handshake.
func (s *Conn) Read(b []byte) (int, ECN, error) {
	now := s.time()
	s.drainCryptoOut()
	s.refreshPathValidation(now)

	if s.state == stateClosed {
		return 0, ECNNotECT, nil
	}

	space := s.writeSpace()
	if space == packetSpaceCount {
		return 0, ECNNotECT, nil
	}

	budget := len(b)
	if m := s.maxPacketSize(); m < budget {
		budget = m
	}
	if space != packetSpaceInitial || !s.isClient {
		if lim := s.paths.current.amplificationBudget(); lim >= 0 && int(lim) < budget {
			budget = int(lim)
		}
	}
	if budget <= 0 {
		return 0, ECNNotECT, nil
	}

	n, ackEliciting, err := s.buildPacket(b[:budget], space, now)
	if err != nil {
		return 0, ECNNotECT, err
	}
	if n == 0 {
		return 0, ECNNotECT, nil
	}

	if space == packetSpaceInitial && s.isClient && n < MinInitialPacketSize {
		pad := MinInitialPacketSize - n
		if n+pad > len(b) {
			pad = len(b) - n
		}
		for i := 0; i < pad; i++ {
			b[n+i] = 0
		}
		n += pad
	}

	s.paths.current.onBytesSent(n)
	if ackEliciting {
		s.resetIdleTimer(now)
	}
	s.recovery.setLossDetectionTimer(s.spaceDropped, s.paths.current.amplificationLimited())
	return n, s.ecn.markOutgoing(), nil
}

// drainCryptoOut moves any TLS-produced handshake bytes into the CRYPTO
// stream buffer of the level that produced them.
func (s *Conn) drainCryptoOut() {
	for _, level := range []cryptoLevel{cryptoInitial, cryptoHandshake, cryptoApp} {
		if data := s.handshake.takeCryptoOut(level); len(data) > 0 {
			s.cryptoSend[level].write(data)
		}
	}
}

// refreshPathValidation retries or abandons an in-flight migration
// candidate's PATH_CHALLENGE, RFC 9000 Section 8.2.4.
func (s *Conn) refreshPathValidation(now time.Time) {
	if s.paths.candidate == nil {
		return
	}
	retry, failed := s.paths.candidate.retryTimeout(now)
	switch {
	case failed:
		s.paths.abandonCandidate()
	case retry:
		s.queueControl(newPathChallengeFrame(s.paths.candidate.challenge))
		s.paths.candidate.onChallengeSent(now)
	}
}

// buildPacket constructs, protects and writes one packet for the given space
// into out, returning the number of bytes written and whether it carries an
// ack-eliciting frame.
func (s *Conn) buildPacket(out []byte, space packetSpace, now time.Time) (int, bool, error) {
	level := spaceToCryptoLevel(space)
	typ := packetTypeFromSpace(space)
	if space == packetSpaceApplication && s.state < stateActive {
		// The Application space spans two encryption levels; before the
		// handshake is done, a client writing here is sending 0-RTT,
		// RFC 9000 Section 12.3.
		level = cryptoEarly
		typ = packetTypeZeroRTT
	}
	if !s.crypto.canEncrypt(level) {
		return 0, false, nil
	}

	pn := s.pnSpaces[space].allocatePacketNumber()
	p := &packet{typ: typ, packetNumber: pn}
	p.header.version = s.version
	dcid := s.cids.activeRemoteCID()
	if dcid == nil {
		dcid = s.dcid
	}
	p.header.dcid = dcid
	if p.typ != packetTypeShort {
		p.header.scid = s.scid
		if space == packetSpaceInitial {
			p.token = s.token
		}
	}

	hdrLen := p.encodedLen()
	budget := len(out) - hdrLen - aeadOverhead
	if budget <= 0 {
		s.pnSpaces[space].nextSend--
		return 0, false, nil
	}

	plaintextLen, ackEliciting, sent := s.collectFrames(out[hdrLen:], space, level, budget, now)
	if plaintextLen == 0 {
		s.pnSpaces[space].nextSend--
		return 0, false, nil
	}

	p.payloadLen = 4 + plaintextLen + aeadOverhead
	n, err := p.encode(out)
	if err != nil {
		return 0, false, err
	}
	pnOffset := n - 4

	ciphertext, err := s.crypto.seal(level, out[:n], pnOffset, 4, out[n:n+plaintextLen], pn)
	if err != nil {
		return 0, false, err
	}
	total := n + copy(out[n:], ciphertext)

	s.recovery.onPacketSent(space, &sentPacket{
		pn: pn, sentTime: now, size: total,
		ackEliciting: ackEliciting, inFlight: true, frames: sent,
	})
	s.cc.OnPacketSent(congestion.Event{Now: now, PacketNumber: int64(pn), Size: total, SentTime: now, BytesInFlight: s.recovery.bytesInFlight})
	s.pacer.OnPacketSent(now, total)
	s.logPacketSent(p, sent, now)
	return total, ackEliciting, nil
}

// collectFrames fills out with as many due frames as fit in budget bytes,
// in priority order (ACK, CRYPTO, connection control, STREAM data, PING
// fallback), spec.md §4.11. It returns the number of plaintext bytes
// written, whether any ack-eliciting frame was included, and the frames
// themselves (retained for retransmission/ack bookkeeping).
func (s *Conn) collectFrames(out []byte, space packetSpace, level cryptoLevel, budget int, now time.Time) (int, bool, []frame) {
	if s.closeFrame != nil {
		if budget < s.closeFrame.encodedLen() {
			return 0, false, nil
		}
		n, err := s.closeFrame.encode(out)
		if err != nil {
			return 0, false, nil
		}
		return n, false, []frame{s.closeFrame}
	}

	var frames []frame
	used := 0
	ackEliciting := false
	ackedThisPacket := false

	add := func(f frame) bool {
		n := f.encodedLen()
		if used+n > budget {
			return false
		}
		m, err := f.encode(out[used:])
		if err != nil {
			return false
		}
		used += m
		frames = append(frames, f)
		return true
	}

	// ACK and CRYPTO are both disallowed in a 0-RTT packet, RFC 9000
	// Section 12.4: 0-RTT carries no acknowledgements of its own and never
	// carries handshake material.
	if level != cryptoEarly {
		if af := s.pnSpaces[space].buildAckFrame(now, s.localParams.ackDelayExponent); af != nil {
			if add(af) {
				ackedThisPacket = true
			}
		}

		if cryptoBudget := budget - used - maxCryptoFrameOverhead; cryptoBudget > 0 {
			if data, offset, _ := s.cryptoSend[level].pending(cryptoBudget); len(data) > 0 {
				cf := newCryptoFrame(data, offset)
				if add(cf) {
					s.cryptoSend[level].markSent(offset, len(data), false)
					ackEliciting = true
				}
			}
		}
	}

	if space == packetSpaceApplication {
		var kept []frame
		for _, f := range s.pendingControl {
			if add(f) {
				ackEliciting = true
				continue
			}
			kept = append(kept, f)
		}
		s.pendingControl = kept

		for _, st := range s.streams.flushableStreams() {
			for {
				remaining := budget - used - maxStreamFrameOverhead
				if remaining <= 0 {
					break
				}
				data, offset, fin := st.send.buf.pending(remaining)
				if len(data) == 0 && !fin {
					break
				}
				sf := newStreamFrame(st.id, data, offset, fin)
				if !add(sf) {
					break
				}
				st.send.buf.markSent(offset, len(data), fin)
				ackEliciting = true
				if len(data) == 0 {
					break
				}
			}
		}
	}

	if s.forceProbe && !ackEliciting && budget-used >= 1 {
		pf := &pingFrame{}
		if add(pf) {
			ackEliciting = true
			s.forceProbe = false
		}
	}

	if len(frames) == 0 {
		return 0, false, nil
	}
	if ackedThisPacket {
		s.pnSpaces[space].onAckSent(now)
	}
	return used, ackEliciting, frames
}
