package transport

import (
	"bytes"
	"net"
	"time"

	"github.com/nebulaquic/quic/congestion"
)

// recv decodes and processes one packet (or, for Version Negotiation and
// Retry, the whole remaining datagram) from the front of b, returning the
// number of bytes consumed. A return of (0, nil) means the datagram held
// nothing more to process.
func (s *Conn) recv(b []byte, from net.Addr, ecn ECN, now time.Time) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p := &packet{}
	if b[0]&longHeaderForm == 0 {
		p.header.dcil = uint8(len(s.scid))
		if _, err := p.decodeHeader(b); err != nil {
			s.logPacketDropped(p, now)
			return len(b), nil
		}
		return s.recvPacket(b, p, packetSpaceApplication, cryptoApp, from, ecn, now)
	}

	if _, err := p.decodeHeader(b); err != nil {
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	if p.header.version == 0 {
		return s.recvVersionNegotiation(b, p, now)
	}
	if p.header.version != s.version {
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	bodyLen, err := p.decodeBody(b)
	if err != nil {
		s.logPacketDropped(p, now)
		return len(b), nil
	}

	switch p.typ {
	case packetTypeRetry:
		return s.recvRetry(b, p, now)
	case packetTypeInitial:
		if !s.derivedInitialSecrets {
			s.deriveInitialKeyMaterial(p.header.dcid)
			if !s.isClient {
				s.odcid = append([]byte(nil), p.header.dcid...)
				s.localParams.originalDestinationConnectionID = s.odcid
				s.dcid = append([]byte(nil), p.header.scid...)
			}
		}
		total := p.headerLen + bodyLen
		if total > len(b) {
			total = len(b)
		}
		return s.recvPacket(b[:total], p, packetSpaceInitial, cryptoInitial, from, ecn, now)
	case packetTypeHandshake:
		total := p.headerLen + bodyLen
		if total > len(b) {
			total = len(b)
		}
		return s.recvPacket(b[:total], p, packetSpaceHandshake, cryptoHandshake, from, ecn, now)
	case packetTypeZeroRTT:
		total := p.headerLen + bodyLen
		if total > len(b) {
			total = len(b)
		}
		if s.isClient {
			// A client must never receive 0-RTT packets, RFC 9000 Section
			// 12.4; drop but still consume the packet's own span so
			// coalesced siblings parse.
			s.logPacketDropped(p, now)
			return total, nil
		}
		return s.recvPacket(b[:total], p, packetSpaceApplication, cryptoEarly, from, ecn, now)
	default:
		s.logPacketDropped(p, now)
		return len(b), nil
	}
}

func (s *Conn) recvVersionNegotiation(b []byte, p *packet, now time.Time) (int, error) {
	if !s.isClient || s.derivedInitialSecrets && s.handshake.complete {
		return len(b), nil
	}
	s.logPacketReceived(p, now)
	// This implementation speaks exactly one version and has no fallback
	// list, so a Version Negotiation response means the handshake cannot
	// proceed.
	s.Close(false, uint64(NoViablePath), "no viable version")
	return len(b), nil
}

func (s *Conn) recvRetry(b []byte, p *packet, now time.Time) (int, error) {
	if !s.isClient || s.didRetry || s.pnSpaces[packetSpaceInitial].nextSend > 0 {
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	if len(b) < 16 {
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	wantTag, err := retryIntegrityTag(s.dcid, b[:len(b)-16])
	if err != nil || !bytes.Equal(wantTag[:], b[len(b)-16:]) {
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	s.logPacketReceived(p, now)
	s.odcid = append([]byte(nil), s.dcid...)
	s.rscid = append([]byte(nil), p.header.scid...)
	s.token = append([]byte(nil), p.token...)
	s.dcid = append([]byte(nil), p.header.scid...)
	s.didRetry = true
	s.localParams.retrySourceConnectionID = nil // only servers set this; client validates the peer's

	// Retry discards the original Initial keys and flight: RFC 9000
	// Section 17.2.5.2. Restart the Initial space and rederive keys from
	// the new (server-chosen) destination connection ID.
	s.pnSpaces[packetSpaceInitial].reset()
	s.recovery.dropSpace(packetSpaceInitial)
	s.cryptoSend[cryptoInitial] = sendBuffer{}
	s.crypto.drop(cryptoInitial)
	s.derivedInitialSecrets = false
	s.deriveInitialKeyMaterial(s.dcid)
	return len(b), nil
}

// recvPacket decrypts and processes one already-delimited packet. level is
// passed explicitly rather than derived from space because the Application
// space spans two encryption levels: 0-RTT packets decrypt at cryptoEarly
// while 1-RTT packets decrypt at cryptoApp, RFC 9000 Section 12.3.
func (s *Conn) recvPacket(b []byte, p *packet, space packetSpace, level cryptoLevel, from net.Addr, ecn ECN, now time.Time) (int, error) {
	total := len(b)
	if !s.crypto.canDecrypt(level) {
		s.logPacketDropped(p, now)
		return total, nil
	}
	largestPN := s.pnSpaces[space].largestRecvd
	plaintext, pn, err := s.crypto.open(level, b, p.headerLen, largestPN)
	if err != nil {
		s.logPacketDropped(p, now)
		return total, nil
	}
	if s.pnSpaces[space].isDuplicate(pn) {
		s.logPacketDropped(p, now)
		return total, nil
	}
	p.packetNumber = pn
	s.logPacketReceived(p, now)

	ackEliciting, ferr := s.recvFrames(plaintext, space, level, now)
	if ferr != nil {
		s.Close(false, uint64(errorCodeOf(ferr)), ferr.Error())
		return total, nil
	}
	s.pnSpaces[space].onPacketReceived(pn, ackEliciting, ecn, now)

	if space == packetSpaceApplication {
		if migrate := s.paths.onPacketReceived(from, total, now); migrate {
			if f, err := s.paths.candidate.startValidation(now); err == nil {
				s.queueControl(f)
			}
		}
	} else {
		s.paths.current.onBytesRecv(total)
	}

	if !s.isClient && space == packetSpaceInitial {
		s.recovery.peerAddressValidated = true
	}
	if space == packetSpaceHandshake {
		s.recovery.peerAddressValidated = true
		if !s.pnSpaces[packetSpaceInitial].dropped {
			s.dropSpace(packetSpaceInitial)
		}
	}

	s.resetIdleTimer(now)
	s.recovery.setLossDetectionTimer(s.spaceDropped, s.paths.current.amplificationLimited())
	return total, nil
}

func (s *Conn) dropSpace(space packetSpace) {
	s.pnSpaces[space].drop()
	s.recovery.dropSpace(space)
	s.crypto.drop(spaceToCryptoLevel(space))
}

func errorCodeOf(err error) ErrorCode {
	if qe, ok := err.(*Error); ok {
		return qe.Code
	}
	return InternalError
}

// recvFrames processes every frame in an already-decrypted packet payload,
// reporting whether any of them was ack-eliciting, RFC 9000 Section 12.4.
func (s *Conn) recvFrames(b []byte, space packetSpace, level cryptoLevel, now time.Time) (bool, error) {
	ackEliciting := false
	off := 0
	for off < len(b) {
		var typ uint64
		n := getVarint(b[off:], &typ)
		if n == 0 {
			return ackEliciting, newError(FrameEncodingError, "truncated frame type")
		}
		if !frameAllowedIn(typ, space, level == cryptoEarly) {
			return ackEliciting, newError(ProtocolViolation, "frame not permitted in this packet number space")
		}
		var consumed int
		var err error
		switch {
		case typ == frameTypePadding:
			f := &paddingFrame{}
			consumed, err = f.decode(b[off:])
		case typ == frameTypePing:
			f := &pingFrame{}
			consumed, err = f.decode(b[off:])
			ackEliciting = true
		case typ == frameTypeAck || typ == frameTypeAckECN:
			f := &ackFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				err = s.recvFrameAck(f, space, now)
			}
		case typ == frameTypeCrypto:
			f := &cryptoFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				err = s.recvFrameCrypto(f, space)
			}
			ackEliciting = true
		case typ == frameTypeNewToken:
			f := &newTokenFrame{}
			consumed, err = f.decode(b[off:])
			ackEliciting = true
		case typ >= frameTypeStream && typ <= frameTypeStreamEnd:
			f := &streamFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				err = s.recvFrameStream(f)
			}
			ackEliciting = true
		case typ == frameTypeResetStream:
			f := &resetStreamFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				err = s.recvFrameResetStream(f)
			}
			ackEliciting = true
		case typ == frameTypeStopSending:
			f := &stopSendingFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				s.addEvent(newStreamStopEvent(f.streamID, f.errorCode))
			}
			ackEliciting = true
		case typ == frameTypeMaxData:
			f := &maxDataFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				s.flow.setMaxSend(f.maximumData)
			}
			ackEliciting = true
		case typ == frameTypeMaxStreamData:
			f := &maxStreamDataFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				err = s.recvFrameMaxStreamData(f)
			}
			ackEliciting = true
		case typ == frameTypeMaxStreamsBidi || typ == frameTypeMaxStreamsUni:
			f := &maxStreamsFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				if f.bidi {
					s.streams.setPeerMaxStreamsBidi(f.maximumStreams)
				} else {
					s.streams.setPeerMaxStreamsUni(f.maximumStreams)
				}
			}
			ackEliciting = true
		case typ == frameTypeDataBlocked:
			f := &dataBlockedFrame{}
			consumed, err = f.decode(b[off:])
			ackEliciting = true
		case typ == frameTypeStreamDataBlocked:
			f := &streamDataBlockedFrame{}
			consumed, err = f.decode(b[off:])
			ackEliciting = true
		case typ == frameTypeStreamsBlockedBidi || typ == frameTypeStreamsBlockedUni:
			f := &streamsBlockedFrame{}
			consumed, err = f.decode(b[off:])
			ackEliciting = true
		case typ == frameTypeNewConnectionID:
			f := &newConnectionIDFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				var retire []*retireConnectionIDFrame
				retire, err = s.cids.onNewConnectionID(f)
				for _, rf := range retire {
					s.queueControl(rf)
				}
			}
			ackEliciting = true
		case typ == frameTypeRetireConnectionID:
			f := &retireConnectionIDFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				err = s.cids.onRetireConnectionID(f.sequenceNumber)
			}
			ackEliciting = true
		case typ == frameTypePathChallenge:
			f := &pathChallengeFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				s.queueControl(newPathResponseFrame(f.data))
			}
			ackEliciting = true
		case typ == frameTypePathResponse:
			f := &pathResponseFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				s.recvFramePathResponse(f)
			}
			ackEliciting = true
		case typ == frameTypeConnectionClose || typ == frameTypeApplicationClose:
			f := &connectionCloseFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil {
				s.onPeerClose(f, now)
			}
		case typ == frameTypeHanshakeDone:
			f := &handshakeDoneFrame{}
			consumed, err = f.decode(b[off:])
			if err == nil && s.isClient {
				s.recovery.handshakeConfirmed = true
				s.handshakeConfirmed = true
			}
			ackEliciting = true
		default:
			return ackEliciting, newError(FrameEncodingError, "unknown frame type")
		}
		if err != nil {
			return ackEliciting, err
		}
		off += consumed
	}
	return ackEliciting, nil
}

// frameAllowedIn enforces RFC 9000 Section 12.4's per-space frame
// restrictions: only CRYPTO, ACK, PING, PADDING and CONNECTION_CLOSE may
// appear in Initial or Handshake packets. 0-RTT packets share the
// Application space with 1-RTT but carry their own, stricter exclusion
// list: ACK, ACK_ECN, CRYPTO, NEW_TOKEN, HANDSHAKE_DONE and PATH_RESPONSE
// are all 1-RTT-only.
func frameAllowedIn(typ uint64, space packetSpace, zeroRTT bool) bool {
	if space == packetSpaceApplication {
		if !zeroRTT {
			return true
		}
		switch typ {
		case frameTypeAck, frameTypeAckECN, frameTypeCrypto, frameTypeNewToken,
			frameTypeHanshakeDone, frameTypePathResponse:
			return false
		default:
			return true
		}
	}
	switch typ {
	case frameTypePadding, frameTypePing, frameTypeAck, frameTypeAckECN,
		frameTypeCrypto, frameTypeConnectionClose:
		return true
	default:
		return false
	}
}

func (s *Conn) recvFrameAck(f *ackFrame, space packetSpace, now time.Time) error {
	res := s.recovery.onAckReceived(space, f, now, s.spaceDropped)
	if res == nil {
		return nil
	}
	for _, p := range res.newlyAcked {
		s.onFramesAcked(p.frames, space)
	}
	for _, p := range res.newlyAcked {
		s.cc.OnPacketAcked(congestion.Event{
			Now: now, PacketNumber: int64(p.pn), Size: p.size, SentTime: p.sentTime,
			RTT: s.recovery.latestRTT, BytesInFlight: s.recovery.bytesInFlight,
		})
	}
	if len(res.newlyLost) > 0 {
		s.onFramesLost(res.newlyLost, space)
		var evs []congestion.Event
		for _, p := range res.newlyLost {
			evs = append(evs, congestion.Event{Now: now, PacketNumber: int64(p.pn), Size: p.size, SentTime: p.sentTime})
		}
		s.cc.OnPacketsLost(evs)
	}
	if s.recovery.gotFirstRTT {
		s.cc.OnRTTSample(s.recovery.latestRTT, s.recovery.minRTT, now)
	}
	if f.ecn {
		s.onECNMarksReported(f, space, res.newlyAcked, now)
	}
	s.recovery.setLossDetectionTimer(s.spaceDropped, s.paths.current.amplificationLimited())
	return nil
}

// onECNMarksReported compares a peer's newly-reported ECN counts against the
// last reported set, RFC 9000 Section 13.4.2. A rise in the CE count beyond
// what was already known signals a congestion-experienced event, a gentler
// signal than loss that congestion controllers respond to separately,
// spec.md §4.6.
func (s *Conn) onECNMarksReported(f *ackFrame, space packetSpace, newlyAcked []*sentPacket, now time.Time) {
	prev := s.peerECNCounts[space]
	s.peerECNCounts[space] = ecnCounts{ect0: f.ect0, ect1: f.ect1, ce: f.ce}
	if f.ce <= prev.ce || len(newlyAcked) == 0 {
		return
	}
	var size int
	var sent time.Time
	for _, p := range newlyAcked {
		size += p.size
		if p.sentTime.After(sent) {
			sent = p.sentTime
		}
	}
	s.cc.OnECNCongestionEvent([]congestion.Event{{Now: now, Size: size, SentTime: sent}})
}

func (s *Conn) recvFrameCrypto(f *cryptoFrame, space packetSpace) error {
	level := spaceToCryptoLevel(space)
	hw, err := s.cryptoRecv[level].insert(f.offset, f.data, false)
	if err != nil {
		return err
	}
	_ = hw
	buf := make([]byte, 4096)
	for {
		n, _ := s.cryptoRecv[level].read(buf)
		if n == 0 {
			break
		}
		if err := s.handshake.handleData(level, buf[:n]); err != nil {
			return err
		}
	}
	if s.handshake.handshakeComplete() && s.state < stateActive {
		if err := s.onHandshakeComplete(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Conn) onHandshakeComplete() error {
	// 0-RTT keys are no longer needed once the handshake completes: the
	// client has its 1-RTT write keys and the server has decided accept or
	// reject, RFC 9001 Section 4.9.3.
	s.crypto.drop(cryptoEarly)
	peer, ok := s.handshake.peerTransportParams()
	if !ok {
		return newError(TransportParameterError, "handshake completed without peer transport parameters")
	}
	var rscidSeen []byte
	if s.didRetry {
		rscidSeen = s.rscid
	}
	if err := validatePeerConnectionIDParams(&peer, s.scid, s.odcid, rscidSeen, s.didRetry); err != nil {
		return err
	}
	s.peerParams = peer
	s.gotPeerParams = true
	s.streams.applyPeerParams(&peer)
	s.flow.setMaxSend(peer.initialMaxData)
	s.recovery.maxAckDelay = time.Duration(peer.maxAckDelay) * time.Millisecond
	s.cids.peerActiveConnectionIDLimit = peer.activeConnectionIDLimit
	s.paths.disableActiveMigration = s.paths.disableActiveMigration || peer.disableActiveMigration
	s.state = stateActive
	s.addEvent(Event{Type: EventHandshakeComplete})
	if !s.isClient {
		s.queueControl(&handshakeDoneFrame{})
		s.recovery.handshakeConfirmed = true
		s.handshakeConfirmed = true
	}
	return nil
}

func (s *Conn) recvFrameStream(f *streamFrame) error {
	st, err := s.streams.getOrCreatePeerStream(f.streamID)
	if err != nil {
		return err
	}
	if st.recv == nil {
		return newError(StreamStateError, "stream frame for a send-only stream")
	}
	before := st.recv.fc.recvd
	hw, err := st.recv.onStreamFrame(f)
	if err != nil {
		return err
	}
	if hw > before {
		s.totalStreamBytesRecvd += hw - before
		if err := s.flow.addRecv(s.totalStreamBytesRecvd); err != nil {
			return err
		}
	}
	if st.recv.fc.shouldUpdateMaxRecv() {
		window := st.recv.fc.maxRecv
		s.queueControl(newMaxStreamDataFrame(f.streamID, st.recv.fc.commitMaxRecv(window)))
	}
	s.addEvent(newStreamRecvEvent(f.streamID))
	return nil
}

func (s *Conn) recvFrameResetStream(f *resetStreamFrame) error {
	st, err := s.streams.getOrCreatePeerStream(f.streamID)
	if err != nil {
		return err
	}
	if st.recv == nil {
		return newError(StreamStateError, "reset_stream for a send-only stream")
	}
	before := st.recv.fc.recvd
	if err := st.recv.onResetStream(f); err != nil {
		return err
	}
	if f.finalSize > before {
		s.totalStreamBytesRecvd += f.finalSize - before
		if err := s.flow.addRecv(s.totalStreamBytesRecvd); err != nil {
			return err
		}
	}
	s.addEvent(newStreamResetEvent(f.streamID, f.errorCode))
	return nil
}

func (s *Conn) recvFrameMaxStreamData(f *maxStreamDataFrame) error {
	st, ok := s.streams.get(f.streamID)
	if !ok {
		var err error
		st, err = s.streams.getOrCreatePeerStream(f.streamID)
		if err != nil {
			return err
		}
	}
	if st.send == nil {
		return newError(StreamStateError, "max_stream_data for a receive-only stream")
	}
	st.send.fc.setMaxSend(f.maximumData)
	return nil
}

func (s *Conn) recvFramePathResponse(f *pathResponseFrame) {
	if s.paths.current.onPathResponse(f.data) {
		return
	}
	if s.paths.candidate != nil && s.paths.candidate.onPathResponse(f.data) {
		s.paths.promoteCandidate()
		s.addEvent(Event{Type: EventPathMigrated})
	}
}

func (s *Conn) onPeerClose(f *connectionCloseFrame, now time.Time) {
	if s.closeFrame == nil {
		s.closeFrame = f
	}
	s.setDraining(now)
}

// onFramesAcked applies acknowledgement bookkeeping for every retransmittable
// frame type carried by one now-acked packet, spec.md §4.4/§4.8.
func (s *Conn) onFramesAcked(frames []frame, space packetSpace) {
	level := spaceToCryptoLevel(space)
	for _, fr := range frames {
		switch f := fr.(type) {
		case *cryptoFrame:
			s.cryptoSend[level].markAcked(f.offset, len(f.data))
		case *streamFrame:
			if st, ok := s.streams.get(f.streamID); ok && st.send != nil {
				st.send.onAcked(f.offset, len(f.data), f.fin)
			}
		}
	}
}

// onFramesLost requeues the retransmittable content of every frame carried
// by one now-lost packet, spec.md §4.4/§4.8.
func (s *Conn) onFramesLost(packets []*sentPacket, space packetSpace) {
	level := spaceToCryptoLevel(space)
	for _, p := range packets {
		for _, fr := range p.frames {
			switch f := fr.(type) {
			case *cryptoFrame:
				s.cryptoSend[level].retransmit()
			case *streamFrame:
				if st, ok := s.streams.get(f.streamID); ok && st.send != nil {
					st.send.onLost(f.offset, len(f.data))
				}
			case *ackFrame:
				s.pnSpaces[space].ackElicitingRecvdSinceAck = true
			case *newConnectionIDFrame, *retireConnectionIDFrame, *maxDataFrame,
				*maxStreamDataFrame, *maxStreamsFrame:
				// Nothing regenerates these once the frame is lost (maybeIssue
				// counts CIDs already issued, commitMaxRecv has already raised
				// the limit), so the frame is queued again as it was.
				s.queueControl(fr)
			case *pathResponseFrame:
				// PATH_RESPONSE is not retransmitted, RFC 9000 Section 13.3.
			case *handshakeDoneFrame:
				if !s.isClient {
					s.queueControl(&handshakeDoneFrame{})
				}
			}
		}
	}
}

// onZeroRTTRejected handles the server's rejection of early data, RFC 9001
// Section 4.1.1 / RFC 9000 Section 7.4.2: every stream byte written at
// 0-RTT must be retransmitted at 1-RTT, since the peer never accepted the
// application state it described.
func (s *Conn) onZeroRTTRejected() {
	for _, st := range s.streams.streams {
		if st.send != nil {
			st.send.buf.retransmit()
		}
	}
	s.addEvent(Event{Type: EventZeroRTTRejected})
}
