package transport

import "time"

// packetNumberSpace tracks per-space sent/received packet-number state and
// generates ACK frames, spec.md §4.4. One exists per packetSpace
// (Initial, Handshake, Application); the Application space additionally
// spans both the 0-RTT and 1-RTT encryption levels.
type pnSpace struct {
	space packetSpace

	nextSend packetNumber // next packet number this space will send

	recvd         rangeSet // packet numbers received, for ACK generation and dedup
	largestRecvd  packetNumber
	largestRecvdTime time.Time

	ackElicitingRecvdSinceAck bool
	ackElicitingRecvdCount    int // since last own-ACK sent; triggers immediate ack past threshold
	lastAckSent               time.Time
	ackAlarm                  time.Time // when a delayed ACK must be sent by

	dropped bool

	// ECN counters accumulated from packets received in this space, reported
	// back to the peer via ACK_ECN, RFC 9000 Section 13.4.2.
	ect0Count uint64
	ect1Count uint64
	ceCount   uint64
}

const (
	// ackElicitingThreshold is the number of ack-eliciting packets received
	// before an immediate (non-delayed) ACK is generated, RFC 9000
	// Section 13.2.1.
	ackElicitingThreshold = 2
	maxAckDelayDefault     = 25 * time.Millisecond
)

func (s *pnSpace) init(space packetSpace) {
	s.space = space
	s.nextSend = 0
}

// reset clears received-packet and ACK-pending state, used when a space is
// dropped or a connection ID / path changes its relevant tracking.
func (s *pnSpace) reset() {
	s.recvd = rangeSet{}
	s.largestRecvd = -1
	s.ackElicitingRecvdSinceAck = false
	s.ackElicitingRecvdCount = 0
	s.ackAlarm = time.Time{}
	s.ect0Count = 0
	s.ect1Count = 0
	s.ceCount = 0
}

// allocatePacketNumber returns the next packet number to send in this space
// and advances the counter.
func (s *pnSpace) allocatePacketNumber() packetNumber {
	pn := s.nextSend
	s.nextSend++
	return pn
}

// isDuplicate reports whether pn has already been recorded as received.
func (s *pnSpace) isDuplicate(pn packetNumber) bool {
	return s.recvd.contains(pn)
}

// onPacketReceived records a successfully decrypted packet and updates ACK
// generation state, spec.md §4.4.
func (s *pnSpace) onPacketReceived(pn packetNumber, ackEliciting bool, ecn ECN, now time.Time) {
	s.recvd.insert(pn)
	if pn > s.largestRecvd || s.largestRecvdTime.IsZero() {
		s.largestRecvd = pn
		s.largestRecvdTime = now
	}
	switch ecn {
	case ECNECT0:
		s.ect0Count++
	case ECNECT1:
		s.ect1Count++
	case ECNCE:
		s.ceCount++
	}
	if !ackEliciting {
		return
	}
	s.ackElicitingRecvdSinceAck = true
	s.ackElicitingRecvdCount++
	switch {
	case s.space != packetSpaceApplication:
		// Initial/Handshake ACKs are sent immediately, RFC 9000 Section 13.2.1.
		s.ackAlarm = now
	case s.ackElicitingRecvdCount >= ackElicitingThreshold:
		s.ackAlarm = now
	case s.ackAlarm.IsZero():
		s.ackAlarm = now.Add(maxAckDelayDefault)
	}
}

// ackElicited reports whether an ACK is due now.
func (s *pnSpace) ackElicited(now time.Time) bool {
	return s.ackElicitingRecvdSinceAck && !s.ackAlarm.IsZero() && !now.Before(s.ackAlarm)
}

// nextAckTime returns the deadline at which a delayed ACK must fire, the
// zero Time if none is pending.
func (s *pnSpace) nextAckTime() time.Time {
	if !s.ackElicitingRecvdSinceAck {
		return time.Time{}
	}
	return s.ackAlarm
}

// buildAckFrame constructs the ACK frame to send for this space, or nil if
// there is nothing to acknowledge. ackDelay is the time since largestRecvdTime,
// scaled by the local ack_delay_exponent before encoding.
func (s *pnSpace) buildAckFrame(now time.Time, ackDelayExponent uint64) *ackFrame {
	if s.recvd.empty() {
		return nil
	}
	delay := now.Sub(s.largestRecvdTime)
	if delay < 0 {
		delay = 0
	}
	scaled := uint64(delay.Microseconds()) >> ackDelayExponent
	af := newAckFrame(scaled, &s.recvd)
	if s.ect0Count > 0 || s.ect1Count > 0 || s.ceCount > 0 {
		af.ecn = true
		af.ect0 = s.ect0Count
		af.ect1 = s.ect1Count
		af.ce = s.ceCount
	}
	return af
}

// onAckSent clears the pending-ACK state after an ACK frame has actually
// been placed in an outgoing packet.
func (s *pnSpace) onAckSent(now time.Time) {
	s.ackElicitingRecvdSinceAck = false
	s.ackElicitingRecvdCount = 0
	s.ackAlarm = time.Time{}
	s.lastAckSent = now
}

// drop discards all state for this space, RFC 9000 Section 12.3 (Initial and
// Handshake spaces are dropped once no longer needed).
func (s *pnSpace) drop() {
	*s = pnSpace{space: s.space, dropped: true}
}
