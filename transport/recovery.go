package transport

import (
	"time"
)

// Loss detection constants, RFC 9002 Sections 6.1.2 and 6.2.1. Grounded on
// the quic-go ackhandler sent_packet_handler's equivalent constants.
const (
	packetThreshold   = 3
	timeThresholdNum  = 9
	timeThresholdDen  = 8
	granularity       = time.Millisecond
	initialRTT        = 333 * time.Millisecond
	maxPTODuration    = 60 * time.Second
)

// sentPacket records everything needed to detect the loss of, or react to
// the acknowledgement of, one packet we sent, spec.md §4.4.
type sentPacket struct {
	pn           packetNumber
	sentTime     time.Time
	size         int
	ackEliciting bool
	inFlight     bool
	frames       []frame // retained verbatim for retransmission on loss
	isProbe      bool
}

// recoverySpace is the per-packet-number-space state loss recovery needs:
// the set of in-flight sent packets and the largest acknowledged so far.
type recoverySpace struct {
	sent         []*sentPacket // ascending by pn
	largestAcked packetNumber
	lossTime     time.Time
	lastAckElicitingSentTime time.Time
	ptoCount     int
}

func newRecoverySpace() *recoverySpace {
	return &recoverySpace{largestAcked: -1}
}

// recovery implements RFC 9002 loss detection and RTT estimation across all
// three packet-number spaces, spec.md §4.5.
type recovery struct {
	spaces [packetSpaceCount]*recoverySpace

	// RTT estimator, RFC 9002 Section 5.
	minRTT      time.Duration
	smoothedRTT time.Duration
	rttVar      time.Duration
	latestRTT   time.Duration
	gotFirstRTT bool

	maxAckDelay time.Duration // peer's max_ack_delay transport parameter

	bytesInFlight int

	handshakeConfirmed  bool
	peerAddressValidated bool

	lossDetectionTimer time.Time
}

func newRecovery() *recovery {
	r := &recovery{maxAckDelay: 25 * time.Millisecond}
	for i := range r.spaces {
		r.spaces[i] = newRecoverySpace()
	}
	return r
}

// onPacketSent records a packet just handed to the wire, spec.md §4.4/§4.5.
func (r *recovery) onPacketSent(space packetSpace, p *sentPacket) {
	s := r.spaces[space]
	s.sent = append(s.sent, p)
	if p.inFlight {
		r.bytesInFlight += p.size
		if p.ackEliciting {
			s.lastAckElicitingSentTime = p.sentTime
		}
	}
}

// updateRTT applies a newly-sampled RTT, RFC 9002 Section 5.3. ackDelay is
// the peer-reported, unscaled delay; it is clamped to maxAckDelay except
// during the handshake, per RFC 9000 Section 13.2.5.
func (r *recovery) updateRTT(sample time.Duration, ackDelay time.Duration, isHandshakeConfirmed bool) {
	if sample <= 0 {
		return
	}
	if !r.gotFirstRTT {
		r.gotFirstRTT = true
		r.minRTT = sample
		r.smoothedRTT = sample
		r.rttVar = sample / 2
		r.latestRTT = sample
		return
	}
	r.latestRTT = sample
	if sample < r.minRTT {
		r.minRTT = sample
	}
	adjusted := sample
	if isHandshakeConfirmed {
		if ackDelay > r.maxAckDelay {
			ackDelay = r.maxAckDelay
		}
	}
	if adjusted > r.minRTT+ackDelay {
		adjusted -= ackDelay
	}
	diff := r.smoothedRTT - adjusted
	if diff < 0 {
		diff = -diff
	}
	r.rttVar = (3*r.rttVar + diff) / 4
	r.smoothedRTT = (7*r.smoothedRTT + adjusted) / 8
}

// pto computes the current Probe Timeout duration, RFC 9002 Section 6.2.1.
func (r *recovery) pto(includeMaxAckDelay bool) time.Duration {
	if !r.gotFirstRTT {
		return 2 * initialRTT
	}
	d := r.smoothedRTT + max4(4*r.rttVar, granularity)
	if includeMaxAckDelay {
		d += r.maxAckDelay
	}
	return d
}

// scaledPTO returns the PTO scaled by 2^ptoCount (exponential backoff),
// capped at maxPTODuration, RFC 8961 Section 4.4.
func (r *recovery) scaledPTO(space packetSpace) time.Duration {
	s := r.spaces[space]
	d := r.pto(space == packetSpaceApplication) << uint(s.ptoCount)
	if d > maxPTODuration || d <= 0 {
		return maxPTODuration
	}
	return d
}

func (r *recovery) hasInFlight(space packetSpace) bool {
	for _, p := range r.spaces[space].sent {
		if p.inFlight {
			return true
		}
	}
	return false
}

func (r *recovery) hasAnyInFlight() bool {
	for sp := packetSpace(0); sp < packetSpaceCount; sp++ {
		if r.hasInFlight(sp) {
			return true
		}
	}
	return false
}

// ackResult summarizes the effect of processing one ACK frame.
type ackResult struct {
	newlyAcked []*sentPacket
	newlyLost  []*sentPacket
	ackedAckEliciting bool
}

// onAckReceived processes an incoming ACK frame against one space's sent
// list, updating RTT, congestion state inputs and loss detection, spec.md
// §4.4/§4.5.
func (r *recovery) onAckReceived(space packetSpace, f *ackFrame, now time.Time, spaceDropped func(packetSpace) bool) *ackResult {
	s := r.spaces[space]
	res := &ackResult{}
	ranges := f.toRangeSet()
	if ranges == nil {
		return res
	}
	largest := packetNumber(f.largestAck)
	if largest > s.largestAcked {
		s.largestAcked = largest
	}

	var kept []*sentPacket
	var ackedLargestNewAckEliciting *sentPacket
	for _, p := range s.sent {
		if ranges.contains(p.pn) {
			res.newlyAcked = append(res.newlyAcked, p)
			if p.inFlight {
				r.bytesInFlight -= p.size
			}
			if p.ackEliciting {
				res.ackedAckEliciting = true
			}
			if p.pn == largest && p.ackEliciting {
				ackedLargestNewAckEliciting = p
			}
			continue
		}
		kept = append(kept, p)
	}
	s.sent = kept

	if ackedLargestNewAckEliciting != nil {
		sample := now.Sub(ackedLargestNewAckEliciting.sentTime)
		ackDelay := time.Duration(f.ackDelay) * time.Microsecond
		r.updateRTT(sample, ackDelay, r.handshakeConfirmed)
	}

	res.newlyLost = r.detectLostPackets(space, now)
	s.ptoCount = 0
	return res
}

// detectLostPackets applies packet- and time-threshold loss detection to one
// space, RFC 9002 Section 6.1, and removes lost entries from the sent list.
func (r *recovery) detectLostPackets(space packetSpace, now time.Time) []*sentPacket {
	s := r.spaces[space]
	s.lossTime = time.Time{}

	maxRTT := r.latestRTT
	if r.smoothedRTT > maxRTT {
		maxRTT = r.smoothedRTT
	}
	lossDelay := maxRTT * timeThresholdNum / timeThresholdDen
	if lossDelay < granularity {
		lossDelay = granularity
	}
	lostSendTime := now.Add(-lossDelay)

	var lost []*sentPacket
	var kept []*sentPacket
	for _, p := range s.sent {
		if p.pn > s.largestAcked {
			kept = append(kept, p)
			continue
		}
		switch {
		case p.sentTime.Before(lostSendTime) || p.sentTime.Equal(lostSendTime):
			lost = append(lost, p)
			if p.inFlight {
				r.bytesInFlight -= p.size
			}
		case s.largestAcked >= p.pn+packetThreshold:
			lost = append(lost, p)
			if p.inFlight {
				r.bytesInFlight -= p.size
			}
		default:
			if s.lossTime.IsZero() {
				s.lossTime = p.sentTime.Add(lossDelay)
			}
			kept = append(kept, p)
		}
	}
	s.sent = kept
	return lost
}

// dropSpace discards all outstanding packets in a space, returning their
// bytes to the congestion controller's accounting and clearing timers, RFC
// 9000 Section 12.3 (Initial/Handshake key discard).
func (r *recovery) dropSpace(space packetSpace) {
	s := r.spaces[space]
	for _, p := range s.sent {
		if p.inFlight {
			r.bytesInFlight -= p.size
		}
	}
	r.spaces[space] = newRecoverySpace()
}

// earliestLossTime returns the earliest pending loss-detection deadline
// across spaces, and which space it belongs to.
func (r *recovery) earliestLossTime() (time.Time, packetSpace) {
	var best time.Time
	var bestSpace packetSpace
	for sp := packetSpace(0); sp < packetSpaceCount; sp++ {
		lt := r.spaces[sp].lossTime
		if lt.IsZero() {
			continue
		}
		if best.IsZero() || lt.Before(best) {
			best = lt
			bestSpace = sp
		}
	}
	return best, bestSpace
}

// ptoDeadline returns when a PTO should fire for the earliest applicable
// space and whether one applies at all, RFC 9002 Section 6.2.1. dropped
// reports whether a space's keys have been discarded.
func (r *recovery) ptoDeadline(dropped func(packetSpace) bool) (time.Time, packetSpace, bool) {
	for _, sp := range []packetSpace{packetSpaceInitial, packetSpaceHandshake} {
		if dropped(sp) {
			continue
		}
		if r.hasInFlight(sp) {
			return r.spaces[sp].lastAckElicitingSentTime.Add(r.scaledPTO(sp)), sp, true
		}
	}
	if !r.handshakeConfirmed {
		if dropped(packetSpaceHandshake) {
			return time.Time{}, 0, false
		}
		// Before handshake confirmation, arm on whichever of Initial/Handshake
		// is still alive even with nothing in flight yet, so the client can
		// probe to unblock an amplification-limited server.
		if !dropped(packetSpaceInitial) {
			return time.Now().Add(r.scaledPTO(packetSpaceInitial)), packetSpaceInitial, true
		}
		return time.Now().Add(r.scaledPTO(packetSpaceHandshake)), packetSpaceHandshake, true
	}
	sp := packetSpaceApplication
	if !r.hasInFlight(sp) && r.peerAddressValidated {
		return time.Time{}, 0, false
	}
	base := r.spaces[sp].lastAckElicitingSentTime
	if base.IsZero() {
		return time.Time{}, 0, false
	}
	return base.Add(r.scaledPTO(sp)), sp, true
}

// setLossDetectionTimer recomputes r.lossDetectionTimer, RFC 9002 Section 6.2.
func (r *recovery) setLossDetectionTimer(dropped func(packetSpace) bool, amplificationLimited bool) {
	if lt, _ := r.earliestLossTime(); !lt.IsZero() {
		r.lossDetectionTimer = lt
		return
	}
	if amplificationLimited {
		r.lossDetectionTimer = time.Time{}
		return
	}
	if !r.hasAnyInFlight() && r.peerAddressValidated {
		r.lossDetectionTimer = time.Time{}
		return
	}
	pto, _, ok := r.ptoDeadline(dropped)
	if !ok {
		r.lossDetectionTimer = time.Time{}
		return
	}
	r.lossDetectionTimer = pto
}

// onLossDetectionTimeout fires the loss-detection timer: either it was a
// time-threshold loss timer (return lost packets from that space) or a PTO
// (bump ptoCount and tell the caller which space to probe in), RFC 9002
// Section 6.2.4.
func (r *recovery) onLossDetectionTimeout(now time.Time, dropped func(packetSpace) bool) (lost []*sentPacket, probeSpace packetSpace, probe bool) {
	if lt, sp := r.earliestLossTime(); !lt.IsZero() {
		return r.detectLostPackets(sp, now), sp, false
	}
	_, sp, ok := r.ptoDeadline(dropped)
	if !ok {
		return nil, 0, false
	}
	r.spaces[sp].ptoCount++
	return nil, sp, true
}

func max4(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
