package congestion

import "time"

// minWindowPackets is the minimum congestion window, in packets, RFC 9002
// Section 7.2.
const minWindowPackets = 2

// renoECNBeta is the multiplicative cut applied on an ECN-CE congestion
// event, gentler than the 0.5 loss cut since CE is a signal the path is
// merely approaching congestion rather than already dropping, spec.md §4.6.
const renoECNBeta = 0.85

// Reno implements NewReno congestion control, RFC 9002 Section 7. It is the
// fallback/default algorithm; CUBIC and BBR are opt-in per spec.md §4.6.
type Reno struct {
	maxDatagramSize int
	cwnd            int
	ssthresh        int
	recoveryStart   time.Time
	inRecovery      bool
	bytesAckedInRound int
}

func NewReno(maxDatagramSize int) *Reno {
	return &Reno{
		maxDatagramSize: maxDatagramSize,
		cwnd:            10 * maxDatagramSize,
		ssthresh:        1 << 62,
	}
}

func (r *Reno) CongestionWindow() int { return r.cwnd }
func (r *Reno) InSlowStart() bool     { return r.cwnd < r.ssthresh }
func (r *Reno) InRecovery() bool      { return r.inRecovery }

func (r *Reno) CanSend(bytesInFlight int) bool { return bytesInFlight < r.cwnd }

func (r *Reno) OnPacketSent(ev Event) {}

func (r *Reno) OnRTTSample(rtt, minRTT time.Duration, now time.Time) {}

// OnPacketAcked grows cwnd, RFC 9002 Section 7.3.
func (r *Reno) OnPacketAcked(ev Event) {
	if r.inRecoveryPeriod(ev.SentTime) {
		return
	}
	if r.InSlowStart() {
		r.cwnd += ev.Size
		return
	}
	// Congestion avoidance: additive increase, one maximum datagram size per
	// window's worth of acknowledged bytes.
	r.bytesAckedInRound += ev.Size
	if r.bytesAckedInRound >= r.cwnd {
		r.bytesAckedInRound -= r.cwnd
		r.cwnd += r.maxDatagramSize
	}
}

// OnPacketsLost applies the multiplicative decrease, RFC 9002 Section 7.3.2,
// once per recovery period.
func (r *Reno) OnPacketsLost(evs []Event) {
	if len(evs) == 0 {
		return
	}
	var latestSend time.Time
	for _, ev := range evs {
		if ev.SentTime.After(latestSend) {
			latestSend = ev.SentTime
		}
	}
	if r.inRecoveryPeriod(latestSend) {
		return
	}
	r.enterRecovery(latestSend)
}

// OnECNCongestionEvent applies the gentler ECN-CE cut, once per recovery
// period like a loss event, RFC 9000 Section 13.4.2.
func (r *Reno) OnECNCongestionEvent(evs []Event) {
	if len(evs) == 0 {
		return
	}
	var latestSend time.Time
	for _, ev := range evs {
		if ev.SentTime.After(latestSend) {
			latestSend = ev.SentTime
		}
	}
	if r.inRecoveryPeriod(latestSend) {
		return
	}
	r.enterRecoveryWithBeta(latestSend, renoECNBeta)
}

func (r *Reno) inRecoveryPeriod(sentTime time.Time) bool {
	return r.inRecovery && !sentTime.After(r.recoveryStart)
}

func (r *Reno) enterRecovery(now time.Time) {
	r.enterRecoveryWithBeta(now, 0.5)
}

func (r *Reno) enterRecoveryWithBeta(now time.Time, beta float64) {
	r.inRecovery = true
	r.recoveryStart = now
	r.ssthresh = int(float64(r.cwnd) * beta)
	if r.ssthresh < minWindowPackets*r.maxDatagramSize {
		r.ssthresh = minWindowPackets * r.maxDatagramSize
	}
	r.cwnd = r.ssthresh
	r.bytesAckedInRound = 0
}

// OnPersistentCongestion resets to the minimum window, RFC 9002 Section 7.6.2.
func (r *Reno) OnPersistentCongestion() {
	r.cwnd = minWindowPackets * r.maxDatagramSize
	r.inRecovery = false
}
