// Package congestion implements the pluggable congestion-control and pacing
// algorithms used by the connection send scheduler, spec.md §4.6.
package congestion

import "time"

// Event carries everything a Controller needs to react to one packet's
// acknowledgement, loss, or transmission.
type Event struct {
	Now           time.Time
	PacketNumber  int64
	Size          int
	SentTime      time.Time
	RTT           time.Duration
	BytesInFlight int // bytes in flight immediately before this event
	IsAppLimited  bool
}

// Controller is the interface every congestion-control algorithm
// implements, spec.md §4.6. It is deliberately narrow: recovery.go owns
// loss/ACK detection and calls into a Controller only with the resulting
// per-packet events.
type Controller interface {
	// OnPacketSent records bytes placed on the wire.
	OnPacketSent(ev Event)
	// OnPacketAcked applies a congestion-window increase for one acked packet.
	OnPacketAcked(ev Event)
	// OnPacketsLost applies a congestion event for a batch of packets lost in
	// the same recovery period (RFC 9002 Section 7.3.1: at most one
	// congestion-window reduction per RTT).
	OnPacketsLost(evs []Event)
	// OnECNCongestionEvent applies a congestion event triggered by a rise in
	// the peer's reported ECN-CE count rather than by loss, RFC 9000
	// Section 13.4.2. Reno and CUBIC cut less here than on loss; BBRv2/v3
	// tighten inflight_hi more here (0.85) than on loss (0.9).
	OnECNCongestionEvent(evs []Event)
	// OnRTTSample is called once per ACK frame with the measured sample, for
	// algorithms (BBR) that react to RTT directly rather than only to loss.
	OnRTTSample(rtt, minRTT time.Duration, now time.Time)

	// CongestionWindow returns the current congestion window in bytes.
	CongestionWindow() int
	// CanSend reports whether bytesInFlight leaves room to send an
	// additional-sized packet under the current window.
	CanSend(bytesInFlight int) bool
	// InSlowStart / InRecovery expose algorithm state for diagnostics/qlog.
	InSlowStart() bool
	InRecovery() bool
}

// Pacer spaces packet transmissions to avoid bursty delivery that would
// itself induce loss, spec.md §4.6. Grounded on the same rate/burst model
// quic-go's pacer uses: a send budget that refills at the controller's
// implied pacing rate and allows a small initial burst.
type Pacer struct {
	getRate func() float64 // bytes/second
	budget  float64
	last    time.Time
	maxBurstPackets int
	packetSize      int
}

// NewPacer constructs a Pacer that queries the current pacing rate from
// getRate (bytes/second) on demand, e.g. congestionWindow/smoothedRTT.
func NewPacer(getRate func() float64, packetSize, maxBurstPackets int) *Pacer {
	return &Pacer{getRate: getRate, packetSize: packetSize, maxBurstPackets: maxBurstPackets}
}

// TimeUntilSend returns how long the caller must wait before the next packet
// may be sent, zero if it may send now.
func (p *Pacer) TimeUntilSend(now time.Time) time.Duration {
	p.refill(now)
	if p.budget >= float64(p.packetSize) {
		return 0
	}
	rate := p.getRate()
	if rate <= 0 {
		return 0
	}
	need := float64(p.packetSize) - p.budget
	return time.Duration(need / rate * float64(time.Second))
}

// OnPacketSent debits the pacing budget by the packet's size.
func (p *Pacer) OnPacketSent(now time.Time, size int) {
	p.refill(now)
	p.budget -= float64(size)
}

func (p *Pacer) refill(now time.Time) {
	if p.last.IsZero() {
		p.last = now
		p.budget = float64(p.maxBurstPackets * p.packetSize)
		return
	}
	elapsed := now.Sub(p.last)
	if elapsed <= 0 {
		return
	}
	p.last = now
	rate := p.getRate()
	p.budget += elapsed.Seconds() * rate
	max := float64(p.maxBurstPackets * p.packetSize)
	if p.budget > max {
		p.budget = max
	}
}
