package congestion

import (
	"math"
	"time"
)

// CUBIC constants, RFC 9438 (and matching the teacher pack's C++ reference
// implementation's cubic_congestion_control.h): kCubicC scales the cubic
// growth curve, kBetaCubic is the multiplicative-decrease factor.
const (
	cubicC    = 0.4
	cubicBeta = 0.7

	// cubicECNBeta is the multiplicative cut for an ECN-CE congestion
	// event, gentler than cubicBeta's loss cut, spec.md §4.6.
	cubicECNBeta = 0.85

	// HyStart-lite thresholds, same values as the C++ reference's
	// kHyStartLowWindow/kHyStartMinSamples/kHyStartRttThreshUs: this is a
	// minimal RTT-increase-based slow-start exit, not full HyStart++
	// (no ACK-train detection) — see DESIGN.md Open Question decisions.
	hyStartLowWindowPackets = 16
	hyStartMinSamples       = 8
	hyStartRTTThresh        = 4 * time.Millisecond
)

// Cubic implements TCP CUBIC congestion control with an optional
// HyStart-lite slow-start exit, spec.md §4.6 / SPEC_FULL.md supplemented
// features.
type Cubic struct {
	maxDatagramSize int
	cwnd            int
	ssthresh        int

	wMax        float64 // cwnd (in segments) before last reduction
	k           float64 // seconds
	epochStart  time.Time
	originPoint float64

	inRecovery    bool
	recoveryStart time.Time

	bytesAckedInRound int

	hystartEnabled      bool
	hystartRoundStart    time.Time
	hystartRoundMinRTT   time.Duration
	lastRoundMinRTT      time.Duration
	hystartSamples       int
	hystartExited        bool
}

func NewCubic(maxDatagramSize int) *Cubic {
	return &Cubic{
		maxDatagramSize: maxDatagramSize,
		cwnd:            10 * maxDatagramSize,
		ssthresh:        1 << 62,
		hystartEnabled:  true,
	}
}

func (c *Cubic) CongestionWindow() int { return c.cwnd }
func (c *Cubic) InSlowStart() bool     { return c.cwnd < c.ssthresh && !c.hystartExited }
func (c *Cubic) InRecovery() bool      { return c.inRecovery }
func (c *Cubic) CanSend(bytesInFlight int) bool { return bytesInFlight < c.cwnd }
func (c *Cubic) OnPacketSent(ev Event)          {}

// OnRTTSample drives the HyStart-lite slow-start exit: once a round's
// minimum RTT has risen by more than hyStartRTTThresh over the previous
// round's minimum, with enough samples to trust the measurement, slow start
// ends and ssthresh is pinned at the current window (RFC 9438's HyStart++
// does this plus ACK-train detection; this keeps only the RTT-rise signal).
func (c *Cubic) OnRTTSample(rtt, minRTT time.Duration, now time.Time) {
	if !c.hystartEnabled || c.hystartExited || !c.InSlowStart() {
		return
	}
	if c.cwnd < hyStartLowWindowPackets*c.maxDatagramSize {
		return
	}
	if c.hystartRoundStart.IsZero() {
		c.hystartRoundStart = now
		c.hystartRoundMinRTT = rtt
		c.hystartSamples = 1
		return
	}
	if rtt < c.hystartRoundMinRTT {
		c.hystartRoundMinRTT = rtt
	}
	c.hystartSamples++
	// A "round" here is approximated by sample count rather than tracking
	// the packet number that ends it; cheap and sufficient for the exit
	// decision, which only needs a stable per-round minimum.
	if c.hystartSamples < hyStartMinSamples {
		return
	}
	if c.lastRoundMinRTT != 0 && c.hystartRoundMinRTT > c.lastRoundMinRTT+hyStartRTTThresh {
		c.ssthresh = c.cwnd
		c.hystartExited = true
		return
	}
	c.lastRoundMinRTT = c.hystartRoundMinRTT
	c.hystartRoundStart = now
	c.hystartRoundMinRTT = 1<<63 - 1
	c.hystartSamples = 0
}

// OnPacketAcked grows the window per RFC 9438: slow start is a plain
// additive increase per acked segment; congestion avoidance follows the
// cubic curve with a TCP-friendly region floor.
func (c *Cubic) OnPacketAcked(ev Event) {
	if c.inRecoveryPeriod(ev.SentTime) {
		return
	}
	if c.InSlowStart() {
		c.cwnd += ev.Size
		return
	}
	if c.epochStart.IsZero() {
		c.epochStart = ev.Now
		segCwnd := float64(c.cwnd) / float64(c.maxDatagramSize)
		if c.wMax <= segCwnd {
			c.k = 0
			c.originPoint = segCwnd
		} else {
			c.k = math.Cbrt((c.wMax - segCwnd) / cubicC)
			c.originPoint = c.wMax
		}
	}
	t := ev.Now.Sub(c.epochStart).Seconds()
	wCubic := cubicC*math.Pow(t-c.k, 3) + c.originPoint
	// TCP-friendly region: the RFC-mandated floor ensuring CUBIC never loses
	// throughput to Reno in short-RTT/low-BDP regimes.
	rtt := c.estimateRTTSeconds()
	wEst := c.originPoint*cubicBeta + (3*(1-cubicBeta)/(1+cubicBeta))*(t/rtt)
	target := wCubic
	if wEst > target {
		target = wEst
	}
	targetBytes := int(target * float64(c.maxDatagramSize))
	if targetBytes > c.cwnd {
		c.bytesAckedInRound += ev.Size
		if c.bytesAckedInRound >= c.cwnd {
			c.bytesAckedInRound -= c.cwnd
			if c.cwnd < targetBytes {
				c.cwnd += c.maxDatagramSize
			}
		}
	}
}

func (c *Cubic) estimateRTTSeconds() float64 {
	// Without a plumbed RTT estimator reference, approximate via a
	// conservative 100ms; the TCP-friendly floor is a secondary guard and
	// this keeps the controller self-contained and testable in isolation.
	return 0.1
}

func (c *Cubic) inRecoveryPeriod(sentTime time.Time) bool {
	return c.inRecovery && !sentTime.After(c.recoveryStart)
}

// OnPacketsLost applies the cubic multiplicative decrease, at most once per
// RTT (RFC 9002 Section 7.3.1 applies generally; RFC 9438 Section 4.6 gives
// the 0.7 beta specifically).
func (c *Cubic) OnPacketsLost(evs []Event) {
	if len(evs) == 0 {
		return
	}
	var latestSend time.Time
	for _, ev := range evs {
		if ev.SentTime.After(latestSend) {
			latestSend = ev.SentTime
		}
	}
	if c.inRecoveryPeriod(latestSend) {
		return
	}
	c.inRecovery = true
	c.recoveryStart = latestSend
	c.hystartExited = true // a loss ends slow start regardless of HyStart state

	segCwnd := float64(c.cwnd) / float64(c.maxDatagramSize)
	if segCwnd < c.wMax {
		c.wMax = segCwnd * (1 + cubicBeta) / 2
	} else {
		c.wMax = segCwnd
	}
	c.ssthresh = int(segCwnd * cubicBeta * float64(c.maxDatagramSize))
	if c.ssthresh < minWindowPackets*c.maxDatagramSize {
		c.ssthresh = minWindowPackets * c.maxDatagramSize
	}
	c.cwnd = c.ssthresh
	c.epochStart = time.Time{}
	c.bytesAckedInRound = 0
}

// OnECNCongestionEvent applies a gentler cut than OnPacketsLost, at most once
// per RTT, without treating the event as ending slow start via HyStart (a CE
// mark alone is not evidence of the drop-inducing congestion HyStart reacts
// to), RFC 9000 Section 13.4.2.
func (c *Cubic) OnECNCongestionEvent(evs []Event) {
	if len(evs) == 0 {
		return
	}
	var latestSend time.Time
	for _, ev := range evs {
		if ev.SentTime.After(latestSend) {
			latestSend = ev.SentTime
		}
	}
	if c.inRecoveryPeriod(latestSend) {
		return
	}
	c.inRecovery = true
	c.recoveryStart = latestSend

	segCwnd := float64(c.cwnd) / float64(c.maxDatagramSize)
	if segCwnd < c.wMax {
		c.wMax = segCwnd * (1 + cubicECNBeta) / 2
	} else {
		c.wMax = segCwnd
	}
	c.ssthresh = int(segCwnd * cubicECNBeta * float64(c.maxDatagramSize))
	if c.ssthresh < minWindowPackets*c.maxDatagramSize {
		c.ssthresh = minWindowPackets * c.maxDatagramSize
	}
	c.cwnd = c.ssthresh
	c.epochStart = time.Time{}
	c.bytesAckedInRound = 0
}

func (c *Cubic) OnPersistentCongestion() {
	c.cwnd = minWindowPackets * c.maxDatagramSize
	c.wMax = 0
	c.epochStart = time.Time{}
	c.inRecovery = false
}
