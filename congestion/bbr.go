package congestion

import "time"

// bbrMode is BBR's state machine, grounded on the teacher pack's C++
// reference bbr_v1_congestion_control.h Mode enum.
type bbrMode int

const (
	bbrStartup bbrMode = iota
	bbrDrain
	bbrProbeBW
	bbrProbeRTT
)

// BBRVariant selects which generation of BBR's inflight bounding and gain
// schedule to apply, spec.md §4.6 / SPEC_FULL.md supplemented features:
// v1 has no inflight_hi/lo bounds, v2 introduces them from loss/ECN signal,
// v3 refines the ProbeBW gain cycle and inflight_lo recovery.
type BBRVariant int

const (
	BBRv1 BBRVariant = iota
	BBRv2
	BBRv3
)

const (
	bbrStartupPacingGain = 2.885 // 2/ln(2), matches the reference implementation
	bbrStartupCwndGain   = 2.0
	bbrDrainPacingGain   = 1 / bbrStartupPacingGain
	bbrBwWindow          = 10 // per-ack samples kept by the max-bandwidth filter

	bbrProbeRTTInterval = 10 * time.Second
	bbrProbeRTTDuration  = 200 * time.Millisecond

	bbrFullBWGrowthThresh = 1.25 // <25% growth over 3 rounds => bandwidth plateaued

	bbrInitialRTT = 333 * time.Millisecond
)

// bbrProbeBWGainCycle is the classic 8-phase pacing-gain cycle, RFC draft
// "BBR Congestion Control" Section 4.3.3. Used by BBRv1 and BBRv2; BBRv3
// replaces it with the four-phase Down/Cruise/Refill/Up state machine below.
var bbrProbeBWGainCycle = [8]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

// bbrProbeBWPhase is BBRv3's ProbeBW sub-state machine, replacing v1/v2's
// fixed 8-phase gain cycle with a cycle driven by inflight_hi/lo, per the
// BBRv3 draft's ProbeBW_DOWN/CRUISE/REFILL/UP states.
type bbrProbeBWPhase int

const (
	probeBWDown bbrProbeBWPhase = iota
	probeBWCruise
	probeBWRefill
	probeBWUp
)

const (
	bbrProbeBWDownGain   = 0.9  // drain the excess queue built up during Up
	bbrProbeBWCruiseGain = 1.0  // hold steady at the learned bandwidth
	bbrProbeBWRefillGain = 1.0  // refill inflight_lo/hi before probing again
	bbrProbeBWUpGain     = 1.25 // probe for more bandwidth
)

type bwSample struct {
	t       time.Time
	bytesPS float64
}

// BBR implements the BBR family of congestion controllers, spec.md §4.6.
type BBR struct {
	variant BBRVariant

	maxDatagramSize int
	mode            bbrMode

	cwnd int

	minRTT      time.Duration
	minRTTStamp time.Time

	bwSamples  []bwSample
	maxBwBps   float64

	fullBwBps  float64
	fullBwCount int
	fullBwReached bool

	pacingGain float64
	cwndGain   float64

	cycleIndex int
	cycleStart time.Time

	// BBRv3-only ProbeBW sub-state.
	probeBWPhase bbrProbeBWPhase
	phaseStart   time.Time

	probeRTTDoneStamp time.Time
	probeRTTRoundDone bool
	priorCwndBeforeProbeRTT int

	// v2/v3 inflight bounds, driven by loss/ECN signal within a ProbeBW round.
	inflightHi float64 // bytes; upper bound learned from loss
	inflightLo float64 // bytes; lower bound retained across a round with loss
	lossInRound bool
	bytesLostInRound int

	roundStart time.Time
	roundCount int
}

func NewBBR(maxDatagramSize int, variant BBRVariant) *BBR {
	return &BBR{
		variant:         variant,
		maxDatagramSize: maxDatagramSize,
		cwnd:            10 * maxDatagramSize,
		pacingGain:      bbrStartupPacingGain,
		cwndGain:        bbrStartupCwndGain,
		inflightHi:      1 << 62,
	}
}

func (b *BBR) CongestionWindow() int { return b.cwnd }
func (b *BBR) InSlowStart() bool     { return b.mode == bbrStartup }
func (b *BBR) InRecovery() bool      { return false }
func (b *BBR) CanSend(bytesInFlight int) bool { return bytesInFlight < b.cwnd }
func (b *BBR) OnPacketSent(ev Event)          {}

// PacingRateBps exposes the current pacing rate for a Pacer to query.
func (b *BBR) PacingRateBps() float64 {
	if b.maxBwBps == 0 {
		// Before the first bandwidth sample, pace generously so Startup can
		// ramp; bounded by cwnd/minRTT once available.
		if b.minRTT > 0 {
			return float64(b.cwnd) / b.minRTT.Seconds()
		}
		return 1 << 30
	}
	return b.maxBwBps * b.pacingGain
}

// OnRTTSample updates the RTProp (minimum RTT) filter, RFC draft Section 4.2.
// The staleness check against the current estimate must run before that
// estimate is refreshed, or a stale minRTTStamp would never be observed as
// stale: it gets stamped to now in the same call that would have entered
// ProbeRTT for going 10s without a new low.
func (b *BBR) OnRTTSample(rtt, _ time.Duration, now time.Time) {
	if rtt <= 0 {
		return
	}
	b.maybeEnterOrExitProbeRTT(now)
	if b.minRTT == 0 || rtt < b.minRTT || now.Sub(b.minRTTStamp) > bbrProbeRTTInterval {
		b.minRTT = rtt
		b.minRTTStamp = now
	}
}

// OnPacketAcked updates the bandwidth filter and advances the mode machine,
// grounded on the reference's OnPacketAcked/CheckFullBandwidthReached/
// AdvanceProbeBwCycle sequence.
func (b *BBR) OnPacketAcked(ev Event) {
	if ev.RTT > 0 {
		deliveryRate := float64(ev.Size) / ev.RTT.Seconds()
		b.updateMaxBandwidth(deliveryRate, ev.Now)
	}
	b.maybeAdvanceRound(ev.Now)

	switch b.mode {
	case bbrStartup:
		b.checkFullBandwidthReached(ev.Now)
	case bbrDrain:
		if ev.BytesInFlight <= b.bdpBytes(1, 1) {
			b.enterProbeBW(ev.Now)
		}
	case bbrProbeBW:
		b.advanceProbeBWCycle(ev.Now)
	case bbrProbeRTT:
		b.maybeExitProbeRTT(ev.Now, ev.BytesInFlight)
	}
	b.updateCwnd(ev.Now)
}

func (b *BBR) updateMaxBandwidth(bps float64, now time.Time) {
	b.bwSamples = append(b.bwSamples, bwSample{t: now, bytesPS: bps})
	if len(b.bwSamples) > bbrBwWindow {
		b.bwSamples = b.bwSamples[len(b.bwSamples)-bbrBwWindow:]
	}
	max := 0.0
	for _, s := range b.bwSamples {
		if s.bytesPS > max {
			max = s.bytesPS
		}
	}
	b.maxBwBps = max
}

func (b *BBR) maybeAdvanceRound(now time.Time) {
	if b.roundStart.IsZero() {
		b.roundStart = now
		return
	}
	if b.minRTT > 0 && now.Sub(b.roundStart) >= b.minRTT {
		b.roundStart = now
		b.roundCount++
		if b.variant != BBRv1 {
			b.lossInRound = false
			b.bytesLostInRound = 0
		}
	}
}

func (b *BBR) checkFullBandwidthReached(now time.Time) {
	if b.maxBwBps >= b.fullBwBps*bbrFullBWGrowthThresh || b.fullBwBps == 0 {
		b.fullBwBps = b.maxBwBps
		b.fullBwCount = 0
		return
	}
	b.fullBwCount++
	if b.fullBwCount >= 3 {
		b.fullBwReached = true
		b.enterDrain(now)
	}
}

func (b *BBR) enterDrain(now time.Time) {
	b.mode = bbrDrain
	b.pacingGain = bbrDrainPacingGain
	b.cwndGain = bbrStartupCwndGain
}

func (b *BBR) enterProbeBW(now time.Time) {
	b.mode = bbrProbeBW
	b.cwndGain = 2.0
	if b.variant == BBRv3 {
		b.enterProbeBWPhase(probeBWDown, now)
		return
	}
	b.cycleIndex = 0
	b.cycleStart = now
	b.pacingGain = bbrProbeBWGainCycle[0]
}

func (b *BBR) advanceProbeBWCycle(now time.Time) {
	if b.variant == BBRv3 {
		b.advanceProbeBWSubState(now)
		return
	}
	cycleLen := b.minRTT
	if cycleLen <= 0 {
		cycleLen = bbrInitialRTT
	}
	if now.Sub(b.cycleStart) >= cycleLen {
		b.cycleStart = now
		b.cycleIndex = (b.cycleIndex + 1) % len(bbrProbeBWGainCycle)
		b.pacingGain = bbrProbeBWGainCycle[b.cycleIndex]
	}
}

func (b *BBR) enterProbeBWPhase(phase bbrProbeBWPhase, now time.Time) {
	b.probeBWPhase = phase
	b.phaseStart = now
	switch phase {
	case probeBWDown:
		b.pacingGain = bbrProbeBWDownGain
	case probeBWCruise:
		b.pacingGain = bbrProbeBWCruiseGain
	case probeBWRefill:
		b.pacingGain = bbrProbeBWRefillGain
		// Refill gives inflight_lo a fresh chance to grow: BBRv3 draft
		// Section 4.3.2, a round with no loss/ECN may raise it back toward
		// inflight_hi.
		b.inflightLo = 0
	case probeBWUp:
		b.pacingGain = bbrProbeBWUpGain
	}
}

// advanceProbeBWSubState cycles through BBRv3's Down -> Cruise -> Refill ->
// Up -> Down ProbeBW phases, each held for roughly one round trip. Down
// drains any queue the prior Up phase built; Cruise paces at the learned
// rate; Refill lets inflight_lo recover before the next probe; Up raises the
// pacing gain to search for additional bandwidth.
func (b *BBR) advanceProbeBWSubState(now time.Time) {
	cycleLen := b.minRTT
	if cycleLen <= 0 {
		cycleLen = bbrInitialRTT
	}
	if now.Sub(b.phaseStart) < cycleLen {
		return
	}
	switch b.probeBWPhase {
	case probeBWDown:
		b.enterProbeBWPhase(probeBWCruise, now)
	case probeBWCruise:
		b.enterProbeBWPhase(probeBWRefill, now)
	case probeBWRefill:
		b.enterProbeBWPhase(probeBWUp, now)
	case probeBWUp:
		b.enterProbeBWPhase(probeBWDown, now)
	}
}

func (b *BBR) maybeEnterOrExitProbeRTT(now time.Time) {
	if b.mode == bbrProbeRTT {
		return
	}
	if b.minRTTStamp.IsZero() {
		return
	}
	if now.Sub(b.minRTTStamp) > bbrProbeRTTInterval {
		b.mode = bbrProbeRTT
		b.priorCwndBeforeProbeRTT = b.cwnd
		b.pacingGain = 1.0
		b.probeRTTDoneStamp = time.Time{}
	}
}

func (b *BBR) maybeExitProbeRTT(now time.Time, bytesInFlight int) {
	if b.probeRTTDoneStamp.IsZero() {
		if bytesInFlight <= 4*b.maxDatagramSize {
			b.probeRTTDoneStamp = now.Add(bbrProbeRTTDuration)
		}
		return
	}
	if now.After(b.probeRTTDoneStamp) {
		b.minRTTStamp = now
		if b.fullBwReached {
			b.enterProbeBW(now)
		} else {
			b.mode = bbrStartup
			b.pacingGain = bbrStartupPacingGain
			b.cwndGain = bbrStartupCwndGain
		}
		b.cwnd = b.priorCwndBeforeProbeRTT
	}
}

// bdpBytes returns BDP * gainNum/gainDen in bytes.
func (b *BBR) bdpBytes(gainNum, gainDen int) int {
	if b.minRTT <= 0 || b.maxBwBps <= 0 {
		return 10 * b.maxDatagramSize
	}
	bdp := b.maxBwBps * b.minRTT.Seconds()
	return int(bdp * float64(gainNum) / float64(gainDen))
}

func (b *BBR) updateCwnd(now time.Time) {
	target := float64(b.bdpBytes(1, 1)) * b.cwndGain
	if b.mode == bbrProbeRTT {
		target = float64(4 * b.maxDatagramSize)
	}
	if b.variant != BBRv1 && b.inflightHi < target {
		target = b.inflightHi
	}
	if target < float64(minWindowPackets*b.maxDatagramSize) {
		target = float64(minWindowPackets * b.maxDatagramSize)
	}
	b.cwnd = int(target)
}

// OnPacketsLost applies the v2/v3 inflight_hi/lo tightening on loss; v1
// (which has no such bound) ignores the loss.
func (b *BBR) OnPacketsLost(evs []Event) {
	if len(evs) == 0 {
		return
	}
	if b.variant == BBRv1 {
		return
	}
	lost := 0
	for _, ev := range evs {
		lost += ev.Size
	}
	b.bytesLostInRound += lost
	b.lossInRound = true

	// RFC draft "BBRv2" Section 4.2.4: upon loss, tighten inflight_hi to the
	// current delivered-in-flight estimate scaled down, and remember
	// inflight_lo so subsequent rounds don't re-probe past the same point
	// until a full round confirms recovery (v3 refines the lo/hi interplay
	// during ProbeBW; the same fields serve both here). Loss scales
	// inflight_hi by 0.9, a smaller cut than OnECNCongestionEvent's 0.85.
	newHi := float64(b.cwnd) * 0.9
	if newHi < b.inflightHi {
		b.inflightHi = newHi
	}
	if b.variant == BBRv3 {
		if b.inflightLo == 0 || float64(b.cwnd) < b.inflightLo {
			b.inflightLo = float64(b.cwnd) * cubicBeta
		}
	}
}

// OnECNCongestionEvent applies v2/v3's inflight_hi tightening for a rise in
// the peer's reported ECN-CE count, scaling it by 0.85, a deeper cut than
// OnPacketsLost's 0.9, BBRv2/v3 draft Section 4.2.4 / spec.md §4.6. v1 predates ECN-aware inflight bounds, so it
// ignores the signal entirely, matching its behavior on loss.
func (b *BBR) OnECNCongestionEvent(evs []Event) {
	if len(evs) == 0 {
		return
	}
	if b.variant == BBRv1 {
		return
	}
	b.lossInRound = true

	newHi := float64(b.cwnd) * 0.85
	if newHi < b.inflightHi {
		b.inflightHi = newHi
	}
	if b.variant == BBRv3 {
		if b.inflightLo == 0 || float64(b.cwnd) < b.inflightLo {
			b.inflightLo = float64(b.cwnd) * cubicBeta
		}
	}
}

func (b *BBR) OnPersistentCongestion() {
	b.cwnd = minWindowPackets * b.maxDatagramSize
	b.inflightHi = 1 << 62
	b.inflightLo = 0
}
