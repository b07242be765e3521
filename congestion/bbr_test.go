package congestion

import (
	"testing"
	"time"
)

func TestBBRStartsInStartupWithPacingGain(t *testing.T) {
	b := NewBBR(1200, BBRv1)
	if !b.InSlowStart() {
		t.Fatal("BBR should start in Startup mode")
	}
	if b.pacingGain != bbrStartupPacingGain {
		t.Fatalf("initial pacingGain = %v, want %v", b.pacingGain, bbrStartupPacingGain)
	}
}

func TestBBRUpdateMaxBandwidthTracksWindowMax(t *testing.T) {
	b := NewBBR(1200, BBRv1)
	now := time.Now()
	b.OnPacketAcked(Event{Size: 1200, RTT: 100 * time.Millisecond, Now: now})
	now = now.Add(time.Millisecond)
	b.OnPacketAcked(Event{Size: 2400, RTT: 100 * time.Millisecond, Now: now})
	if b.maxBwBps != 24000 {
		t.Fatalf("maxBwBps = %v, want 24000 (the larger of the two delivery-rate samples)", b.maxBwBps)
	}
}

func TestBBRExitsStartupIntoDrainWhenBandwidthPlateaus(t *testing.T) {
	b := NewBBR(1200, BBRv1)
	now := time.Now()
	// One steady bandwidth sample establishes fullBwBps; three more rounds of
	// the same (non-growing) bandwidth should trip the plateau detector and
	// move to Drain on the round that crosses the threshold.
	for i := 0; i < 4; i++ {
		b.OnRTTSample(50*time.Millisecond, 50*time.Millisecond, now)
		b.OnPacketAcked(Event{Size: 1200, RTT: 50 * time.Millisecond, Now: now})
		now = now.Add(60 * time.Millisecond) // > minRTT, advances the round
	}
	if b.mode != bbrDrain {
		t.Fatalf("mode after bandwidth plateau = %v, want bbrDrain", b.mode)
	}
}

func TestBBRProbeRTTEntersAfterInterval(t *testing.T) {
	b := NewBBR(1200, BBRv1)
	now := time.Now()
	b.OnRTTSample(50*time.Millisecond, 50*time.Millisecond, now)

	later := now.Add(bbrProbeRTTInterval + time.Second)
	b.OnRTTSample(50*time.Millisecond, 50*time.Millisecond, later)
	if b.mode != bbrProbeRTT {
		t.Fatalf("mode after minRTT going stale = %v, want bbrProbeRTT", b.mode)
	}
}

func TestBBRv1IgnoresLossForInflightBounds(t *testing.T) {
	b := NewBBR(1200, BBRv1)
	before := b.inflightHi
	b.OnPacketsLost([]Event{{Size: 1200, SentTime: time.Now()}})
	if b.inflightHi != before {
		t.Fatal("BBRv1 should not tighten inflight_hi on loss")
	}
}

func TestBBRv2TightensInflightHiOnLoss(t *testing.T) {
	b := NewBBR(1200, BBRv2)
	b.cwnd = 100000
	before := b.inflightHi
	b.OnPacketsLost([]Event{{Size: 1200, SentTime: time.Now()}})
	if b.inflightHi >= before {
		t.Fatalf("inflightHi after loss = %v, want less than %v", b.inflightHi, before)
	}
}

func TestBBRPersistentCongestionResetsToMinimum(t *testing.T) {
	b := NewBBR(1200, BBRv1)
	b.cwnd = 500000
	b.OnPersistentCongestion()
	if got := b.CongestionWindow(); got != minWindowPackets*1200 {
		t.Fatalf("cwnd after persistent congestion = %d, want %d", got, minWindowPackets*1200)
	}
}

func TestBBRCanSendRespectsCwnd(t *testing.T) {
	b := NewBBR(1200, BBRv1)
	if !b.CanSend(0) {
		t.Fatal("should be able to send with nothing in flight")
	}
	if b.CanSend(b.CongestionWindow() + 1) {
		t.Fatal("should not be able to send beyond the congestion window")
	}
}
