package congestion

import (
	"testing"
	"time"
)

func TestCubicSlowStartGrowsByAckedBytes(t *testing.T) {
	c := NewCubic(1200)
	start := c.CongestionWindow()
	c.OnPacketAcked(Event{Size: 1200, Now: time.Now()})
	if got := c.CongestionWindow(); got != start+1200 {
		t.Fatalf("cwnd after one ack in slow start = %d, want %d", got, start+1200)
	}
	if !c.InSlowStart() {
		t.Fatal("should still be in slow start")
	}
}

func TestCubicLossAppliesBetaMultiplicativeDecrease(t *testing.T) {
	c := NewCubic(1200)
	for i := 0; i < 50; i++ {
		c.OnPacketAcked(Event{Size: 1200, Now: time.Now()})
	}
	before := c.CongestionWindow()
	now := time.Now()
	c.OnPacketsLost([]Event{{SentTime: now, Size: 1200}})
	after := c.CongestionWindow()
	if after >= before {
		t.Fatalf("cwnd after loss = %d, want less than pre-loss %d", after, before)
	}
	if !c.InRecovery() {
		t.Fatal("InRecovery should be true right after a loss event")
	}
}

func TestCubicOnlyOneReductionPerRecoveryPeriod(t *testing.T) {
	c := NewCubic(1200)
	now := time.Now()
	c.OnPacketsLost([]Event{{SentTime: now, Size: 1200}})
	afterFirst := c.CongestionWindow()
	// A second loss from a packet sent before the recovery period began
	// should not trigger a further reduction, RFC 9002 Section 7.3.1.
	c.OnPacketsLost([]Event{{SentTime: now, Size: 1200}})
	if c.CongestionWindow() != afterFirst {
		t.Fatalf("cwnd changed on a second loss within the same recovery period: %d -> %d", afterFirst, c.CongestionWindow())
	}
}

func TestCubicPersistentCongestionResetsToMinimum(t *testing.T) {
	c := NewCubic(1200)
	for i := 0; i < 50; i++ {
		c.OnPacketAcked(Event{Size: 1200, Now: time.Now()})
	}
	c.OnPersistentCongestion()
	if got := c.CongestionWindow(); got != minWindowPackets*1200 {
		t.Fatalf("cwnd after persistent congestion = %d, want %d", got, minWindowPackets*1200)
	}
	if !c.InSlowStart() {
		t.Fatal("should re-enter slow start after persistent congestion")
	}
}

func TestCubicCanSend(t *testing.T) {
	c := NewCubic(1200)
	if !c.CanSend(0) {
		t.Fatal("should be able to send with nothing in flight")
	}
	if c.CanSend(c.CongestionWindow() + 1) {
		t.Fatal("should not be able to send beyond the congestion window")
	}
}

func TestCubicHyStartExitsSlowStartOnRTTRise(t *testing.T) {
	c := NewCubic(1200)
	c.cwnd = hyStartLowWindowPackets * 1200

	now := time.Now()
	for i := 0; i < hyStartMinSamples; i++ {
		c.OnRTTSample(50*time.Millisecond, 50*time.Millisecond, now)
		now = now.Add(time.Millisecond)
	}
	// First round just establishes the baseline; round the sample count over
	// again with a higher RTT to trigger the rise-based exit.
	now = now.Add(time.Second)
	for i := 0; i < hyStartMinSamples; i++ {
		c.OnRTTSample(50*time.Millisecond+hyStartRTTThresh+time.Millisecond, 50*time.Millisecond, now)
		now = now.Add(time.Millisecond)
	}
	if c.InSlowStart() {
		t.Fatal("HyStart should have exited slow start after a sustained RTT rise")
	}
}
