package congestion

import (
	"testing"
	"time"
)

func TestRenoSlowStartGrowth(t *testing.T) {
	r := NewReno(1200)
	start := r.CongestionWindow()
	if !r.InSlowStart() {
		t.Fatal("a fresh Reno controller should start in slow start")
	}
	r.OnPacketAcked(Event{Size: 1200, SentTime: time.Now()})
	if r.CongestionWindow() != start+1200 {
		t.Fatalf("cwnd = %d, want %d after one ack in slow start", r.CongestionWindow(), start+1200)
	}
}

func TestRenoLossHalvesWindowOncePerRecoveryPeriod(t *testing.T) {
	r := NewReno(1200)
	before := r.CongestionWindow()
	sentAt := time.Now()

	r.OnPacketsLost([]Event{{Size: 1200, SentTime: sentAt}})
	if !r.InRecovery() {
		t.Fatal("a loss should enter recovery")
	}
	afterFirst := r.CongestionWindow()
	if afterFirst != before/2 {
		t.Fatalf("cwnd after loss = %d, want %d", afterFirst, before/2)
	}

	// A second loss whose packet was sent before recoveryStart must not cut
	// the window again, RFC 9002 Section 7.3.2.
	r.OnPacketsLost([]Event{{Size: 1200, SentTime: sentAt}})
	if r.CongestionWindow() != afterFirst {
		t.Fatalf("cwnd changed to %d on a loss within the same recovery period", r.CongestionWindow())
	}
}

func TestRenoPersistentCongestionResetsToMinimum(t *testing.T) {
	r := NewReno(1200)
	r.OnPacketAcked(Event{Size: 100000, SentTime: time.Now()})
	r.OnPersistentCongestion()
	if r.CongestionWindow() != minWindowPackets*1200 {
		t.Fatalf("cwnd after persistent congestion = %d, want %d", r.CongestionWindow(), minWindowPackets*1200)
	}
	if r.InRecovery() {
		t.Fatal("persistent congestion should clear recovery state")
	}
}

func TestRenoCanSend(t *testing.T) {
	r := NewReno(1200)
	if !r.CanSend(0) {
		t.Fatal("CanSend(0) should be true for a fresh controller")
	}
	if r.CanSend(r.CongestionWindow()) {
		t.Fatal("CanSend at the full window should be false")
	}
}
