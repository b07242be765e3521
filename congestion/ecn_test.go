package congestion

import (
	"testing"
	"time"
)

func TestRenoECNCutIsGentlerThanLossCut(t *testing.T) {
	lossR := NewReno(1200)
	for i := 0; i < 50; i++ {
		lossR.OnPacketAcked(Event{Size: 1200, SentTime: time.Now()})
	}
	lossR.OnPacketsLost([]Event{{Size: 1200, SentTime: time.Now()}})

	ecnR := NewReno(1200)
	for i := 0; i < 50; i++ {
		ecnR.OnPacketAcked(Event{Size: 1200, SentTime: time.Now()})
	}
	ecnR.OnECNCongestionEvent([]Event{{Size: 1200, SentTime: time.Now()}})

	if !ecnR.InRecovery() {
		t.Fatal("an ECN-CE rise should enter recovery")
	}
	if !(ecnR.CongestionWindow() > lossR.CongestionWindow()) {
		t.Fatalf("ECN cwnd (%d) should be greater than loss cwnd (%d)", ecnR.CongestionWindow(), lossR.CongestionWindow())
	}
}

func TestRenoECNOnlyOneReductionPerRecoveryPeriod(t *testing.T) {
	r := NewReno(1200)
	now := time.Now()
	r.OnECNCongestionEvent([]Event{{SentTime: now, Size: 1200}})
	afterFirst := r.CongestionWindow()
	r.OnECNCongestionEvent([]Event{{SentTime: now, Size: 1200}})
	if r.CongestionWindow() != afterFirst {
		t.Fatalf("cwnd changed on a second ECN-CE event within the same recovery period: %d -> %d", afterFirst, r.CongestionWindow())
	}
}

func TestCubicECNCutIsGentlerThanLossCut(t *testing.T) {
	lossC := NewCubic(1200)
	for i := 0; i < 50; i++ {
		lossC.OnPacketAcked(Event{Size: 1200, Now: time.Now()})
	}
	lossC.OnPacketsLost([]Event{{SentTime: time.Now(), Size: 1200}})

	ecnC := NewCubic(1200)
	for i := 0; i < 50; i++ {
		ecnC.OnPacketAcked(Event{Size: 1200, Now: time.Now()})
	}
	ecnC.OnECNCongestionEvent([]Event{{SentTime: time.Now(), Size: 1200}})

	if !(ecnC.CongestionWindow() > lossC.CongestionWindow()) {
		t.Fatalf("ECN cwnd (%d) should be greater than loss cwnd (%d)", ecnC.CongestionWindow(), lossC.CongestionWindow())
	}
}

func TestCubicECNDoesNotForceHyStartExit(t *testing.T) {
	c := NewCubic(1200)
	c.OnECNCongestionEvent([]Event{{SentTime: time.Now(), Size: 1200}})
	if c.hystartExited {
		t.Fatal("an ECN-CE event should not force HyStart exit the way a loss does")
	}
}
