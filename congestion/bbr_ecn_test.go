package congestion

import (
	"testing"
	"time"
)

func TestBBRv1IgnoresECNForInflightBounds(t *testing.T) {
	b := NewBBR(1200, BBRv1)
	before := b.inflightHi
	b.OnECNCongestionEvent([]Event{{Size: 1200, SentTime: time.Now()}})
	if b.inflightHi != before {
		t.Fatal("BBRv1 should not tighten inflight_hi on an ECN-CE rise")
	}
}

func TestBBRv2TightensInflightHiOnECN(t *testing.T) {
	b := NewBBR(1200, BBRv2)
	b.cwnd = 100000
	before := b.inflightHi
	b.OnECNCongestionEvent([]Event{{Size: 1200, SentTime: time.Now()}})
	if b.inflightHi >= before {
		t.Fatalf("inflightHi after ECN-CE = %v, want less than %v", b.inflightHi, before)
	}
}

func TestBBRECNBetaIsTighterThanLossBeta(t *testing.T) {
	lossB := NewBBR(1200, BBRv2)
	lossB.cwnd = 100000
	lossB.OnPacketsLost([]Event{{Size: 1200, SentTime: time.Now()}})

	ecnB := NewBBR(1200, BBRv2)
	ecnB.cwnd = 100000
	ecnB.OnECNCongestionEvent([]Event{{Size: 1200, SentTime: time.Now()}})

	if !(ecnB.inflightHi < lossB.inflightHi) {
		t.Fatalf("ECN-CE inflightHi (%v) should be more tightened than loss inflightHi (%v)",
			ecnB.inflightHi, lossB.inflightHi)
	}
}

func TestBBRProbeBWSubStateCyclesV3Only(t *testing.T) {
	b := NewBBR(1200, BBRv3)
	now := time.Now()
	b.minRTT = 50 * time.Millisecond

	b.enterProbeBW(now)
	if b.probeBWPhase != probeBWDown {
		t.Fatalf("phase after entering ProbeBW = %v, want probeBWDown", b.probeBWPhase)
	}

	now = now.Add(b.minRTT + time.Millisecond)
	b.advanceProbeBWCycle(now)
	if b.probeBWPhase != probeBWCruise {
		t.Fatalf("phase after one round = %v, want probeBWCruise", b.probeBWPhase)
	}

	now = now.Add(b.minRTT + time.Millisecond)
	b.advanceProbeBWCycle(now)
	if b.probeBWPhase != probeBWRefill {
		t.Fatalf("phase after two rounds = %v, want probeBWRefill", b.probeBWPhase)
	}

	now = now.Add(b.minRTT + time.Millisecond)
	b.advanceProbeBWCycle(now)
	if b.probeBWPhase != probeBWUp {
		t.Fatalf("phase after three rounds = %v, want probeBWUp", b.probeBWPhase)
	}

	now = now.Add(b.minRTT + time.Millisecond)
	b.advanceProbeBWCycle(now)
	if b.probeBWPhase != probeBWDown {
		t.Fatalf("phase after four rounds = %v, want probeBWDown (cycle wraps)", b.probeBWPhase)
	}
}

func TestBBRv2ProbeBWDoesNotUseSubStatePhases(t *testing.T) {
	b := NewBBR(1200, BBRv2)
	now := time.Now()
	b.enterProbeBW(now)
	if !b.phaseStart.IsZero() {
		t.Fatal("BBRv2 should never enter a ProbeBW sub-state phase")
	}
}
