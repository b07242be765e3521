package transport

import (
	"testing"
	"time"
)

func TestPNSpaceOnPacketReceivedAccumulatesECN(t *testing.T) {
	var s pnSpace
	s.init(packetSpaceApplication)
	now := time.Now()

	s.onPacketReceived(0, true, ECNECT0, now)
	s.onPacketReceived(1, true, ECNECT0, now)
	s.onPacketReceived(2, true, ECNECT1, now)
	s.onPacketReceived(3, true, ECNCE, now)
	s.onPacketReceived(4, true, ECNNotECT, now)

	if s.ect0Count != 2 {
		t.Fatalf("ect0Count = %d, want 2", s.ect0Count)
	}
	if s.ect1Count != 1 {
		t.Fatalf("ect1Count = %d, want 1", s.ect1Count)
	}
	if s.ceCount != 1 {
		t.Fatalf("ceCount = %d, want 1", s.ceCount)
	}
}

func TestPNSpaceBuildAckFrameOmitsECNWhenUnmarked(t *testing.T) {
	var s pnSpace
	s.init(packetSpaceApplication)
	now := time.Now()
	s.onPacketReceived(0, true, ECNNotECT, now)

	af := s.buildAckFrame(now, 0)
	if af == nil {
		t.Fatal("buildAckFrame returned nil")
	}
	if af.ecn {
		t.Fatal("ecn flag set with no ECN-marked packets received")
	}
}

func TestPNSpaceBuildAckFramePopulatesECNCounts(t *testing.T) {
	var s pnSpace
	s.init(packetSpaceApplication)
	now := time.Now()
	s.onPacketReceived(0, true, ECNECT0, now)
	s.onPacketReceived(1, true, ECNCE, now)

	af := s.buildAckFrame(now, 0)
	if af == nil {
		t.Fatal("buildAckFrame returned nil")
	}
	if !af.ecn {
		t.Fatal("ecn flag not set despite ECN-marked packets received")
	}
	if af.ect0 != 1 || af.ect1 != 0 || af.ce != 1 {
		t.Fatalf("ect0=%d ect1=%d ce=%d, want 1/0/1", af.ect0, af.ect1, af.ce)
	}
}

func TestPNSpaceResetClearsECNCounts(t *testing.T) {
	var s pnSpace
	s.init(packetSpaceApplication)
	now := time.Now()
	s.onPacketReceived(0, true, ECNCE, now)
	if s.ceCount == 0 {
		t.Fatal("setup: expected ceCount > 0 before reset")
	}
	s.reset()
	if s.ect0Count != 0 || s.ect1Count != 0 || s.ceCount != 0 {
		t.Fatalf("reset did not clear ECN counters: ect0=%d ect1=%d ce=%d", s.ect0Count, s.ect1Count, s.ceCount)
	}
}
