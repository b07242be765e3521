package transport

import (
	"testing"
	"time"
)

func mkAckFrame(largest, firstRange uint64) *ackFrame {
	return &ackFrame{largestAck: largest, firstAckRange: firstRange}
}

func TestRecoveryOnPacketSentTracksBytesInFlight(t *testing.T) {
	r := newRecovery()
	now := time.Now()
	r.onPacketSent(packetSpaceApplication, &sentPacket{pn: 0, sentTime: now, size: 100, ackEliciting: true, inFlight: true})
	r.onPacketSent(packetSpaceApplication, &sentPacket{pn: 1, sentTime: now, size: 50, inFlight: false})
	if r.bytesInFlight != 100 {
		t.Fatalf("bytesInFlight = %d, want 100 (non-in-flight packet should not count)", r.bytesInFlight)
	}
}

func TestRecoveryOnAckReceivedAcksAndUpdatesRTT(t *testing.T) {
	r := newRecovery()
	now := time.Now()
	r.onPacketSent(packetSpaceApplication, &sentPacket{pn: 0, sentTime: now, size: 100, ackEliciting: true, inFlight: true})

	later := now.Add(50 * time.Millisecond)
	res := r.onAckReceived(packetSpaceApplication, mkAckFrame(0, 0), later, func(packetSpace) bool { return false })
	if len(res.newlyAcked) != 1 || res.newlyAcked[0].pn != 0 {
		t.Fatalf("newlyAcked = %+v, want one packet with pn 0", res.newlyAcked)
	}
	if !res.ackedAckEliciting {
		t.Fatal("ackedAckEliciting should be true")
	}
	if r.bytesInFlight != 0 {
		t.Fatalf("bytesInFlight after ack = %d, want 0", r.bytesInFlight)
	}
	if !r.gotFirstRTT || r.smoothedRTT <= 0 {
		t.Fatal("first RTT sample should have been recorded")
	}
}

func TestRecoveryDetectLostPacketsByPacketThreshold(t *testing.T) {
	r := newRecovery()
	now := time.Now()
	for pn := packetNumber(0); pn <= 3; pn++ {
		r.onPacketSent(packetSpaceApplication, &sentPacket{pn: pn, sentTime: now, size: 10, ackEliciting: true, inFlight: true})
	}
	// Ack only pn 3; pn 0 is packetThreshold (3) behind the largest acked.
	res := r.onAckReceived(packetSpaceApplication, mkAckFrame(3, 0), now, func(packetSpace) bool { return false })
	found := false
	for _, p := range res.newlyLost {
		if p.pn == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pn 0 to be detected lost by packet threshold, newlyLost=%+v", res.newlyLost)
	}
}

func TestRecoveryDropSpaceClearsBytesInFlight(t *testing.T) {
	r := newRecovery()
	now := time.Now()
	r.onPacketSent(packetSpaceInitial, &sentPacket{pn: 0, sentTime: now, size: 200, ackEliciting: true, inFlight: true})
	if r.bytesInFlight != 200 {
		t.Fatalf("bytesInFlight = %d, want 200", r.bytesInFlight)
	}
	r.dropSpace(packetSpaceInitial)
	if r.bytesInFlight != 0 {
		t.Fatalf("bytesInFlight after dropSpace = %d, want 0", r.bytesInFlight)
	}
	if r.hasInFlight(packetSpaceInitial) {
		t.Fatal("dropSpace should clear all sent packets in that space")
	}
}

func TestRecoveryPTOBacksOffExponentially(t *testing.T) {
	r := newRecovery()
	r.gotFirstRTT = true
	r.smoothedRTT = 100 * time.Millisecond
	r.rttVar = 10 * time.Millisecond

	base := r.pto(true)
	r.spaces[packetSpaceApplication].ptoCount = 1
	doubled := r.scaledPTO(packetSpaceApplication)
	if doubled != base*2 {
		t.Fatalf("scaledPTO with ptoCount=1 = %v, want %v (2x base %v)", doubled, base*2, base)
	}
}

func TestRecoveryPTODeadlineUsesInitialBeforeHandshake(t *testing.T) {
	r := newRecovery()
	now := time.Now()
	r.onPacketSent(packetSpaceInitial, &sentPacket{pn: 0, sentTime: now, size: 100, ackEliciting: true, inFlight: true})

	deadline, sp, ok := r.ptoDeadline(func(packetSpace) bool { return false })
	if !ok || sp != packetSpaceInitial {
		t.Fatalf("ptoDeadline = %v,%v,%v, want Initial space armed", deadline, sp, ok)
	}
}

func TestRecoveryNoPTOWhenIdleAndValidated(t *testing.T) {
	r := newRecovery()
	r.handshakeConfirmed = true
	r.peerAddressValidated = true
	_, _, ok := r.ptoDeadline(func(packetSpace) bool { return false })
	if ok {
		t.Fatal("no PTO should be armed with nothing in flight on a validated path")
	}
}
