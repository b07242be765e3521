package transport

import (
	"crypto/tls"
	"testing"
)

func TestFrameAllowedInZeroRTTExcludesHandshakeOnlyFrames(t *testing.T) {
	denied := []uint64{frameTypeAck, frameTypeAckECN, frameTypeCrypto, frameTypeNewToken,
		frameTypeHanshakeDone, frameTypePathResponse}
	for _, typ := range denied {
		if frameAllowedIn(typ, packetSpaceApplication, true) {
			t.Fatalf("frame type %d should not be allowed in a 0-RTT packet", typ)
		}
	}
}

func TestFrameAllowedInZeroRTTPermitsStreamFrames(t *testing.T) {
	if !frameAllowedIn(frameTypeStream, packetSpaceApplication, true) {
		t.Fatal("STREAM frames should be allowed in a 0-RTT packet")
	}
}

func TestFrameAllowedInOneRTTPermitsEverythingApplicationSpaceAllows(t *testing.T) {
	for _, typ := range []uint64{frameTypeAck, frameTypeAckECN, frameTypeCrypto, frameTypeStream, frameTypeHanshakeDone} {
		if !frameAllowedIn(typ, packetSpaceApplication, false) {
			t.Fatalf("frame type %d should be allowed in a 1-RTT packet", typ)
		}
	}
}

func TestFrameAllowedInInitialSpaceRejectsStream(t *testing.T) {
	if frameAllowedIn(frameTypeStream, packetSpaceInitial, false) {
		t.Fatal("STREAM frames should never be allowed in the Initial space")
	}
	if !frameAllowedIn(frameTypeCrypto, packetSpaceInitial, false) {
		t.Fatal("CRYPTO frames should be allowed in the Initial space")
	}
}

func TestOnZeroRTTRejectedRequeuesEveryStreamAndFiresEvent(t *testing.T) {
	s := &Conn{isClient: true}
	s.streams = *newStreamManager(true)

	send := &sendStream{}
	send.init(streamIDClientBidi, 1<<20)
	send.buf.data = []byte("hello 0rtt")
	send.buf.sentOff = 10
	send.buf.ackedOff = 3

	s.streams.streams[streamIDClientBidi] = &Stream{id: streamIDClientBidi, send: send}

	s.onZeroRTTRejected()

	if send.buf.sentOff != 3 {
		t.Fatalf("sentOff after rejection = %d, want rewound to ackedOff (3)", send.buf.sentOff)
	}

	events := s.Events(nil)
	if len(events) != 1 || events[0].Type != EventZeroRTTRejected {
		t.Fatalf("events = %v, want a single EventZeroRTTRejected", events)
	}
}

func TestCanSendZeroRTTRequiresClientWithEarlyButNotAppKeys(t *testing.T) {
	s := &Conn{isClient: true}
	if s.canSendZeroRTT() {
		t.Fatal("no keys installed yet: canSendZeroRTT should be false")
	}
	s.crypto.setWriteSecret(cryptoEarly, tls.TLS_AES_128_GCM_SHA256, make([]byte, 32))
	if !s.canSendZeroRTT() {
		t.Fatal("early write keys installed, no app keys yet: canSendZeroRTT should be true")
	}
	s.crypto.setWriteSecret(cryptoApp, tls.TLS_AES_128_GCM_SHA256, make([]byte, 32))
	if s.canSendZeroRTT() {
		t.Fatal("app write keys installed: canSendZeroRTT should be false")
	}
}
