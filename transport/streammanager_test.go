package transport

import "testing"

func newTestManager(isClient bool) *streamManager {
	sm := newStreamManager(isClient)
	sm.peerMaxStreamsBidi = 10
	sm.peerMaxStreamsUni = 10
	sm.localMaxStreamsBidi = 10
	sm.localMaxStreamsUni = 10
	sm.peerInitialMaxStreamDataBidiRemote = 1 << 20
	sm.localInitialMaxStreamDataBidiLocal = 1 << 20
	sm.localInitialMaxStreamDataBidiRemote = 1 << 20
	sm.peerInitialMaxStreamDataBidiLocal = 1 << 20
	sm.localInitialMaxStreamDataUni = 1 << 20
	sm.peerInitialMaxStreamDataUni = 1 << 20
	return sm
}

func TestStreamManagerClientAllocatesBidiIDsByRule(t *testing.T) {
	sm := newTestManager(true)
	s1, err := sm.create(true)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := sm.create(true)
	if err != nil {
		t.Fatal(err)
	}
	if s1.id != 0 || s2.id != 4 {
		t.Fatalf("client bidi stream IDs = %d,%d, want 0,4", s1.id, s2.id)
	}
}

func TestStreamManagerServerAllocatesUniIDsByRule(t *testing.T) {
	sm := newTestManager(false)
	s1, err := sm.create(false)
	if err != nil {
		t.Fatal(err)
	}
	if s1.id != streamIDServerUni {
		t.Fatalf("first server uni stream ID = %d, want %d", s1.id, streamIDServerUni)
	}
}

func TestStreamManagerLocalCreateRespectsPeerLimit(t *testing.T) {
	sm := newTestManager(true)
	sm.peerMaxStreamsBidi = 1
	if _, err := sm.create(true); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.create(true); err == nil {
		t.Fatal("exceeding the peer-advertised stream limit should error")
	}
}

func TestStreamManagerGetOrCreatePeerStreamOpensLowerStreamsImplicitly(t *testing.T) {
	sm := newTestManager(false) // server: client-initiated streams are peer streams
	// Client opens bidi stream 8 (the third client bidi stream, ID 0/4/8)
	// without ever sending frames for 0 or 4; RFC 9000 says those implicitly
	// open too.
	s, err := sm.getOrCreatePeerStream(8)
	if err != nil {
		t.Fatal(err)
	}
	if s.id != 8 {
		t.Fatalf("returned stream id = %d, want 8", s.id)
	}
	if _, ok := sm.get(0); !ok {
		t.Fatal("stream 0 should have been implicitly opened")
	}
	if _, ok := sm.get(4); !ok {
		t.Fatal("stream 4 should have been implicitly opened")
	}
}

func TestStreamManagerRejectsFrameForLocallyInitiatedUnopenedStream(t *testing.T) {
	sm := newTestManager(true) // client: server-initiated IDs are peer streams here
	// ID 0 is a client-initiated bidi stream the client itself never created.
	if _, err := sm.getOrCreatePeerStream(0); err == nil {
		t.Fatal("a frame referencing a never-created locally-initiated stream should error")
	}
}

func TestStreamManagerEnforcesLocalConcurrencyLimitOnPeerStreams(t *testing.T) {
	sm := newTestManager(false)
	sm.localMaxStreamsBidi = 1
	if _, err := sm.getOrCreatePeerStream(0); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.getOrCreatePeerStream(4); err == nil {
		t.Fatal("a second peer bidi stream beyond the local limit should error")
	}
}

func TestStreamManagerFlushableStreamsOrderedByID(t *testing.T) {
	sm := newTestManager(true)
	s1, _ := sm.create(true)
	s2, _ := sm.create(true)
	s3, _ := sm.create(true)
	s2.send.write([]byte("a"))
	s1.send.write([]byte("b"))
	s3.send.write([]byte("c"))

	if !sm.hasFlushable() {
		t.Fatal("hasFlushable should be true with pending writes")
	}
	flushable := sm.flushableStreams()
	if len(flushable) != 3 {
		t.Fatalf("flushableStreams returned %d streams, want 3", len(flushable))
	}
	for i := 1; i < len(flushable); i++ {
		if flushable[i-1].id > flushable[i].id {
			t.Fatalf("flushableStreams not sorted ascending: %v", flushable)
		}
	}
}
