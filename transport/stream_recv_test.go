package transport

import "testing"

func TestRecvBufferOutOfOrderDelivery(t *testing.T) {
	var b recvBuffer
	if _, err := b.insert(5, []byte("world"), true); err != nil {
		t.Fatal(err)
	}
	if _, err := b.insert(0, []byte("hello"), false); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 32)
	n, fin := b.read(buf)
	if string(buf[:n]) != "helloworld" || !fin {
		t.Fatalf("read = %q,%v, want \"helloworld\",true", buf[:n], fin)
	}
}

func TestRecvBufferDuplicateChunkIgnored(t *testing.T) {
	var b recvBuffer
	b.insert(0, []byte("hello"), false)
	hw, err := b.insert(0, []byte("hello"), false)
	if err != nil {
		t.Fatal(err)
	}
	if hw != 5 {
		t.Fatalf("highWatermark after duplicate insert = %d, want 5", hw)
	}
	if len(b.chunks) != 1 {
		t.Fatalf("duplicate chunk was buffered again: %v", b.chunks)
	}
}

func TestRecvBufferOverlappingChunksCoalesce(t *testing.T) {
	var b recvBuffer
	b.insert(0, []byte("abc"), false)
	b.insert(2, []byte("cdef"), false)
	if len(b.chunks) != 1 {
		t.Fatalf("overlapping chunks did not coalesce: %v", b.chunks)
	}
	buf := make([]byte, 16)
	n, _ := b.read(buf)
	if string(buf[:n]) != "abcdef" {
		t.Fatalf("read = %q, want \"abcdef\"", buf[:n])
	}
}

func TestRecvBufferInconsistentFinalSize(t *testing.T) {
	var b recvBuffer
	if _, err := b.insert(0, []byte("hello"), true); err != nil {
		t.Fatal(err)
	}
	if _, err := b.insert(10, []byte("x"), true); err == nil {
		t.Fatal("a second FIN with a different final size should error")
	}
}

func TestRecvStreamFlowControlViolation(t *testing.T) {
	var s recvStream
	s.init(0, 10)
	f := &streamFrame{offset: 5, data: make([]byte, 10)} // end = 15 > limit 10
	if _, err := s.onStreamFrame(f); err != errFlowControl {
		t.Fatalf("onStreamFrame beyond the limit = %v, want errFlowControl", err)
	}
}

func TestRecvStreamReadAfterReset(t *testing.T) {
	var s recvStream
	s.init(0, 100)
	if err := s.onResetStream(&resetStreamFrame{errorCode: 7, finalSize: 3}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, fin, err := s.read(buf)
	if n != 0 || !fin || err == nil {
		t.Fatalf("read after reset = %d,%v,%v, want 0,true,non-nil", n, fin, err)
	}
}

func TestRecvStreamInOrderDeliveryAcrossFrames(t *testing.T) {
	var s recvStream
	s.init(0, 100)
	if _, err := s.onStreamFrame(&streamFrame{offset: 0, data: []byte("ab")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.onStreamFrame(&streamFrame{offset: 2, data: []byte("cd"), fin: true}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, fin, err := s.read(buf)
	if err != nil || string(buf[:n]) != "abcd" || !fin {
		t.Fatalf("read = %q,%v,%v, want \"abcd\",true,nil", buf[:n], fin, err)
	}
}
