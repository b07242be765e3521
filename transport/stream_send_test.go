package transport

import "testing"

func TestSendBufferPendingAndMarkSent(t *testing.T) {
	var b sendBuffer
	b.write([]byte("hello world"))
	b.setFin()

	data, offset, fin := b.pending(5)
	if string(data) != "hello" || offset != 0 || fin {
		t.Fatalf("pending(5) = %q,%d,%v", data, offset, fin)
	}
	b.markSent(0, 5, false)

	data, offset, fin = b.pending(-1)
	if string(data) != " world" || offset != 5 || !fin {
		t.Fatalf("pending(-1) = %q,%d,%v, want \" world\",5,true", data, offset, fin)
	}
	b.markSent(5, 6, true)
	b.markAcked(0, 11)
	if !b.fullyAcked() {
		t.Fatal("fullyAcked() false after acking the whole buffer including FIN")
	}
}

func TestSendBufferRetransmitRewindsToAcked(t *testing.T) {
	var b sendBuffer
	b.write([]byte("0123456789"))
	b.markSent(0, 10, false)
	b.markAcked(0, 4)
	b.retransmit()
	if b.sentOff != 4 {
		t.Fatalf("sentOff after retransmit = %d, want 4", b.sentOff)
	}
	data, offset, _ := b.pending(-1)
	if offset != 4 || string(data) != "456789" {
		t.Fatalf("pending after retransmit = %q at %d, want \"456789\" at 4", data, offset)
	}
}

func TestSendStreamWriteRespectsFlowControl(t *testing.T) {
	var s sendStream
	s.init(4, 5)

	n, err := s.write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write(5 bytes within limit) = %d,%v", n, err)
	}
	if _, err := s.write([]byte("x")); err != errFlowControl {
		t.Fatalf("write beyond peer limit = %v, want errFlowControl", err)
	}
}

func TestSendStreamResetTerminal(t *testing.T) {
	var s sendStream
	s.init(4, 100)
	s.write([]byte("data"))

	f := s.reset(42)
	if f == nil || f.errorCode != 42 {
		t.Fatalf("reset(42) frame = %+v, want errorCode 42", f)
	}
	if s.state != sendStreamResetSent {
		t.Fatalf("state after reset = %v, want sendStreamResetSent", s.state)
	}
	if f2 := s.reset(7); f2 != nil {
		t.Fatal("reset on an already-reset stream should return nil")
	}
}

func TestSendStreamHasFlushable(t *testing.T) {
	var s sendStream
	s.init(0, 100)
	if s.hasFlushable() {
		t.Fatal("a stream with nothing written should not be flushable")
	}
	s.write([]byte("x"))
	if !s.hasFlushable() {
		t.Fatal("a stream with unsent data should be flushable")
	}
}
