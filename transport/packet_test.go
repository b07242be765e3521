package transport

import "testing"

func TestPeekHeaderShort(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b := append([]byte{fixedBit}, dcid...)
	b = append(b, 0, 0, 0, 1) // fake packet number

	h, err := PeekHeader(b, len(dcid))
	if err != nil {
		t.Fatal(err)
	}
	if h.IsLong {
		t.Fatal("short header parsed as long")
	}
	if string(h.DCID) != string(dcid) {
		t.Fatalf("DCID = %x, want %x", h.DCID, dcid)
	}
}

func TestPeekHeaderInitialWithToken(t *testing.T) {
	p := &packet{
		typ: packetTypeInitial,
		header: packetHeader{
			version: 1,
			dcid:    []byte{1, 2, 3, 4},
			scid:    []byte{5, 6, 7, 8},
		},
		token:      []byte("retrytoken"),
		payloadLen: 100,
	}
	buf := make([]byte, p.encodedLen()+len(p.token)+100)
	n, err := p.encode(buf)
	if err != nil {
		t.Fatal(err)
	}
	buf = buf[:n+100]

	h, err := PeekHeader(buf, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !h.IsLong || h.Type != PacketTypeInitial {
		t.Fatalf("got IsLong=%v Type=%d, want long Initial", h.IsLong, h.Type)
	}
	if h.Version != 1 {
		t.Fatalf("version = %d, want 1", h.Version)
	}
	if string(h.DCID) != "\x01\x02\x03\x04" || string(h.SCID) != "\x05\x06\x07\x08" {
		t.Fatalf("DCID/SCID = %x/%x, want 01020304/05060708", h.DCID, h.SCID)
	}
	if string(h.Token) != "retrytoken" {
		t.Fatalf("token = %q, want %q", h.Token, "retrytoken")
	}
}

func TestBuildRetryPacketIntegrityTag(t *testing.T) {
	odcid := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	dcid := []byte{1, 1, 1, 1, 1, 1, 1, 1}
	scid := []byte{2, 2, 2, 2}
	token := []byte("a-token")

	pkt, err := BuildRetryPacket(1, dcid, scid, odcid, token)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkt) < 16 {
		t.Fatal("retry packet too short to carry an integrity tag")
	}
	wantTag, err := retryIntegrityTag(odcid, pkt[:len(pkt)-16])
	if err != nil {
		t.Fatal(err)
	}
	if string(wantTag[:]) != string(pkt[len(pkt)-16:]) {
		t.Fatal("retry packet's trailing tag does not match recomputed integrity tag")
	}

	// A different odcid must not validate against the same packet.
	otherTag, err := retryIntegrityTag([]byte{1, 2, 3, 4}, pkt[:len(pkt)-16])
	if err != nil {
		t.Fatal(err)
	}
	if string(otherTag[:]) == string(pkt[len(pkt)-16:]) {
		t.Fatal("integrity tag did not depend on odcid")
	}
}

func TestBuildVersionNegotiationPacket(t *testing.T) {
	dcid := []byte{1, 2, 3}
	scid := []byte{4, 5, 6}
	versions := []uint32{1, 0x6b3343cf}
	pkt := BuildVersionNegotiationPacket(dcid, scid, versions)

	h, err := PeekHeader(pkt, 3)
	if err != nil {
		t.Fatal(err)
	}
	if h.Version != 0 {
		t.Fatalf("version = %d, want 0 (version negotiation)", h.Version)
	}
	if string(h.DCID) != string(dcid) || string(h.SCID) != string(scid) {
		t.Fatalf("DCID/SCID = %x/%x, want %x/%x", h.DCID, h.SCID, dcid, scid)
	}
}
