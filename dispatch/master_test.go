package dispatch

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/nebulaquic/quic/transport"
)

// buildInitialDatagram constructs a minimal long-header Initial packet's
// bytes, just enough for transport.PeekHeader to parse: no valid AEAD
// protection or packet number, since PeekHeader never looks past the token.
func buildInitialDatagram(dcid, scid, token []byte) []byte {
	b := []byte{0x80 | 0x40 | 0x00} // long header, fixed bit, Initial type bits (00)
	var ver [4]byte
	binary.BigEndian.PutUint32(ver[:], 1)
	b = append(b, ver[:]...)
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	b = appendVarintForTest(b, uint64(len(token)))
	b = append(b, token...)
	b = appendVarintForTest(b, 4) // length field: a fake 4-byte payload
	b = append(b, 0, 0, 0, 0)     // fake packet number + payload filler
	b = append(b, make([]byte, 1200-len(b))...)
	return b
}

func appendVarintForTest(b []byte, v uint64) []byte {
	if v > 63 {
		panic("test helper only supports single-byte varints")
	}
	return append(b, byte(v))
}

type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

func TestMasterRouteNewServerInitialRequiresNoPriorRoute(t *testing.T) {
	m := newMaster(transport.NewConfig(), false, 2)
	pkt := buildInitialDatagram([]byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte{9, 9}, nil)

	m.route(pkt, fakeAddr("10.0.0.1:1234"), transport.ECNNotECT)

	select {
	case pi := <-m.workers[0].inbox:
		if !pi.newServerInitial {
			t.Fatal("routed packet should be flagged as a new server Initial")
		}
	case pi := <-m.workers[1].inbox:
		if !pi.newServerInitial {
			t.Fatal("routed packet should be flagged as a new server Initial")
		}
	case <-time.After(time.Second):
		t.Fatal("route() did not hand the packet to any worker")
	}
}

func TestMasterRouteKnownCIDGoesToOwningWorker(t *testing.T) {
	m := newMaster(transport.NewConfig(), false, 2)
	cid := []byte{1, 1, 1, 1, 1, 1, 1, 1}
	m.registerRoute(cid, m.workers[1])

	pkt := buildInitialDatagram(cid, []byte{2}, nil)
	m.route(pkt, fakeAddr("10.0.0.2:4321"), transport.ECNNotECT)

	select {
	case <-m.workers[0].inbox:
		t.Fatal("packet for a known CID routed to the wrong worker")
	default:
	}
	select {
	case pi := <-m.workers[1].inbox:
		if string(pi.header.DCID) != string(cid) {
			t.Fatalf("DCID = %x, want %x", pi.header.DCID, cid)
		}
	case <-time.After(time.Second):
		t.Fatal("route() did not hand the packet to the owning worker")
	}
}

func TestMasterRouteClientDropsUnknownCID(t *testing.T) {
	m := newMaster(transport.NewConfig(), true, 1)
	pkt := buildInitialDatagram([]byte{5, 5, 5, 5}, []byte{6}, nil)
	m.route(pkt, fakeAddr("10.0.0.3:1"), transport.ECNNotECT)

	select {
	case <-m.workers[0].inbox:
		t.Fatal("a client Master should never originate a new server connection")
	default:
	}
}

func TestMasterPickWorkerRoundRobin(t *testing.T) {
	m := newMaster(transport.NewConfig(), false, 3)
	seen := map[*Worker]int{}
	for i := 0; i < 6; i++ {
		seen[m.pickWorker()]++
	}
	for _, w := range m.workers {
		if seen[w] != 2 {
			t.Fatalf("worker %d picked %d times, want 2 of 6", w.id, seen[w])
		}
	}
}

var _ net.Addr = fakeAddr("")
