package transport

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 63, 64, maxVarint1,
		maxVarint1 + 1, 16383, maxVarint2,
		maxVarint2 + 1, maxVarint4,
		maxVarint4 + 1, maxVarint8,
	}
	for _, v := range values {
		n := varintLen(v)
		if n == 0 {
			t.Fatalf("varintLen(%d) = 0, want > 0", v)
		}
		buf := make([]byte, n)
		if got := putVarint(buf, v); got != n {
			t.Fatalf("putVarint(%d) wrote %d bytes, want %d", v, got, n)
		}
		var out uint64
		consumed := getVarint(buf, &out)
		if consumed != n {
			t.Fatalf("getVarint consumed %d bytes, want %d", consumed, n)
		}
		if out != v {
			t.Fatalf("round trip %d -> %d", v, out)
		}
	}
}

func TestVarintOutOfRange(t *testing.T) {
	if n := varintLen(maxVarint8 + 1); n != 0 {
		t.Fatalf("varintLen(overflow) = %d, want 0", n)
	}
}

func TestGetVarintTruncated(t *testing.T) {
	buf := []byte{0x80, 0x00} // 4-byte varint header with only 2 bytes present
	var out uint64
	if n := getVarint(buf, &out); n != 0 {
		t.Fatalf("getVarint on truncated input = %d, want 0", n)
	}
}

func TestAppendVarint(t *testing.T) {
	b := appendVarint(nil, 37)
	b = appendVarint(b, maxVarint2)
	var v1, v2 uint64
	n1 := getVarint(b, &v1)
	n2 := getVarint(b[n1:], &v2)
	if v1 != 37 || v2 != maxVarint2 {
		t.Fatalf("got %d,%d want 37,%d", v1, v2, maxVarint2)
	}
	if n1+n2 != len(b) {
		t.Fatalf("consumed %d, want %d", n1+n2, len(b))
	}
}
