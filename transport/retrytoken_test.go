package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestRetryTokenRoundTrip(t *testing.T) {
	m, err := newRetryTokenManager()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	odcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	token := m.generate(now, "203.0.113.1", odcid)

	got, ok := m.validate(token, now.Add(time.Second), "203.0.113.1")
	if !ok {
		t.Fatal("validate rejected a freshly minted token")
	}
	if !bytes.Equal(got, odcid) {
		t.Fatalf("recovered odcid %x, want %x", got, odcid)
	}
}

func TestRetryTokenWrongAddress(t *testing.T) {
	m, err := newRetryTokenManager()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	token := m.generate(now, "203.0.113.1", []byte{9, 9, 9, 9})
	if _, ok := m.validate(token, now, "203.0.113.2"); ok {
		t.Fatal("validate accepted a token replayed from a different address")
	}
}

func TestRetryTokenExpired(t *testing.T) {
	m, err := newRetryTokenManager()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	token := m.generate(now, "203.0.113.1", []byte{1})
	if _, ok := m.validate(token, now.Add(retryTokenMaxAge+time.Second), "203.0.113.1"); ok {
		t.Fatal("validate accepted a token older than the max age")
	}
}

func TestRetryTokenTampered(t *testing.T) {
	m, err := newRetryTokenManager()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	token := m.generate(now, "203.0.113.1", []byte{1, 2, 3})
	tampered := append([]byte(nil), token...)
	tampered[len(tampered)-1] ^= 0xff
	if _, ok := m.validate(tampered, now, "203.0.113.1"); ok {
		t.Fatal("validate accepted a tampered token")
	}
}

func TestRetryTokenRotationGracePeriod(t *testing.T) {
	m, err := newRetryTokenManager()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	token := m.generate(now.Add(retryTokenRotation), "203.0.113.1", []byte{7, 7})

	m.maybeRotate(now.Add(retryTokenRotation + time.Second))
	if _, ok := m.validate(token, now.Add(retryTokenRotation+time.Second), "203.0.113.1"); !ok {
		t.Fatal("validate rejected a token minted just before rotation, within grace period")
	}
}

func TestRetryTokenTruncated(t *testing.T) {
	m, err := newRetryTokenManager()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.validate([]byte{1, 2, 3}, time.Now(), "203.0.113.1"); ok {
		t.Fatal("validate accepted a too-short token")
	}
}
