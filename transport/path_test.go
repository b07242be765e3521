package transport

import (
	"testing"
	"time"
)

type testAddr string

func (a testAddr) Network() string { return "udp" }
func (a testAddr) String() string  { return string(a) }

func TestPathAmplificationLimitBeforeValidation(t *testing.T) {
	p := newPath(testAddr("1.1.1.1:1"), false)
	p.onBytesRecv(100)
	if p.amplificationLimited() {
		t.Fatal("should not be limited right after receiving bytes under the 3x budget")
	}
	p.onBytesSent(300)
	if !p.amplificationLimited() {
		t.Fatal("sending 3x received bytes should hit the anti-amplification limit")
	}
	if budget := p.amplificationBudget(); budget != 0 {
		t.Fatalf("amplificationBudget = %d, want 0", budget)
	}
}

func TestPathValidatedHasNoAmplificationLimit(t *testing.T) {
	p := newPath(testAddr("1.1.1.1:1"), true)
	p.onBytesSent(1_000_000)
	if p.amplificationLimited() {
		t.Fatal("a validated path should never be amplification-limited")
	}
	if p.amplificationBudget() != -1 {
		t.Fatalf("amplificationBudget on validated path = %d, want -1 (unlimited)", p.amplificationBudget())
	}
}

func TestPathValidationChallengeResponseRoundTrip(t *testing.T) {
	p := newPath(testAddr("1.1.1.1:1"), false)
	now := time.Now()
	f, err := p.startValidation(now)
	if err != nil {
		t.Fatal(err)
	}
	if p.state != pathValidating {
		t.Fatalf("state after startValidation = %v, want pathValidating", p.state)
	}
	if !p.onPathResponse(f.data) {
		t.Fatal("onPathResponse with the matching challenge data should validate the path")
	}
	if p.state != pathValidated {
		t.Fatalf("state after matching response = %v, want pathValidated", p.state)
	}
}

func TestPathValidationRejectsMismatchedResponse(t *testing.T) {
	p := newPath(testAddr("1.1.1.1:1"), false)
	p.startValidation(time.Now())
	if p.onPathResponse([8]byte{1, 2, 3}) {
		t.Fatal("onPathResponse with mismatched data should not validate the path")
	}
	if p.state == pathValidated {
		t.Fatal("state should remain unvalidated after a mismatched response")
	}
}

func TestPathRetryTimeoutBackoffAndExhaustion(t *testing.T) {
	p := newPath(testAddr("1.1.1.1:1"), false)
	now := time.Now()
	p.startValidation(now)

	if retry, failed := p.retryTimeout(now); retry || failed {
		t.Fatal("should not be due for retry immediately after starting validation")
	}
	later := now.Add(pathValidationBaseTimeout + time.Millisecond)
	retry, failed := p.retryTimeout(later)
	if !retry || failed {
		t.Fatalf("retryTimeout after base timeout = %v,%v, want true,false", retry, failed)
	}
	p.onChallengeSent(later)
	p.retries = pathValidationMaxRetries
	_, failed = p.retryTimeout(later.Add(time.Hour))
	if !failed {
		t.Fatal("retryTimeout should report failure once retries are exhausted")
	}
}

func TestPathManagerDetectsMigrationAndPromotes(t *testing.T) {
	pm := newPathManager(testAddr("client:1"), false)
	if pm.current.state != pathValidated {
		t.Fatal("client's initial path should be trivially validated")
	}

	start := pm.onPacketReceived(testAddr("client:2"), 100, time.Now())
	if !start {
		t.Fatal("a packet from a new peer address should trigger candidate-path validation")
	}
	if pm.candidate == nil || pm.candidate.peerAddr.String() != "client:2" {
		t.Fatal("a migration candidate path should have been created for the new address")
	}

	pm.candidate.onPathResponse(pm.candidate.challenge) // not validating yet; no-op
	pm.candidate.state = pathValidating
	f, _ := pm.candidate.startValidation(time.Now())
	pm.candidate.onPathResponse(f.data)

	pm.promoteCandidate()
	if pm.current.peerAddr.String() != "client:2" || pm.candidate != nil {
		t.Fatal("promoteCandidate should swap in the validated candidate and clear it")
	}
}

func TestPathManagerIgnoresMigrationWhenDisabled(t *testing.T) {
	pm := newPathManager(testAddr("client:1"), true)
	pm.disableActiveMigration = true
	if pm.onPacketReceived(testAddr("client:2"), 10, time.Now()) {
		t.Fatal("migration should be suppressed when disableActiveMigration is set")
	}
	if pm.candidate != nil {
		t.Fatal("no candidate path should be created when migration is disabled")
	}
}

func TestPathManagerAbandonCandidate(t *testing.T) {
	pm := newPathManager(testAddr("client:1"), true)
	pm.onPacketReceived(testAddr("client:2"), 10, time.Now())
	if pm.candidate == nil {
		t.Fatal("expected a candidate path to exist")
	}
	pm.abandonCandidate()
	if pm.candidate != nil {
		t.Fatal("abandonCandidate should clear the candidate path")
	}
}
