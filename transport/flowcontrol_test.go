package transport

import "testing"

func TestFlowControllerRecvLimit(t *testing.T) {
	var f flowController
	f.init(100, 0)

	if !f.canRecv(100) {
		t.Fatal("canRecv(100) false at limit 100")
	}
	if f.canRecv(101) {
		t.Fatal("canRecv(101) true over limit 100")
	}
	if err := f.addRecv(50); err != nil {
		t.Fatalf("addRecv(50) = %v, want nil", err)
	}
	if err := f.addRecv(101); err != errFlowControl {
		t.Fatalf("addRecv(101) = %v, want errFlowControl", err)
	}
}

func TestFlowControllerShouldUpdateMaxRecv(t *testing.T) {
	var f flowController
	f.init(100, 0)
	f.addRecv(49)
	if f.shouldUpdateMaxRecv() {
		t.Fatal("shouldUpdateMaxRecv true under half the window")
	}
	f.addRecv(50)
	if !f.shouldUpdateMaxRecv() {
		t.Fatal("shouldUpdateMaxRecv false at exactly half the window")
	}
	newLimit := f.commitMaxRecv(100)
	if newLimit != 200 || f.maxRecv != 200 {
		t.Fatalf("commitMaxRecv -> %d, maxRecv=%d, want 200/200", newLimit, f.maxRecv)
	}
}

func TestFlowControllerSendLimitNeverLowered(t *testing.T) {
	var f flowController
	f.init(0, 100)

	f.setMaxSend(50) // lower than current: must be ignored
	if f.maxSend != 100 {
		t.Fatalf("setMaxSend lowered the limit to %d", f.maxSend)
	}
	f.setMaxSend(150)
	if f.maxSend != 150 {
		t.Fatalf("setMaxSend(150) -> %d, want 150", f.maxSend)
	}
}

func TestFlowControllerBlocked(t *testing.T) {
	var f flowController
	f.init(0, 10)
	f.addSend(10)
	if !f.isBlocked() {
		t.Fatal("isBlocked false at the send limit")
	}
	if f.availableToSend() != 0 {
		t.Fatalf("availableToSend() = %d, want 0", f.availableToSend())
	}
	if !f.markBlocked() {
		t.Fatal("first markBlocked() should report newly blocked")
	}
	if f.markBlocked() {
		t.Fatal("second markBlocked() should report already blocked")
	}
	f.setMaxSend(20)
	if f.blocked {
		t.Fatal("raising the send limit should clear blocked")
	}
}
