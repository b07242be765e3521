package transport

import "testing"

func TestCIDManagerIssueInitialAndMaybeIssue(t *testing.T) {
	m := newCIDManager([]byte("secret"), 4)
	m.issueInitial([]byte{1, 2, 3, 4})
	m.peerActiveConnectionIDLimit = 3

	frames := m.maybeIssue()
	if len(frames) != 2 {
		t.Fatalf("maybeIssue() produced %d frames, want 2 (up to the peer's limit of 3, 1 already active)", len(frames))
	}
	if more := m.maybeIssue(); len(more) != 0 {
		t.Fatalf("maybeIssue() at the limit produced %d more frames, want 0", len(more))
	}
}

func TestCIDManagerOnRetireConnectionID(t *testing.T) {
	m := newCIDManager([]byte("secret"), 4)
	m.issueInitial([]byte{1, 2, 3, 4})
	m.peerActiveConnectionIDLimit = 2
	m.maybeIssue()

	if err := m.onRetireConnectionID(1); err != nil {
		t.Fatalf("onRetireConnectionID(1) = %v, want nil", err)
	}
	if err := m.onRetireConnectionID(99); err == nil {
		t.Fatal("onRetireConnectionID on an unknown sequence should error")
	}
}

func TestCIDManagerOnNewConnectionIDAndActiveRemote(t *testing.T) {
	m := newCIDManager([]byte("secret"), 4)
	f := &newConnectionIDFrame{sequenceNumber: 1, connectionID: []byte{9, 9, 9, 9}, resetToken: [16]byte{1}}

	retire, err := m.onNewConnectionID(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(retire) != 0 {
		t.Fatalf("onNewConnectionID produced %d retire frames, want 0", len(retire))
	}
	if !m.matchesStatelessReset(f.resetToken[:]) {
		t.Fatal("matchesStatelessReset false for a just-admitted peer reset token")
	}

	// A second NEW_CONNECTION_ID with a retire_prior_to should drop seq 1.
	f2 := &newConnectionIDFrame{sequenceNumber: 2, connectionID: []byte{8, 8, 8, 8}, retirePriorTo: 2}
	retire, err = m.onNewConnectionID(f2)
	if err != nil {
		t.Fatal(err)
	}
	if len(retire) != 1 || retire[0].sequenceNumber != 1 {
		t.Fatalf("retire = %v, want a single RETIRE_CONNECTION_ID for seq 1", retire)
	}
	m.activeRemote = 2
	if string(m.activeRemoteCID()) != string(f2.connectionID) {
		t.Fatalf("activeRemoteCID() = %x, want %x", m.activeRemoteCID(), f2.connectionID)
	}
}

func TestCIDManagerConnectionIDLimitExceeded(t *testing.T) {
	m := newCIDManager([]byte("secret"), 1)
	if _, err := m.onNewConnectionID(&newConnectionIDFrame{sequenceNumber: 0, connectionID: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.onNewConnectionID(&newConnectionIDFrame{sequenceNumber: 1, connectionID: []byte{2}}); err == nil {
		t.Fatal("onNewConnectionID should reject a CID beyond the active_connection_id_limit")
	}
}
