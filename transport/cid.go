package transport

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
)

// statelessResetTokenFor derives a deterministic stateless reset token from a
// connection ID and a secret, RFC 9000 Section 10.3.1. Grounded on
// spec.md §4.9/SPEC_FULL.md's supplemented-features note. newConn draws the
// secret at random for each connection and does not persist it, so the
// tokens cannot be re-derived after a process restart.
func statelessResetTokenFor(secret, cid []byte) [16]byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(cid)
	sum := mac.Sum(nil)
	var tok [16]byte
	copy(tok[:], sum)
	return tok
}

// localCID is one connection ID this endpoint has issued to its peer via
// NEW_CONNECTION_ID (or the original handshake CIDs), spec.md §4.9.
type localCID struct {
	seq        uint64
	cid        []byte
	resetToken [16]byte
	retired    bool
}

// remoteCID is one connection ID the peer has issued to this endpoint.
type remoteCID struct {
	seq        uint64
	cid        []byte
	resetToken [16]byte
}

// cidManager tracks both the pool of CIDs this endpoint has given out and
// the pool the peer has given it, spec.md §4.9.
type cidManager struct {
	secret []byte // HMAC key for derived stateless reset tokens

	local      []localCID
	nextLocalSeq uint64
	peerActiveConnectionIDLimit uint64 // how many local CIDs the peer allows us to keep live

	remote        []remoteCID
	nextRemoteSeq uint64 // expected next sequence number from peer
	activeRemote  uint64 // seq of the remote CID currently in use
	retirePriorTo uint64

	localActiveConnectionIDLimit uint64 // how many remote CIDs we're willing to track
}

func newCIDManager(secret []byte, localLimit uint64) *cidManager {
	return &cidManager{secret: secret, localActiveConnectionIDLimit: localLimit, peerActiveConnectionIDLimit: 2}
}

// issueInitial registers the CID chosen for the handshake (sequence 0),
// which is not sent in a NEW_CONNECTION_ID frame.
func (m *cidManager) issueInitial(cid []byte) {
	m.local = append(m.local, localCID{seq: 0, cid: cid, resetToken: statelessResetTokenFor(m.secret, cid)})
	m.nextLocalSeq = 1
}

// maybeIssue issues new local CIDs via NEW_CONNECTION_ID up to the peer's
// active_connection_id_limit, returning the frames to send.
func (m *cidManager) maybeIssue() []*newConnectionIDFrame {
	var out []*newConnectionIDFrame
	active := 0
	for _, l := range m.local {
		if !l.retired {
			active++
		}
	}
	for uint64(active) < m.peerActiveConnectionIDLimit {
		cid := make([]byte, 8)
		if _, err := io.ReadFull(rand.Reader, cid); err != nil {
			break
		}
		seq := m.nextLocalSeq
		m.nextLocalSeq++
		tok := statelessResetTokenFor(m.secret, cid)
		m.local = append(m.local, localCID{seq: seq, cid: cid, resetToken: tok})
		out = append(out, &newConnectionIDFrame{sequenceNumber: seq, connectionID: cid, resetToken: tok})
		active++
	}
	return out
}

// onRetireConnectionID handles a peer's RETIRE_CONNECTION_ID for one of our
// local CIDs, RFC 9000 Section 19.16.
func (m *cidManager) onRetireConnectionID(seq uint64) error {
	for i := range m.local {
		if m.local[i].seq == seq {
			m.local[i].retired = true
			return nil
		}
	}
	return newError(ProtocolViolation, "retire_connection_id for unknown sequence")
}

// onNewConnectionID admits a peer-issued CID, RFC 9000 Section 5.1.1/19.15.
func (m *cidManager) onNewConnectionID(f *newConnectionIDFrame) ([]*retireConnectionIDFrame, error) {
	if uint64(len(m.remote)) >= m.localActiveConnectionIDLimit && f.sequenceNumber >= m.nextRemoteSeq {
		return nil, newError(ConnectionIDLimitError, "peer issued more CIDs than active_connection_id_limit allows")
	}
	if f.retirePriorTo > m.retirePriorTo {
		m.retirePriorTo = f.retirePriorTo
	}
	found := false
	for _, r := range m.remote {
		if r.seq == f.sequenceNumber {
			found = true
			break
		}
	}
	if !found {
		m.remote = append(m.remote, remoteCID{seq: f.sequenceNumber, cid: f.connectionID, resetToken: f.resetToken})
		if f.sequenceNumber >= m.nextRemoteSeq {
			m.nextRemoteSeq = f.sequenceNumber + 1
		}
	}
	var retire []*retireConnectionIDFrame
	kept := m.remote[:0]
	for _, r := range m.remote {
		if r.seq < m.retirePriorTo {
			retire = append(retire, newRetireConnectionIDFrame(r.seq))
			if r.seq == m.activeRemote {
				// The active CID itself was retired; caller must switch to
				// another entry in kept before the next send.
			}
			continue
		}
		kept = append(kept, r)
	}
	m.remote = kept
	return retire, nil
}

// activeRemoteCID returns the connection ID currently used as the
// destination for outgoing packets.
func (m *cidManager) activeRemoteCID() []byte {
	for _, r := range m.remote {
		if r.seq == m.activeRemote {
			return r.cid
		}
	}
	if len(m.remote) > 0 {
		return m.remote[0].cid
	}
	return nil
}

// matchesStatelessReset reports whether the trailing 16 bytes of a datagram
// match any known remote-issued reset token, RFC 9000 Section 10.3.1.
func (m *cidManager) matchesStatelessReset(last16 []byte) bool {
	if len(last16) != 16 {
		return false
	}
	for _, r := range m.remote {
		if hmac.Equal(r.resetToken[:], last16) {
			return true
		}
	}
	return false
}
