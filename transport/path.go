package transport

import (
	"crypto/rand"
	"io"
	"net"
	"time"
)

const (
	pathValidationMaxRetries = 5
	pathValidationBaseTimeout = 1 * time.Second
	antiAmplificationFactor  = 3
)

type pathValidationState int

const (
	pathUnvalidated pathValidationState = iota
	pathValidating
	pathValidated
)

// path tracks one local/peer address tuple and its validation and
// anti-amplification accounting, spec.md §4.10.
type path struct {
	peerAddr net.Addr

	state       pathValidationState
	challenge   [8]byte
	retries     int
	lastSentAt  time.Time
	validatedAt time.Time

	bytesSent int64
	bytesRecv int64
}

func newPath(peerAddr net.Addr, validated bool) *path {
	p := &path{peerAddr: peerAddr}
	if validated {
		p.state = pathValidated
		p.validatedAt = time.Now()
	}
	return p
}

// amplificationLimited reports whether this path's anti-amplification budget
// forbids sending more bytes right now, RFC 9000 Section 8.
func (p *path) amplificationLimited() bool {
	if p.state == pathValidated {
		return false
	}
	return p.bytesSent >= antiAmplificationFactor*p.bytesRecv
}

// amplificationBudget returns how many more bytes may be sent on this path
// before the anti-amplification limit would be exceeded.
func (p *path) amplificationBudget() int64 {
	if p.state == pathValidated {
		return -1 // unlimited
	}
	budget := antiAmplificationFactor*p.bytesRecv - p.bytesSent
	if budget < 0 {
		return 0
	}
	return budget
}

func (p *path) onBytesSent(n int)     { p.bytesSent += int64(n) }
func (p *path) onBytesRecv(n int)     { p.bytesRecv += int64(n) }

// startValidation begins or restarts PATH_CHALLENGE validation on this path.
func (p *path) startValidation(now time.Time) (*pathChallengeFrame, error) {
	if _, err := io.ReadFull(rand.Reader, p.challenge[:]); err != nil {
		return nil, err
	}
	p.state = pathValidating
	p.retries = 0
	p.lastSentAt = now
	return newPathChallengeFrame(p.challenge), nil
}

// retryTimeout reports whether the current PATH_CHALLENGE is due for
// retransmission and, if the retry cap is exhausted, that validation failed.
func (p *path) retryTimeout(now time.Time) (retry bool, failed bool) {
	if p.state != pathValidating {
		return false, false
	}
	timeout := pathValidationBaseTimeout << uint(p.retries)
	if now.Sub(p.lastSentAt) < timeout {
		return false, false
	}
	if p.retries >= pathValidationMaxRetries {
		return false, true
	}
	return true, false
}

func (p *path) onChallengeSent(now time.Time) {
	p.retries++
	p.lastSentAt = now
}

// onPathResponse reports whether a received PATH_RESPONSE matches the
// outstanding PATH_CHALLENGE on this path.
func (p *path) onPathResponse(data [8]byte) bool {
	if p.state != pathValidating {
		return false
	}
	if data != p.challenge {
		return false
	}
	p.state = pathValidated
	p.validatedAt = time.Now()
	return true
}

// pathManager owns the current path and at most one migration candidate,
// spec.md §4.10.
type pathManager struct {
	current              *path
	candidate            *path
	disableActiveMigration bool
}

func newPathManager(initialPeerAddr net.Addr, isServer bool) *pathManager {
	// A server's initial path starts unvalidated (anti-amplification applies
	// until the client proves address ownership by completing the
	// handshake); a client's initial path is trivially validated since it
	// chose the address itself.
	return &pathManager{current: newPath(initialPeerAddr, !isServer)}
}

// onPacketReceived detects NAT rebinding / migration: the peer address on an
// incoming 1-RTT packet differs from the current path, RFC 9000 Section 9.
func (pm *pathManager) onPacketReceived(addr net.Addr, n int, now time.Time) (startValidation bool) {
	if addrEqual(addr, pm.current.peerAddr) {
		pm.current.onBytesRecv(n)
		return false
	}
	if pm.disableActiveMigration {
		return false
	}
	if pm.candidate != nil && addrEqual(addr, pm.candidate.peerAddr) {
		pm.candidate.onBytesRecv(n)
		return false
	}
	pm.candidate = newPath(addr, false)
	pm.candidate.onBytesRecv(n)
	return true
}

// promoteCandidate makes the validated candidate the current path, per RFC
// 9000 Section 9.4: reset congestion/RTT state and rotate remote CIDs. The
// caller (the connection state machine) performs the congestion-controller
// reset and CID rotation; this just swaps the path pointers.
func (pm *pathManager) promoteCandidate() {
	if pm.candidate == nil {
		return
	}
	pm.current = pm.candidate
	pm.candidate = nil
}

// abandonCandidate discards a candidate whose validation failed, per spec.md
// §4.10's "after the retry cap is reached the anti-amplification state
// unlocks and ... send succeeds on the original path".
func (pm *pathManager) abandonCandidate() {
	pm.candidate = nil
}

func addrEqual(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}
