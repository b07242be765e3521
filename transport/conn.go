package transport

import (
	"crypto/rand"
	"io"
	"net"
	"time"

	"github.com/nebulaquic/quic/congestion"
)

type connectionState uint8

const (
	stateAttempted connectionState = iota
	stateHandshake
	stateActive
	stateDraining
	stateClosed
)

// Conn is a single QUIC connection, spec.md §4.1. It owns every subsystem a
// connection needs (cryptographer, handshake adapter, one pnSpace per packet
// number space, loss recovery, congestion control, flow control, streams,
// connection IDs, path validation) and exposes a teacher-style
// Write(received bytes)/Read(bytes to send) pump plus an Events drain for
// everything the application layer needs to react to.
type Conn struct {
	isClient bool
	version  uint32

	scid  []byte // source connection ID
	dcid  []byte // destination connection ID, replaced once the peer's is learned
	odcid []byte // original destination connection ID, for transport-parameter validation
	rscid []byte // retry source connection ID, set once a Retry is processed
	token []byte // client: retry token to echo in the next Initial

	crypto    cryptographer
	handshake tlsHandshake

	pnSpaces [packetSpaceCount]pnSpace
	recovery recovery
	cc       congestion.Controller
	pacer    *congestion.Pacer

	flow    connFlowControl
	streams streamManager
	cids    *cidManager
	paths   *pathManager

	cryptoSend [numCryptoLevels]sendBuffer
	cryptoRecv [numCryptoLevels]recvBuffer

	localParams transportParameters
	peerParams  transportParameters
	gotPeerParams bool

	state                 connectionState
	didRetry              bool
	handshakeConfirmed    bool
	derivedInitialSecrets bool
	forceProbe            bool // PTO fired with nothing marked lost; next send must include a PING

	totalStreamBytesRecvd uint64
	pendingControl        []frame // queued MAX_DATA/MAX_STREAM_DATA/NEW_CONNECTION_ID/RETIRE_CONNECTION_ID/PATH_RESPONSE

	closeFrame *connectionCloseFrame

	idleTimer     time.Time
	drainingTimer time.Time

	events     []Event
	logEventFn func(LogEvent)

	ecn           ecnState
	peerECNCounts [packetSpaceCount]ecnCounts
}

// Connect creates a client connection, spec.md §4.1.
func Connect(scid []byte, peerAddr net.Addr, config *Config) (*Conn, error) {
	return newConn(config, scid, nil, true, peerAddr)
}

// Accept creates a server connection for a freshly-observed client address,
// spec.md §4.1.
func Accept(scid, odcid []byte, peerAddr net.Addr, config *Config) (*Conn, error) {
	return newConn(config, scid, odcid, false, peerAddr)
}

func newConn(config *Config, scid, odcid []byte, isClient bool, peerAddr net.Addr) (*Conn, error) {
	if config == nil {
		return nil, newError(InternalError, "config required")
	}
	if len(scid) > MaxCIDLength || len(odcid) > MaxCIDLength {
		return nil, newError(ProtocolViolation, "cid too long")
	}
	s := &Conn{
		version:     config.Version,
		isClient:    isClient,
		localParams: config.Params,
		state:       stateAttempted,
	}
	s.handshake.init(s, config.TLS)
	s.ecn.init(config.EnableECN)
	now := s.time()
	for i := range s.pnSpaces {
		s.pnSpaces[i].init(packetSpace(i))
	}
	s.streams = *newStreamManager(isClient)
	s.streams.applyLocalParams(&s.localParams)
	s.recovery = *newRecovery()
	s.cc = newCongestionController(config.CongestionControl)
	s.pacer = congestion.NewPacer(s.pacingRateBps, MaxPacketSize, 10)
	s.flow = *newConnFlowControl(s.localParams.initialMaxData, 0)

	secret := make([]byte, 32)
	io.ReadFull(rand.Reader, secret)
	s.cids = newCIDManager(secret, s.localParams.activeConnectionIDLimit)
	s.paths = newPathManager(peerAddr, !isClient)
	s.paths.disableActiveMigration = s.localParams.disableActiveMigration

	if len(scid) > 0 {
		s.scid = append(s.scid[:0], scid...)
	}
	s.localParams.initialSourceConnectionID = s.scid
	s.cids.issueInitial(s.scid)
	if len(odcid) > 0 {
		s.odcid = append(s.odcid[:0], odcid...)
		s.localParams.originalDestinationConnectionID = s.odcid
		s.localParams.retrySourceConnectionID = s.scid
		s.rscid = s.scid
		s.didRetry = true
	}
	if isClient {
		s.localParams.statelessResetToken = nil
		s.dcid = make([]byte, MaxCIDLength)
		if err := s.randBytes(s.dcid); err != nil {
			return nil, err
		}
		s.deriveInitialKeyMaterial(s.dcid)
	}
	s.handshake.setTransportParams(&s.localParams)
	if err := s.handshake.start(isClient); err != nil {
		return nil, err
	}
	_ = now
	return s, nil
}

func newCongestionController(algorithm string) congestion.Controller {
	switch algorithm {
	case "cubic":
		return congestion.NewCubic(MaxPacketSize)
	case "bbr1":
		return congestion.NewBBR(MaxPacketSize, congestion.BBRv1)
	case "bbr2":
		return congestion.NewBBR(MaxPacketSize, congestion.BBRv2)
	case "bbr3":
		return congestion.NewBBR(MaxPacketSize, congestion.BBRv3)
	default:
		return congestion.NewReno(MaxPacketSize)
	}
}

func (s *Conn) pacingRateBps() float64 {
	cwnd := float64(s.cc.CongestionWindow())
	rtt := s.recovery.smoothedRTT
	if rtt <= 0 {
		rtt = initialRTT
	}
	return cwnd / rtt.Seconds()
}

// Write consumes one received UDP datagram's bytes, which may contain
// multiple coalesced QUIC packets, spec.md §4.1. ecn is the codepoint the
// datagram carried on the wire, RFC 9000 Section 13.4.
func (s *Conn) Write(b []byte, from net.Addr, ecn ECN) (int, error) {
	now := s.time()
	n := 0
	for n < len(b) {
		if !s.drainingTimer.IsZero() || s.closeFrame != nil {
			break
		}
		i, err := s.recv(b[n:], from, ecn, now)
		if err != nil {
			return n, err
		}
		if i == 0 {
			break
		}
		n += i
	}
	s.refreshControlFrames()
	s.checkTimeout(now)
	return n, nil
}

func (s *Conn) deriveInitialKeyMaterial(cid []byte) {
	s.crypto.installInitial(cid, s.isClient)
	s.derivedInitialSecrets = true
}

func (s *Conn) writeSpace() packetSpace {
	if s.closeFrame != nil {
		return s.latestAvailableSpace()
	}
	for _, sp := range []packetSpace{packetSpaceInitial, packetSpaceHandshake} {
		if s.recovery.spaces[sp].ptoCount > 0 && s.crypto.canEncrypt(spaceToCryptoLevel(sp)) {
			return sp
		}
	}
	for i := packetSpaceInitial; i < packetSpaceCount; i++ {
		level := spaceToCryptoLevel(i)
		if i == packetSpaceApplication && s.state < stateActive {
			if !s.canSendZeroRTT() {
				continue
			}
			level = cryptoEarly
		}
		if !s.crypto.canEncrypt(level) {
			continue
		}
		if s.pnSpaces[i].ackElicited(time.Now()) || len(s.cryptoSend[level].pendingBytes()) > 0 {
			return i
		}
	}
	if s.state >= stateActive && s.crypto.canEncrypt(cryptoApp) &&
		(s.streams.hasFlushable() || s.hasPendingControlFrames()) {
		return packetSpaceApplication
	}
	if s.canSendZeroRTT() && (s.streams.hasFlushable() || s.hasPendingControlFrames()) {
		return packetSpaceApplication
	}
	return packetSpaceCount
}

// canSendZeroRTT reports whether this connection may place STREAM/control
// frames into a 0-RTT packet right now: only the client does so, only before
// its 1-RTT keys are installed, and only once the TLS stack has actually
// produced early-data write keys, spec.md §4.3.
func (s *Conn) canSendZeroRTT() bool {
	return s.isClient && s.crypto.canEncrypt(cryptoEarly) && !s.crypto.canEncrypt(cryptoApp)
}

func (s *Conn) latestAvailableSpace() packetSpace {
	for i := packetSpaceCount - 1; i >= packetSpaceInitial; i-- {
		if s.crypto.canEncrypt(spaceToCryptoLevel(i)) {
			return i
		}
	}
	return packetSpaceCount
}

func spaceToCryptoLevel(sp packetSpace) cryptoLevel {
	switch sp {
	case packetSpaceInitial:
		return cryptoInitial
	case packetSpaceHandshake:
		return cryptoHandshake
	default:
		return cryptoApp
	}
}

func (s *Conn) hasPendingControlFrames() bool {
	return len(s.pendingControl) > 0
}

// refreshControlFrames queues any connection-level control frames that have
// become due since the last call: new local connection IDs owed to the
// peer, and a raised MAX_DATA once half the receive window is consumed,
// spec.md §4.7/§4.9.
func (s *Conn) refreshControlFrames() {
	for _, f := range s.cids.maybeIssue() {
		s.queueControl(f)
	}
	if s.flow.shouldUpdateMaxRecv() {
		s.queueControl(newMaxDataFrame(s.flow.commitMaxRecv(s.localParams.initialMaxData)))
	}
}

func (s *Conn) queueControl(f frame) {
	s.pendingControl = append(s.pendingControl, f)
}

func (s *Conn) maxPacketSize() int {
	if s.state >= stateActive && s.gotPeerParams && s.peerParams.maxUDPPayloadSize > 0 {
		n := int(s.peerParams.maxUDPPayloadSize)
		if n >= MinInitialPacketSize && n <= MaxPacketSize {
			return n
		}
	}
	return MinInitialPacketSize
}

// Timeout returns how long until the next scheduled event (idle, loss
// detection, draining); negative means no timer is armed.
func (s *Conn) Timeout() time.Duration {
	if s.state == stateClosed {
		return -1
	}
	deadline := s.drainingTimer
	if deadline.IsZero() {
		deadline = s.recovery.lossDetectionTimer
		if deadline.IsZero() {
			deadline = s.idleTimer
			if deadline.IsZero() {
				return -1
			}
		}
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	return d
}

func (s *Conn) checkTimeout(now time.Time) {
	if !s.drainingTimer.IsZero() && !now.Before(s.drainingTimer) {
		s.state = stateClosed
		s.addEvent(Event{Type: EventConnectionClosed})
		return
	}
	if !s.idleTimer.IsZero() && !now.Before(s.idleTimer) {
		s.state = stateClosed
		s.addEvent(Event{Type: EventConnectionClosed})
		return
	}
	if !s.recovery.lossDetectionTimer.IsZero() && !now.Before(s.recovery.lossDetectionTimer) {
		lost, probeSpace, probe := s.recovery.onLossDetectionTimeout(now, s.spaceDropped)
		if len(lost) > 0 {
			s.onFramesLost(lost, probeSpace)
		}
		if probe {
			s.forceProbe = true
		}
		s.recovery.setLossDetectionTimer(s.spaceDropped, s.paths.current.amplificationLimited())
	}
}

// idleTimeoutDuration applies RFC 9000 Section 10.1: the smaller of the two
// peers' max_idle_timeout, or either one alone if the other is unset, or no
// timeout at all if both are zero.
func (s *Conn) idleTimeoutDuration() time.Duration {
	local := s.localParams.maxIdleTimeout
	peer := uint64(0)
	if s.gotPeerParams {
		peer = s.peerParams.maxIdleTimeout
	}
	ms := local
	if peer != 0 && (ms == 0 || peer < ms) {
		ms = peer
	}
	if ms == 0 {
		return 0
	}
	d := time.Duration(ms) * time.Millisecond
	pto := s.recovery.pto(true) * 3
	if pto > d {
		return pto
	}
	return d
}

func (s *Conn) resetIdleTimer(now time.Time) {
	if d := s.idleTimeoutDuration(); d > 0 {
		s.idleTimer = now.Add(d)
	}
}

func (s *Conn) spaceDropped(sp packetSpace) bool {
	return s.pnSpaces[sp].dropped
}

// Close starts the closing/draining sequence, RFC 9000 Section 10.2.
func (s *Conn) Close(app bool, errCode uint64, reason string) {
	if !s.drainingTimer.IsZero() || s.closeFrame != nil {
		return
	}
	s.closeFrame = newConnectionCloseFrame(errCode, 0, []byte(reason), app)
	s.state = stateDraining
}

func (s *Conn) setDraining(now time.Time) {
	if s.drainingTimer.IsZero() {
		s.drainingTimer = now.Add(s.recovery.pto(true) * 3)
	}
}

// IsEstablished reports whether the handshake has completed.
func (s *Conn) IsEstablished() bool { return s.state == stateActive }

// IsClosed reports whether the connection is fully torn down.
func (s *Conn) IsClosed() bool { return s.state == stateClosed }

// Events drains and returns queued application-visible events.
func (s *Conn) Events(events []Event) []Event {
	events = append(events, s.events...)
	s.events = s.events[:0]
	return events
}

func (s *Conn) addEvent(e Event) { s.events = append(s.events, e) }

// Stream returns the named stream, creating it if locally-initiated and not
// yet created, spec.md §4.8.
func (s *Conn) Stream(id uint64) (*Stream, error) {
	if st, ok := s.streams.get(id); ok {
		return st, nil
	}
	if !isStreamIDLocal(id, s.isClient) {
		return nil, newError(StreamStateError, "stream not yet created by peer")
	}
	return s.streams.newLocalStream(id, isStreamIDBidi(id)), nil
}

// OpenStream allocates the next locally-initiated stream ID.
func (s *Conn) OpenStream(bidi bool) (*Stream, error) {
	return s.streams.create(bidi)
}

// ResetStream abandons the send side of a stream, queuing RESET_STREAM,
// RFC 9000 Section 3.3.
func (s *Conn) ResetStream(id uint64, errorCode uint64) error {
	st, ok := s.streams.get(id)
	if !ok {
		return newError(StreamStateError, "no such stream")
	}
	if f := st.Reset(errorCode); f != nil {
		s.queueControl(f)
	}
	return nil
}

// StopSendingStream requests the peer abandon sending on a stream, queuing
// STOP_SENDING, RFC 9000 Section 3.5.
func (s *Conn) StopSendingStream(id uint64, errorCode uint64) error {
	st, ok := s.streams.get(id)
	if !ok {
		return newError(StreamStateError, "no such stream")
	}
	if f := st.StopSending(errorCode); f != nil {
		s.queueControl(f)
	}
	return nil
}

// LocalConnectionIDs returns every connection ID this endpoint has issued to
// its peer and not yet retired, spec.md §4.9/§5 — dispatch uses this to keep
// its routing table in sync as NEW_CONNECTION_ID/RETIRE_CONNECTION_ID are
// exchanged over a connection's lifetime.
func (s *Conn) LocalConnectionIDs() [][]byte {
	var out [][]byte
	for _, l := range s.cids.local {
		if !l.retired {
			out = append(out, l.cid)
		}
	}
	return out
}

// RemoteAddr returns the address of the current validated path's peer.
func (s *Conn) RemoteAddr() net.Addr { return s.paths.current.peerAddr }

// randBytes uses tls.Config.Rand if available, spec.md §4.1.
func (s *Conn) randBytes(b []byte) error {
	if s.handshake.config != nil && s.handshake.config.Rand != nil {
		_, err := io.ReadFull(s.handshake.config.Rand, b)
		return err
	}
	_, err := rand.Read(b)
	return err
}

func (s *Conn) time() time.Time {
	if s.handshake.config != nil && s.handshake.config.Time != nil {
		return s.handshake.config.Time()
	}
	return time.Now()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// OnLogEvent installs the qlog-style event sink, spec.md §4.1.
func (s *Conn) OnLogEvent(fn func(LogEvent)) { s.logEventFn = fn }

func (s *Conn) logPacketDropped(p *packet, now time.Time) {
	if s.logEventFn != nil {
		s.logEventFn(newLogEventPacket(now, logEventPacketDropped, p))
	}
}

func (s *Conn) logPacketReceived(p *packet, now time.Time) {
	if s.logEventFn != nil {
		s.logEventFn(newLogEventPacket(now, logEventPacketReceived, p))
	}
}

func (s *Conn) logPacketSent(p *packet, frames []frame, now time.Time) {
	if s.logEventFn == nil {
		return
	}
	s.logEventFn(newLogEventPacket(now, logEventPacketSent, p))
	for _, f := range frames {
		s.logEventFn(newLogEventFrame(now, logEventFramesProcessed, f))
	}
}

func (s *Conn) logFrameProcessed(f frame, now time.Time) {
	if s.logEventFn != nil {
		s.logEventFn(newLogEventFrame(now, logEventFramesProcessed, f))
	}
}

// pendingBytes exposes how much unsent data a sendBuffer holds, used by
// writeSpace to decide whether a CRYPTO frame is owed in a space.
func (b *sendBuffer) pendingBytes() []byte {
	data, _, _ := b.pending(-1)
	return data
}
