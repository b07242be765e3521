package transport

import (
	"context"
	"crypto/tls"
)

// tlsHandshake adapts crypto/tls's QUIC-specific handshake surface
// (crypto/tls.QUICConn, Go 1.21+) to the cryptographer and the CRYPTO
// frame streams of each packet-number space, spec.md §4.3. Grounded on
// golang.org/x/net/internal/quic's tls.go adapter, the closest available
// reference implementation of this exact API.
type tlsHandshake struct {
	conn     *Conn
	tlsConn  *tls.QUICConn
	config   *tls.Config
	complete bool

	localParams *transportParameters

	// cryptoOut buffers CRYPTO frame data produced by TLS, one per level,
	// waiting to be drained by the send path.
	cryptoOut [numCryptoLevels][]byte

	peerParams    transportParameters
	gotPeerParams bool
}

func (h *tlsHandshake) init(c *Conn, config *tls.Config) {
	h.conn = c
	h.config = config
}

func (h *tlsHandshake) reset() {
	h.tlsConn = nil
	h.complete = false
	h.gotPeerParams = false
	for i := range h.cryptoOut {
		h.cryptoOut[i] = nil
	}
}

// setTransportParams must be called before start, and again if local
// parameters change prior to starting (e.g. after retry).
func (h *tlsHandshake) setTransportParams(p *transportParameters) {
	h.localParams = p
}

func (h *tlsHandshake) start(isClient bool) error {
	qc := &tls.QUICConfig{TLSConfig: h.config}
	if isClient {
		h.tlsConn = tls.QUICClient(qc)
	} else {
		h.tlsConn = tls.QUICServer(qc)
	}
	if h.localParams != nil {
		h.tlsConn.SetTransportParameters(encodeTransportParameters(h.localParams))
	}
	if err := h.tlsConn.Start(context.Background()); err != nil {
		return newError(InternalError, "tls start: "+err.Error())
	}
	return h.drainEvents()
}

// doHandshake drains any pending TLS events without feeding it new data;
// start and handleData drain events themselves, so the connection does not
// call it.
func (h *tlsHandshake) doHandshake() error {
	if h.tlsConn == nil {
		return newError(InternalError, "tls not started")
	}
	return h.drainEvents()
}

func (h *tlsHandshake) drainEvents() error {
	for {
		e := h.tlsConn.NextEvent()
		switch e.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetReadSecret:
			h.conn.crypto.setReadSecret(levelFromTLS(e.Level), e.Suite, e.Data)
		case tls.QUICSetWriteSecret:
			level := levelFromTLS(e.Level)
			h.conn.crypto.setWriteSecret(level, e.Suite, e.Data)
			if level == cryptoApp && h.conn.isClient {
				// The client's 1-RTT write keys are ready, meaning it has
				// sent its Finished; 0-RTT keys serve no further purpose,
				// RFC 9001 Section 4.9.3.
				h.conn.crypto.drop(cryptoEarly)
			}
		case tls.QUICWriteData:
			level := levelFromTLS(e.Level)
			h.cryptoOut[level] = append(h.cryptoOut[level], e.Data...)
		case tls.QUICTransportParameters:
			params, err := decodeTransportParameters(e.Data)
			if err != nil {
				return err
			}
			h.peerParams = params
			h.gotPeerParams = true
		case tls.QUICHandshakeDone:
			h.complete = true
		case tls.QUICRejectedEarlyData:
			h.conn.onZeroRTTRejected()
		default:
			// QUICRehandshakeRequested and other events this implementation
			// does not act on.
		}
	}
}

// handleData feeds a contiguous run of CRYPTO frame bytes at one level into
// TLS, then drains resulting events.
func (h *tlsHandshake) handleData(level cryptoLevel, data []byte) error {
	if h.tlsConn == nil {
		return newError(InternalError, "tls not started")
	}
	if err := h.tlsConn.HandleData(tlsLevel(level), data); err != nil {
		var alert tls.AlertError
		if ok := asAlertError(err, &alert); ok {
			return newError(cryptoErrorBase+ErrorCode(alert), "tls alert")
		}
		return newError(ProtocolViolation, "tls: "+err.Error())
	}
	return h.drainEvents()
}

// takeCryptoOut returns and clears any buffered outbound CRYPTO bytes at the
// given level, for the sender to wrap in crypto frames.
func (h *tlsHandshake) takeCryptoOut(level cryptoLevel) []byte {
	b := h.cryptoOut[level]
	h.cryptoOut[level] = nil
	return b
}

func (h *tlsHandshake) handshakeComplete() bool { return h.complete }

func (h *tlsHandshake) peerTransportParams() (transportParameters, bool) {
	return h.peerParams, h.gotPeerParams
}

// connectionState exposes the negotiated TLS connection state once available,
// e.g. for ALPN inspection by the caller.
func (h *tlsHandshake) connectionState() tls.ConnectionState {
	if h.tlsConn == nil {
		return tls.ConnectionState{}
	}
	return h.tlsConn.ConnectionState()
}

func levelFromTLS(l tls.QUICEncryptionLevel) cryptoLevel {
	switch l {
	case tls.QUICEncryptionLevelInitial:
		return cryptoInitial
	case tls.QUICEncryptionLevelEarly:
		return cryptoEarly
	case tls.QUICEncryptionLevelHandshake:
		return cryptoHandshake
	default:
		return cryptoApp
	}
}

func tlsLevel(l cryptoLevel) tls.QUICEncryptionLevel {
	switch l {
	case cryptoInitial:
		return tls.QUICEncryptionLevelInitial
	case cryptoEarly:
		return tls.QUICEncryptionLevelEarly
	case cryptoHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

func asAlertError(err error, target *tls.AlertError) bool {
	ae, ok := err.(tls.AlertError)
	if ok {
		*target = ae
	}
	return ok
}
