package dispatch

import (
	"encoding/hex"
	"net"
	"time"

	"github.com/nebulaquic/quic/transport"
)

// packetInfo is one unit of work handed from Master's read loop (or
// Master.Connect) to a Worker's inbox, grounded on original_source/src/
// quic/quicx/worker.h's PacketInfo-carrying ThreadSafeBlockQueue — a
// buffered Go channel is the idiomatic analogue of that MPSC queue.
type packetInfo struct {
	data             []byte
	addr             net.Addr
	header           transport.Header
	ecn              transport.ECN // codepoint read off the UDP datagram, RFC 9000 Section 13.4
	newServerInitial bool
	dial             *connHandle // client dial: adopt, then pump Read(); nothing received yet
	dialCID          []byte
}

// connHandle pairs a Conn with the peer address its datagrams travel to.
type connHandle struct {
	conn *transport.Conn
	addr net.Addr
}

func newConnHandle(conn *transport.Conn, addr net.Addr) *connHandle {
	return &connHandle{conn: conn, addr: addr}
}

// Worker owns a shard of connections and processes their packets and timers
// on a single goroutine, spec.md §5. Grounded on original_source/src/quic/
// quicx/worker.{h,cpp}'s per-worker packet queue plus timer/send/recv
// processing loop.
type Worker struct {
	id     int
	master *Master

	inbox chan packetInfo
	conns map[string]*connHandle // hex(local cid) -> handle

	sendBuf []byte

	stopCh chan struct{}
}

func newWorker(id int, m *Master) *Worker {
	return &Worker{
		id:      id,
		master:  m,
		inbox:   make(chan packetInfo, 1024),
		conns:   make(map[string]*connHandle),
		sendBuf: make([]byte, transport.MaxPacketSize),
		stopCh:  make(chan struct{}),
	}
}

func (w *Worker) stop() { close(w.stopCh) }

func (w *Worker) run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case pi := <-w.inbox:
			w.handle(pi)
		case <-ticker.C:
			w.checkTimeouts()
		}
	}
}

func (w *Worker) handle(pi packetInfo) {
	if pi.dial != nil {
		w.adopt(pi.dial, pi.dialCID)
		w.master.registerRoute(pi.dialCID, w)
		w.flush(pi.dial)
		return
	}
	key := hex.EncodeToString(pi.header.DCID)
	if ch, ok := w.conns[key]; ok {
		w.deliver(ch, pi.data, pi.addr, pi.ecn)
		return
	}
	if pi.newServerInitial {
		w.handleNewServerInitial(pi)
		return
	}
	w.master.metrics.packetsDropped.Inc()
}

// adopt registers an already-constructed connection (client dial) under its
// initial local connection ID.
func (w *Worker) adopt(ch *connHandle, localCID []byte) {
	w.conns[hex.EncodeToString(localCID)] = ch
}

// handleNewServerInitial runs the Retry decision for a token-less or
// token-bearing first Initial from an address with no known connection,
// RFC 9000 Section 8.1.2, spec.md §5/§6.
func (w *Worker) handleNewServerInitial(pi packetInfo) {
	now := time.Now()
	clientIP := hostOf(pi.addr)

	if len(pi.header.Token) == 0 {
		if !w.master.requireRetry {
			w.acceptNewConn(pi.header.DCID, pi)
			return
		}
		cid, err := w.master.newLocalCID()
		if err != nil {
			return
		}
		token := w.master.retryTokens.Generate(now, clientIP, pi.header.DCID)
		pkt, err := transport.BuildRetryPacket(pi.header.Version, pi.header.SCID, cid, pi.header.DCID, token)
		if err != nil {
			w.master.logger.WithError(err).Warn("dispatch: build retry packet")
			return
		}
		if _, err := w.master.pconn.WriteTo(pkt, pi.addr); err == nil {
			w.master.metrics.retriesSent.Inc()
			w.master.metrics.bytesSent.Add(float64(len(pkt)))
		}
		return
	}

	odcid, ok := w.master.retryTokens.Validate(pi.header.Token, now, clientIP)
	if !ok {
		w.master.metrics.packetsDropped.Inc()
		return
	}
	w.acceptNewConn(odcid, pi)
}

// acceptNewConn constructs a server Conn for a validated first Initial and
// feeds that same datagram through it.
func (w *Worker) acceptNewConn(odcid []byte, pi packetInfo) {
	cid, err := w.master.newLocalCID()
	if err != nil {
		return
	}
	conn, err := transport.Accept(cid, odcid, pi.addr, w.master.config)
	if err != nil {
		w.master.logger.WithError(err).Warn("dispatch: accept connection")
		return
	}
	conn.OnLogEvent(func(e transport.LogEvent) {
		w.master.logger.WithField("worker", w.id).Debug(e.String())
	})
	w.master.metrics.connectionsAccepted.Inc()
	ch := newConnHandle(conn, pi.addr)
	w.conns[hex.EncodeToString(cid)] = ch
	w.master.registerRoute(cid, w)
	w.deliver(ch, pi.data, pi.addr, pi.ecn)
}

// deliver feeds one datagram through a connection, surfaces its events to
// the handler, flushes any resulting outbound packets, and prunes the
// connection once closed.
func (w *Worker) deliver(ch *connHandle, data []byte, addr net.Addr, ecn transport.ECN) {
	if _, err := ch.conn.Write(data, addr, ecn); err != nil {
		w.master.logger.WithError(err).Debug("dispatch: connection write error")
	}
	w.afterProcess(ch)
}

func (w *Worker) afterProcess(ch *connHandle) {
	if events := ch.conn.Events(nil); len(events) > 0 && w.master.handler != nil {
		w.master.handler.Serve(ch.conn, events)
	}
	w.syncRoutes(ch)
	w.flush(ch)
	if ch.conn.IsClosed() {
		w.forget(ch)
	}
}

// syncRoutes registers any connection IDs issued since the last sync so
// inbound packets addressed to them reach this worker, spec.md §4.9.
func (w *Worker) syncRoutes(ch *connHandle) {
	for _, cid := range ch.conn.LocalConnectionIDs() {
		key := hex.EncodeToString(cid)
		if _, ok := w.conns[key]; ok {
			continue
		}
		w.conns[key] = ch
		w.master.registerRoute(cid, w)
	}
}

// flush drains every outgoing datagram a connection currently has pending.
func (w *Worker) flush(ch *connHandle) {
	for {
		n, ecn, err := ch.conn.Read(w.sendBuf)
		if err != nil {
			w.master.logger.WithError(err).Debug("dispatch: connection read error")
			return
		}
		if n == 0 {
			return
		}
		if err := w.master.writeTo(w.sendBuf[:n], ch.addr, ecn); err != nil {
			w.master.logger.WithError(err).Debug("dispatch: socket write error")
			return
		}
		w.master.metrics.bytesSent.Add(float64(n))
	}
}

// forget removes every connection ID a closed connection held from this
// worker's and the master's routing tables.
func (w *Worker) forget(ch *connHandle) {
	for _, cid := range ch.conn.LocalConnectionIDs() {
		key := hex.EncodeToString(cid)
		delete(w.conns, key)
		w.master.unregisterRoute(cid)
	}
}

// checkTimeouts ticks every owned connection's idle/PTO/draining timers and
// flushes any resulting probe or close packets, spec.md §4.5/§4.1.
func (w *Worker) checkTimeouts() {
	seen := make(map[*connHandle]bool)
	for _, ch := range w.conns {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		if d := ch.conn.Timeout(); d < 0 || d > 0 {
			continue
		}
		if _, err := ch.conn.Write(nil, ch.addr, transport.ECNNotECT); err != nil {
			w.master.logger.WithError(err).Debug("dispatch: timeout processing error")
		}
		w.afterProcess(ch)
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
