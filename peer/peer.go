package peer

import (
	"crypto/sha256"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/brinewave/reliablenet/channel"
	"github.com/brinewave/reliablenet/codec"
	"github.com/brinewave/reliablenet/config"
	"github.com/brinewave/reliablenet/connection"
	"github.com/brinewave/reliablenet/errs"
	"github.com/brinewave/reliablenet/fragment"
	"github.com/brinewave/reliablenet/internal/log"
	"github.com/brinewave/reliablenet/pool"
	"github.com/brinewave/reliablenet/seqnum"
)

// Status is the Peer lifecycle of §5, generalized from the teacher's
// Server.running bool into the explicit NotRunning..ShuttingDown table
// spec.md names.
type Status int32

const (
	NotRunning Status = iota
	Starting
	Running
	ShuttingDown
)

func (s Status) String() string {
	switch s {
	case NotRunning:
		return "not-running"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// Stats mirrors the teacher's plain-field Server counters
// (source/server.Server.GetPlayerCount and friends), generalized to the
// transport-level counters a metrics adapter can mirror into Prometheus
// (see metrics.Collectors).
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsDropped  uint64
	BytesSent       uint64
	BytesReceived   uint64
	Retransmits     uint64
	AcksSent        uint64
	Connections     int
}

type outboundUnconnected struct {
	addr *net.UDPAddr
	data []byte
}

// heartbeatTickInterval is the base rate of the library thread's single
// loop iteration (§4.8); handshake bookkeeping runs every third tick so
// it doesn't dominate the hot path.
const heartbeatTickInterval = 10 * time.Millisecond

const handshakeHeartbeatEvery = 3

// Peer is C8: the single-threaded network loop owning the UDP socket,
// every Connection, the pools and queues that hand messages to and from
// the application, generalized from the teacher's Server
// (source/server/server.go: net.ListenUDP, a ticking accept/update loop,
// and per-tick GetPlayerCount-style stats).
type Peer struct {
	cfg *config.Config

	id uint64

	conn *net.UDPConn

	connMu      sync.RWMutex
	connections map[string]*Connection // keyed by RemoteEndpoint.String()

	hsMu       sync.RWMutex
	handshakes map[string]*Connection // in-flight, not yet Connected

	pool     *pool.Pool
	queue    *ReceivedMessageQueue
	notifier *Notifier

	groupAlloc *fragment.GroupAllocator

	statsMu sync.Mutex
	stats   Stats

	unconnectedMu sync.Mutex
	unconnected   []outboundUnconnected

	flushRequested atomic.Bool

	status atomic.Int32
	done   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Peer from a locked Config. cfg.Validate() must already
// have succeeded; New locks cfg itself if the caller hasn't.
func New(cfg *config.Config) *Peer {
	if !cfg.Locked() {
		cfg.Lock()
	}
	p := &Peer{
		cfg:         cfg,
		connections: make(map[string]*Connection),
		handshakes:  make(map[string]*Connection),
		pool:        pool.New(),
		queue:       NewReceivedMessageQueue(4096),
		notifier:    NewNotifier(enabledKindsFromBitmask(cfg.EnabledMessageTypes)),
		groupAlloc:  fragment.NewGroupAllocator(uint32(xid.New().Counter())),
		done:        make(chan struct{}),
	}
	p.status.Store(int32(NotRunning))
	return p
}

// kindBits assigns each codec.IncomingKind a bit position in §6.4's
// enabled_message_types bitmask, in declaration order.
var kindBits = []codec.IncomingKind{
	codec.Data,
	codec.UnconnectedData,
	codec.Receipt,
	codec.StatusChanged,
	codec.DiscoveryRequest,
	codec.DiscoveryResponseKind,
	codec.ConnectionApproval,
	codec.NatIntroductionSuccess,
	codec.DebugMessage,
	codec.VerboseDebugMessage,
	codec.WarningMessage,
	codec.ErrorMessage,
	codec.ErrorKind,
}

// enabledKindsFromBitmask expands a §6.4 enabled_message_types bitmask
// into the map Notifier consults, so changing the config value actually
// changes which Incoming kinds reach the application.
func enabledKindsFromBitmask(mask uint32) map[codec.IncomingKind]bool {
	enabled := make(map[codec.IncomingKind]bool, len(kindBits))
	for i, k := range kindBits {
		if mask&(1<<uint(i)) != 0 {
			enabled[k] = true
		}
	}
	return enabled
}

// Notifier exposes the Peer's event dispatcher so the application can
// register handlers before Start.
func (p *Peer) Notifier() *Notifier { return p.notifier }

// Queue exposes the bounded hand-off queue (C9) for applications that
// prefer to Pop rather than register Notifier handlers.
func (p *Peer) Queue() *ReceivedMessageQueue { return p.queue }

// PeerStatus reports the current lifecycle state.
func (p *Peer) PeerStatus() Status { return Status(p.status.Load()) }

// StatsSnapshot returns a snapshot of the running counters.
func (p *Peer) StatsSnapshot() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	s := p.stats
	p.connMu.RLock()
	s.Connections = len(p.connections)
	p.connMu.RUnlock()
	return s
}

// derivePeerID computes the 64-bit peer identity of §3: the lower 8
// bytes of SHA-256(local-endpoint-string || mac-address), falling back
// to whatever interfaces are visible (none, on some sandboxes) with the
// endpoint string alone still seeding the hash.
func derivePeerID(local *net.UDPAddr) uint64 {
	h := sha256.New()
	h.Write([]byte(local.String()))
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if len(iface.HardwareAddr) > 0 {
				h.Write(iface.HardwareAddr)
				break
			}
		}
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[len(sum)-8:])
}

// Start binds the UDP socket and launches the library thread. It is an
// error to call Start more than once.
func (p *Peer) Start() error {
	if !p.status.CompareAndSwap(int32(NotRunning), int32(Starting)) {
		return errs.New(errs.Misuse, "peer.Start", "peer already started")
	}
	addr := &net.UDPAddr{IP: net.ParseIP(p.cfg.LocalAddress), Port: p.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		p.status.Store(int32(NotRunning))
		return errs.Wrap(errs.FatalIO, "peer.Start", "listen", err)
	}
	p.conn = conn
	p.id = derivePeerID(conn.LocalAddr().(*net.UDPAddr))

	if p.cfg.ReceiveBufferSize > 0 {
		_ = conn.SetReadBuffer(p.cfg.ReceiveBufferSize)
	}
	if p.cfg.SendBufferSize > 0 {
		_ = conn.SetWriteBuffer(p.cfg.SendBufferSize)
	}

	p.status.Store(int32(Running))
	p.wg.Add(1)
	go p.run()
	log.With(log.Fields{"local": conn.LocalAddr().String(), "peer_id": p.id}).Info("peer started")
	return nil
}

// ID returns this peer's derived 64-bit identity (§3).
func (p *Peer) ID() uint64 { return p.id }

// Connect initiates a handshake toward addr, returning the Connection in
// InitiatedConnect state immediately; completion arrives as a
// StatusChanged notification once the remote responds.
func (p *Peer) Connect(addr *net.UDPAddr) (*Connection, error) {
	if p.PeerStatus() != Running {
		return nil, errs.New(errs.Misuse, "peer.Connect", "peer is not running")
	}
	key := addr.String()

	p.hsMu.Lock()
	if existing, ok := p.handshakes[key]; ok {
		p.hsMu.Unlock()
		return existing, nil
	}
	c := newConnection(addr, p.cfg)
	now := time.Now()
	c.InitiateConnect(now)
	p.handshakes[key] = c
	p.hsMu.Unlock()

	hail := c.HailToken[:]
	p.sendLibraryFrame(c, codec.Connect, encodeConnect(hail))
	return c, nil
}

// Send enqueues data for delivery to conn over the given delivery method
// and sequence channel, to be framed and transmitted on the next
// heartbeat (§4.4). Oversize payloads are fragmented transparently (§4.6).
// channelID is carried in the message type only; all channel ids of a
// delivery method share that method's single send window.
func (p *Peer) Send(conn *Connection, data []byte, method codec.DeliveryMethod, channelID uint8) error {
	if channelID >= codec.MaxSequenceChannels {
		return errs.New(errs.Misuse, "peer.Send", "channel id out of range")
	}
	sc := conn.SendChannels[method]
	if sc == nil {
		return errs.New(errs.Misuse, "peer.Send", "unknown delivery method")
	}
	appType := codec.EncodeAppType(method, channelID)
	maxWhole := conn.CurrentMTU - codec.HeaderSize
	maxPayload := maxWhole - fragment.FragmentHeaderSize

	if len(data) <= maxWhole {
		m := p.pool.Rent(len(data))
		m.Data = append(m.Data[:0], data...)
		m.BitLength = len(data) * 8
		m.Type = byte(appType)
		sc.Enqueue(m)
		return nil
	}

	groupID := p.groupAlloc.Next()
	chunks := fragment.Split(data, len(data)*8, groupID, maxPayload)
	for _, chunk := range chunks {
		chunk.Type = byte(appType)
		sc.Enqueue(chunk)
	}
	return nil
}

// SendUnconnected queues a datagram delivered outside of any Connection
// (discovery/NAT probes, §4.8), drained on the next tick.
func (p *Peer) SendUnconnected(addr *net.UDPAddr, data []byte) {
	p.unconnectedMu.Lock()
	p.unconnected = append(p.unconnected, outboundUnconnected{addr: addr, data: data})
	p.unconnectedMu.Unlock()
}

// RequestFlush records a flush request in flushRequested. The library
// thread does not read that flag: it drains every connection's send
// channels on every tick, whatever the flag or auto_flush_send_queue say.
func (p *Peer) RequestFlush() { p.flushRequested.Store(true) }

// Shutdown moves every live connection toward Disconnecting, lingers up
// to linger for final Disconnect datagrams and acks to flush (§5), then
// stops the library thread.
func (p *Peer) Shutdown(reason string, linger time.Duration) {
	if !p.status.CompareAndSwap(int32(Running), int32(ShuttingDown)) {
		return
	}
	p.connMu.RLock()
	for _, c := range p.connections {
		c.BeginDisconnect(reason)
	}
	p.connMu.RUnlock()

	deadline := time.Now().Add(linger)
	for time.Now().Before(deadline) {
		p.connMu.RLock()
		remaining := 0
		for _, c := range p.connections {
			if c.State != connection.Disconnected {
				remaining++
			}
		}
		p.connMu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	close(p.done)
	p.wg.Wait()
	_ = p.conn.Close()
	p.queue.Close()
	p.status.Store(int32(NotRunning))
	log.Info("peer shut down: %s", reason)
}

// run is the single-threaded network loop (§5): it never blocks longer
// than one read-deadline tick, so handshake heartbeats, connection
// heartbeats and socket I/O all interleave on one goroutine, mirroring
// the teacher's Server.listen/updateLoop collapsed into one cycle.
func (p *Peer) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(heartbeatTickInterval)
	defer ticker.Stop()

	buf := make([]byte, 65536)
	tickCount := uint64(0)

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			tickCount++
			now := time.Now()

			if tickCount%handshakeHeartbeatEvery == 0 {
				p.heartbeatHandshakes(now)
			}
			p.heartbeatConnections(now)
			p.drainUnconnected()
			p.sweepFragments(now)
		default:
		}

		_ = p.conn.SetReadDeadline(time.Now().Add(heartbeatTickInterval))
		n, remote, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if p.PeerStatus() != Running {
				return
			}
			continue
		}
		p.statsMu.Lock()
		p.stats.PacketsReceived++
		p.stats.BytesReceived += uint64(n)
		p.statsMu.Unlock()
		p.handleDatagram(remote, append([]byte(nil), buf[:n]...), time.Now())
	}
}

// heartbeatHandshakes snapshots the handshake map's keys before
// processing them, resolving spec.md's Open Question #2 (an
// iterate-then-mutate race: CompleteAsInitiator/CompleteAsResponder move
// a Connection out of p.handshakes and into p.connections mid-iteration).
func (p *Peer) heartbeatHandshakes(now time.Time) {
	p.hsMu.RLock()
	keys := make([]string, 0, len(p.handshakes))
	for k := range p.handshakes {
		keys = append(keys, k)
	}
	p.hsMu.RUnlock()

	for _, key := range keys {
		p.hsMu.RLock()
		c, ok := p.handshakes[key]
		p.hsMu.RUnlock()
		if !ok {
			continue
		}
		if c.TimedOut(now, p.cfg.ConnectionTimeout()) {
			p.hsMu.Lock()
			delete(p.handshakes, key)
			p.hsMu.Unlock()
			p.notifier.Emit(Incoming{Kind: codec.StatusChanged, Connection: c, Text: c.RemoteEndpoint.String() + ": handshake-timeout"})
			continue
		}
		// Resend the in-flight handshake frame on every handshake heartbeat
		// (every handshakeHeartbeatEvery ticks) so a dropped
		// Connect/ConnectResponse doesn't stall the handshake indefinitely.
		switch c.State {
		case connection.InitiatedConnect:
			p.sendLibraryFrame(c, codec.Connect, encodeConnect(c.HailToken[:]))
		case connection.RespondedConnect:
			p.sendLibraryFrame(c, codec.ConnectResponse, encodeConnect(c.HailToken[:]))
		}
	}
}

func (p *Peer) heartbeatConnections(now time.Time) {
	p.connMu.RLock()
	keys := make([]string, 0, len(p.connections))
	for k := range p.connections {
		keys = append(keys, k)
	}
	p.connMu.RUnlock()

	for _, key := range keys {
		p.connMu.RLock()
		c, ok := p.connections[key]
		p.connMu.RUnlock()
		if !ok {
			continue
		}

		if c.State == connection.Disconnected {
			p.connMu.Lock()
			delete(p.connections, key)
			p.connMu.Unlock()
			continue
		}

		if c.TimedOut(now, p.cfg.ConnectionTimeout()) {
			c.FinishDisconnect("timeout")
			p.notifier.Emit(Incoming{Kind: codec.StatusChanged, Connection: c, Text: statusChangedText(c)})
			p.statsMu.Lock()
			p.stats.PacketsDropped++
			p.statsMu.Unlock()
			continue
		}

		if c.DuePing(now, p.cfg.PingInterval()) {
			id := c.SendPing(now)
			p.sendLibraryFrame(c, codec.Ping, encodePing(id))
		}

		if size, ok := c.NextMTUProbe(now); ok {
			p.sendLibraryFrame(c, codec.ExpandMTURequest, encodeMTUProbe(size))
		}

		p.flushAcks(c)
		if lost := p.drainSendChannels(c, now); lost {
			p.notifier.Emit(Incoming{Kind: codec.ErrorMessage, Connection: c, Text: "connection-lost: retransmit limit exceeded"})
			continue
		}

		if c.State == connection.Disconnecting {
			p.sendLibraryFrame(c, codec.Disconnect, encodeDisconnect(c.DisconnectReason))
			c.FinishDisconnect(c.DisconnectReason)
			p.notifier.Emit(Incoming{Kind: codec.StatusChanged, Connection: c, Text: statusChangedText(c)})
		}
	}
}

// drainSendChannels drives every delivery method's send window for one
// heartbeat, returning true if the connection should be torn down
// because a reliable channel exhausted its retransmit budget (§4.4).
func (p *Peer) drainSendChannels(c *Connection, now time.Time) bool {
	var frames []codec.Frame
	lost := false
	for _, method := range []codec.DeliveryMethod{codec.Unreliable, codec.Sequenced, codec.ReliableUnordered, codec.ReliableOrdered} {
		sc := c.SendChannels[method]
		frames = append(frames, sc.Drain(now, c.RTT)...)
		if sc.TimedOut() {
			lost = true
		}
		if sc.RetransmitsSent > 0 {
			p.statsMu.Lock()
			p.stats.Retransmits += uint64(sc.RetransmitsSent)
			p.statsMu.Unlock()
			sc.RetransmitsSent = 0
		}
	}
	if len(frames) > 0 {
		p.writeFrames(c, frames)
	}
	if lost {
		c.FinishDisconnect("connection-lost")
	}
	return lost
}

func (p *Peer) flushAcks(c *Connection) {
	if len(c.PendingAcks) == 0 {
		return
	}
	entries := make([]ackEntry, 0, len(c.PendingAcks))
	for _, pa := range c.PendingAcks {
		entries = append(entries, ackEntry{Method: uint8(pa.Method), Sequence: pa.Sequence})
	}
	c.PendingAcks = c.PendingAcks[:0]
	p.sendLibraryFrame(c, codec.Ack, encodeAck(entries))
	p.statsMu.Lock()
	p.stats.AcksSent += uint64(len(entries))
	p.statsMu.Unlock()
}

func (p *Peer) drainUnconnected() {
	p.unconnectedMu.Lock()
	pending := p.unconnected
	p.unconnected = nil
	p.unconnectedMu.Unlock()

	for _, u := range pending {
		n, err := p.conn.WriteToUDP(u.data, u.addr)
		if err != nil {
			log.Warn("peer: unconnected send to %s failed: %v", u.addr, err)
			continue
		}
		p.statsMu.Lock()
		p.stats.PacketsSent++
		p.stats.BytesSent += uint64(n)
		p.statsMu.Unlock()
	}
}

func (p *Peer) sweepFragments(now time.Time) {
	p.connMu.RLock()
	defer p.connMu.RUnlock()
	for _, c := range p.connections {
		c.reassembler.Sweep(now)
	}
}

// handleDatagram deframes a received datagram and dispatches each frame,
// rejecting the whole datagram per §4.3/§7 if it fails to parse.
func (p *Peer) handleDatagram(remote *net.UDPAddr, data []byte, now time.Time) {
	frames, err := codec.Decode(data)
	if err != nil {
		p.statsMu.Lock()
		p.stats.PacketsDropped++
		p.statsMu.Unlock()
		p.notifier.Emit(Incoming{Kind: codec.WarningMessage, Text: "malformed datagram from " + remote.String()})
		return
	}

	key := remote.String()
	p.connMu.RLock()
	c, connected := p.connections[key]
	p.connMu.RUnlock()

	if !connected {
		p.hsMu.RLock()
		hc, inHandshake := p.handshakes[key]
		p.hsMu.RUnlock()
		if inHandshake {
			c = hc
		}
	}

	for _, f := range frames {
		if codec.IsReserved(f.Type) {
			p.notifier.Emit(Incoming{Kind: codec.WarningMessage, Text: "reserved message type from " + remote.String()})
			continue
		}
		if c != nil {
			c.Touch(now)
		}
		if codec.IsLibrary(f.Type) {
			p.handleLibraryFrame(remote, key, c, f, now)
			continue
		}
		if c == nil {
			p.notifier.Emit(Incoming{Kind: codec.UnconnectedData, Text: string(f.Payload)})
			continue
		}
		p.handleAppFrame(c, f, now)
	}
}

func (p *Peer) handleAppFrame(c *Connection, f codec.Frame, now time.Time) {
	method, channelID := codec.DecodeAppType(f.Type)
	rc := c.ReceiveChannels[method]
	if rc == nil {
		return
	}
	m := codec.CopyIntoMessage(p.pool, f)
	m.ChunkIndex = uint32(channelID)

	var released []channel.Released
	switch method {
	case codec.Unreliable:
		released = channel.HandleUnreliable(m)
	case codec.Sequenced:
		released = rc.HandleSequenced(seqnum.Num(f.Sequence), m, p.pool)
	case codec.ReliableUnordered:
		rel, _ := rc.HandleReliableUnordered(seqnum.Num(f.Sequence), m, p.pool)
		c.PendingAcks = append(c.PendingAcks, connection.PendingAck{Method: method, Sequence: f.Sequence})
		released = rel
	case codec.ReliableOrdered:
		res := rc.HandleOrdered(seqnum.Num(f.Sequence), m, p.pool)
		if res.Ack {
			c.PendingAcks = append(c.PendingAcks, connection.PendingAck{Method: method, Sequence: f.Sequence})
		}
		released = res.Released
	}

	for _, rel := range released {
		p.deliverReleased(c, rel.Msg, now)
	}
}

// deliverReleased hands one released message to the application, first
// reassembling fragments if IsFragment is set (§4.6).
func (p *Peer) deliverReleased(c *Connection, m *pool.Message, now time.Time) {
	if !m.IsFragment {
		p.enqueueIncoming(Incoming{Kind: codec.Data, Msg: m, Connection: c})
		return
	}
	payload, bitLen, done := c.reassembler.Feed(m.Data, m.BitLength, now)
	p.pool.Return(m)
	if !done {
		return
	}
	full := p.pool.Rent(len(payload))
	full.Data = append(full.Data[:0], payload...)
	full.BitLength = bitLen
	p.enqueueIncoming(Incoming{Kind: codec.Data, Msg: full, Connection: c})
}

func (p *Peer) enqueueIncoming(msg Incoming) {
	if p.queue.Push(msg) {
		p.statsMu.Lock()
		p.stats.PacketsDropped++
		p.statsMu.Unlock()
	}
	p.notifier.Emit(msg)
}

func (p *Peer) handleLibraryFrame(remote *net.UDPAddr, key string, c *Connection, f codec.Frame, now time.Time) {
	switch f.Type {
	case codec.Connect:
		hail, err := decodeConnect(f.Payload, f.BitLength)
		if err != nil {
			return
		}
		p.connMu.RLock()
		_, already := p.connections[key]
		p.connMu.RUnlock()
		if already {
			return
		}

		p.connMu.RLock()
		connCount := len(p.connections)
		p.connMu.RUnlock()
		p.hsMu.RLock()
		hsCount := len(p.handshakes)
		p.hsMu.RUnlock()
		if connCount+hsCount >= p.cfg.MaximumConnections {
			full := newConnection(remote, p.cfg)
			p.sendLibraryFrame(full, codec.Disconnect, encodeDisconnect("Server full"))
			return
		}

		nc := newConnection(remote, p.cfg)
		copy(nc.HailToken[:], hail)
		nc.ReceiveInitiation(now)
		if p.cfg.AcceptIncomingConnections {
			nc.Approve(now)
			p.hsMu.Lock()
			p.handshakes[key] = nc
			p.hsMu.Unlock()
			p.sendLibraryFrame(nc, codec.ConnectResponse, encodeConnect(nc.HailToken[:]))
		}

	case codec.ConnectResponse:
		hail, err := decodeConnect(f.Payload, f.BitLength)
		if err != nil {
			return
		}
		if c == nil {
			p.hsMu.RLock()
			for _, hc := range p.handshakes {
				if hc.State == connection.InitiatedConnect && hc.RemoteEndpoint.IP.Equal(remote.IP) && string(hail) == string(hc.HailToken[:]) {
					c = hc
					break
				}
			}
			p.hsMu.RUnlock()
		}
		if c == nil || c.State != connection.InitiatedConnect || string(hail) != string(c.HailToken[:]) {
			return
		}
		// Port-remap: accept a response from the same IP on a different
		// port, rekeying our lookup (§4.7 scenario 3).
		if c.RemoteEndpoint.String() != remote.String() {
			p.hsMu.Lock()
			delete(p.handshakes, c.RemoteEndpoint.String())
			c.RekeyEndpoint(remote)
			p.handshakes[remote.String()] = c
			p.hsMu.Unlock()
		}
		c.CompleteAsInitiator(now)
		p.promoteHandshake(remote.String(), c)
		p.sendLibraryFrame(c, codec.ConnectionEstablished, nil)
		p.notifier.Emit(Incoming{Kind: codec.StatusChanged, Connection: c, Text: statusChangedText(c)})

	case codec.ConnectionEstablished:
		if c == nil || c.State != connection.RespondedConnect {
			return
		}
		c.CompleteAsResponder(now)
		p.promoteHandshake(key, c)
		p.notifier.Emit(Incoming{Kind: codec.StatusChanged, Connection: c, Text: statusChangedText(c)})

	case codec.Disconnect:
		if c == nil {
			return
		}
		reason, _ := decodeDisconnect(f.Payload, f.BitLength)
		c.FinishDisconnect(reason)
		p.notifier.Emit(Incoming{Kind: codec.StatusChanged, Connection: c, Text: statusChangedText(c)})

	case codec.Ping:
		if c == nil {
			return
		}
		id, err := decodePing(f.Payload, f.BitLength)
		if err != nil {
			return
		}
		p.sendLibraryFrame(c, codec.Pong, encodePing(id))

	case codec.Pong:
		if c == nil {
			return
		}
		echoedAt, err := decodePing(f.Payload, f.BitLength)
		if err != nil {
			return
		}
		c.ObservePong(now, time.Unix(0, int64(echoedAt)))

	case codec.Ack:
		if c == nil {
			return
		}
		entries, err := decodeAck(f.Payload, f.BitLength)
		if err != nil {
			return
		}
		for _, e := range entries {
			if sc := c.SendChannels[codec.DeliveryMethod(e.Method)]; sc != nil {
				sc.Ack(seqnum.Num(e.Sequence), p.pool)
			}
		}

	case codec.ExpandMTURequest:
		if c == nil {
			return
		}
		p.sendLibraryFrame(c, codec.ExpandMTUSuccess, encodeMTUProbe(len(f.Payload)))

	case codec.ExpandMTUSuccess:
		if c == nil {
			return
		}
		c.AckMTUProbe(len(f.Payload) + codec.HeaderSize)

	case codec.Discovery, codec.DiscoveryResponse, codec.NatIntroduction, codec.NatPunchMessage:
		// Out-of-band discovery/NAT messages: handed to the application as
		// unconnected traffic rather than interpreted here (no STUN/TURN
		// server is part of this transport's scope).
		p.notifier.Emit(Incoming{Kind: codec.UnconnectedData, Text: string(f.Payload)})
	}
}

// promoteHandshake moves a Connection from the handshake table into the
// live connection table once it reaches Connected.
func (p *Peer) promoteHandshake(key string, c *Connection) {
	p.hsMu.Lock()
	delete(p.handshakes, key)
	p.hsMu.Unlock()

	p.connMu.Lock()
	p.connections[c.RemoteEndpoint.String()] = c
	p.connMu.Unlock()
}

func (p *Peer) sendLibraryFrame(c *Connection, typ codec.MessageType, payload []byte) {
	frames := []codec.Frame{{Type: typ, Payload: payload, BitLength: len(payload) * 8}}
	p.writeFrames(c, frames)
}

func (p *Peer) writeFrames(c *Connection, frames []codec.Frame) {
	datagrams, err := codec.Encode(frames, c.CurrentMTU)
	if err != nil {
		log.Warn("peer: encode to %s failed: %v", c.RemoteEndpoint, err)
		return
	}
	for _, dg := range datagrams {
		n, err := p.conn.WriteToUDP(dg, c.RemoteEndpoint)
		if err != nil {
			log.Warn("peer: write to %s failed: %v", c.RemoteEndpoint, err)
			continue
		}
		p.statsMu.Lock()
		p.stats.PacketsSent++
		p.stats.BytesSent += uint64(n)
		p.statsMu.Unlock()
	}
}
