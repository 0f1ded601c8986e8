// Package connection implements C7: the per-peer handshake/connected/
// disconnect state machine, MTU expansion probing, and keepalive RTT
// estimation, per spec.md §4.7.
//
// State names and the handshake shape are grounded in the teacher's
// Session state constants (source/protocol/raknet.go STATE_UNCONNECTED..
// STATE_IN_GAME) generalized from SA-MP's login sequence to spec.md's
// eight-state table; MTU probing and ack-driven RTT smoothing have no
// teacher equivalent and are built fresh from §4.7.
package connection

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/brinewave/reliablenet/channel"
	"github.com/brinewave/reliablenet/codec"
)

// State is one of the eight Connection FSM states of §4.7.
type State int

const (
	None State = iota
	InitiatedConnect
	ReceivedInitiation
	RespondedAwaitingApproval
	RespondedConnect
	Connected
	Disconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case InitiatedConnect:
		return "initiated-connect"
	case ReceivedInitiation:
		return "received-initiation"
	case RespondedAwaitingApproval:
		return "responded-awaiting-approval"
	case RespondedConnect:
		return "responded-connect"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PendingAck records one received sequence awaiting a piggy-backed Ack
// frame, tagged with the delivery method it arrived on so the ack is
// routed back to the matching SendChannel — each delivery method keeps
// its own independent sequence space (see New below), so an ack without
// its method is ambiguous.
type PendingAck struct {
	Method   codec.DeliveryMethod
	Sequence uint16
}

// mtuProbe is one step of the MTU expansion ladder.
type mtuProbe struct {
	size    int
	sentAt  time.Time
	acked   bool
}

// Connection holds all per-remote-endpoint state: status, the four
// send/receive channel pairs (one per delivery method), ack queue, RTT, MTU,
// activity timestamps, and handshake sub-state.
type Connection struct {
	RemoteEndpoint *net.UDPAddr
	RemoteGUID     uint64 // supplements spec.md's port-remap scenario (§3 SUPPLEMENTED)
	HailToken      uuid.UUID

	State State

	SendChannels    map[codec.DeliveryMethod]*channel.SendChannel
	ReceiveChannels map[codec.DeliveryMethod]*channel.ReceiveChannel

	PendingAcks []PendingAck // sequences awaiting a piggy-backed Ack frame

	CurrentMTU int
	MaxMTU     int
	mtuLadder  []mtuProbe

	RTT        time.Duration
	rttSet     bool
	lastPingAt time.Time
	lastPingID uint64

	LastActivity time.Time
	lastPingSent time.Time

	DisconnectReason string
}

// New constructs a Connection in state None with channels for all four
// delivery methods, sequence channel 0, at the given default/max MTU.
// resendBaseDelay and maxRetransmits thread §6.4's resend_base_delay and
// max_retransmits options down into every SendChannel instead of each one
// hardcoding its own policy.
func New(remote *net.UDPAddr, windowSize, defaultMTU, maxMTU int, resendBaseDelay time.Duration, maxRetransmits int) *Connection {
	c := &Connection{
		RemoteEndpoint:  remote,
		State:           None,
		SendChannels:    make(map[codec.DeliveryMethod]*channel.SendChannel),
		ReceiveChannels: make(map[codec.DeliveryMethod]*channel.ReceiveChannel),
		CurrentMTU:      defaultMTU,
		MaxMTU:          maxMTU,
		LastActivity:    time.Now(),
	}
	newSend := func(method codec.DeliveryMethod) *channel.SendChannel {
		return channel.NewSendChannel(method, 0, windowSize, resendBaseDelay, maxRetransmits)
	}
	c.SendChannels[codec.Unreliable] = newSend(codec.Unreliable)
	c.SendChannels[codec.Sequenced] = newSend(codec.Sequenced)
	c.SendChannels[codec.ReliableUnordered] = newSend(codec.ReliableUnordered)
	c.SendChannels[codec.ReliableOrdered] = newSend(codec.ReliableOrdered)

	c.ReceiveChannels[codec.Unreliable] = channel.NewReceiveChannel(false, false, false, windowSize)
	c.ReceiveChannels[codec.Sequenced] = channel.NewReceiveChannel(false, true, false, windowSize)
	c.ReceiveChannels[codec.ReliableUnordered] = channel.NewReceiveChannel(false, false, true, windowSize)
	c.ReceiveChannels[codec.ReliableOrdered] = channel.NewReceiveChannel(true, false, true, windowSize)
	return c
}

// Touch records that traffic was just seen from this connection.
func (c *Connection) Touch(now time.Time) { c.LastActivity = now }

// TimedOut reports whether no traffic has been seen for timeout.
func (c *Connection) TimedOut(now time.Time, timeout time.Duration) bool {
	return now.Sub(c.LastActivity) > timeout
}

// --- Handshake transitions (§4.7 table) ---

// InitiateConnect moves None -> InitiatedConnect (application called
// connect()); the caller is responsible for actually sending Connect.
func (c *Connection) InitiateConnect(now time.Time) {
	c.State = InitiatedConnect
	c.HailToken = uuid.New()
	c.Touch(now)
}

// ReceiveInitiation moves None -> ReceivedInitiation on an inbound Connect.
func (c *Connection) ReceiveInitiation(now time.Time) {
	c.State = ReceivedInitiation
	c.Touch(now)
}

// Approve moves ReceivedInitiation -> RespondedConnect once the
// application (or auto-accept policy) approves an inbound connection.
func (c *Connection) Approve(now time.Time) {
	c.State = RespondedConnect
	c.Touch(now)
}

// CompleteAsInitiator moves InitiatedConnect -> Connected on receipt of
// ConnectResponse.
func (c *Connection) CompleteAsInitiator(now time.Time) {
	c.State = Connected
	c.Touch(now)
	c.beginMTUExpansion(now)
}

// CompleteAsResponder moves RespondedConnect -> Connected on receipt of
// ConnectionEstablished.
func (c *Connection) CompleteAsResponder(now time.Time) {
	c.State = Connected
	c.Touch(now)
	c.beginMTUExpansion(now)
}

// BeginDisconnect moves any state toward Disconnecting, recording why.
func (c *Connection) BeginDisconnect(reason string) {
	if c.State == Disconnected {
		return
	}
	c.State = Disconnecting
	c.DisconnectReason = reason
}

// FinishDisconnect moves Disconnecting -> Disconnected once the final
// Disconnect datagram has been sent (or immediately, for a timeout).
func (c *Connection) FinishDisconnect(reason string) {
	c.State = Disconnected
	if reason != "" {
		c.DisconnectReason = reason
	}
}

// RekeyEndpoint updates the remote endpoint in place, used for the
// port-change handling of §4.7: a responder's ConnectResponse observed
// from a new port (same IP) rekeys the connection to that endpoint. The
// caller (Peer) is responsible for re-keying its own lookup maps.
func (c *Connection) RekeyEndpoint(newEndpoint *net.UDPAddr) {
	c.RemoteEndpoint = newEndpoint
}

// --- MTU expansion (§4.7) ---

// mtuLadderSizes are the probe sizes tried in order, each larger than
// current, capped at MaxMTU.
func mtuLadderSizes(current, max int) []int {
	var sizes []int
	for next := current + 100; next < max; next += 200 {
		sizes = append(sizes, next)
	}
	if max > current {
		sizes = append(sizes, max)
	}
	return sizes
}

func (c *Connection) beginMTUExpansion(now time.Time) {
	c.mtuLadder = nil
	for _, size := range mtuLadderSizes(c.CurrentMTU, c.MaxMTU) {
		c.mtuLadder = append(c.mtuLadder, mtuProbe{size: size})
	}
}

// NextMTUProbe returns the next unsent probe size, or 0 if none is
// pending (expansion finished or not in progress).
func (c *Connection) NextMTUProbe(now time.Time) (size int, ok bool) {
	for i := range c.mtuLadder {
		p := &c.mtuLadder[i]
		if p.acked {
			continue
		}
		if !p.sentAt.IsZero() {
			continue // already sent, awaiting ack or loss detection
		}
		p.sentAt = now
		return p.size, true
	}
	return 0, false
}

// AckMTUProbe records a successful probe at size, raising CurrentMTU to
// size if it is larger. The rest of the ladder is left as it is; a lost
// probe is handled by AbandonMTUProbe.
func (c *Connection) AckMTUProbe(size int) {
	for i := range c.mtuLadder {
		if c.mtuLadder[i].size == size {
			c.mtuLadder[i].acked = true
			if size > c.CurrentMTU {
				c.CurrentMTU = size
			}
			return
		}
	}
}

// AbandonMTUProbe finalizes expansion at the last successfully acked size
// after a probe at size is judged lost (no ack within a timeout decided
// by the caller).
func (c *Connection) AbandonMTUProbe(size int) {
	c.mtuLadder = nil
}

// --- Keepalive / RTT (§4.7) ---

const rttAlpha = 0.25

// DuePing reports whether a Ping is due given pingInterval.
func (c *Connection) DuePing(now time.Time, pingInterval time.Duration) bool {
	return now.Sub(c.lastPingSent) >= pingInterval
}

// SendPing records a ping departure and returns its correlation id.
func (c *Connection) SendPing(now time.Time) uint64 {
	c.lastPingSent = now
	c.lastPingID = uint64(now.UnixNano())
	return c.lastPingID
}

// ObservePong updates the RTT estimate from an echoed ping timestamp,
// using an EWMA with alpha=0.25 per §4.7.
func (c *Connection) ObservePong(now time.Time, echoedAt time.Time) {
	sample := now.Sub(echoedAt)
	if sample < 0 {
		sample = 0
	}
	if !c.rttSet {
		c.RTT = sample
		c.rttSet = true
		return
	}
	c.RTT = time.Duration(float64(c.RTT)*(1-rttAlpha) + float64(sample)*rttAlpha)
}
