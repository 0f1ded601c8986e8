package channel

import (
	"github.com/brinewave/reliablenet/pool"
	"github.com/brinewave/reliablenet/seqnum"
)

// Released is a message handed up to the application, in delivery order
// for its channel.
type Released struct {
	Msg *pool.Message
}

// ReceiveChannel mirrors SendChannel on the inbound side: unreliable has
// no state, sequenced tracks only last_received, reliable-unordered
// releases on arrival while suppressing duplicates within the window, and
// reliable-ordered implements the full withholding algorithm of §4.5.
type ReceiveChannel struct {
	ordered    bool // reliable-ordered: withhold/release in order
	sequenced  bool // sequenced: drop anything not strictly newer
	windowed   bool // reliable-unordered or reliable-ordered: dedup window

	windowSize int
	hasFirst   bool

	// Sequenced state.
	lastReceived seqnum.Num

	// Reliable-ordered state (§4.5). windowStart is also the start of the
	// reliable-unordered dedup window.
	windowStart   seqnum.Num
	earlyReceived []bool
	withheld      []*pool.Message

	// Reliable-unordered dedup bitset, keyed the same way as ordered's
	// earlyReceived but never drained into a release order.
	seen []bool
}

// NewReceiveChannel constructs a receive channel for one delivery method.
func NewReceiveChannel(ordered, sequenced, windowed bool, windowSize int) *ReceiveChannel {
	rc := &ReceiveChannel{
		ordered:    ordered,
		sequenced:  sequenced,
		windowed:   windowed,
		windowSize: windowSize,
	}
	if ordered {
		rc.earlyReceived = make([]bool, windowSize)
		rc.withheld = make([]*pool.Message, windowSize)
	}
	if windowed && !ordered {
		rc.seen = make([]bool, windowSize)
	}
	return rc
}

// HandleUnreliable has no state to update; unreliable messages release
// immediately regardless of sequence.
func HandleUnreliable(msg *pool.Message) []Released {
	return []Released{{Msg: msg}}
}

// HandleSequenced implements the sequenced receive rule: drop any message
// whose sequence is not strictly newer than the last one released.
func (rc *ReceiveChannel) HandleSequenced(seq seqnum.Num, msg *pool.Message, p *pool.Pool) []Released {
	if rc.hasFirst && seqnum.Relative(seq, rc.lastReceived) <= 0 {
		p.Return(msg)
		return nil
	}
	rc.hasFirst = true
	rc.lastReceived = seq
	return []Released{{Msg: msg}}
}

// HandleReliableUnordered releases on arrival and drops duplicates within
// the window using a recently-seen bitset. As the window slides forward,
// vacated slots are cleared so a ring-index collision with a
// windowSize-old sequence isn't mistaken for a duplicate of the current
// one.
func (rc *ReceiveChannel) HandleReliableUnordered(seq seqnum.Num, msg *pool.Message, p *pool.Pool) (released []Released, dup bool) {
	if !rc.hasFirst {
		rc.hasFirst = true
		rc.windowStart = seq
	}
	r := seqnum.Relative(seq, rc.windowStart)
	if r < 0 {
		p.Return(msg)
		return nil, true
	}
	if r >= rc.windowSize {
		advance := r - rc.windowSize + 1
		for i := 0; i < advance; i++ {
			idx := int(uint16(rc.windowStart)) % rc.windowSize
			rc.seen[idx] = false
			rc.windowStart = rc.windowStart.Add(1)
		}
	}
	idx := int(uint16(seq)) % rc.windowSize
	if rc.seen[idx] {
		p.Return(msg)
		return nil, true
	}
	rc.seen[idx] = true
	return []Released{{Msg: msg}}, false
}

// ReceiveResult is the outcome of delivering one reliable-ordered message
// to HandleOrdered: whether it must be acked, any newly-released messages
// (in order), and whether it was a duplicate or rejected as too-early.
type ReceiveResult struct {
	Ack       bool
	Released  []Released
	Duplicate bool
	TooEarly  bool
}

// HandleOrdered implements the ReliableOrderedReceiver algorithm of §4.5
// verbatim: ack unconditionally, compute r = relative(s, window_start),
// release in place when r==0 (then drain any withheld contiguous run),
// drop duplicates (r<0), reject messages more than window_size ahead
// (r>window_size) without expanding the window, and withhold messages in
// (0, window_size].
func (rc *ReceiveChannel) HandleOrdered(s seqnum.Num, msg *pool.Message, p *pool.Pool) ReceiveResult {
	res := ReceiveResult{Ack: true}

	r := seqnum.Relative(s, rc.windowStart)

	switch {
	case r == 0:
		res.Released = append(res.Released, Released{Msg: msg})
		rc.advanceWindow()
		for {
			idx := int(uint16(rc.windowStart)) % rc.windowSize
			if !rc.earlyReceived[idx] {
				break
			}
			res.Released = append(res.Released, Released{Msg: rc.withheld[idx]})
			rc.withheld[idx] = nil
			rc.advanceWindow()
		}
	case r < 0:
		res.Duplicate = true
		p.Return(msg)
	case r > rc.windowSize:
		res.TooEarly = true
		p.Return(msg)
	default: // 0 < r <= windowSize
		idx := int(uint16(s)) % rc.windowSize
		if old := rc.withheld[idx]; old != nil && old != msg {
			p.Return(old)
		}
		rc.withheld[idx] = msg
		rc.earlyReceived[idx] = true
	}
	return res
}

// advanceWindow clears the slot at window_start, then advances it by one
// modulo 2^15, exactly as spec.md's advance_window() defines it — the
// ring index (mod window_size) and the sequence value (mod 2^15) are kept
// as two explicit computations rather than aliased together (see
// DESIGN.md's resolution of the SequenceNumbers-mod-window_size Open
// Question).
func (rc *ReceiveChannel) advanceWindow() {
	idx := int(uint16(rc.windowStart)) % rc.windowSize
	rc.earlyReceived[idx] = false
	rc.windowStart = rc.windowStart.Add(1)
}

// WindowStart exposes the current window start, for diagnostics/tests.
func (rc *ReceiveChannel) WindowStart() seqnum.Num { return rc.windowStart }
