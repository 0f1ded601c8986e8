package channel

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brinewave/reliablenet/pool"
	"github.com/brinewave/reliablenet/seqnum"
)

func releaseText(rs []Released) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r.Msg.Data)
	}
	return out
}

func TestReliableUnorderedMultisetEqualsInput(t *testing.T) {
	p := pool.New()
	rc := NewReceiveChannel(false, false, true, 4)

	input := []string{"a", "b", "c", "d", "e", "f", "g"}
	var out []string
	for i, s := range input {
		msg := p.Rent(len(s))
		msg.Data = append(msg.Data[:0], s...)
		released, dup := rc.HandleReliableUnordered(seqnum.Num(i), msg, p)
		require.False(t, dup, "sequence %d should not be a duplicate on first arrival", i)
		out = append(out, releaseText(released)...)
	}

	sort.Strings(input)
	sort.Strings(out)
	assert.Equal(t, input, out, "reliable-unordered output multiset must equal input multiset")
}

func TestReliableUnorderedDoesNotFalseDropAfterWindowCycle(t *testing.T) {
	// windowSize=4: fill ring slots 0-3 via sequences 0-3, then a far
	// ahead arrival (seq 7) slides the window forward past them without
	// ever re-visiting slot 0. A legitimate later sequence (seq 4) that
	// lands back on slot 0 must not be mistaken for a duplicate of the
	// long-departed seq 0 — the seen bitset must have been cleared as the
	// window advanced past that slot.
	p := pool.New()
	rc := NewReceiveChannel(false, false, true, 4)

	for _, seq := range []seqnum.Num{0, 1, 2, 3} {
		msg := p.Rent(1)
		msg.Data = append(msg.Data[:0], 'x')
		_, dup := rc.HandleReliableUnordered(seq, msg, p)
		require.False(t, dup)
	}

	jump := p.Rent(1)
	jump.Data = append(jump.Data[:0], 'j')
	_, dup := rc.HandleReliableUnordered(seqnum.Num(7), jump, p)
	require.False(t, dup)

	later := p.Rent(1)
	later.Data = append(later.Data[:0], 'y')
	released, dup := rc.HandleReliableUnordered(seqnum.Num(4), later, p)
	assert.False(t, dup, "seq 4 must not be dropped as a false duplicate of seq 0 sharing its ring slot")
	assert.Len(t, released, 1)
}

func TestReliableUnorderedDropsDuplicateBeyondWindow(t *testing.T) {
	p := pool.New()
	rc := NewReceiveChannel(false, false, true, 4)

	for i := 0; i < 8; i++ {
		msg := p.Rent(1)
		rc.HandleReliableUnordered(seqnum.Num(i), msg, p)
	}

	// Re-delivering an already-acked-and-advanced-past sequence (stale
	// retransmit arriving late) must be dropped as a duplicate.
	stale := p.Rent(1)
	_, dup := rc.HandleReliableUnordered(seqnum.Num(3), stale, p)
	assert.True(t, dup, "a sequence far behind the current window must be dropped as a duplicate")
}

func TestReliableUnorderedRejectsExactDuplicate(t *testing.T) {
	p := pool.New()
	rc := NewReceiveChannel(false, false, true, 64)

	msg := p.Rent(1)
	_, dup := rc.HandleReliableUnordered(seqnum.Num(5), msg, p)
	require.False(t, dup)

	redelivered := p.Rent(1)
	_, dup = rc.HandleReliableUnordered(seqnum.Num(5), redelivered, p)
	assert.True(t, dup, "re-delivering the same sequence must be recognized as a duplicate")
}

func TestOrderedReleaseOrderEqualsEnqueueOrderOutOfOrderArrival(t *testing.T) {
	p := pool.New()
	rc := NewReceiveChannel(true, false, true, 64)

	msgFor := func(s string) *pool.Message {
		m := p.Rent(len(s))
		m.Data = append(m.Data[:0], s...)
		return m
	}

	// Arrive out of order: 1, 2, then 0 (which releases 0,1,2 in order).
	res1 := rc.HandleOrdered(seqnum.Num(1), msgFor("b"), p)
	assert.True(t, res1.Ack)
	assert.Empty(t, res1.Released, "seq 1 must be withheld until seq 0 arrives")

	res2 := rc.HandleOrdered(seqnum.Num(2), msgFor("c"), p)
	assert.Empty(t, res2.Released)

	res0 := rc.HandleOrdered(seqnum.Num(0), msgFor("a"), p)
	assert.Equal(t, []string{"a", "b", "c"}, releaseText(res0.Released))
}

func TestOrderedRejectsTooEarlyWithoutExpandingWindow(t *testing.T) {
	p := pool.New()
	rc := NewReceiveChannel(true, false, true, 4)

	msg := p.Rent(1)
	res := rc.HandleOrdered(seqnum.Num(5), msg, p) // windowSize+1 ahead of windowStart=0
	assert.True(t, res.TooEarly)
	assert.Empty(t, res.Released)
	assert.Equal(t, seqnum.Num(0), rc.WindowStart(), "a too-early message must not advance the window")
}

func TestOrderedDropsDuplicate(t *testing.T) {
	p := pool.New()
	rc := NewReceiveChannel(true, false, true, 64)

	first := p.Rent(1)
	first.Data = append(first.Data[:0], 'a')
	res := rc.HandleOrdered(seqnum.Num(0), first, p)
	require.Len(t, res.Released, 1)

	dupMsg := p.Rent(1)
	res2 := rc.HandleOrdered(seqnum.Num(0), dupMsg, p)
	assert.True(t, res2.Duplicate)
	assert.Empty(t, res2.Released)
}

func TestSequencedDropsOutOfOrder(t *testing.T) {
	p := pool.New()
	rc := NewReceiveChannel(false, true, false, 64)

	newer := p.Rent(1)
	released := rc.HandleSequenced(seqnum.Num(5), newer, p)
	assert.Len(t, released, 1)

	older := p.Rent(1)
	released = rc.HandleSequenced(seqnum.Num(3), older, p)
	assert.Empty(t, released, "a sequence older than the last received must be dropped")
}
