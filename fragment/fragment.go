// Package fragment implements C6: splitting oversize outgoing messages
// into MTU-sized chunks and reassembling them on receive, per spec.md
// §4.6. The receive-side map is grounded in the teacher's
// Session.SplitPackets (map[SplitID]map[SplitIndex]*EncapsulatedPacket,
// assembled once len(...) == SplitCount); the TTL eviction for abandoned
// groups is supplemented, since the teacher never times one out.
package fragment

import (
	"time"

	"github.com/brinewave/reliablenet/bitstream"
	"github.com/brinewave/reliablenet/pool"
)

// FragmentHeaderSize is the room a chunk reserves for its preamble
// (group_id, chunk_count, chunk_size, chunk_index as varints): four
// varints of at most 5 bytes each, enough for any 32-bit value.
const FragmentHeaderSize = 20

// DefaultTTL is the default abandoned-group timeout (§4.6).
const DefaultTTL = 60 * time.Second

// GroupAllocator hands out monotonically increasing 32-bit group ids.
// Seeding it from github.com/rs/xid after a restart keeps ids trending
// upward across process lifetimes purely for log correlation; the hot
// path below is a plain counter, as spec.md requires.
type GroupAllocator struct {
	next uint32
}

// NewGroupAllocator returns an allocator starting at seed.
func NewGroupAllocator(seed uint32) *GroupAllocator {
	return &GroupAllocator{next: seed}
}

// Next returns the next group id and advances the counter.
func (g *GroupAllocator) Next() uint32 {
	id := g.next
	g.next++
	return id
}

// Split breaks data into ceil(len(data)/chunkSize) fragments (at least
// one), each carrying its preamble; it returns nil only when chunkSize is
// not positive. Callers decide whether splitting is needed. chunkSize =
// mtu - fragment header size, per §4.6.
func Split(data []byte, bitLength int, groupID uint32, chunkSize int) []*pool.Message {
	if chunkSize <= 0 {
		return nil
	}
	chunkCount := (len(data) + chunkSize - 1) / chunkSize
	if chunkCount == 0 {
		chunkCount = 1
	}
	out := make([]*pool.Message, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]

		w := bitstream.NewWriter(len(chunk) + 16)
		w.WriteVarUint(uint64(groupID))
		w.WriteVarUint(uint64(chunkCount))
		w.WriteVarUint(uint64(chunkSize))
		w.WriteVarUint(uint64(i))
		w.WriteRaw(chunk)

		out = append(out, &pool.Message{
			Data:          w.Bytes(),
			BitLength:     w.BitLength(),
			IsFragment:    true,
			FragmentGroup: groupID,
			ChunkIndex:    uint32(i),
		})
	}
	return out
}

type group struct {
	total     int
	chunkSize int
	chunks    map[int][]byte
	lastChunkBits int
	lastSeen  time.Time
}

// Reassembler tracks in-progress fragment groups for one peer endpoint,
// keyed by group_id, evicting abandoned ones after ttl.
type Reassembler struct {
	ttl    time.Duration
	groups map[uint32]*group
}

// NewReassembler returns an empty Reassembler using ttl for abandoned
// groups (pass 0 to use DefaultTTL).
func NewReassembler(ttl time.Duration) *Reassembler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reassembler{ttl: ttl, groups: make(map[uint32]*group)}
}

// Feed ingests one fragment chunk. It returns the reassembled payload, its
// bit length and true once the final chunk of its group arrives; otherwise
// it returns (nil, 0, false) having buffered the chunk.
func (r *Reassembler) Feed(payload []byte, bitLength int, now time.Time) ([]byte, int, bool) {
	reader := bitstream.NewReader(payload, bitLength)
	groupID, err := reader.ReadVarUint()
	if err != nil {
		return nil, 0, false
	}
	chunkCount, err := reader.ReadVarUint()
	if err != nil {
		return nil, 0, false
	}
	chunkSize, err := reader.ReadVarUint()
	if err != nil {
		return nil, 0, false
	}
	chunkIndex, err := reader.ReadVarUint()
	if err != nil {
		return nil, 0, false
	}
	remainingBits := reader.BitsRemaining()
	chunk, err := reader.ReadRaw((remainingBits + 7) / 8)
	if err != nil {
		return nil, 0, false
	}

	g, ok := r.groups[uint32(groupID)]
	if !ok {
		g = &group{total: int(chunkCount), chunkSize: int(chunkSize), chunks: make(map[int][]byte)}
		r.groups[uint32(groupID)] = g
	}
	g.lastSeen = now
	g.chunks[int(chunkIndex)] = chunk
	if int(chunkIndex) == g.total-1 {
		g.lastChunkBits = remainingBits
	}

	if len(g.chunks) < g.total {
		return nil, 0, false
	}

	buf := make([]byte, 0, g.total*g.chunkSize)
	for i := 0; i < g.total; i++ {
		c, have := g.chunks[i]
		if !have {
			return nil, 0, false // still missing an interior chunk
		}
		buf = append(buf, c...)
	}
	totalBits := (g.total-1)*g.chunkSize*8 + g.lastChunkBits
	delete(r.groups, uint32(groupID))
	return buf, totalBits, true
}

// Sweep evicts groups that haven't seen a chunk within the TTL.
func (r *Reassembler) Sweep(now time.Time) {
	for id, g := range r.groups {
		if now.Sub(g.lastSeen) > r.ttl {
			delete(r.groups, id)
		}
	}
}

// PendingGroups reports how many fragment groups are currently buffered,
// for diagnostics and tests.
func (r *Reassembler) PendingGroups() int { return len(r.groups) }
