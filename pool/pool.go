// Package pool implements C2: a size-bucketed free list that recycles
// Message objects to bound allocation, mirroring the rent/return shape of
// other_examples' AhmadMuzakkir-reliable Pool/Buffer but bucketed by
// capacity per spec.md §4.2 instead of a single fixed size.
package pool

import "sort"

// Message is the recyclable unit: a byte buffer plus the bookkeeping
// spec.md §3 attaches to an outgoing/incoming message. Fields beyond Data
// are zeroed by Return but the backing array is kept.
type Message struct {
	Data          []byte
	BitLength     int
	Type          byte
	FragmentGroup uint32
	ChunkIndex    uint32
	IsFragment    bool
	Sequence      uint16
	RefCount      int32

	capacity int
}

// Capacity returns the backing array's capacity, used to pick a bucket on
// Return.
func (m *Message) Capacity() int { return cap(m.Data) }

func (m *Message) reset() {
	m.Data = m.Data[:0]
	m.BitLength = 0
	m.Type = 0
	m.FragmentGroup = 0
	m.ChunkIndex = 0
	m.IsFragment = false
	m.Sequence = 0
	m.RefCount = 0
}

// Pool is a size-bucketed free list. It is single-threaded: all Rent/Return
// calls must come from the library goroutine (§5). It has no path for
// returning messages from other goroutines.
type Pool struct {
	bucketSizes []int
	buckets     map[int][]*Message
}

// defaultBucketSizes follows a simple doubling series starting at 64 bytes,
// covering the MTU range spec.md §4.7/§6.4 allows (default 576, max 1492
// and beyond for jumbo frames).
var defaultBucketSizes = []int{64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

// New returns an empty Pool using the default bucket ladder.
func New() *Pool {
	return NewWithBuckets(defaultBucketSizes)
}

// NewWithBuckets returns an empty Pool using a caller-supplied, ascending
// bucket ladder.
func NewWithBuckets(sizes []int) *Pool {
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)
	return &Pool{bucketSizes: sorted, buckets: make(map[int][]*Message)}
}

func (p *Pool) bucketFor(minCapacity int) int {
	for _, size := range p.bucketSizes {
		if size >= minCapacity {
			return size
		}
	}
	// Larger than any configured bucket: round up to the next power of two
	// above the last rung so oversize fragments still get pooled.
	size := p.bucketSizes[len(p.bucketSizes)-1]
	for size < minCapacity {
		size *= 2
	}
	return size
}

// Rent returns a Message whose backing buffer has capacity >= minCapacity,
// reused from the free list when available.
func (p *Pool) Rent(minCapacity int) *Message {
	bucket := p.bucketFor(minCapacity)
	free := p.buckets[bucket]
	if len(free) > 0 {
		m := free[len(free)-1]
		p.buckets[bucket] = free[:len(free)-1]
		m.reset()
		m.RefCount = 1
		return m
	}
	return &Message{Data: make([]byte, 0, bucket), RefCount: 1, capacity: bucket}
}

// Return zeroes a message's cursor/length (not necessarily its bytes) and
// reinserts it into the bucket matching its backing capacity. It must only
// be called once RefCount has reached zero.
func (p *Pool) Return(m *Message) {
	if m == nil {
		return
	}
	bucket := m.Capacity()
	m.reset()
	p.buckets[bucket] = append(p.buckets[bucket], m)
}

// Retain increments a message's refcount; used when more than one send
// channel references the same outgoing message.
func Retain(m *Message) { m.RefCount++ }

// Release decrements a message's refcount and returns it to pool once it
// reaches zero. Returns true if the message was returned.
func Release(p *Pool, m *Message) bool {
	m.RefCount--
	if m.RefCount <= 0 {
		p.Return(m)
		return true
	}
	return false
}
