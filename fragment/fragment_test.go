package fragment

import (
	"bytes"
	"testing"
	"time"
)

func TestSplitReassembleRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0x5A}, 20000)
	alloc := NewGroupAllocator(0)
	chunks := Split(data, len(data)*8, alloc.Next(), 1400-FragmentHeaderSize)
	if len(chunks) != 15 {
		t.Fatalf("expected 15 chunks for 20000 bytes at mtu 1400, got %d", len(chunks))
	}

	ra := NewReassembler(0)
	now := time.Unix(1000, 0)
	var result []byte
	var resultBits int
	for _, c := range chunks {
		buf, bits, done := ra.Feed(c.Data, c.BitLength, now)
		if done {
			result, resultBits = buf, bits
		}
	}
	if !bytes.Equal(result, data) {
		t.Fatalf("reassembled data mismatch: got %d bytes, want %d", len(result), len(data))
	}
	if resultBits != len(data)*8 {
		t.Fatalf("reassembled bit length = %d, want %d", resultBits, len(data)*8)
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	data := bytes.Repeat([]byte{0x11, 0x22, 0x33}, 1000)
	alloc := NewGroupAllocator(5)
	chunks := Split(data, len(data)*8, alloc.Next(), 512)

	// feed in reverse order
	ra := NewReassembler(0)
	now := time.Unix(0, 0)
	var result []byte
	for i := len(chunks) - 1; i >= 0; i-- {
		if buf, _, done := ra.Feed(chunks[i].Data, chunks[i].BitLength, now); done {
			result = buf
		}
	}
	if !bytes.Equal(result, data) {
		t.Fatalf("out-of-order reassembly mismatch")
	}
}

func TestAbandonedGroupEvictsAfterTTL(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 5000)
	alloc := NewGroupAllocator(0)
	chunks := Split(data, len(data)*8, alloc.Next(), 512)

	ra := NewReassembler(10 * time.Second)
	now := time.Unix(0, 0)
	// feed all but the last chunk
	for _, c := range chunks[:len(chunks)-1] {
		ra.Feed(c.Data, c.BitLength, now)
	}
	if ra.PendingGroups() != 1 {
		t.Fatalf("expected 1 pending group, got %d", ra.PendingGroups())
	}
	ra.Sweep(now.Add(11 * time.Second))
	if ra.PendingGroups() != 0 {
		t.Fatalf("expected abandoned group to be evicted")
	}
}

func TestGroupAllocatorMonotonic(t *testing.T) {
	alloc := NewGroupAllocator(42)
	if alloc.Next() != 42 || alloc.Next() != 43 || alloc.Next() != 44 {
		t.Fatalf("expected monotonic allocation starting at 42")
	}
}
