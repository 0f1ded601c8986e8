package codec

import (
	"fmt"

	"github.com/brinewave/reliablenet/pool"
)

// HeaderSize is the fixed 5-byte per-message header of §6.1: type(1) +
// fragment-flag|sequence(2) + payload-bit-length(2).
const HeaderSize = 5

// ErrMalformed signals a datagram that could not be parsed at all; per
// spec.md §4.3 the whole datagram is rejected, never partially delivered.
var ErrMalformed = fmt.Errorf("codec: malformed datagram")

// Frame is one message as it appears (or will appear) framed in a
// datagram.
type Frame struct {
	Type       MessageType
	IsFragment bool
	Sequence   uint16 // 15 bits significant
	Payload    []byte // ceil(bitLength/8) bytes
	BitLength  int
}

// Encode packs frames into one or more datagrams, each no larger than mtu,
// following the teacher's DataPacket.Encode header-loop shape generalized
// to spec.md's 5-byte header. Encode never splits a single frame's payload
// across two datagrams — callers needing that (oversize messages) go
// through the fragment package first.
func Encode(frames []Frame, mtu int) ([][]byte, error) {
	var datagrams [][]byte
	var cur []byte

	flush := func() {
		if len(cur) > 0 {
			datagrams = append(datagrams, cur)
			cur = nil
		}
	}

	for _, f := range frames {
		payloadLen := (f.BitLength + 7) / 8
		if payloadLen != len(f.Payload) {
			return nil, fmt.Errorf("codec: frame bit length %d does not match payload of %d bytes", f.BitLength, len(f.Payload))
		}
		need := HeaderSize + payloadLen
		if need > mtu {
			return nil, fmt.Errorf("codec: message of %d bytes exceeds mtu %d even alone", need, mtu)
		}
		if len(cur)+need > mtu {
			flush()
		}
		cur = appendFrame(cur, f)
	}
	flush()
	return datagrams, nil
}

func appendFrame(buf []byte, f Frame) []byte {
	buf = append(buf, byte(f.Type))

	seqAndFlag := uint16(f.Sequence&0x7fff) << 1
	if f.IsFragment {
		seqAndFlag |= 1
	}
	// Per §6.1: low bit of byte 1 is the fragment flag, the remaining 15
	// bits across bytes 1-2 are the sequence number, little-endian.
	buf = append(buf, byte(seqAndFlag), byte(seqAndFlag>>8))

	bitLen := uint16(f.BitLength)
	buf = append(buf, byte(bitLen), byte(bitLen>>8))

	buf = append(buf, f.Payload...)
	return buf
}

// Decode deframes one datagram into its constituent Frames. Frames
// reference slices of datagram directly (no copy); callers that need to
// retain a payload past the lifetime of datagram must copy it into a
// pooled Message. If the datagram is malformed in any way (declared
// payload length exceeds what remains), the whole datagram is rejected
// per spec.md §4.3 — never partially returned.
func Decode(datagram []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0
	for offset+HeaderSize <= len(datagram) {
		typ := MessageType(datagram[offset])
		seqAndFlag := uint16(datagram[offset+1]) | uint16(datagram[offset+2])<<8
		bitLen := uint16(datagram[offset+3]) | uint16(datagram[offset+4])<<8
		offset += HeaderSize

		payloadLen := int((bitLen + 7) / 8)
		if offset+payloadLen > len(datagram) {
			return nil, ErrMalformed
		}
		frames = append(frames, Frame{
			Type:       typ,
			IsFragment: seqAndFlag&1 != 0,
			Sequence:   seqAndFlag >> 1,
			Payload:    datagram[offset : offset+payloadLen],
			BitLength:  int(bitLen),
		})
		offset += payloadLen
	}
	if offset != len(datagram) {
		// 1-4 trailing bytes that can't form a header: also malformed,
		// since a well-formed encoder never leaves a partial header.
		return nil, ErrMalformed
	}
	return frames, nil
}

// CopyIntoMessage copies a decoded Frame's payload into a pooled Message,
// used by receivers that must outlive the datagram buffer.
func CopyIntoMessage(p *pool.Pool, f Frame) *pool.Message {
	m := p.Rent(len(f.Payload))
	m.Data = append(m.Data[:0], f.Payload...)
	m.BitLength = f.BitLength
	m.Type = byte(f.Type)
	m.IsFragment = f.IsFragment
	m.Sequence = f.Sequence
	return m
}
