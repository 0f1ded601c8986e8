package peer

import (
	"github.com/brinewave/reliablenet/bitstream"
)

// Library message payload encodings (§6.2). Each is deliberately tiny:
// the handshake hail, the ping/pong timestamp, the ack list, and the
// disconnect reason string.

func encodeConnect(hail []byte) []byte {
	w := bitstream.NewWriter(len(hail) + 4)
	w.WriteBytes(hail)
	return w.Bytes()
}

func decodeConnect(payload []byte, bitLen int) ([]byte, error) {
	r := bitstream.NewReader(payload, bitLen)
	return r.ReadBytes()
}

func encodePing(correlationID uint64) []byte {
	w := bitstream.NewWriter(8)
	w.WriteUint(correlationID, 64)
	return w.Bytes()
}

func decodePing(payload []byte, bitLen int) (uint64, error) {
	r := bitstream.NewReader(payload, bitLen)
	return r.ReadUint(64)
}

func encodeDisconnect(reason string) []byte {
	w := bitstream.NewWriter(len(reason) + 4)
	w.WriteString(reason)
	return w.Bytes()
}

func decodeDisconnect(payload []byte, bitLen int) (string, error) {
	r := bitstream.NewReader(payload, bitLen)
	return r.ReadString()
}

// ackEntry is one (delivery method, sequence) pair carried by an Ack
// message (§6.2 "carries up to N (type, seq) ack entries").
type ackEntry struct {
	Method   uint8
	Sequence uint16
}

func encodeAck(entries []ackEntry) []byte {
	w := bitstream.NewWriter(4 + len(entries)*3)
	w.WriteVarUint(uint64(len(entries)))
	for _, e := range entries {
		w.WriteUint(uint64(e.Method), 8)
		w.WriteUint(uint64(e.Sequence), 16)
	}
	return w.Bytes()
}

func decodeAck(payload []byte, bitLen int) ([]ackEntry, error) {
	r := bitstream.NewReader(payload, bitLen)
	n, err := r.ReadVarUint()
	if err != nil {
		return nil, err
	}
	entries := make([]ackEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		method, err := r.ReadUint(8)
		if err != nil {
			return nil, err
		}
		seq, err := r.ReadUint(16)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ackEntry{Method: uint8(method), Sequence: uint16(seq)})
	}
	return entries, nil
}

func encodeMTUProbe(size int) []byte {
	w := bitstream.NewWriter(size)
	w.WriteRaw(make([]byte, size))
	return w.Bytes()
}
