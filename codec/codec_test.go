package codec

import (
	"bytes"
	"testing"
)

func frame(t MessageType, seq uint16, payload []byte) Frame {
	return Frame{Type: t, Sequence: seq, Payload: payload, BitLength: len(payload) * 8}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := []Frame{
		frame(Ping, 1, []byte("hello")),
		frame(Pong, 2, []byte("world!!")),
		frame(MessageType(5), 3, nil),
	}

	datagrams, err := Encode(frames, 1400)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(datagrams) != 1 {
		t.Fatalf("expected 1 datagram, got %d", len(datagrams))
	}

	got, err := Decode(datagrams[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(frames) {
		t.Fatalf("got %d frames, want %d", len(got), len(frames))
	}
	for i := range frames {
		if got[i].Type != frames[i].Type || got[i].Sequence != frames[i].Sequence || !bytes.Equal(got[i].Payload, frames[i].Payload) {
			t.Fatalf("frame %d mismatch: got %+v want %+v", i, got[i], frames[i])
		}
	}
}

func TestEncodeSplitsAcrossDatagramsAtMTU(t *testing.T) {
	big := bytes.Repeat([]byte{0xAB}, 100)
	frames := []Frame{frame(Ping, 0, big), frame(Ping, 1, big), frame(Ping, 2, big)}

	datagrams, err := Encode(frames, HeaderSize+100+5)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(datagrams) < 2 {
		t.Fatalf("expected multiple datagrams, got %d", len(datagrams))
	}
	var all []Frame
	for _, d := range datagrams {
		fs, err := Decode(d)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		all = append(all, fs...)
	}
	if len(all) != len(frames) {
		t.Fatalf("got %d frames across datagrams, want %d", len(all), len(frames))
	}
}

func TestDecodeRejectsOverrunAsMalformed(t *testing.T) {
	// header claims a 100-byte payload, but none follows.
	datagram := []byte{byte(Ping), 0, 0, 100 * 8 & 0xff, (100 * 8) >> 8}
	_, err := Decode(datagram)
	if err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeRejectsTrailingPartialHeader(t *testing.T) {
	good, _ := Encode([]Frame{frame(Ping, 0, []byte("x"))}, 1400)
	datagram := append(good[0], 0x01, 0x02) // two stray bytes
	_, err := Decode(datagram)
	if err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestFragmentFlagRoundTrips(t *testing.T) {
	f := Frame{Type: FragmentHeader, IsFragment: true, Sequence: 12345, Payload: []byte{1, 2, 3}, BitLength: 24}
	datagrams, err := Encode([]Frame{f}, 1400)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(datagrams[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got[0].IsFragment || got[0].Sequence != 12345 {
		t.Fatalf("fragment flag/sequence not preserved: %+v", got[0])
	}
}
