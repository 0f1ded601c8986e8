package peer

import "testing"

func TestEncodeDecodeConnectRoundTrip(t *testing.T) {
	hail := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	payload := encodeConnect(hail)
	got, err := decodeConnect(payload, len(payload)*8)
	if err != nil {
		t.Fatalf("decodeConnect: %v", err)
	}
	if string(got) != string(hail) {
		t.Fatalf("got %v, want %v", got, hail)
	}
}

func TestEncodeDecodePingRoundTrip(t *testing.T) {
	payload := encodePing(1234567890)
	got, err := decodePing(payload, len(payload)*8)
	if err != nil {
		t.Fatalf("decodePing: %v", err)
	}
	if got != 1234567890 {
		t.Fatalf("got %d, want 1234567890", got)
	}
}

func TestEncodeDecodeDisconnectRoundTrip(t *testing.T) {
	payload := encodeDisconnect("client requested disconnect")
	got, err := decodeDisconnect(payload, len(payload)*8)
	if err != nil {
		t.Fatalf("decodeDisconnect: %v", err)
	}
	if got != "client requested disconnect" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeDecodeAckRoundTrip(t *testing.T) {
	entries := []ackEntry{
		{Method: 2, Sequence: 10},
		{Method: 3, Sequence: 32767},
		{Method: 3, Sequence: 0},
	}
	payload := encodeAck(entries)
	got, err := decodeAck(payload, len(payload)*8)
	if err != nil {
		t.Fatalf("decodeAck: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i] != e {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], e)
		}
	}
}

func TestEncodeDecodeAckEmpty(t *testing.T) {
	payload := encodeAck(nil)
	got, err := decodeAck(payload, len(payload)*8)
	if err != nil {
		t.Fatalf("decodeAck: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d entries, want 0", len(got))
	}
}
