package connection

import (
	"net"
	"testing"
	"time"
)

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: port}
}

func TestInitiatorHandshakeReachesConnected(t *testing.T) {
	now := time.Unix(0, 0)
	c := New(testAddr(7000), 64, 576, 1492, 100*time.Millisecond, 16)

	c.InitiateConnect(now)
	if c.State != InitiatedConnect {
		t.Fatalf("state = %v, want InitiatedConnect", c.State)
	}
	c.CompleteAsInitiator(now.Add(time.Millisecond))
	if c.State != Connected {
		t.Fatalf("state = %v, want Connected", c.State)
	}
}

func TestResponderHandshakeReachesConnected(t *testing.T) {
	now := time.Unix(0, 0)
	c := New(testAddr(7000), 64, 576, 1492, 100*time.Millisecond, 16)

	c.ReceiveInitiation(now)
	c.Approve(now)
	if c.State != RespondedConnect {
		t.Fatalf("state = %v, want RespondedConnect", c.State)
	}
	c.CompleteAsResponder(now)
	if c.State != Connected {
		t.Fatalf("state = %v, want Connected", c.State)
	}
}

func TestDisconnectSequence(t *testing.T) {
	c := New(testAddr(7000), 64, 576, 1492, 100*time.Millisecond, 16)
	c.State = Connected
	c.BeginDisconnect("client requested disconnect")
	if c.State != Disconnecting {
		t.Fatalf("state = %v, want Disconnecting", c.State)
	}
	c.FinishDisconnect("")
	if c.State != Disconnected {
		t.Fatalf("state = %v, want Disconnected", c.State)
	}
	if c.DisconnectReason != "client requested disconnect" {
		t.Fatalf("reason = %q", c.DisconnectReason)
	}
}

func TestPortRemapRekeysEndpoint(t *testing.T) {
	c := New(testAddr(7000), 64, 576, 1492, 100*time.Millisecond, 16)
	c.InitiateConnect(time.Unix(0, 0))

	newEndpoint := testAddr(40000)
	c.RekeyEndpoint(newEndpoint)

	if c.RemoteEndpoint.Port != 40000 {
		t.Fatalf("expected rekeyed port 40000, got %d", c.RemoteEndpoint.Port)
	}
	if c.RemoteEndpoint.IP.String() != "203.0.113.5" {
		t.Fatalf("expected IP to be preserved across rekey")
	}
}

func TestRTTEWMA(t *testing.T) {
	c := New(testAddr(7000), 64, 576, 1492, 100*time.Millisecond, 16)
	now := time.Unix(0, 0)

	pingAt := now
	c.ObservePong(pingAt.Add(100*time.Millisecond), pingAt)
	if c.RTT != 100*time.Millisecond {
		t.Fatalf("first RTT sample should set RTT directly, got %v", c.RTT)
	}

	pingAt2 := now.Add(time.Second)
	c.ObservePong(pingAt2.Add(200*time.Millisecond), pingAt2)
	want := time.Duration(float64(100*time.Millisecond)*0.75 + float64(200*time.Millisecond)*0.25)
	if c.RTT != want {
		t.Fatalf("RTT after EWMA = %v, want %v", c.RTT, want)
	}
}

func TestMTUExpansionRaisesOnAck(t *testing.T) {
	now := time.Unix(0, 0)
	c := New(testAddr(7000), 64, 576, 1492, 100*time.Millisecond, 16)
	c.CompleteAsInitiator(now)

	size, ok := c.NextMTUProbe(now)
	if !ok {
		t.Fatalf("expected a pending MTU probe")
	}
	if size <= c.CurrentMTU {
		t.Fatalf("probe size %d should exceed current MTU %d", size, c.CurrentMTU)
	}
	c.AckMTUProbe(size)
	if c.CurrentMTU != size {
		t.Fatalf("CurrentMTU = %d, want %d after ack", c.CurrentMTU, size)
	}
}
