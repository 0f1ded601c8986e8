package peer

import (
	"net"

	"github.com/brinewave/reliablenet/config"
	"github.com/brinewave/reliablenet/connection"
	"github.com/brinewave/reliablenet/fragment"
)

// Connection is the peer-facing wrapper around connection.Connection,
// adding the per-endpoint fragment reassembler and ack bookkeeping that
// belong to routing rather than to the FSM itself. Go's garbage collector
// makes the cyclic connection<->peer reference spec.md §9 worries about
// (in a non-GC source language) a non-issue here; we keep a direct pointer
// instead of an index-based arena.
type Connection struct {
	*connection.Connection
	reassembler *fragment.Reassembler
}

func newConnection(remote *net.UDPAddr, cfg *config.Config) *Connection {
	return &Connection{
		Connection: connection.New(remote, cfg.WindowSize, cfg.DefaultMTU, cfg.MaximumMTU,
			cfg.ResendBaseDelay(), cfg.MaxRetransmits),
		reassembler: fragment.NewReassembler(fragment.DefaultTTL),
	}
}

// statusChangedText renders a short human string for a StatusChanged
// notification's Text field.
func statusChangedText(c *Connection) string {
	return c.RemoteEndpoint.String() + ": " + c.State.String()
}
