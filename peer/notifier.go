package peer

import "github.com/brinewave/reliablenet/codec"

// Handler is invoked on the library thread for one enabled incoming-kind
// (§6.3). Per spec.md §9 DESIGN NOTES, the contract is that a Handler
// must never block — it replaces the original system's "callback on an
// arbitrary synchronization context" with an explicit, documented
// single-thread callback.
type Handler func(Incoming)

// Notifier dispatches Incoming events to registered handlers, adapted
// from the teacher's core/events.EventManager (typed event + handler
// registration/Trigger) generalized from game events to §6.3
// incoming-kinds.
type Notifier struct {
	handlers map[codec.IncomingKind][]Handler
	enabled  map[codec.IncomingKind]bool
}

// NewNotifier returns a Notifier with the given set of enabled kinds
// (§6.4 "enabled_message_types"). A kind with no entry is disabled.
func NewNotifier(enabled map[codec.IncomingKind]bool) *Notifier {
	return &Notifier{
		handlers: make(map[codec.IncomingKind][]Handler),
		enabled:  enabled,
	}
}

// On registers a handler for one incoming-kind.
func (n *Notifier) On(kind codec.IncomingKind, h Handler) {
	n.handlers[kind] = append(n.handlers[kind], h)
}

// Enabled reports whether a kind is enabled in this Notifier's
// configuration.
func (n *Notifier) Enabled(kind codec.IncomingKind) bool {
	return n.enabled[kind]
}

// Emit dispatches msg to every handler registered for its kind, if that
// kind is enabled. Called only from the library thread.
func (n *Notifier) Emit(msg Incoming) {
	if !n.enabled[msg.Kind] {
		return
	}
	for _, h := range n.handlers[msg.Kind] {
		h(msg)
	}
}
