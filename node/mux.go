package node

import (
	"sort"
	"sync"

	"mini-maelstrom/message"
)

// HandlerFunc handles one message type.
type HandlerFunc func(env *message.Envelope) error

// Mux routes envelopes to handlers by body type.
//
//	mux := node.NewMux()
//	mux.Handle("echo", n.echo)
//	mux.Handle("topology", n.topology)
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for typ, replacing any previous handler.
func (m *Mux) Handle(typ string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[typ] = h
}

// HandleMessage dispatches env. Types without a handler fail with a not-supported
// RPCError, which the server returns to the sender.
func (m *Mux) HandleMessage(env *message.Envelope) error {
	m.mu.RLock()
	h, ok := m.handlers[env.Type()]
	m.mu.RUnlock()
	if !ok {
		return message.NewRPCError(message.NotSupported, "no handler for %q", env.Type())
	}
	return h(env)
}

// Types returns the handled types in sorted order.
func (m *Mux) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
