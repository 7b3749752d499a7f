// Package node defines what an application supplies to the server: a factory that builds
// the node's state from the init handshake, and a handler for every later message.
package node

import (
	"mini-maelstrom/message"
	"mini-maelstrom/network"
)

// Node handles every non-init envelope addressed to it, one at a time, on the processing
// loop. A returned error is logged and, when it is a message.RPCError, sent back to the
// requester. It never stops the node.
type Node interface {
	HandleMessage(env *message.Envelope) error
}

// NodeFunc adapts a function to Node.
type NodeFunc func(env *message.Envelope) error

func (f NodeFunc) HandleMessage(env *message.Envelope) error {
	return f(env)
}

// Factory builds a node from the init handshake. It must not block or wait for replies;
// RPCs it issues are answered once the processing loop starts.
type Factory func(net *network.Network, nodeID string, nodeIDs []string) Node
