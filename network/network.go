// Package network is the node's outbound side: it sends envelopes, allocates message ids
// and correlates replies with the RPCs that caused them.
//
// Every outgoing envelope is encoded here and pushed onto the outbound queue; a single
// writer goroutine in the server drains that queue to stdout. RPCs leave a callback in the
// pending table under their msg_id, and the processing loop takes it back out when the
// reply arrives:
//
//	handler ──RPC(n2, msg_id=7)──┐
//	handler ──RPC(n3, msg_id=8)──┼──→ outbound queue ──→ writer ──→ stdout
//	handler ──Send(c1)───────────┘
//
//	processing loop: ←── reply(in_reply_to=8) → pending[8] callback runs once, entry removed
package network

import (
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"mini-maelstrom/codec"
	"mini-maelstrom/message"
	"mini-maelstrom/queue"
)

// Callback receives the reply to an RPC. It runs on the processing loop, so it may touch
// node state freely. An error is reported like a handler error.
type Callback func(reply *message.Envelope) error

// Network is shared by the node's handlers and the server. All methods are safe for
// concurrent use.
type Network struct {
	nodeID   string
	codec    codec.Codec
	outbound *queue.Queue[[]byte]
	logger   *logrus.Entry

	mu      sync.Mutex          // Guards nextID and pending
	nextID  uint64              // Last allocated msg_id, 0 means none yet
	pending map[uint64]Callback // msg_id -> continuation waiting for its reply

	sent      metrics.Counter
	issued    metrics.Counter
	completed metrics.Counter
	forgotten metrics.Counter
	inFlight  metrics.Gauge
}

// New returns a Network for nodeID that pushes encoded lines onto outbound. registry may
// be nil, in which case metrics are kept in a private registry.
func New(nodeID string, c codec.Codec, outbound *queue.Queue[[]byte], logger *logrus.Entry, registry metrics.Registry) *Network {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &Network{
		nodeID:    nodeID,
		codec:     c,
		outbound:  outbound,
		logger:    logger.WithField("component", "network"),
		pending:   make(map[uint64]Callback),
		sent:      metrics.GetOrRegisterCounter("outbound.messages", registry),
		issued:    metrics.GetOrRegisterCounter("rpc.issued", registry),
		completed: metrics.GetOrRegisterCounter("rpc.completed", registry),
		forgotten: metrics.GetOrRegisterCounter("rpc.forgotten", registry),
		inFlight:  metrics.GetOrRegisterGauge("rpc.pending", registry),
	}
}

// Logger returns the node's logger, for applications to log through.
func (n *Network) Logger() *logrus.Entry {
	return n.logger.WithField("component", "node")
}

// NodeID returns the id this node was initialized with.
func (n *Network) NodeID() string {
	return n.nodeID
}

// Send encodes env and enqueues it for the writer. It returns once the line is queued,
// not once it is written. Encoding errors are returned here and never reach the writer.
func (n *Network) Send(env *message.Envelope) error {
	line, err := n.codec.Encode(env)
	if err != nil {
		return err
	}
	if err := n.outbound.Push(line); err != nil {
		return err
	}
	n.sent.Inc(1)
	n.logger.WithFields(logrus.Fields{
		"dest": env.Dest,
		"type": env.Type(),
	}).Debug("Send")
	return nil
}

// SendTo sends payload to dest without a msg_id. No reply is expected.
func (n *Network) SendTo(dest string, payload message.Payload) error {
	return n.Send(message.NewEnvelope(n.nodeID, dest, message.NewBody(payload)))
}

// Reply answers request with payload.
func (n *Network) Reply(request *message.Envelope, payload message.Payload) error {
	reply, err := message.IntoReply(request, payload)
	if err != nil {
		return err
	}
	return n.Send(reply)
}

// RPC sends payload to dest under a fresh msg_id and arranges for callback to run when the
// reply arrives. The callback is registered before the envelope is queued, so even an
// immediate reply finds it. If sending fails the registration is undone.
func (n *Network) RPC(dest string, payload message.Payload, callback Callback) (uint64, error) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	if callback != nil {
		n.pending[id] = callback
		n.inFlight.Update(int64(len(n.pending)))
	}
	n.mu.Unlock()

	env := message.NewEnvelope(n.nodeID, dest, message.NewBody(payload, message.WithMsgID(id)))
	if err := n.Send(env); err != nil {
		if callback != nil {
			n.mu.Lock()
			delete(n.pending, id)
			n.inFlight.Update(int64(len(n.pending)))
			n.mu.Unlock()
		}
		return 0, err
	}
	n.issued.Inc(1)
	return id, nil
}

// Request sends payload to dest under a fresh msg_id without registering a callback. The
// reply, if any, is delivered to the node's handler.
func (n *Network) Request(dest string, payload message.Payload) (uint64, error) {
	return n.RPC(dest, payload, nil)
}

// NextMsgID allocates a msg_id. Ids start at 1, strictly increase and are never reused.
func (n *Network) NextMsgID() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	return n.nextID
}

// Take removes and returns the callback registered under inReplyTo. A second Take for the
// same id reports false, so a callback runs at most once.
func (n *Network) Take(inReplyTo uint64) (Callback, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cb, ok := n.pending[inReplyTo]
	if !ok {
		return nil, false
	}
	delete(n.pending, inReplyTo)
	n.inFlight.Update(int64(len(n.pending)))
	n.completed.Inc(1)
	return cb, true
}

// Forget drops the callback registered under id. A reply arriving later goes to the
// handler instead. It reports whether anything was pending.
func (n *Network) Forget(id uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.pending[id]; !ok {
		return false
	}
	delete(n.pending, id)
	n.inFlight.Update(int64(len(n.pending)))
	n.forgotten.Inc(1)
	return true
}

// Pending returns the number of RPCs still waiting for a reply.
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}
