package main

import (
	"sort"

	"mini-maelstrom/loadbalance"
	"mini-maelstrom/message"
	"mini-maelstrom/network"
	"mini-maelstrom/node"
)

type Broadcast struct {
	Message int `json:"message"`
}

func (Broadcast) Type() string { return "broadcast" }

type BroadcastOk struct{}

func (BroadcastOk) Type() string { return "broadcast_ok" }

type Read struct{}

func (Read) Type() string { return "read" }

type ReadOk struct {
	Messages []int `json:"messages"`
}

func (ReadOk) Type() string { return "read_ok" }

type Topology struct {
	Topology map[string][]string `json:"topology"`
}

func (Topology) Type() string { return "topology" }

type TopologyOk struct{}

func (TopologyOk) Type() string { return "topology_ok" }

// Replicate carries a batch of values to a peer. Seq is the highest local sequence number
// in the batch; the peer acknowledges it with ReplicateOk.
type Replicate struct {
	Messages []int `json:"messages"`
	Seq      int   `json:"seq"`
}

func (Replicate) Type() string { return "replicate" }

type ReplicateOk struct {
	Seq int `json:"seq"`
}

func (ReplicateOk) Type() string { return "replicate_ok" }

var payloads = message.MustRegistry(Broadcast{}, Read{}, Topology{}, Replicate{}, ReplicateOk{})

const (
	// maxFanout bounds the replicate batches sent per handled message.
	maxFanout = 2

	// staleAfter is the number of handled messages after which an unacknowledged batch is
	// sent again.
	staleAfter = 20
)

type inflight struct {
	id     uint64
	sentAt uint64
}

// broadcastNode replicates the values it receives from clients to every other node in
// batches. Replication is driven by activity: after each handled message the node sends
// pending batches to at most maxFanout peers, choosing them round-robin.
type broadcastNode struct {
	net   *network.Network
	peers []string

	messages map[int]struct{}
	seq      int

	unreplicated map[string]map[int]int // peer -> seq -> value
	inflight     map[string]inflight    // peer -> batch waiting for its ack
	tick         uint64                 // handled messages so far
	balancer     loadbalance.Balancer
}

func newNode(net *network.Network, nodeID string, nodeIDs []string) node.Node {
	n := &broadcastNode{
		net:          net,
		messages:     make(map[int]struct{}),
		unreplicated: make(map[string]map[int]int),
		inflight:     make(map[string]inflight),
		balancer:     &loadbalance.RoundRobinBalancer{},
	}
	for _, id := range nodeIDs {
		if id != nodeID {
			n.peers = append(n.peers, id)
			n.unreplicated[id] = make(map[int]int)
		}
	}

	mux := node.NewMux()
	mux.Handle("broadcast", n.active(n.broadcast))
	mux.Handle("read", n.active(n.read))
	mux.Handle("topology", n.active(n.topology))
	mux.Handle("replicate", n.active(n.replicate))
	mux.Handle("replicate_ok", n.active(n.replicateOk))
	return mux
}

// active runs h, then gives replication a chance to make progress.
func (n *broadcastNode) active(h node.HandlerFunc) node.HandlerFunc {
	return func(env *message.Envelope) error {
		err := h(env)
		n.tick++
		n.flush()
		return err
	}
}

func (n *broadcastNode) broadcast(env *message.Envelope) error {
	value := env.Body.Payload.(Broadcast).Message
	if _, ok := n.messages[value]; !ok {
		n.messages[value] = struct{}{}
		for _, peer := range n.peers {
			n.unreplicated[peer][n.seq] = value
		}
		n.seq++
	}
	return n.net.Reply(env, BroadcastOk{})
}

func (n *broadcastNode) read(env *message.Envelope) error {
	values := make([]int, 0, len(n.messages))
	for v := range n.messages {
		values = append(values, v)
	}
	sort.Ints(values)
	return n.net.Reply(env, ReadOk{Messages: values})
}

func (n *broadcastNode) topology(env *message.Envelope) error {
	// Every node replicates to every other node; the suggested topology is not used
	return n.net.Reply(env, TopologyOk{})
}

func (n *broadcastNode) replicate(env *message.Envelope) error {
	batch := env.Body.Payload.(Replicate)
	for _, v := range batch.Messages {
		n.messages[v] = struct{}{}
	}
	return n.net.Reply(env, ReplicateOk{Seq: batch.Seq})
}

// replicateOk handles acks whose batch was already given up on. They still count.
func (n *broadcastNode) replicateOk(env *message.Envelope) error {
	n.ack(env.Src, env.Body.Payload.(ReplicateOk).Seq)
	return nil
}

func (n *broadcastNode) ack(peer string, seq int) {
	pending, ok := n.unreplicated[peer]
	if !ok {
		return
	}
	for s := range pending {
		if s <= seq {
			delete(pending, s)
		}
	}
}

func (n *broadcastNode) needsFlush(peer string) bool {
	if len(n.unreplicated[peer]) == 0 {
		return false
	}
	f, ok := n.inflight[peer]
	return !ok || n.tick-f.sentAt > staleAfter
}

func (n *broadcastNode) flush() {
	sent := 0
	for attempt := 0; attempt < len(n.peers) && sent < maxFanout; attempt++ {
		peer, err := n.balancer.Pick(n.peers)
		if err != nil {
			return
		}
		if !n.needsFlush(peer) {
			continue
		}
		if err := n.send(peer); err != nil {
			return
		}
		sent++
	}
}

func (n *broadcastNode) send(peer string) error {
	if f, ok := n.inflight[peer]; ok {
		n.net.Forget(f.id)
		delete(n.inflight, peer)
	}

	pending := n.unreplicated[peer]
	seqs := make([]int, 0, len(pending))
	for s := range pending {
		seqs = append(seqs, s)
	}
	sort.Ints(seqs)
	batch := Replicate{Messages: make([]int, 0, len(seqs)), Seq: seqs[len(seqs)-1]}
	for _, s := range seqs {
		batch.Messages = append(batch.Messages, pending[s])
	}

	var id uint64
	id, err := n.net.RPC(peer, batch, func(reply *message.Envelope) error {
		if f, ok := n.inflight[peer]; ok && f.id == id {
			delete(n.inflight, peer)
		}
		switch p := reply.Body.Payload.(type) {
		case ReplicateOk:
			n.ack(peer, p.Seq)
			n.flush()
			return nil
		case message.RPCError:
			return p
		default:
			return message.NewRPCError(message.MalformedRequest, "unexpected %s to replicate", reply.Type())
		}
	})
	if err != nil {
		return err
	}
	n.inflight[peer] = inflight{id: id, sentAt: n.tick}
	return nil
}
