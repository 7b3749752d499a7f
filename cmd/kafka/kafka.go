package main

import (
	"sort"

	"mini-maelstrom/loadbalance"
	"mini-maelstrom/message"
	"mini-maelstrom/network"
	"mini-maelstrom/node"
)

type Send struct {
	Key string `json:"key"`
	Msg int    `json:"msg"`
}

func (Send) Type() string { return "send" }

type SendOk struct {
	Offset int `json:"offset"`
}

func (SendOk) Type() string { return "send_ok" }

type Poll struct {
	Offsets map[string]int `json:"offsets"`
}

func (Poll) Type() string { return "poll" }

// PollOk maps each key to [offset, msg] pairs in offset order.
type PollOk struct {
	Msgs map[string][][2]int `json:"msgs"`
}

func (PollOk) Type() string { return "poll_ok" }

type CommitOffsets struct {
	Offsets map[string]int `json:"offsets"`
}

func (CommitOffsets) Type() string { return "commit_offsets" }

type CommitOffsetsOk struct{}

func (CommitOffsetsOk) Type() string { return "commit_offsets_ok" }

type ListCommittedOffsets struct {
	Keys []string `json:"keys"`
}

func (ListCommittedOffsets) Type() string { return "list_committed_offsets" }

type ListCommittedOffsetsOk struct {
	Offsets map[string]int `json:"offsets"`
}

func (ListCommittedOffsetsOk) Type() string { return "list_committed_offsets_ok" }

var payloads = message.MustRegistry(
	Send{}, SendOk{},
	Poll{}, PollOk{},
	CommitOffsets{}, CommitOffsetsOk{},
	ListCommittedOffsets{}, ListCommittedOffsetsOk{},
)

type topicLog struct {
	msgs      []int // offset is the index
	committed int
}

type kafkaNode struct {
	net    *network.Network
	nodeID string
	peers  map[string]bool
	ring   *loadbalance.ConsistentHashBalancer
	logs   map[string]*topicLog
}

func newNode(net *network.Network, nodeID string, nodeIDs []string) node.Node {
	n := &kafkaNode{
		net:    net,
		nodeID: nodeID,
		peers:  make(map[string]bool),
		ring:   loadbalance.NewConsistentHashBalancer(nodeIDs...),
		logs:   make(map[string]*topicLog),
	}
	for _, id := range nodeIDs {
		if id != nodeID {
			n.peers[id] = true
		}
	}

	mux := node.NewMux()
	mux.Handle("send", n.send)
	mux.Handle("poll", n.poll)
	mux.Handle("commit_offsets", n.commitOffsets)
	mux.Handle("list_committed_offsets", n.listCommittedOffsets)
	return mux
}

func (n *kafkaNode) log(key string) *topicLog {
	l, ok := n.logs[key]
	if !ok {
		l = &topicLog{}
		n.logs[key] = l
	}
	return l
}

func (n *kafkaNode) owner(key string) string {
	owner, err := n.ring.Owner(key)
	if err != nil {
		return n.nodeID
	}
	return owner
}

// local reports whether env is served from this node's logs alone. Requests from peers
// were already routed to their owner.
func (n *kafkaNode) local(env *message.Envelope) bool {
	return n.peers[env.Src]
}

// partition groups keys by owner. Owners come back sorted.
func (n *kafkaNode) partition(keys []string) ([]string, map[string][]string) {
	parts := make(map[string][]string)
	for _, key := range keys {
		owner := n.owner(key)
		parts[owner] = append(parts[owner], key)
	}
	owners := make([]string, 0, len(parts))
	for owner := range parts {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, parts
}

// barrier runs done once every part of a scattered request has arrived. It starts at one
// for the scattering handler itself, which arrives last.
type barrier struct {
	remaining int
	done      func() error
}

func (b *barrier) arrive() error {
	b.remaining--
	if b.remaining > 0 {
		return nil
	}
	return b.done()
}

func (n *kafkaNode) send(env *message.Envelope) error {
	req := env.Body.Payload.(Send)
	owner := n.owner(req.Key)
	if owner == n.nodeID || n.local(env) {
		l := n.log(req.Key)
		l.msgs = append(l.msgs, req.Msg)
		return n.net.Reply(env, SendOk{Offset: len(l.msgs) - 1})
	}

	_, err := n.net.RPC(owner, req, func(reply *message.Envelope) error {
		switch p := reply.Body.Payload.(type) {
		case SendOk, message.RPCError:
			return n.net.Reply(env, p)
		default:
			return n.net.Reply(env, message.NewRPCError(message.Crash, "unexpected %s from %s", reply.Type(), owner))
		}
	})
	return err
}

func (n *kafkaNode) pollLocal(offsets map[string]int, into map[string][][2]int) {
	for key, from := range offsets {
		entries := make([][2]int, 0)
		if l, ok := n.logs[key]; ok {
			for offset := max(from, 0); offset < len(l.msgs); offset++ {
				entries = append(entries, [2]int{offset, l.msgs[offset]})
			}
		}
		into[key] = entries
	}
}

// poll gathers the entries of every requested key from its owner. Keys whose owner fails
// to answer are left out.
func (n *kafkaNode) poll(env *message.Envelope) error {
	req := env.Body.Payload.(Poll)
	msgs := make(map[string][][2]int)
	if n.local(env) {
		n.pollLocal(req.Offsets, msgs)
		return n.net.Reply(env, PollOk{Msgs: msgs})
	}

	owners, parts := n.partition(keysOf(req.Offsets))
	b := &barrier{remaining: 1, done: func() error {
		return n.net.Reply(env, PollOk{Msgs: msgs})
	}}
	for _, owner := range owners {
		sub := subset(req.Offsets, parts[owner])
		if owner == n.nodeID {
			n.pollLocal(sub, msgs)
			continue
		}
		b.remaining++
		_, err := n.net.RPC(owner, Poll{Offsets: sub}, func(reply *message.Envelope) error {
			if p, ok := reply.Body.Payload.(PollOk); ok {
				for key, entries := range p.Msgs {
					msgs[key] = entries
				}
			}
			return b.arrive()
		})
		if err != nil {
			return err
		}
	}
	return b.arrive()
}

func (n *kafkaNode) commitLocal(offsets map[string]int) {
	for key, offset := range offsets {
		if l, ok := n.logs[key]; ok && offset > l.committed {
			l.committed = offset
		}
	}
}

// commitOffsets commits on every owner. The first failure is returned to the client.
func (n *kafkaNode) commitOffsets(env *message.Envelope) error {
	req := env.Body.Payload.(CommitOffsets)
	if n.local(env) {
		n.commitLocal(req.Offsets)
		return n.net.Reply(env, CommitOffsetsOk{})
	}

	var failed message.Payload
	owners, parts := n.partition(keysOf(req.Offsets))
	b := &barrier{remaining: 1, done: func() error {
		if failed != nil {
			return n.net.Reply(env, failed)
		}
		return n.net.Reply(env, CommitOffsetsOk{})
	}}
	for _, owner := range owners {
		sub := subset(req.Offsets, parts[owner])
		if owner == n.nodeID {
			n.commitLocal(sub)
			continue
		}
		b.remaining++
		_, err := n.net.RPC(owner, CommitOffsets{Offsets: sub}, func(reply *message.Envelope) error {
			if p, ok := reply.Body.Payload.(message.RPCError); ok && failed == nil {
				failed = p
			}
			return b.arrive()
		})
		if err != nil {
			return err
		}
	}
	return b.arrive()
}

func (n *kafkaNode) listLocal(keys []string, into map[string]int) {
	for _, key := range keys {
		if l, ok := n.logs[key]; ok {
			into[key] = l.committed
		}
	}
}

func (n *kafkaNode) listCommittedOffsets(env *message.Envelope) error {
	req := env.Body.Payload.(ListCommittedOffsets)
	offsets := make(map[string]int)
	if n.local(env) {
		n.listLocal(req.Keys, offsets)
		return n.net.Reply(env, ListCommittedOffsetsOk{Offsets: offsets})
	}

	owners, parts := n.partition(req.Keys)
	b := &barrier{remaining: 1, done: func() error {
		return n.net.Reply(env, ListCommittedOffsetsOk{Offsets: offsets})
	}}
	for _, owner := range owners {
		if owner == n.nodeID {
			n.listLocal(parts[owner], offsets)
			continue
		}
		b.remaining++
		_, err := n.net.RPC(owner, ListCommittedOffsets{Keys: parts[owner]}, func(reply *message.Envelope) error {
			if p, ok := reply.Body.Payload.(ListCommittedOffsetsOk); ok {
				for key, offset := range p.Offsets {
					offsets[key] = offset
				}
			}
			return b.arrive()
		})
		if err != nil {
			return err
		}
	}
	return b.arrive()
}

func keysOf(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func subset(m map[string]int, keys []string) map[string]int {
	out := make(map[string]int, len(keys))
	for _, key := range keys {
		out[key] = m[key]
	}
	return out
}
