package main

import (
	"github.com/sirupsen/logrus"

	"mini-maelstrom/kv"
	"mini-maelstrom/message"
	"mini-maelstrom/network"
	"mini-maelstrom/node"
)

type Add struct {
	Delta int `json:"delta"`
}

func (Add) Type() string { return "add" }

type AddOk struct{}

func (AddOk) Type() string { return "add_ok" }

type Read struct{}

func (Read) Type() string { return "read" }

// ReadOk answers a client read. Inbound read_ok comes from seq-kv and decodes as kv.ReadOk.
type ReadOk struct {
	Value int `json:"value"`
}

func (ReadOk) Type() string { return "read_ok" }

var payloads = newPayloads()

func newPayloads() *message.Registry {
	reg := message.MustRegistry(Add{}, Read{})
	if err := kv.Register(reg); err != nil {
		panic(err)
	}
	return reg
}

type counterNode struct {
	net     *network.Network
	nodeID  string
	nodeIDs []string
	store   *kv.Client
	logger  *logrus.Entry

	pending  int            // added locally, not yet in seq-kv
	applying bool           // a read-then-cas of the own key is outstanding
	cache    map[string]int // last value read per node key
}

func newNode(net *network.Network, nodeID string, nodeIDs []string) node.Node {
	n := &counterNode{
		net:     net,
		nodeID:  nodeID,
		nodeIDs: nodeIDs,
		store:   kv.New(net, kv.SeqKV),
		logger:  net.Logger(),
		cache:   make(map[string]int),
	}

	// Create the own key so reads from other nodes find it. Failure is harmless: the first
	// flush creates it as well.
	if err := n.store.CAS(nodeID, 0, 0, true, func(err error) error {
		if err != nil && !kv.IsCode(err, message.PreconditionFailed) {
			n.logger.WithError(err).Debug("Seeding counter key failed")
		}
		return nil
	}); err != nil {
		n.logger.WithError(err).Warn("Seeding counter key failed")
	}

	mux := node.NewMux()
	mux.Handle("add", n.active(n.add))
	mux.Handle("read", n.active(n.read))
	return mux
}

// active runs h, then retries applying local adds if nothing is outstanding.
func (n *counterNode) active(h node.HandlerFunc) node.HandlerFunc {
	return func(env *message.Envelope) error {
		err := h(env)
		n.flush()
		return err
	}
}

func (n *counterNode) add(env *message.Envelope) error {
	n.pending += env.Body.Payload.(Add).Delta
	return n.net.Reply(env, AddOk{})
}

// flush moves the pending sum into the own key: read it, then cas it forward. This node is
// the only writer, so a failed cas only means the read was stale and the next flush
// starts over.
func (n *counterNode) flush() {
	if n.applying || n.pending == 0 {
		return
	}
	n.applying = true

	err := n.store.ReadInt(n.nodeID, func(from int, err error) error {
		if err != nil && !kv.IsCode(err, message.KeyDoesNotExist) {
			n.applying = false
			return err
		}
		delta := n.pending
		to := from + delta
		return n.store.CAS(n.nodeID, from, to, true, func(err error) error {
			n.applying = false
			if err != nil {
				return err
			}
			n.pending -= delta
			n.cache[n.nodeID] = to
			n.flush()
			return nil
		})
	})
	if err != nil {
		n.applying = false
		n.logger.WithError(err).Warn("Reading counter key failed")
	}
}

// read sums the keys of every node. A key that cannot be read counts with its last known
// value.
func (n *counterNode) read(env *message.Envelope) error {
	waiting := len(n.nodeIDs)
	done := func() error {
		waiting--
		if waiting > 0 {
			return nil
		}
		total := 0
		for _, id := range n.nodeIDs {
			total += n.cache[id]
		}
		return n.net.Reply(env, ReadOk{Value: total})
	}

	for _, id := range n.nodeIDs {
		id := id
		err := n.store.ReadInt(id, func(v int, err error) error {
			if err == nil && v > n.cache[id] {
				n.cache[id] = v
			}
			return done()
		})
		if err != nil {
			return err
		}
	}
	if waiting == 0 {
		return n.net.Reply(env, ReadOk{})
	}
	return nil
}
