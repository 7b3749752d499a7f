// Command unique runs a node that hands out cluster-wide unique ids without coordination:
// each id is the node id plus a counter local to the node.
package main

import (
	"fmt"

	"mini-maelstrom/cli"
	"mini-maelstrom/message"
	"mini-maelstrom/network"
	"mini-maelstrom/node"
)

type Generate struct{}

func (Generate) Type() string { return "generate" }

type GenerateOk struct {
	ID string `json:"id"`
}

func (GenerateOk) Type() string { return "generate_ok" }

var payloads = message.MustRegistry(Generate{})

type uniqueNode struct {
	net    *network.Network
	nodeID string
	next   uint64
}

func (n *uniqueNode) generate(env *message.Envelope) error {
	n.next++
	return n.net.Reply(env, GenerateOk{ID: fmt.Sprintf("%s-%d", n.nodeID, n.next)})
}

func newNode(net *network.Network, nodeID string, nodeIDs []string) node.Node {
	n := &uniqueNode{net: net, nodeID: nodeID}
	mux := node.NewMux()
	mux.Handle("generate", n.generate)
	return mux
}

func main() {
	cli.Main(cli.NewCommand("unique", "Unique id generator node", payloads, newNode))
}
