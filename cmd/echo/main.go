// Command echo runs a node that answers every echo with the same text.
package main

import (
	"mini-maelstrom/cli"
	"mini-maelstrom/message"
	"mini-maelstrom/network"
	"mini-maelstrom/node"
)

type Echo struct {
	Echo string `json:"echo"`
}

func (Echo) Type() string { return "echo" }

type EchoOk struct {
	Echo string `json:"echo"`
}

func (EchoOk) Type() string { return "echo_ok" }

var payloads = message.MustRegistry(Echo{})

type echoNode struct {
	net *network.Network
}

func (n *echoNode) OnEcho(env *message.Envelope, p Echo) error {
	return n.net.Reply(env, EchoOk{Echo: p.Echo})
}

func newNode(net *network.Network, nodeID string, nodeIDs []string) node.Node {
	mux, err := node.NewService(&echoNode{net: net})
	if err != nil {
		panic(err)
	}
	return mux
}

func main() {
	cli.Main(cli.NewCommand("echo", "Echo node", payloads, newNode))
}
