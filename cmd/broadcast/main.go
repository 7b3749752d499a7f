// Command broadcast runs a node of a gossip cluster: every value broadcast to any node
// eventually shows up in every node's read.
package main

import (
	"mini-maelstrom/cli"
)

func main() {
	cli.Main(cli.NewCommand("broadcast", "Broadcast gossip node", payloads, newNode))
}
